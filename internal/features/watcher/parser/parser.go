// Package parser turns a listing card's text into a typed ListingRecord.
//
// A card's first non-empty line is its title. Every later line is offered to
// an ordered list of classifiers and the first that accepts it wins; lines no
// classifier accepts are ignored.
package parser

import (
	"strings"
	"time"

	"market-watch/internal/features/watcher/models"

	"golang.org/x/text/unicode/norm"
)

// promoPrefixes are stripped from the start of the title line.
var promoPrefixes = []string{"NEUES ANGEBOT", "SPONSORED", "Sponsored", "Anzeige"}

// Parser is stateless apart from the clock used to fill in a missing year.
type Parser struct {
	location *time.Location
	now      func() time.Time
}

// New creates a parser that interprets card timestamps in loc.
// A nil now uses time.Now.
func New(loc *time.Location, now func() time.Time) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Parser{location: loc, now: now}
}

// Parse parses one snippet and copies its positional metadata onto the
// record. It returns false when the snippet has no non-empty line.
func (p *Parser) Parse(snippet models.RawSnippet) (models.ListingRecord, bool) {
	record, ok := p.ParseText(snippet.Text)
	if !ok {
		return models.ListingRecord{}, false
	}
	record.TopicID = snippet.TopicID
	record.Page = snippet.Page
	record.Rank = snippet.Rank
	record.Links = uniqueLinks(snippet.Links)
	return record, true
}

// ParseAll parses a batch, dropping snippets that yield no record.
func (p *Parser) ParseAll(snippets []models.RawSnippet) []models.ListingRecord {
	records := make([]models.ListingRecord, 0, len(snippets))
	for _, snippet := range snippets {
		if record, ok := p.Parse(snippet); ok {
			records = append(records, record)
		}
	}
	return records
}

// ParseText parses raw card text.
func (p *Parser) ParseText(text string) (models.ListingRecord, bool) {
	lines := splitLines(text)
	if len(lines) == 0 {
		return models.ListingRecord{}, false
	}

	var record models.ListingRecord
	rest := lines[1:]
	record.Title = stripPromoPrefixes(lines[0])
	if record.Title == "" {
		if len(rest) > 0 {
			record.Title = rest[0]
			rest = rest[1:]
		} else {
			record.Title = lines[0]
		}
	}

	year := p.now().In(p.location).Year()
	for _, line := range rest {
		for _, classify := range classifiers {
			if classify(line, &record, p.location, year) {
				break
			}
		}
	}

	return record, true
}

func splitLines(text string) []string {
	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func stripPromoPrefixes(line string) string {
	for stripped := true; stripped; {
		stripped = false
		for _, prefix := range promoPrefixes {
			if strings.HasPrefix(line, prefix) {
				line = strings.TrimLeft(strings.TrimPrefix(line, prefix), " :-·")
				stripped = true
			}
		}
	}
	return line
}

func uniqueLinks(links []string) []string {
	if len(links) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(links))
	out := make([]string, 0, len(links))
	for _, link := range links {
		if link == "" || seen[link] {
			continue
		}
		seen[link] = true
		out = append(out, link)
	}
	return out
}
