package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"market-watch/internal/core"
	"market-watch/internal/features/watcher/egress"
	"market-watch/internal/features/watcher/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/time/rate"
)

// Fetcher retrieves the raw listing cards for a topic through a session.
type Fetcher interface {
	Fetch(ctx context.Context, topic models.Topic, session *egress.Session, maxPages int) ([]models.RawSnippet, error)
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// blockElements end a visual line when rendering card text.
var blockElements = map[atom.Atom]bool{
	atom.Div: true, atom.P: true, atom.Li: true, atom.Ul: true, atom.Ol: true,
	atom.Br: true, atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true,
	atom.H5: true, atom.H6: true, atom.Section: true, atom.Article: true,
	atom.Header: true, atom.Footer: true, atom.Tr: true, atom.Table: true,
}

// FetcherService renders search result pages with colly and cuts them into
// one RawSnippet per listing card.
type FetcherService struct {
	config  *models.FetcherConfig
	limiter *rate.Limiter
	logger  *core.Logger
}

// NewFetcherService creates a fetcher. The rate limit is shared by every
// topic so the marketplace sees one paced client.
func NewFetcherService(logger *core.Logger, config *models.FetcherConfig) *FetcherService {
	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	return &FetcherService{
		config:  config,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// Fetch visits the topic's search page and follows the next-page link up to
// maxPages. A failure on the first page is a transport error; a failure on a
// later page ends pagination and keeps what was collected.
func (f *FetcherService) Fetch(ctx context.Context, topic models.Topic, session *egress.Session, maxPages int) ([]models.RawSnippet, error) {
	if maxPages < 1 {
		maxPages = 1
	}

	c := colly.NewCollector(
		colly.UserAgent(f.config.UserAgent),
		colly.AllowURLRevisit(),
	)
	c.WithTransport(session.Transport())
	c.SetCookieJar(session.Jar())
	if f.config.Timeout > 0 {
		c.SetRequestTimeout(f.config.Timeout)
	}

	var (
		snippets []models.RawSnippet
		page     int
		next     string
		pageErr  error
	)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		r.Headers.Set("Accept-Language", "de-DE,de;q=0.9")
		f.logger.Debug("Visiting", "topic_id", topic.ID, "session_id", session.ID, "url", r.URL.String(), "page", page)
	})

	c.OnError(func(r *colly.Response, err error) {
		pageErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
	})

	c.OnResponse(func(r *colly.Response) {
		if f.config.DumpPages {
			f.dumpPage(session, topic, page, r.Body)
		}
	})

	c.OnHTML("body", func(e *colly.HTMLElement) {
		rank := 0
		e.DOM.Find(f.config.CardSelector).Each(func(_ int, card *goquery.Selection) {
			text := cardText(card)
			if text == "" {
				return
			}
			rank++
			snippets = append(snippets, models.RawSnippet{
				TopicID: topic.ID,
				Page:    page,
				Rank:    rank,
				Text:    text,
				Links:   cardLinks(card, e.Request),
			})
		})

		if f.config.NextSelector != "" {
			if href, ok := e.DOM.Find(f.config.NextSelector).First().Attr("href"); ok {
				next = e.Request.AbsoluteURL(href)
			}
		}
	})

	target := topic.SearchURL(f.config.SearchTemplate)
	for page = 1; page <= maxPages && target != ""; page++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, core.NewTransportError("fetch cancelled", err)
		}

		next, pageErr = "", nil
		err := c.Visit(target)
		if err == nil {
			err = pageErr
		}
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		if err != nil {
			if page == 1 {
				return nil, core.NewTransportError(fmt.Sprintf("failed to fetch %s", target), err)
			}
			f.logger.Warn("Stopping pagination after page error", "topic_id", topic.ID, "page", page, "error", err)
			break
		}
		target = next
	}

	f.logger.Debug("Fetched topic", "topic_id", topic.ID, "snippets", len(snippets))
	return snippets, nil
}

func (f *FetcherService) dumpPage(session *egress.Session, topic models.Topic, page int, body []byte) {
	name := fmt.Sprintf("%s-page-%d.html", unsafeFileChars.ReplaceAllString(topic.ID, "_"), page)
	path := filepath.Join(session.Workspace, name)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		f.logger.Warn("Failed to dump page", "path", path, "error", err)
	}
}

// cardText renders a card's text with one line per block element, which is
// the shape the field parser expects.
func cardText(card *goquery.Selection) string {
	var b strings.Builder
	for _, node := range card.Nodes {
		renderText(&b, node)
	}

	var lines []string
	for _, line := range strings.Split(b.String(), "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func renderText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		// Source line breaks are layout, not structure.
		b.WriteString(strings.Map(func(r rune) rune {
			if r == '\n' || r == '\r' {
				return ' '
			}
			return r
		}, n.Data))
		return
	case html.ElementNode:
		if n.DataAtom == atom.Script || n.DataAtom == atom.Style || n.DataAtom == atom.Noscript {
			return
		}
	}

	block := n.Type == html.ElementNode && blockElements[n.DataAtom]
	if block {
		b.WriteByte('\n')
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		renderText(b, child)
	}
	if block {
		b.WriteByte('\n')
	}
}

func cardLinks(card *goquery.Selection, req *colly.Request) []string {
	seen := make(map[string]bool)
	card.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if abs := req.AbsoluteURL(strings.TrimSpace(href)); abs != "" {
			seen[abs] = true
		}
	})

	links := make([]string, 0, len(seen))
	for link := range seen {
		links = append(links, link)
	}
	sort.Strings(links)
	return links
}
