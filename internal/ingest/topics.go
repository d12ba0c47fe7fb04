// Package ingest loads the list of monitored topics.
package ingest

import (
	"bufio"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strings"

	"market-watch/internal/core"
	"market-watch/internal/features/watcher/models"
)

// headerNames are accepted as an optional first-row header.
var headerNames = map[string]bool{"topic": true, "keyword": true, "query": true, "url": true}

// LoadTopics reads one topic per row from the first column of a CSV file.
// Lines starting with '#' are comments. Invalid rows are skipped, not fatal.
func LoadTopics(path string) ([]models.Topic, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ReadTopics(f)
}

// ReadTopics parses the topic file format from r.
func ReadTopics(r io.Reader) ([]models.Topic, error) {
	cr := csv.NewReader(stripBOM(r))
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	var raws []string
	line := 0
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				continue
			}
			return nil, err
		}
		line++
		if len(record) == 0 {
			continue
		}

		value := strings.TrimSpace(record[0])
		if line == 1 && headerNames[strings.ToLower(value)] {
			continue
		}
		raws = append(raws, value)
	}
	return Combine(raws), nil
}

// Combine builds topics from raw strings, dropping blanks, invalid URLs and
// duplicates. The first occurrence of a topic ID wins.
func Combine(raws ...[]string) []models.Topic {
	seen := make(map[string]bool)
	var topics []models.Topic
	for _, list := range raws {
		for _, raw := range list {
			topic, ok := models.NewTopic(raw)
			if !ok || seen[topic.ID] {
				continue
			}
			seen[topic.ID] = true
			topics = append(topics, topic)
		}
	}
	return topics
}

// Resolve gathers topics from the topics file (when set) and the keyword and
// URL lists. It fails when nothing usable remains.
func Resolve(topicsFile string, keywords, searchURLs []string) ([]models.Topic, error) {
	var fromFile []models.Topic
	if topicsFile != "" {
		loaded, err := LoadTopics(topicsFile)
		if err != nil {
			return nil, core.NewConfigurationError("failed to read topics file", err)
		}
		fromFile = loaded
	}

	raws := make([]string, 0, len(fromFile))
	for _, topic := range fromFile {
		raws = append(raws, topic.Raw)
	}

	topics := Combine(raws, keywords, searchURLs)
	if len(topics) == 0 {
		return nil, core.NewConfigurationError("no valid topics configured", nil)
	}
	return topics, nil
}

func stripBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	rdr, _, err := br.ReadRune()
	if err != nil {
		return br
	}
	if rdr != '\uFEFF' {
		br.UnreadRune()
	}
	return br
}
