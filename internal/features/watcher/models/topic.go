package models

import (
	"encoding/hex"
	"net/url"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/unicode/norm"
)

// TopicKind distinguishes keyword searches from saved search URLs
type TopicKind string

const (
	TopicKeyword TopicKind = "keyword"
	TopicURL     TopicKind = "url"
)

// Topic is one monitored search target. Topics are immutable once built.
type Topic struct {
	ID   string    `json:"id"`
	Kind TopicKind `json:"kind"`
	Raw  string    `json:"raw"`
}

// NewTopic builds a URL topic for http(s) input and a keyword topic otherwise.
// It returns false when raw is blank or an unparsable URL.
func NewTopic(raw string) (Topic, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Topic{}, false
	}
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return NewURLTopic(raw)
	}
	return NewKeywordTopic(raw)
}

// NewKeywordTopic identifies a keyword by its NFC, lower-cased,
// whitespace-collapsed form so "RTX  3080" and "rtx 3080" are one topic.
func NewKeywordTopic(keyword string) (Topic, bool) {
	id := NormalizeKeyword(keyword)
	if id == "" {
		return Topic{}, false
	}
	return Topic{ID: id, Kind: TopicKeyword, Raw: strings.Join(strings.Fields(keyword), " ")}, true
}

// NewURLTopic identifies a saved search by a hash of its canonical form.
func NewURLTopic(raw string) (Topic, bool) {
	canonical, ok := CanonicalURL(raw)
	if !ok {
		return Topic{}, false
	}
	sum := blake2b.Sum256([]byte(canonical))
	return Topic{ID: "url:" + hex.EncodeToString(sum[:8]), Kind: TopicURL, Raw: strings.TrimSpace(raw)}, true
}

// NormalizeKeyword returns the identity form of a keyword.
func NormalizeKeyword(keyword string) string {
	return strings.ToLower(strings.Join(strings.Fields(norm.NFC.String(keyword)), " "))
}

// CanonicalURL lower-cases scheme and host, drops the fragment and sorts the
// query so equivalent saved searches hash identically.
func CanonicalURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawQuery = u.Query().Encode()
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), true
}

// SearchURL returns the page to fetch for this topic. Keyword topics are
// rendered into template by replacing {query}.
func (t Topic) SearchURL(template string) string {
	if t.Kind == TopicURL {
		return t.Raw
	}
	return strings.ReplaceAll(template, "{query}", url.QueryEscape(t.Raw))
}
