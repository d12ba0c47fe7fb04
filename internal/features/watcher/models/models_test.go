package models

import (
	"strings"
	"testing"
	"time"
)

func TestNewTopic(t *testing.T) {
	kw, ok := NewTopic("  RTX   3080 ")
	if !ok {
		t.Fatal("Expected keyword topic")
	}
	if kw.Kind != TopicKeyword || kw.ID != "rtx 3080" || kw.Raw != "RTX 3080" {
		t.Errorf("Unexpected keyword topic %+v", kw)
	}

	u1, ok := NewTopic("https://WWW.Example.com/sch/i.html?b=2&a=1#frag")
	if !ok {
		t.Fatal("Expected URL topic")
	}
	u2, _ := NewTopic("https://www.example.com/sch/i.html?a=1&b=2")
	if u1.Kind != TopicURL || !strings.HasPrefix(u1.ID, "url:") {
		t.Errorf("Unexpected URL topic %+v", u1)
	}
	if u1.ID != u2.ID {
		t.Errorf("Equivalent URLs should share an ID: %s vs %s", u1.ID, u2.ID)
	}

	if _, ok := NewTopic("   "); ok {
		t.Error("Blank input must not produce a topic")
	}
	if _, ok := NewTopic("https://"); ok {
		t.Error("URL without host must not produce a topic")
	}
}

func TestKeywordNormalisationIsNFC(t *testing.T) {
	composed := NormalizeKeyword("M\u00e4rklin")
	decomposed := NormalizeKeyword("Ma\u0308rklin")
	if composed != decomposed {
		t.Errorf("Expected NFC forms to match: %q vs %q", composed, decomposed)
	}
}

func TestSearchURL(t *testing.T) {
	topic, _ := NewKeywordTopic("rtx 3080 ti")
	got := topic.SearchURL("https://example.com/sch?_nkw={query}&_sop=10")
	if got != "https://example.com/sch?_nkw=rtx+3080+ti&_sop=10" {
		t.Errorf("Unexpected search URL %s", got)
	}

	saved, _ := NewURLTopic("https://example.com/saved?q=1")
	if saved.SearchURL("ignored {query}") != "https://example.com/saved?q=1" {
		t.Error("URL topics must be fetched as given")
	}
}

func TestWatermarkMax(t *testing.T) {
	t1 := time.Date(2025, 6, 16, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(5 * time.Minute)

	var wm Watermark
	if !wm.Before(t1) {
		t.Error("Unknown watermark is before everything")
	}

	wm = wm.Max(t2)
	if !wm.Known || !wm.At.Equal(t2) {
		t.Fatalf("Expected watermark at %v, got %+v", t2, wm)
	}
	if wm = wm.Max(t1); !wm.At.Equal(t2) {
		t.Error("Watermark must never move backwards")
	}
	if wm.Before(t2) {
		t.Error("Equal timestamps are not after the watermark")
	}
	if !NewWatermark(t2).After(NewWatermark(t1)) || NewWatermark(t1).After(NewWatermark(t1)) {
		t.Error("After must be strict")
	}
}

func TestItemLink(t *testing.T) {
	record := ListingRecord{Links: []string{"https://example.com/usr/seller", "https://example.com/itm/123"}}
	if record.ItemLink() != "https://example.com/itm/123" {
		t.Errorf("Expected item link, got %s", record.ItemLink())
	}
	record.Links = []string{"https://example.com/usr/seller"}
	if record.ItemLink() != "https://example.com/usr/seller" {
		t.Error("Expected fallback to first link")
	}
}
