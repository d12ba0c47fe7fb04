package mailer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type listing struct {
	Topic     string
	Title     string
	Price     string
	BestOffer bool
	Condition string
	Feedback  string
	ListedAt  string
	Link      string
}

func TestSendRendersTemplate(t *testing.T) {
	requests := make(chan SMTP2GORequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req SMTP2GORequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Bad request body: %v", err)
		}
		requests <- req
		w.Write([]byte(`{"request_id":"r1","data":{"succeeded":1,"failed":0,"email_id":"e1"}}`))
	}))
	defer srv.Close()

	m := NewWithEndpoint("key", "Watch <watch@example.com>", srv.URL)
	err := m.Send(context.Background(), "me@example.com", "new_listing.tmpl", listing{
		Topic:     "rtx 3080",
		Title:     "RTX 3080 Founders",
		Price:     "EUR 500,00",
		BestOffer: true,
		ListedAt:  "15. Okt. 10:00",
		Link:      "https://www.example.com/itm/1",
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	req := <-requests
	if req.APIKey != "key" || len(req.To) != 1 || req.To[0] != "me@example.com" {
		t.Errorf("Unexpected envelope: %+v", req)
	}
	if req.Subject != "New listing: RTX 3080 Founders (EUR 500,00)" {
		t.Errorf("Unexpected subject: %q", req.Subject)
	}
	if !strings.Contains(req.TextBody, "(best offer)") || !strings.Contains(req.HtmlBody, `href="https://www.example.com/itm/1"`) {
		t.Errorf("Unexpected bodies:\n%s\n%s", req.TextBody, req.HtmlBody)
	}
}

func TestSendRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"data":{"succeeded":1}}`))
	}))
	defer srv.Close()

	m := NewWithEndpoint("key", "sender", srv.URL)
	m.retryDelay = time.Millisecond
	if err := m.Send(context.Background(), "me@example.com", "new_listing.tmpl", listing{Title: "x"}); err != nil {
		t.Fatalf("Expected success on the third attempt, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := NewWithEndpoint("bad", "sender", srv.URL)
	m.retryDelay = time.Millisecond
	if err := m.Send(context.Background(), "me@example.com", "new_listing.tmpl", listing{Title: "x"}); err == nil {
		t.Fatal("Expected an error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("Expected a single attempt, got %d", calls)
	}
}
