package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"market-watch/internal/core"
	"market-watch/internal/features/watcher/egress"
	"market-watch/internal/features/watcher/models"
)

type fixedProber string

func (p fixedProber) Probe(ctx context.Context, _ *http.Client) (string, error) {
	return string(p), nil
}

const firstPage = `<html><body>
<ul class="srp-results">
  <li class="s-item">
    <div class="s-item__title"><span>NEUES ANGEBOT</span> RTX 3080 Founders</div>
    <div><span>Gebraucht</span> | <span>Privat</span></div>
    <div class="s-item__price">EUR 500,00</div>
    <div>15. Okt. 2025 10:00</div>
    <a href="/itm/111?hash=a">Details</a>
    <a href="/itm/111?hash=a">Bild</a>
    <script>var tracking = 1;</script>
  </li>
  <li class="s-item">
    <div>RTX 3080 Ti</div>
    <div>EUR 650,00</div>
    <a href="https://www.example.com/itm/222">Details</a>
  </li>
  <li class="s-item">   </li>
</ul>
<a class="pagination__next" href="/sch?page=2">Weiter</a>
</body></html>`

const secondPage = `<html><body>
<ul><li class="s-item"><div>RTX 3080 OEM</div><div>EUR 450,00</div></li></ul>
<a class="pagination__next" href="/sch?page=3">Weiter</a>
</body></html>`

func newFetchSession(t *testing.T) *egress.Session {
	t.Helper()
	m, err := egress.NewManager(egress.Config{
		AllowedRegions:   []string{"DE"},
		AttemptsPerRound: 1,
		WorkspaceRoot:    t.TempDir(),
	}, egress.DirectPool{}, fixedProber("DE"), core.NewDiscardLogger())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })

	s, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	return s
}

func newTestFetcher(template string, dump bool) *FetcherService {
	return NewFetcherService(core.NewDiscardLogger(), &models.FetcherConfig{
		SearchTemplate: template,
		CardSelector:   "li.s-item",
		NextSelector:   "a.pagination__next",
		UserAgent:      "market-watch-test",
		Timeout:        5 * time.Second,
		DumpPages:      dump,
	})
}

func TestFetchCardsAndPagination(t *testing.T) {
	queries := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "":
			queries <- r.URL.Query().Get("q")
			w.Write([]byte(firstPage))
		case "2":
			w.Write([]byte(secondPage))
		default:
			t.Errorf("Fetched beyond the page depth: %s", r.URL)
		}
	}))
	defer srv.Close()

	topic, _ := models.NewTopic("rtx 3080")
	session := newFetchSession(t)
	fetcher := newTestFetcher(srv.URL+"/sch?q={query}", true)

	snippets, err := fetcher.Fetch(context.Background(), topic, session, 2)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	close(queries)
	var searched []string
	for q := range queries {
		searched = append(searched, q)
	}
	if len(searched) != 1 || searched[0] != "rtx 3080" {
		t.Errorf("Expected one search for the keyword, got %v", searched)
	}
	if len(snippets) != 3 {
		t.Fatalf("Expected 3 snippets over two pages, got %d", len(snippets))
	}

	first := snippets[0]
	wantText := "NEUES ANGEBOT RTX 3080 Founders\nGebraucht | Privat\nEUR 500,00\n15. Okt. 2025 10:00\nDetails Bild"
	if first.Text != wantText {
		t.Errorf("Unexpected card text:\n%q\nwant\n%q", first.Text, wantText)
	}
	if first.Page != 1 || first.Rank != 1 || first.TopicID != topic.ID {
		t.Errorf("Unexpected metadata: page=%d rank=%d topic=%s", first.Page, first.Rank, first.TopicID)
	}
	if len(first.Links) != 1 || first.Links[0] != srv.URL+"/itm/111?hash=a" {
		t.Errorf("Expected one absolute item link, got %v", first.Links)
	}
	if snippets[1].Rank != 2 || snippets[2].Page != 2 || snippets[2].Rank != 1 {
		t.Errorf("Unexpected positions: %+v / %+v", snippets[1], snippets[2])
	}

	dumps, _ := filepath.Glob(filepath.Join(session.Workspace, "*-page-*.html"))
	if len(dumps) != 2 {
		t.Errorf("Expected two page dumps, got %v", dumps)
	}
}

func TestFetchFirstPageFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	}))
	defer srv.Close()

	topic, _ := models.NewTopic("lego")
	_, err := newTestFetcher(srv.URL+"/sch?q={query}", false).Fetch(context.Background(), topic, newFetchSession(t), 1)
	if !core.HasCode(err, core.ErrCodeTransport) {
		t.Errorf("Expected transport error, got %v", err)
	}
}

func TestFetchLaterPageFailureKeepsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(firstPage))
	}))
	defer srv.Close()

	topic, _ := models.NewTopic(srv.URL + "/sch?q=rtx")
	snippets, err := newTestFetcher("", false).Fetch(context.Background(), topic, newFetchSession(t), 3)
	if err != nil {
		t.Fatalf("Expected page-one results to survive, got %v", err)
	}
	if len(snippets) != 2 {
		t.Errorf("Expected the 2 cards from page one, got %d", len(snippets))
	}
}

func TestFetchCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(firstPage))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	topic, _ := models.NewTopic("lego")
	_, err := newTestFetcher(srv.URL+"/sch?q={query}", false).Fetch(ctx, topic, newFetchSession(t), 1)
	if err == nil {
		t.Error("Expected an error for a cancelled fetch")
	}
}

func TestDumpPageSanitisesName(t *testing.T) {
	session := newFetchSession(t)
	topic, _ := models.NewTopic("https://www.example.com/sch?q=a/b")

	newTestFetcher("", true).dumpPage(session, topic, 1, []byte("<html></html>"))

	entries, err := os.ReadDir(session.Workspace)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || strings.ContainsAny(entries[0].Name(), "/:") {
		t.Errorf("Unexpected dump files: %v", entries)
	}
}
