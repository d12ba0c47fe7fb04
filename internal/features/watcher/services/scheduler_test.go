package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"market-watch/internal/core"
	"market-watch/internal/features/watcher/egress"
	"market-watch/internal/features/watcher/models"
	"market-watch/internal/features/watcher/parser"
)

type fakeSessions struct {
	mu        sync.Mutex
	next      int
	acquired  int
	outcomes  []egress.Outcome
	refreshes int
	acquire   func(ctx context.Context) error
}

func (f *fakeSessions) Acquire(ctx context.Context) (*egress.Session, error) {
	if f.acquire != nil {
		if err := f.acquire(ctx); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.acquired++
	return &egress.Session{ID: fmt.Sprintf("s%d", f.next), Region: "DE", Validated: true}, nil
}

func (f *fakeSessions) Release(s *egress.Session, outcome egress.Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
}

func (f *fakeSessions) Refresh() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
}

func (f *fakeSessions) balanced() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquired == len(f.outcomes)
}

// scriptedFetcher answers each call with the next result; the last one
// repeats.
type scriptedFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
}

type fetchResult struct {
	texts []string
	err   error
}

func (f *scriptedFetcher) Fetch(ctx context.Context, topic models.Topic, session *egress.Session, maxPages int) ([]models.RawSnippet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++

	res := f.results[i]
	if res.err != nil {
		return nil, res.err
	}
	snippets := make([]models.RawSnippet, len(res.texts))
	for j, text := range res.texts {
		snippets[j] = models.RawSnippet{TopicID: topic.ID, Page: 1, Rank: j + 1, Text: text}
	}
	return snippets, nil
}

type memStore struct {
	mu       sync.Mutex
	marks    map[string]time.Time
	advances int
	fail     error
}

func newMemStore() *memStore {
	return &memStore{marks: make(map[string]time.Time)}
}

func (s *memStore) Get(topicID string) models.Watermark {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.marks[topicID]
	if !ok {
		return models.Watermark{}
	}
	return models.NewWatermark(at)
}

func (s *memStore) Advance(ctx context.Context, topicID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advances++
	if current, ok := s.marks[topicID]; ok && !at.After(current) {
		return false, nil
	}
	s.marks[topicID] = at
	return true, s.fail
}

func (s *memStore) Snapshot() map[string]models.Watermark {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]models.Watermark, len(s.marks))
	for topicID, at := range s.marks {
		out[topicID] = models.NewWatermark(at)
	}
	return out
}

type recordingNotifier struct {
	mu        sync.Mutex
	delivered []string
	failOn    map[string]bool
	ctxErrs   []error
}

func (n *recordingNotifier) Deliver(ctx context.Context, record models.ListingRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ctxErrs = append(n.ctxErrs, ctx.Err())
	if n.failOn[record.Title] {
		return errors.New("telegram unavailable")
	}
	n.delivered = append(n.delivered, record.Title)
	return nil
}

func (n *recordingNotifier) titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.delivered...)
}

type memJournal struct {
	mu   sync.Mutex
	rows []models.Delivery
}

func (j *memJournal) Record(ctx context.Context, d models.Delivery) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rows = append(j.rows, d)
	return nil
}

func card(title, price, listed string) string {
	return fmt.Sprintf("%s\nGebraucht | Privat\nEUR %s\n%s", title, price, listed)
}

type schedulerFixture struct {
	scheduler *SchedulerService
	sessions  *fakeSessions
	fetcher   *scriptedFetcher
	store     *memStore
	notifier  *recordingNotifier
	journal   *memJournal
	topic     models.Topic
}

func newSchedulerFixture(t *testing.T, results ...fetchResult) *schedulerFixture {
	t.Helper()

	topic, ok := models.NewTopic("rtx 3080")
	if !ok {
		t.Fatal("invalid topic")
	}
	f := &schedulerFixture{
		sessions: &fakeSessions{},
		fetcher:  &scriptedFetcher{results: results},
		store:    newMemStore(),
		notifier: &recordingNotifier{},
		journal:  &memJournal{},
		topic:    topic,
	}

	config := models.DefaultSchedulerConfig()
	config.PollInterval = 10 * time.Millisecond
	config.AcquireTimeout = time.Second

	now := func() time.Time { return time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC) }
	f.scheduler = NewSchedulerService(
		[]models.Topic{topic},
		f.sessions,
		f.fetcher,
		parser.New(time.UTC, now),
		f.store,
		f.notifier,
		f.journal,
		core.NewDiscardLogger(),
		config,
	)
	f.scheduler.now = now
	return f
}

func TestSchedulerBaselineThenDelivery(t *testing.T) {
	f := newSchedulerFixture(t,
		fetchResult{texts: []string{
			card("A", "100,00", "15. Okt. 10:00"),
			card("B", "110,00", "15. Okt. 10:05"),
			card("C", "90,00", "15. Okt. 09:55"),
		}},
		fetchResult{texts: []string{
			card("B", "110,00", "15. Okt. 10:05"),
			card("D", "120,00", "15. Okt. 10:10"),
		}},
	)
	ctx := context.Background()

	f.scheduler.RunCycle(ctx)
	if got := f.notifier.titles(); len(got) != 0 {
		t.Errorf("Baseline cycle must be silent, delivered %v", got)
	}
	status, err := f.scheduler.TopicStatus(f.topic.ID)
	if err != nil {
		t.Fatalf("TopicStatus failed: %v", err)
	}
	if status.Outcome != models.OutcomeBaseline || status.Parsed != 3 {
		t.Errorf("Unexpected baseline status: %+v", status)
	}
	if status.Watermark == nil || status.Watermark.Hour() != 10 || status.Watermark.Minute() != 5 {
		t.Errorf("Expected watermark 10:05, got %v", status.Watermark)
	}
	if all := f.scheduler.Status(); len(all) != 1 || all[0].Watermark == nil || !all[0].Watermark.Equal(*status.Watermark) {
		t.Errorf("Expected the status list to carry the same watermark, got %+v", all)
	}

	f.scheduler.RunCycle(ctx)
	if got := f.notifier.titles(); !equalStrings(got, []string{"D"}) {
		t.Errorf("Expected only D delivered, got %v", got)
	}
	if wm := f.store.Get(f.topic.ID); wm.At.Minute() != 10 {
		t.Errorf("Expected watermark 10:10, got %v", wm.At)
	}
	if len(f.journal.rows) != 1 || f.journal.rows[0].Title != "D" || f.journal.rows[0].TopicID != f.topic.ID {
		t.Errorf("Expected one journal row for D, got %+v", f.journal.rows)
	}
	if !f.sessions.balanced() {
		t.Error("Every acquired session must be released")
	}
}

func TestSchedulerDeliversOldestFirst(t *testing.T) {
	f := newSchedulerFixture(t,
		fetchResult{texts: []string{card("seed", "1,00", "15. Okt. 11:00")}},
		fetchResult{texts: []string{
			card("T3", "3,00", "15. Okt. 11:30"),
			card("T1", "1,00", "15. Okt. 11:10"),
			card("T2", "2,00", "15. Okt. 11:20"),
		}},
	)
	ctx := context.Background()

	f.scheduler.RunCycle(ctx)
	f.scheduler.RunCycle(ctx)

	if got := f.notifier.titles(); !equalStrings(got, []string{"T1", "T2", "T3"}) {
		t.Errorf("Expected ascending delivery, got %v", got)
	}
}

func TestSchedulerSkipsAfterRepeatedCurrencyMismatch(t *testing.T) {
	f := newSchedulerFixture(t, fetchResult{texts: []string{"GPU\nUS $500.00\n15. Okt. 10:00"}})

	f.scheduler.RunCycle(context.Background())

	status, _ := f.scheduler.TopicStatus(f.topic.ID)
	if status.Outcome != models.OutcomeSkipped {
		t.Errorf("Expected skipped topic, got %+v", status)
	}
	if f.fetcher.calls != 3 {
		t.Errorf("Expected one fetch per session attempt, got %d", f.fetcher.calls)
	}
	for _, outcome := range f.sessions.outcomes {
		if outcome != egress.OutcomeGeoMismatch {
			t.Errorf("Expected every session released as geo mismatch, got %v", f.sessions.outcomes)
			break
		}
	}
	if f.store.advances != 0 {
		t.Error("A skipped topic must not touch its watermark")
	}
	if !f.sessions.balanced() {
		t.Error("Every acquired session must be released")
	}
}

func TestSchedulerRetriesFetchWithNewSession(t *testing.T) {
	f := newSchedulerFixture(t,
		fetchResult{err: core.NewTransportError("reset", nil)},
		fetchResult{err: core.NewTransportError("reset", nil)},
		fetchResult{texts: []string{card("A", "1,00", "15. Okt. 10:00")}},
	)

	f.scheduler.RunCycle(context.Background())

	status, _ := f.scheduler.TopicStatus(f.topic.ID)
	if status.Outcome != models.OutcomeBaseline {
		t.Errorf("Expected the third session to succeed, got %+v", status)
	}
	want := []egress.Outcome{egress.OutcomeTransportFailure, egress.OutcomeTransportFailure, egress.OutcomeOK}
	if len(f.sessions.outcomes) != len(want) {
		t.Fatalf("Expected outcomes %v, got %v", want, f.sessions.outcomes)
	}
	for i := range want {
		if f.sessions.outcomes[i] != want[i] {
			t.Errorf("Outcome %d: expected %v, got %v", i, want[i], f.sessions.outcomes[i])
		}
	}
}

func TestSchedulerGivesUpAfterFetchRetries(t *testing.T) {
	f := newSchedulerFixture(t, fetchResult{err: core.NewTransportError("reset", nil)})

	f.scheduler.RunCycle(context.Background())

	status, _ := f.scheduler.TopicStatus(f.topic.ID)
	if status.Outcome != models.OutcomeSkipped || status.Error == "" {
		t.Errorf("Expected skipped topic with error, got %+v", status)
	}
	if f.fetcher.calls != 3 {
		t.Errorf("Expected 1 fetch plus 2 retries, got %d", f.fetcher.calls)
	}
}

func TestSchedulerDeliveryFailureDoesNotBlockBatch(t *testing.T) {
	f := newSchedulerFixture(t,
		fetchResult{texts: []string{card("seed", "1,00", "15. Okt. 09:00")}},
		fetchResult{texts: []string{
			card("broken", "1,00", "15. Okt. 09:10"),
			card("fine", "2,00", "15. Okt. 09:20"),
		}},
	)
	f.notifier.failOn = map[string]bool{"broken": true}
	ctx := context.Background()

	f.scheduler.RunCycle(ctx)
	f.scheduler.RunCycle(ctx)

	if got := f.notifier.titles(); !equalStrings(got, []string{"fine"}) {
		t.Errorf("Expected the second record delivered, got %v", got)
	}
	if wm := f.store.Get(f.topic.ID); wm.At.Minute() != 20 {
		t.Errorf("Watermark must advance past a failed delivery, got %v", wm.At)
	}
	status, _ := f.scheduler.TopicStatus(f.topic.ID)
	if status.Fresh != 2 || status.Delivered != 1 || status.Error == "" {
		t.Errorf("Unexpected status: %+v", status)
	}
}

func TestSchedulerContinuesAfterPersistFailure(t *testing.T) {
	f := newSchedulerFixture(t,
		fetchResult{texts: []string{card("seed", "1,00", "15. Okt. 09:00")}},
		fetchResult{texts: []string{card("next", "1,00", "15. Okt. 09:30")}},
	)
	f.store.fail = core.NewPersistenceError("disk full", nil)
	ctx := context.Background()

	f.scheduler.RunCycle(ctx)
	f.scheduler.RunCycle(ctx)

	if got := f.notifier.titles(); !equalStrings(got, []string{"next"}) {
		t.Errorf("Expected delivery despite persistence failure, got %v", got)
	}
}

func TestSchedulerCancelledBeforeStart(t *testing.T) {
	f := newSchedulerFixture(t, fetchResult{texts: []string{card("A", "1,00", "15. Okt. 10:00")}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.scheduler.RunCycle(ctx)

	if f.fetcher.calls != 0 || f.sessions.acquired != 0 {
		t.Errorf("No topic may start after cancellation: fetches=%d acquires=%d", f.fetcher.calls, f.sessions.acquired)
	}
}

func TestSchedulerAcquireFailureSkipsTopic(t *testing.T) {
	f := newSchedulerFixture(t, fetchResult{texts: []string{card("A", "1,00", "15. Okt. 10:00")}})
	f.sessions.acquire = func(ctx context.Context) error {
		<-ctx.Done()
		return core.NewTransportError("session acquisition cancelled", ctx.Err())
	}
	f.scheduler.config.AcquireTimeout = 20 * time.Millisecond

	f.scheduler.RunCycle(context.Background())

	status, _ := f.scheduler.TopicStatus(f.topic.ID)
	if status.Outcome != models.OutcomeSkipped {
		t.Errorf("Expected skipped topic, got %+v", status)
	}
}

func TestSchedulerRefreshesSessions(t *testing.T) {
	f := newSchedulerFixture(t, fetchResult{texts: []string{card("A", "1,00", "15. Okt. 10:00")}})
	f.scheduler.config.RefreshEvery = 2
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.scheduler.RunCycle(ctx)
	}
	if f.sessions.refreshes != 2 {
		t.Errorf("Expected refresh before cycles 3 and 5, got %d", f.sessions.refreshes)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	f := newSchedulerFixture(t,
		fetchResult{texts: []string{card("seed", "1,00", "15. Okt. 09:00")}},
	)

	if err := f.scheduler.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if status, _ := f.scheduler.TopicStatus(f.topic.ID); status.Outcome != "" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.scheduler.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	statuses := f.scheduler.Status()
	if len(statuses) != 1 || statuses[0].LastCycleAt == nil {
		t.Errorf("Expected a completed cycle in status, got %+v", statuses)
	}
	if !f.sessions.balanced() {
		t.Error("Every acquired session must be released after stop")
	}
}

func TestTopicStatusUnknown(t *testing.T) {
	f := newSchedulerFixture(t, fetchResult{})
	if _, err := f.scheduler.TopicStatus("missing"); !core.HasCode(err, core.ErrCodeNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}
