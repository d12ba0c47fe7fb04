package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"market-watch/internal/core"
	"market-watch/internal/features/watcher/egress"
	"market-watch/internal/features/watcher/models"
	"market-watch/internal/features/watcher/parser"
	"market-watch/internal/features/watcher/watermark"
)

// Notifier delivers one fresh listing.
type Notifier interface {
	Deliver(ctx context.Context, record models.ListingRecord) error
}

// Journal records successful deliveries.
type Journal interface {
	Record(ctx context.Context, delivery models.Delivery) error
}

// SessionManager is the part of the egress manager the orchestrator uses.
type SessionManager interface {
	Acquire(ctx context.Context) (*egress.Session, error)
	Release(s *egress.Session, outcome egress.Outcome)
	Refresh()
}

type topicState int

const (
	stateNeedSession topicState = iota
	stateValidating
	stateReady
	stateFailed
)

// SchedulerService runs poll cycles over every topic until stopped.
type SchedulerService struct {
	topics   []models.Topic
	sessions SessionManager
	fetcher  Fetcher
	parser   *parser.Parser
	store    watermark.Store
	notifier Notifier
	journal  Journal
	logger   *core.Logger
	config   *models.SchedulerConfig
	now      func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
	cycles int

	mu     sync.RWMutex
	status map[string]*models.TopicStatus
}

// NewSchedulerService creates a new scheduler service. journal may be nil.
func NewSchedulerService(
	topics []models.Topic,
	sessions SessionManager,
	fetcher Fetcher,
	recordParser *parser.Parser,
	store watermark.Store,
	notifier Notifier,
	journal Journal,
	logger *core.Logger,
	config *models.SchedulerConfig,
) *SchedulerService {
	status := make(map[string]*models.TopicStatus, len(topics))
	for _, topic := range topics {
		status[topic.ID] = &models.TopicStatus{Topic: topic}
	}
	return &SchedulerService{
		topics:   topics,
		sessions: sessions,
		fetcher:  fetcher,
		parser:   recordParser,
		store:    store,
		notifier: notifier,
		journal:  journal,
		logger:   logger,
		config:   config,
		now:      time.Now,
		status:   status,
	}
}

// Start begins polling in the background.
func (s *SchedulerService) Start(ctx context.Context) error {
	s.logger.Info("Starting poll scheduler", "topics", len(s.topics), "interval", s.config.PollInterval, "workers", s.config.MaxWorkers)

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.pollLoop(ctx)
	return nil
}

// Stop cancels polling and waits for in-flight topics to reach a safe
// point. A topic already delivering finishes its batch first.
func (s *SchedulerService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping poll scheduler")
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return core.NewInternalError("scheduler did not stop in time", ctx.Err())
	}
}

func (s *SchedulerService) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		s.RunCycle(ctx)

		timer := time.NewTimer(s.config.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("Scheduler context cancelled")
			return
		case <-timer.C:
		}
	}
}

// RunCycle processes every topic once. Topics are independent: one topic
// failing never affects another. No topic starts after ctx is cancelled.
func (s *SchedulerService) RunCycle(ctx context.Context) {
	s.cycles++
	if s.config.RefreshEvery > 0 && s.cycles > 1 && (s.cycles-1)%s.config.RefreshEvery == 0 {
		s.sessions.Refresh()
	}

	started := time.Now()
	s.logger.Info("Starting poll cycle", "cycle", s.cycles, "topics", len(s.topics))

	workers := s.config.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > len(s.topics) {
		workers = len(s.topics)
	}

	topicChan := make(chan models.Topic)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go s.topicWorker(ctx, topicChan, &wg)
	}

dispatch:
	for _, topic := range s.topics {
		select {
		case <-ctx.Done():
			break dispatch
		case topicChan <- topic:
		}
	}
	close(topicChan)
	wg.Wait()

	s.logger.Info("Poll cycle completed", "cycle", s.cycles, "duration", time.Since(started))
}

func (s *SchedulerService) topicWorker(ctx context.Context, topicChan <-chan models.Topic, wg *sync.WaitGroup) {
	defer wg.Done()

	for topic := range topicChan {
		if ctx.Err() != nil {
			continue
		}
		s.processTopic(ctx, topic)
	}
}

// processTopic drives one topic through session acquisition, fetching and
// ingestion. Every transition checks for cancellation; every acquired
// session is released exactly once.
func (s *SchedulerService) processTopic(ctx context.Context, topic models.Topic) {
	log := s.logger.ForTopic(topic.ID)

	var (
		state     = stateNeedSession
		session   *egress.Session
		snippets  []models.RawSnippet
		rejected  int
		fetchErrs int
		lastErr   error
	)

	for {
		if ctx.Err() != nil {
			if session != nil {
				s.sessions.Release(session, egress.OutcomeOK)
			}
			s.finish(topic, models.OutcomeCancelled, 0, 0, 0, nil)
			return
		}

		switch state {
		case stateNeedSession:
			if rejected >= s.config.MaxSessionAttempts || fetchErrs > s.config.MaxFetchRetries {
				state = stateFailed
				continue
			}
			acquireCtx, cancel := context.WithTimeout(ctx, s.config.AcquireTimeout)
			acquired, err := s.sessions.Acquire(acquireCtx)
			cancel()
			if err != nil {
				lastErr = err
				state = stateFailed
				continue
			}
			session = acquired
			state = stateValidating

		case stateValidating:
			fetched, err := s.fetcher.Fetch(ctx, topic, session, s.config.PageDepth)
			if err != nil {
				lastErr = err
				if ctx.Err() != nil {
					continue
				}
				log.Warn("Fetch failed, discarding session", "session_id", session.ID, "error", err)
				s.sessions.Release(session, egress.OutcomeTransportFailure)
				session = nil
				fetchErrs++
				state = stateNeedSession
				continue
			}
			if err := CheckCurrency(fetched, s.config.ExpectedCurrency); err != nil {
				lastErr = err
				log.Warn("Storefront currency mismatch, discarding session", "session_id", session.ID, "region", session.Region, "error", err)
				s.sessions.Release(session, egress.OutcomeGeoMismatch)
				session = nil
				rejected++
				state = stateNeedSession
				continue
			}
			s.sessions.Release(session, egress.OutcomeOK)
			session = nil
			snippets = fetched
			state = stateReady

		case stateReady:
			s.ingest(ctx, topic, snippets)
			return

		case stateFailed:
			log.Error("Skipping topic this cycle", "rejected_sessions", rejected, "fetch_failures", fetchErrs, "error", lastErr)
			s.finish(topic, models.OutcomeSkipped, 0, 0, 0, lastErr)
			return
		}
	}
}

// ingest parses snippets, advances the watermark and delivers the fresh
// records oldest first. Once the watermark step starts the batch runs to
// completion on a context detached from shutdown.
func (s *SchedulerService) ingest(ctx context.Context, topic models.Topic, snippets []models.RawSnippet) {
	log := s.logger.ForTopic(topic.ID)

	records := s.parser.ParseAll(snippets)
	for _, record := range records {
		for _, issue := range record.Issues {
			log.Debug("Field parse issue", "field", issue.Field, "raw", issue.Raw, "reason", issue.Reason)
		}
	}

	wm := s.store.Get(topic.ID)
	fresh, updated := Detect(records, wm)

	if ctx.Err() != nil {
		s.finish(topic, models.OutcomeCancelled, len(records), 0, 0, nil)
		return
	}

	detached := context.WithoutCancel(ctx)
	var persistErr error
	if updated.After(wm) {
		persistCtx, cancel := context.WithTimeout(detached, s.config.PersistTimeout)
		_, persistErr = s.store.Advance(persistCtx, topic.ID, updated.At)
		cancel()
		if persistErr != nil {
			log.Error("Failed to persist watermark, continuing with in-memory value", "watermark", updated.At, "error", persistErr)
		}
	}

	if !wm.Known {
		log.Info("Baseline established", "parsed", len(records), "watermark", updated.At, "known", updated.Known)
		s.finish(topic, models.OutcomeBaseline, len(records), 0, 0, persistErr)
		return
	}
	if len(fresh) == 0 {
		log.Info("No new listings", "parsed", len(records))
		s.finish(topic, models.OutcomeNoChange, len(records), 0, 0, persistErr)
		return
	}

	delivered := 0
	var deliverErrs []error
	for _, record := range fresh {
		deliverCtx, cancel := context.WithTimeout(detached, s.config.DeliverTimeout)
		err := s.notifier.Deliver(deliverCtx, record)
		if err != nil {
			cancel()
			deliverErrs = append(deliverErrs, err)
			log.Error("Failed to deliver listing", "title", record.Title, "listed_at", record.ListedAtRaw, "error", err)
			continue
		}
		delivered++
		if s.journal != nil {
			if err := s.journal.Record(deliverCtx, models.NewDelivery(record, s.now())); err != nil {
				log.Warn("Failed to journal delivery", "title", record.Title, "error", err)
			}
		}
		cancel()
	}

	log.Info("Delivered new listings", "parsed", len(records), "fresh", len(fresh), "delivered", delivered)
	s.finish(topic, models.OutcomeDelivered, len(records), len(fresh), delivered, errors.Join(persistErr, errors.Join(deliverErrs...)))
}

func (s *SchedulerService) finish(topic models.Topic, outcome models.CycleOutcome, parsed, fresh, delivered int, err error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.status[topic.ID]
	if !ok {
		st = &models.TopicStatus{Topic: topic}
		s.status[topic.ID] = st
	}
	st.LastCycleAt = &now
	st.Outcome = outcome
	st.Parsed = parsed
	st.Fresh = fresh
	st.Delivered = delivered
	st.Error = ""
	if err != nil {
		st.Error = err.Error()
	}
}

// Status returns a snapshot of every topic, ordered by topic ID. Watermarks
// come from one store snapshot so they are mutually consistent.
func (s *SchedulerService) Status() []models.TopicStatus {
	s.mu.RLock()
	out := make([]models.TopicStatus, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, *st)
	}
	s.mu.RUnlock()

	marks := s.store.Snapshot()
	for i := range out {
		if wm, ok := marks[out[i].Topic.ID]; ok && wm.Known {
			at := wm.At
			out[i].Watermark = &at
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic.ID < out[j].Topic.ID })
	return out
}

// TopicStatus returns the status of one topic.
func (s *SchedulerService) TopicStatus(topicID string) (models.TopicStatus, error) {
	s.mu.RLock()
	st, ok := s.status[topicID]
	var out models.TopicStatus
	if ok {
		out = *st
	}
	s.mu.RUnlock()

	if !ok {
		return models.TopicStatus{}, core.NewNotFoundError("topic not found", nil)
	}
	out.Watermark = s.watermarkOf(topicID)
	return out, nil
}

func (s *SchedulerService) watermarkOf(topicID string) *time.Time {
	wm := s.store.Get(topicID)
	if !wm.Known {
		return nil
	}
	at := wm.At
	return &at
}
