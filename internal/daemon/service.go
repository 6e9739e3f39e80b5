// Package daemon provides the long-running background usage monitor service.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/theirongolddev/cbench/internal/cli"
	"github.com/theirongolddev/cbench/internal/model"
	"github.com/theirongolddev/cbench/internal/usage"
)

// Fetcher is the usage source the daemon polls.
type Fetcher interface {
	Fetch(ctx context.Context, filter string, scope usage.Scope) ([]model.UsageRecord, error)
}

// Config controls the daemon runtime behavior.
type Config struct {
	Interval     time.Duration
	Addr         string
	EventsBuffer int

	// ConfigPath, when set, is watched and Reload is called on change.
	ConfigPath string
	Reload     func() (Fetcher, error)
	Logger     *slog.Logger
}

// Event is emitted whenever a provider's usage changes.
type Event struct {
	ID        int64               `json:"id"`
	Type      string              `json:"type"`
	Timestamp time.Time           `json:"timestamp"`
	Changed   []string            `json:"changed,omitempty"`
	Records   []model.UsageRecord `json:"records"`
}

// Status is served at /v1/status.
type Status struct {
	StartedAt       time.Time `json:"started_at"`
	LastPollAt      time.Time `json:"last_poll_at"`
	PollIntervalSec int       `json:"poll_interval_sec"`
	PollCount       int64     `json:"poll_count"`
	Providers       int       `json:"providers"`
	Failing         []string  `json:"failing,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
	Reloads         int       `json:"reloads"`
	EventCount      int       `json:"event_count"`
	SubscriberCount int       `json:"subscriber_count"`
}

// Service provides the daemon runtime and HTTP API.
type Service struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics
	now     func() time.Time

	mu          sync.RWMutex
	fetcher     Fetcher
	startedAt   time.Time
	lastPollAt  time.Time
	pollCount   int64
	lastError   string
	reloads     int
	hasRecords  bool
	records     []model.UsageRecord
	nextEventID int64
	events      []Event

	nextSubID int
	subs      map[int]chan Event
}

// New returns a new daemon service polling f.
func New(cfg Config, f Fetcher) *Service {
	if cfg.Interval < 10*time.Second {
		cfg.Interval = 60 * time.Second
	}
	if cfg.EventsBuffer < 1 {
		cfg.EventsBuffer = 200
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8788"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		cfg:       cfg,
		logger:    logger,
		metrics:   newMetrics(prometheus.NewRegistry()),
		now:       time.Now,
		fetcher:   f,
		startedAt: time.Now(),
		subs:      make(map[int]chan Event),
	}
}

// Handler returns the HTTP API.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/usage", s.handleUsage)
	mux.HandleFunc("/v1/usage.txt", s.handleUsageText)
	mux.HandleFunc("/v1/events", s.handleEvents)
	mux.HandleFunc("/v1/stream", s.handleStream)
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	return mux
}

// Run starts HTTP endpoints and polling until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	reloadCh := make(chan struct{}, 1)
	if s.cfg.ConfigPath != "" && s.cfg.Reload != nil {
		go s.watchConfig(ctx, reloadCh)
	}

	// Seed initial records so status is useful immediately.
	s.PollOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		case <-ticker.C:
			s.PollOnce(ctx)
		case <-reloadCh:
			s.reload()
			s.PollOnce(ctx)
		case err := <-errCh:
			return fmt.Errorf("daemon http server: %w", err)
		}
	}
}

func (s *Service) reload() {
	f, err := s.cfg.Reload()
	if err != nil {
		s.logger.Warn("config reload failed, keeping previous providers", slog.String("error", err.Error()))
		s.mu.Lock()
		s.lastError = "reload: " + err.Error()
		s.mu.Unlock()
		return
	}
	s.mu.Lock()
	s.fetcher = f
	s.reloads++
	s.mu.Unlock()
	s.logger.Info("config reloaded", slog.String("path", s.cfg.ConfigPath))
}

// PollOnce fetches usage, updates metrics, and publishes an event when
// any provider's record changed.
func (s *Service) PollOnce(ctx context.Context) {
	s.mu.RLock()
	f := s.fetcher
	s.mu.RUnlock()

	records, err := f.Fetch(ctx, "", usage.Scope{})
	now := s.now()
	s.metrics.polls.Inc()
	if err != nil {
		s.mu.Lock()
		s.lastError = err.Error()
		s.lastPollAt = now
		s.pollCount++
		s.mu.Unlock()
		s.logger.Warn("daemon poll failed", slog.String("error", err.Error()))
		return
	}
	s.metrics.observe(records)

	var (
		ev      Event
		publish bool
	)

	s.mu.Lock()
	prev := s.records
	prevExists := s.hasRecords

	s.hasRecords = true
	s.records = records
	s.lastPollAt = now
	s.pollCount++
	s.lastError = ""

	if !prevExists {
		s.nextEventID++
		ev = Event{ID: s.nextEventID, Type: "snapshot", Timestamp: now, Records: records}
		publish = true
	} else if changed := diffRecords(prev, records); len(changed) > 0 {
		s.nextEventID++
		ev = Event{ID: s.nextEventID, Type: "usage_changed", Timestamp: now, Changed: changed, Records: records}
		publish = true
	}
	s.mu.Unlock()

	if publish {
		s.publishEvent(ev)
	}
}

// diffRecords returns the provider ids whose record differs, ignoring fetch time.
func diffRecords(prev, curr []model.UsageRecord) []string {
	old := make(map[string]model.UsageRecord, len(prev))
	for _, r := range prev {
		r.FetchedAt = time.Time{}
		old[r.ProviderID] = r
	}

	var changed []string
	for _, r := range curr {
		r.FetchedAt = time.Time{}
		if p, ok := old[r.ProviderID]; !ok || !reflect.DeepEqual(p, r) {
			changed = append(changed, r.ProviderID)
		}
		delete(old, r.ProviderID)
	}
	for id := range old {
		changed = append(changed, id)
	}
	return changed
}

func (s *Service) publishEvent(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	if len(s.events) > s.cfg.EventsBuffer {
		s.events = s.events[len(s.events)-s.cfg.EventsBuffer:]
	}

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	s.mu.Unlock()
}

func (s *Service) snapshotStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var failing []string
	for _, r := range s.records {
		if r.Error != "" {
			failing = append(failing, r.ProviderID)
		}
	}

	return Status{
		StartedAt:       s.startedAt,
		LastPollAt:      s.lastPollAt,
		PollIntervalSec: int(s.cfg.Interval.Seconds()),
		PollCount:       s.pollCount,
		Providers:       len(s.records),
		Failing:         failing,
		LastError:       s.lastError,
		Reloads:         s.reloads,
		EventCount:      len(s.events),
		SubscriberCount: len(s.subs),
	}
}

func (s *Service) currentRecords() []model.UsageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.UsageRecord(nil), s.records...)
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.snapshotStatus())
}

func (s *Service) handleUsage(w http.ResponseWriter, r *http.Request) {
	records := s.currentRecords()
	if p := r.URL.Query().Get("provider"); p != "" {
		var filtered []model.UsageRecord
		for _, rec := range records {
			if rec.ProviderID == p {
				filtered = append(filtered, rec)
			}
		}
		if len(filtered) == 0 {
			http.Error(w, "unknown provider", http.StatusNotFound)
			return
		}
		records = filtered
	}
	if records == nil {
		records = []model.UsageRecord{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(records)
}

func (s *Service) handleUsageText(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(cli.FormatUsage(s.currentRecords(), s.now())))
}

func (s *Service) handleEvents(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	events := make([]Event, len(s.events))
	copy(events, s.events)
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(events)
}

func (s *Service) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan Event, 16)
	id := s.addSubscriber(ch)
	defer s.removeSubscriber(id)

	// Send current records immediately.
	writeSSE(w, Event{Type: "snapshot", Timestamp: s.now(), Records: s.currentRecords()})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\n", ev.Type)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}

func (s *Service) addSubscriber(ch chan Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.subs[id] = ch
	return id
}

func (s *Service) removeSubscriber(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}
