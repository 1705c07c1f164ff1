// Package enrichment runs the periodic cycle that drains buffered messages,
// extracts interests, merges them into profiles and notifies new matches.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/emobot/internal/buffer"
	"github.com/kalambet/emobot/internal/logger"
	"github.com/kalambet/emobot/internal/metrics"
	"github.com/kalambet/emobot/internal/profile"
)

const (
	DefaultPeriod       = 24 * time.Hour
	DefaultConcurrency  = 4
	DefaultCycleTimeout = time.Hour
)

// Cycle triggers, used as the metrics label.
const (
	TriggerTimer  = "timer"
	TriggerManual = "manual"
)

// ErrCycleInProgress is returned by RunOnce while another cycle is active.
var ErrCycleInProgress = errors.New("enrichment cycle already in progress")

// State is the scheduler's position in a cycle.
type State int32

const (
	Idle State = iota
	Draining
	Processing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Draining:
		return "draining"
	case Processing:
		return "processing"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{Idle, Draining, Processing} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown enrichment state %q", b)
}

// Extractor proposes candidate interests for a member's messages.
type Extractor interface {
	Extract(ctx context.Context, fragments []string, existing *profile.Profile) profile.Categories
}

// Profiles loads a profile snapshot, synthesizing an empty one when absent.
type Profiles interface {
	GetOrNew(ctx context.Context, identity, displayName string) (profile.Profile, bool, error)
}

// Matchmaker applies serialized profile updates and notifies matches.
// *matchmaker.Service satisfies it.
type Matchmaker interface {
	Update(ctx context.Context, identity, displayName string, fn func(p *profile.Profile) (bool, error)) (profile.Profile, bool, error)
	MatchAndNotify(ctx context.Context, subject profile.Profile) (int, error)
}

// Options tunes a Scheduler. Zero values select defaults.
type Options struct {
	Period       time.Duration
	Concurrency  int
	CycleTimeout time.Duration
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

// Report summarizes one cycle.
type Report struct {
	ID               string        `json:"id"`
	Trigger          string        `json:"trigger"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
	Identities       int           `json:"identities"`
	ScanningDisabled int           `json:"scanning_disabled"`
	Insufficient     int           `json:"insufficient"`
	Updated          int           `json:"updated"`
	Unchanged        int           `json:"unchanged"`
	Failed           int           `json:"failed"`
	Notifications    int           `json:"notifications"`
}

// Scheduler owns the enrichment cycle. At most one cycle runs at a time.
type Scheduler struct {
	buf        buffer.Buffer
	profiles   Profiles
	extractor  Extractor
	matchmaker Matchmaker

	period       time.Duration
	concurrency  int
	cycleTimeout time.Duration
	log          *zap.Logger
	metrics      *metrics.Metrics

	running sync.Mutex
	state   atomic.Int32
	trigger chan struct{}

	mu   sync.Mutex
	last *Report
}

func New(buf buffer.Buffer, profiles Profiles, extractor Extractor, mm Matchmaker, opts Options) *Scheduler {
	if opts.Period <= 0 {
		opts.Period = DefaultPeriod
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = DefaultCycleTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Scheduler{
		buf:          buf,
		profiles:     profiles,
		extractor:    extractor,
		matchmaker:   mm,
		period:       opts.Period,
		concurrency:  opts.Concurrency,
		cycleTimeout: opts.CycleTimeout,
		log:          logger.WithFields(opts.Logger, logger.FieldComponent, "enrichment"),
		metrics:      opts.Metrics,
		trigger:      make(chan struct{}, 1),
	}
}

// Run starts a cycle every period and whenever Trigger is called, until ctx
// is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	s.log.Info("enrichment scheduler started", zap.Duration("period", s.period))
	for {
		var trigger string
		select {
		case <-ctx.Done():
			s.log.Info("enrichment scheduler stopped")
			return
		case <-ticker.C:
			trigger = TriggerTimer
		case <-s.trigger:
			trigger = TriggerManual
		}

		if _, err := s.run(ctx, trigger); err != nil {
			if errors.Is(err, ErrCycleInProgress) {
				s.log.Debug("cycle skipped, previous cycle still running")
				continue
			}
			s.log.Error("enrichment cycle failed", zap.Error(err))
		}
	}
}

// Trigger requests a cycle from Run. Requests made while one is already
// pending are coalesced.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// RunOnce runs a single cycle synchronously.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	return s.run(ctx, TriggerManual)
}

// State returns the current cycle state.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// LastReport returns the report of the most recent completed cycle.
func (s *Scheduler) LastReport() (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Report{}, false
	}
	return *s.last, true
}

func (s *Scheduler) run(ctx context.Context, trigger string) (Report, error) {
	if !s.running.TryLock() {
		return Report{}, ErrCycleInProgress
	}
	defer s.running.Unlock()
	defer s.state.Store(int32(Idle))

	ctx, cancel := context.WithTimeout(ctx, s.cycleTimeout)
	defer cancel()

	rep := Report{ID: uuid.NewString(), Trigger: trigger, StartedAt: time.Now().UTC()}
	log := s.log.With(zap.String(logger.FieldCycleID, rep.ID))
	s.metrics.Cycle(trigger)

	s.state.Store(int32(Draining))
	drained := s.buf.Drain()
	s.metrics.SetBuffered(s.buf.Len())
	rep.Identities = len(drained)
	log.Info("enrichment cycle started", zap.String("trigger", trigger), zap.Int("identities", rep.Identities))

	s.state.Store(int32(Processing))
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.concurrency)
	for identity, fragments := range drained {
		if len(fragments) == 0 {
			continue
		}
		g.Go(func() error {
			result, sent := s.process(ctx, log.With(zap.String(logger.FieldIdentity, identity)), identity, fragments)
			s.metrics.Identity(result)

			mu.Lock()
			defer mu.Unlock()
			rep.add(result, sent)
			return nil
		})
	}
	g.Wait()

	rep.Duration = time.Since(rep.StartedAt)
	s.metrics.ObserveCycle(rep.Duration.Seconds())
	log.Info("enrichment cycle finished",
		zap.Duration("duration", rep.Duration),
		zap.Int("updated", rep.Updated),
		zap.Int("unchanged", rep.Unchanged),
		zap.Int("insufficient", rep.Insufficient),
		zap.Int("scanning_disabled", rep.ScanningDisabled),
		zap.Int("failed", rep.Failed),
		zap.Int("notifications", rep.Notifications),
	)

	s.mu.Lock()
	s.last = &rep
	s.mu.Unlock()
	return rep, nil
}

func (r *Report) add(result string, sent int) {
	switch result {
	case metrics.ResultUpdated:
		r.Updated++
	case metrics.ResultUnchanged:
		r.Unchanged++
	case metrics.ResultScanningDisabled:
		r.ScanningDisabled++
	case metrics.ResultInsufficient:
		r.Insufficient++
	case metrics.ResultFailed:
		r.Failed++
	}
	r.Notifications += sent
}

// process handles one identity and returns its result label and the number
// of notifications delivered. Errors are logged here and never escape.
func (s *Scheduler) process(ctx context.Context, log *zap.Logger, identity string, fragments []string) (string, int) {
	if ctx.Err() != nil {
		log.Warn("cycle deadline reached, identity skipped")
		return metrics.ResultFailed, 0
	}

	snapshot, _, err := s.profiles.GetOrNew(ctx, identity, "")
	if err != nil {
		log.Error("loading profile failed", zap.Error(err))
		return metrics.ResultFailed, 0
	}
	// No extraction call is made for members who opted out.
	if !snapshot.ScanningEnabled {
		log.Debug("scanning disabled, identity skipped")
		return metrics.ResultScanningDisabled, 0
	}
	if !buffer.ShouldAnalyze(fragments) {
		log.Debug("not enough text to analyze", zap.Int("fragments", len(fragments)))
		return metrics.ResultInsufficient, 0
	}

	candidates := s.extractor.Extract(ctx, fragments, &snapshot)
	if candidates.Empty() {
		return metrics.ResultUnchanged, 0
	}

	updated, changed, err := s.matchmaker.Update(ctx, identity, "", func(p *profile.Profile) (bool, error) {
		// The member may have opted out while extraction was running.
		if !p.ScanningEnabled {
			return false, nil
		}
		return p.Merge(candidates), nil
	})
	if err != nil {
		log.Error("saving profile failed", zap.Error(err))
		return metrics.ResultFailed, 0
	}
	if !changed {
		return metrics.ResultUnchanged, 0
	}
	log.Info("profile enriched", zap.Int("items", updated.Categories.Len()))

	sent, err := s.matchmaker.MatchAndNotify(ctx, updated)
	if err != nil {
		log.Warn("matching failed", zap.Error(err))
	}
	return metrics.ResultUpdated, sent
}
