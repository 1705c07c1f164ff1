// Package matchmaker implements the interactive profile commands and the
// match-and-notify step shared by live edits and enrichment cycles.
package matchmaker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kalambet/emobot/internal/logger"
	"github.com/kalambet/emobot/internal/matching"
	"github.com/kalambet/emobot/internal/profile"
)

var (
	// ErrNoProfile is returned when a command needs an existing profile.
	ErrNoProfile = errors.New("no profile for this member")
	// ErrEmptyItem is returned when an item is blank after trimming.
	ErrEmptyItem = errors.New("item must not be empty")
)

// Profiles is the profile access the service needs. *profile.Manager
// satisfies it.
type Profiles interface {
	Get(ctx context.Context, identity string) (*profile.Profile, error)
	GetOrNew(ctx context.Context, identity, displayName string) (profile.Profile, bool, error)
	Others(ctx context.Context, identity string) ([]profile.Profile, error)
	Save(ctx context.Context, p profile.Profile) error
}

// Notifier delivers match notifications. *notify.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, subject profile.Profile, matches []matching.Match) int
}

// Options tunes a Service.
type Options struct {
	// Threshold is the minimum similarity for a match; zero selects
	// matching.DefaultThreshold.
	Threshold float64
	Logger    *zap.Logger
}

// Service serializes profile edits per identity and runs ranking after
// every change.
type Service struct {
	profiles  Profiles
	members   matching.MembershipChecker
	notifier  Notifier
	threshold float64
	log       *zap.Logger

	stripes [64]sync.Mutex
}

func New(profiles Profiles, members matching.MembershipChecker, notifier Notifier, opts Options) *Service {
	if opts.Threshold <= 0 {
		opts.Threshold = matching.DefaultThreshold
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		profiles:  profiles,
		members:   members,
		notifier:  notifier,
		threshold: opts.Threshold,
		log:       logger.WithFields(opts.Logger, logger.FieldComponent, "matchmaker"),
	}
}

// Threshold returns the similarity threshold in use.
func (s *Service) Threshold() float64 { return s.threshold }

func (s *Service) lock(identity string) func() {
	h := fnv.New32a()
	h.Write([]byte(identity))
	mu := &s.stripes[h.Sum32()%uint32(len(s.stripes))]
	mu.Lock()
	return mu.Unlock
}

// View returns the stored profile of identity.
func (s *Service) View(ctx context.Context, identity string) (profile.Profile, error) {
	p, err := s.profiles.Get(ctx, identity)
	if err != nil {
		return profile.Profile{}, err
	}
	if p == nil {
		return profile.Profile{}, ErrNoProfile
	}
	return *p, nil
}

// Update applies fn to identity's profile (created when absent) and saves
// the result when fn reports a change. Concurrent updates of the same
// identity are serialized.
func (s *Service) Update(ctx context.Context, identity, displayName string, fn func(p *profile.Profile) (bool, error)) (profile.Profile, bool, error) {
	unlock := s.lock(identity)
	defer unlock()

	p, created, err := s.profiles.GetOrNew(ctx, identity, displayName)
	if err != nil {
		return profile.Profile{}, false, err
	}
	changed, err := fn(&p)
	if err != nil {
		return p, false, err
	}
	if name := strings.TrimSpace(displayName); name != "" && name != p.DisplayName {
		p.DisplayName = name
		changed = true
	}
	if !changed && !created {
		return p, false, nil
	}
	if err := s.profiles.Save(ctx, p); err != nil {
		return p, false, err
	}
	return p, changed, nil
}

// AddResult describes the outcome of AddItem.
type AddResult struct {
	Profile        profile.Profile `json:"profile"`
	AlreadyPresent bool            `json:"already_present"`
	Notifications  int             `json:"notifications"`
}

// AddItem inserts item into category, creating the profile if needed. A new
// item triggers ranking and notification for the member.
func (s *Service) AddItem(ctx context.Context, identity, displayName string, category profile.Category, item string) (AddResult, error) {
	item = strings.TrimSpace(item)
	if item == "" {
		return AddResult{}, ErrEmptyItem
	}

	added := false
	p, _, err := s.Update(ctx, identity, displayName, func(p *profile.Profile) (bool, error) {
		added = p.Add(category, item)
		return added, nil
	})
	if err != nil {
		return AddResult{}, fmt.Errorf("adding %s item: %w", category, err)
	}
	if !added {
		return AddResult{Profile: p, AlreadyPresent: true}, nil
	}

	s.log.Info("item added",
		zap.String(logger.FieldIdentity, identity),
		zap.String(logger.FieldCategory, string(category)),
	)
	sent, err := s.MatchAndNotify(ctx, p)
	if err != nil {
		// The item is stored; a failed match run does not undo it.
		s.log.Warn("matching after add failed", zap.String(logger.FieldIdentity, identity), zap.Error(err))
	}
	return AddResult{Profile: p, Notifications: sent}, nil
}

// RemoveItem deletes item from category by exact match.
func (s *Service) RemoveItem(ctx context.Context, identity string, category profile.Category, item string) (profile.Profile, error) {
	unlock := s.lock(identity)
	defer unlock()

	p, err := s.profiles.Get(ctx, identity)
	if err != nil {
		return profile.Profile{}, err
	}
	if p == nil {
		return profile.Profile{}, ErrNoProfile
	}
	if err := p.Remove(category, item); err != nil {
		return *p, err
	}
	if err := s.profiles.Save(ctx, *p); err != nil {
		return *p, fmt.Errorf("removing %s item: %w", category, err)
	}
	s.log.Info("item removed",
		zap.String(logger.FieldIdentity, identity),
		zap.String(logger.FieldCategory, string(category)),
	)
	return *p, nil
}

// SetScanning turns automatic interest extraction on or off.
func (s *Service) SetScanning(ctx context.Context, identity, displayName string, enabled bool) (profile.Profile, error) {
	p, _, err := s.Update(ctx, identity, displayName, func(p *profile.Profile) (bool, error) {
		if p.ScanningEnabled == enabled {
			return false, nil
		}
		p.ScanningEnabled = enabled
		return true, nil
	})
	if err != nil {
		return p, fmt.Errorf("setting scanning: %w", err)
	}
	return p, nil
}

// Matches ranks the other profiles against identity without notifying.
func (s *Service) Matches(ctx context.Context, identity string) ([]matching.Match, error) {
	p, err := s.View(ctx, identity)
	if err != nil {
		return nil, err
	}
	return s.rank(ctx, p)
}

// MatchAndNotify ranks subject against everyone else and notifies both
// parties of each match. It returns the number of delivered messages.
func (s *Service) MatchAndNotify(ctx context.Context, subject profile.Profile) (int, error) {
	matches, err := s.rank(ctx, subject)
	if err != nil {
		return 0, err
	}
	if len(matches) == 0 || s.notifier == nil {
		return 0, nil
	}
	return s.notifier.Notify(ctx, subject, matches), nil
}

func (s *Service) rank(ctx context.Context, subject profile.Profile) ([]matching.Match, error) {
	others, err := s.profiles.Others(ctx, subject.Identity)
	if err != nil {
		return nil, err
	}
	return matching.Rank(ctx, subject, others, s.threshold, s.members)
}
