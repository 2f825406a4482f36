package limits

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"nukeguard/internal/database"
	"nukeguard/internal/logging"
	"nukeguard/internal/models"
)

const (
	DefaultTimeFrame   = 10
	DefaultMaxMessages = 5

	// FallbackMax applies to an action type with no configured maximum.
	FallbackMax = 1
)

// RateWindowConfig is the per-community detection policy.
type RateWindowConfig struct {
	CommunityID string
	Enabled     bool
	TimeFrame   int // seconds
	Max         map[models.ActionType]int
}

// Window returns TimeFrame as a duration.
func (c RateWindowConfig) Window() time.Duration {
	return time.Duration(c.TimeFrame) * time.Second
}

// MaxFor returns the configured maximum and whether one exists.
func (c RateWindowConfig) MaxFor(action models.ActionType) (int, bool) {
	v, ok := c.Max[action]
	return v, ok
}

// Defaults is the record used for communities without a stored row. The
// update types carry no maximum until one is configured, so they fall back
// to FallbackMax at decision time.
func Defaults(communityID string) RateWindowConfig {
	maxVals := make(map[models.ActionType]int, len(models.ActionTypes))
	for _, a := range models.ActionTypes {
		if a == models.ActionChannelsUpdated || a == models.ActionRolesUpdated {
			continue
		}
		maxVals[a] = 0
	}
	maxVals[models.ActionMessages] = DefaultMaxMessages

	return RateWindowConfig{
		CommunityID: communityID,
		Enabled:     true,
		TimeFrame:   DefaultTimeFrame,
		Max:         maxVals,
	}
}

// Patch is a partial configuration write. Nil fields are left untouched.
type Patch struct {
	Enabled   *bool
	TimeFrame *int
	Max       map[models.ActionType]int
}

func (p Patch) validate() error {
	if p.TimeFrame != nil && *p.TimeFrame <= 0 {
		return fmt.Errorf("time_frame must be positive, got %d", *p.TimeFrame)
	}
	for a, v := range p.Max {
		if !a.Valid() {
			return fmt.Errorf("unknown action type %q", a)
		}
		if v < 0 {
			return fmt.Errorf("%s must be >= 0, got %d", a.Column(), v)
		}
	}
	return nil
}

// Backend is the persistence the store reads and writes through.
type Backend interface {
	GetRateConfig(ctx context.Context, communityID string) (*database.RateConfig, error)
	UpsertRateConfig(ctx context.Context, communityID string, patch database.RateConfigPatch) error
}

// Store resolves RateWindowConfig per community. Reads are cached briefly;
// every write through Upsert drops the cached entry, and a read that
// overlapped a write is not cached.
type Store struct {
	backend Backend
	cache   *expirable.LRU[string, RateWindowConfig]

	mu  sync.Mutex
	gen uint64
}

func NewStore(backend Backend, cacheSize int, ttl time.Duration) *Store {
	s := &Store{backend: backend}
	if cacheSize > 0 && ttl > 0 {
		s.cache = expirable.NewLRU[string, RateWindowConfig](cacheSize, nil, ttl)
	}
	return s
}

// Get never fails: a missing row or a read error yields Defaults.
func (s *Store) Get(ctx context.Context, communityID string) RateWindowConfig {
	if s.cache != nil {
		if cfg, ok := s.cache.Get(communityID); ok {
			return cfg
		}
	}

	gen := s.generation()
	row, err := s.backend.GetRateConfig(ctx, communityID)
	if err != nil {
		logging.Warn("rate config read failed for %s, using defaults: %v", communityID, err)
		return Defaults(communityID)
	}

	cfg := fromRow(communityID, row)
	if s.cache != nil {
		s.mu.Lock()
		if s.gen == gen {
			s.cache.Add(communityID, cfg)
		}
		s.mu.Unlock()
	}
	return cfg
}

// Upsert merges patch into the stored row, creating it when absent.
func (s *Store) Upsert(ctx context.Context, communityID string, patch Patch) error {
	if err := patch.validate(); err != nil {
		return err
	}

	dbPatch := database.RateConfigPatch{
		Enabled:   patch.Enabled,
		TimeFrame: patch.TimeFrame,
	}
	if len(patch.Max) > 0 {
		dbPatch.Max = make(map[string]int, len(patch.Max))
		for a, v := range patch.Max {
			dbPatch.Max[a.Column()] = v
		}
	}

	s.invalidate(communityID)
	defer s.invalidate(communityID)

	if err := s.backend.UpsertRateConfig(ctx, communityID, dbPatch); err != nil {
		return fmt.Errorf("upsert rate config: %w", err)
	}
	return nil
}

func (s *Store) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// invalidate drops the cached entry and bumps the generation so reads
// already in flight do not re-cache what they saw.
func (s *Store) invalidate(communityID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if s.cache != nil {
		s.cache.Remove(communityID)
	}
}

func fromRow(communityID string, row *database.RateConfig) RateWindowConfig {
	cfg := Defaults(communityID)
	if row == nil {
		return cfg
	}

	cfg.Enabled = row.Enabled
	if row.TimeFrame > 0 {
		cfg.TimeFrame = row.TimeFrame
	} else {
		logging.Warn("rate config for %s has time_frame %d, using %d", communityID, row.TimeFrame, DefaultTimeFrame)
	}
	for _, a := range models.ActionTypes {
		v, ok := row.Max[a.Column()]
		if !ok {
			continue
		}
		if v < 0 {
			logging.Warn("rate config for %s has %s=%d, using default", communityID, a.Column(), v)
			continue
		}
		cfg.Max[a] = v
	}
	return cfg
}
