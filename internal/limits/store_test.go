package limits

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nukeguard/internal/database"
	"nukeguard/internal/models"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "limits.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, 16, time.Minute)
}

func TestDefaultsWhenAbsent(t *testing.T) {
	assert := assert.New(t)
	s := openStore(t)

	cfg := s.Get(context.Background(), "g1")
	assert.True(cfg.Enabled)
	assert.Equal(10, cfg.TimeFrame)
	assert.Equal(10*time.Second, cfg.Window())

	max, ok := cfg.MaxFor(models.ActionMessages)
	assert.True(ok)
	assert.Equal(5, max)

	max, ok = cfg.MaxFor(models.ActionChannelsDeleted)
	assert.True(ok)
	assert.Equal(0, max)

	_, ok = cfg.MaxFor(models.ActionRolesUpdated)
	assert.False(ok, "update types fall back at decision time")
	_, ok = cfg.MaxFor(models.ActionChannelsUpdated)
	assert.False(ok)

	_, ok = cfg.MaxFor(models.ActionType("emojis_deleted"))
	assert.False(ok)
}

func TestUpsertMerges(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := openStore(t)

	tf := 3
	require.NoError(t, s.Upsert(ctx, "g1", Patch{
		TimeFrame: &tf,
		Max:       map[models.ActionType]int{models.ActionMessages: 7},
	}))

	disabled := false
	require.NoError(t, s.Upsert(ctx, "g1", Patch{Enabled: &disabled}))

	cfg := s.Get(ctx, "g1")
	assert.False(cfg.Enabled)
	assert.Equal(3, cfg.TimeFrame)
	assert.Equal(7, cfg.Max[models.ActionMessages])
	assert.Equal(0, cfg.Max[models.ActionBans])
}

func TestUpsertInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	assert.True(t, s.Get(ctx, "g1").Enabled)

	disabled := false
	require.NoError(t, s.Upsert(ctx, "g1", Patch{Enabled: &disabled}))
	assert.False(t, s.Get(ctx, "g1").Enabled)
}

func TestUpdateMaximumStoredOnceSet(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.Upsert(ctx, "g1", Patch{Max: map[models.ActionType]int{models.ActionBans: 2}}))
	_, ok := s.Get(ctx, "g1").MaxFor(models.ActionRolesUpdated)
	assert.False(t, ok)

	require.NoError(t, s.Upsert(ctx, "g1", Patch{Max: map[models.ActionType]int{models.ActionRolesUpdated: 3}}))
	got, ok := s.Get(ctx, "g1").MaxFor(models.ActionRolesUpdated)
	assert.True(t, ok)
	assert.Equal(t, 3, got)
}

// slowReadBackend runs onRead after reading the row and before returning it.
type slowReadBackend struct {
	*database.Database
	onRead func()
}

func (b *slowReadBackend) GetRateConfig(ctx context.Context, communityID string) (*database.RateConfig, error) {
	row, err := b.Database.GetRateConfig(ctx, communityID)
	if hook := b.onRead; hook != nil {
		b.onRead = nil
		hook()
	}
	return row, err
}

func TestReadOverlappingWriteNotCached(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(filepath.Join(t.TempDir(), "limits.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	backend := &slowReadBackend{Database: db}
	s := NewStore(backend, 16, time.Minute)

	disabled := false
	backend.onRead = func() {
		require.NoError(t, s.Upsert(ctx, "g1", Patch{Enabled: &disabled}))
	}

	assert.True(t, s.Get(ctx, "g1").Enabled, "the overlapping read saw the old row")
	assert.False(t, s.Get(ctx, "g1").Enabled)
}

func TestUpsertRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	zero := 0
	assert.Error(t, s.Upsert(ctx, "g1", Patch{TimeFrame: &zero}))
	assert.Error(t, s.Upsert(ctx, "g1", Patch{Max: map[models.ActionType]int{models.ActionBans: -1}}))
	assert.Error(t, s.Upsert(ctx, "g1", Patch{Max: map[models.ActionType]int{"emojis": 1}}))
}

type failingBackend struct{}

func (failingBackend) GetRateConfig(context.Context, string) (*database.RateConfig, error) {
	return nil, errors.New("disk I/O error")
}

func (failingBackend) UpsertRateConfig(context.Context, string, database.RateConfigPatch) error {
	return errors.New("disk I/O error")
}

func TestReadErrorFallsBackToDefaults(t *testing.T) {
	s := NewStore(failingBackend{}, 0, 0)

	cfg := s.Get(context.Background(), "g1")
	assert.Equal(t, Defaults("g1"), cfg)
}
