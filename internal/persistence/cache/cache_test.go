package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/runnerz/internal/domain"
	"example.com/runnerz/internal/persistence/sqlite"
)

func newCachedRepository(t *testing.T, backend Backend) (*Repository, *sqlite.Repository) {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	inner := sqlite.NewRepository(db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRepository(inner, backend, time.Minute, logger), inner
}

func morningJog() domain.Run {
	start := time.Date(2024, time.January, 1, 6, 0, 0, 0, time.UTC)
	return domain.Run{
		Title:       "Morning Jog",
		StartedOn:   start,
		CompletedOn: start.Add(30 * time.Minute),
		Miles:       3.1,
		Location:    domain.LocationOutdoor,
	}
}

func TestFindByIDPopulatesAndServesFromCache(t *testing.T) {
	ctx := context.Background()
	backend := newMapBackend()
	repo, inner := newCachedRepository(t, backend)

	id, err := repo.Create(ctx, morningJog())
	require.NoError(t, err)

	first, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 1, backend.sets)

	// Bypass the decorator so only a cache hit can return the old title.
	changed := morningJog()
	changed.Title = "changed underneath"
	require.NoError(t, inner.Update(ctx, changed, id))

	second, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestUpdateInvalidatesCachedRun(t *testing.T) {
	ctx := context.Background()
	backend := newMapBackend()
	repo, _ := newCachedRepository(t, backend)

	id, err := repo.Create(ctx, morningJog())
	require.NoError(t, err)
	_, err = repo.FindByID(ctx, id)
	require.NoError(t, err)

	updated := morningJog()
	updated.Title = "Evening Jog"
	require.NoError(t, repo.Update(ctx, updated, id))

	got, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "Evening Jog", got.Title)
}

func TestDeleteInvalidatesCachedRun(t *testing.T) {
	ctx := context.Background()
	backend := newMapBackend()
	repo, _ := newCachedRepository(t, backend)

	id, err := repo.Create(ctx, morningJog())
	require.NoError(t, err)
	_, err = repo.FindByID(ctx, id)
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, id))

	got, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestReadOverlappingUpdateDoesNotCacheOldRow(t *testing.T) {
	ctx := context.Background()
	backend := newMapBackend()
	_, inner := newCachedRepository(t, backend)
	stalled := &stallingRepo{
		RunRepository: inner,
		loaded:        make(chan struct{}),
		release:       make(chan struct{}),
	}
	repo := NewRepository(stalled, backend, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))

	id, err := repo.Create(ctx, morningJog())
	require.NoError(t, err)

	type result struct {
		run *domain.Run
		err error
	}
	done := make(chan result, 1)
	go func() {
		run, err := repo.FindByID(ctx, id)
		done <- result{run, err}
	}()

	<-stalled.loaded
	updated := morningJog()
	updated.Title = "Evening Jog"
	require.NoError(t, repo.Update(ctx, updated, id))
	close(stalled.release)

	slow := <-done
	require.NoError(t, slow.err)
	require.Equal(t, "Morning Jog", slow.run.Title, "the overlapping read saw the row as it loaded it")

	got, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "Evening Jog", got.Title)

	again, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "Evening Jog", again.Title)
}

func TestMissingRunIsNotCached(t *testing.T) {
	backend := newMapBackend()
	repo, _ := newCachedRepository(t, backend)

	got, err := repo.FindByID(context.Background(), 77)
	require.NoError(t, err)
	require.Nil(t, got)
	require.Zero(t, backend.sets)
}

func TestBackendFailureFallsThroughToStore(t *testing.T) {
	ctx := context.Background()
	backend := newMapBackend()
	backend.err = errors.New("redis down")
	repo, _ := newCachedRepository(t, backend)

	id, err := repo.Create(ctx, morningJog())
	require.NoError(t, err)

	got, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "Morning Jog", got.Title)

	require.NoError(t, repo.Delete(ctx, id), "invalidation errors are not surfaced")
}

type mapBackend struct {
	mu     sync.Mutex
	values map[string][]byte
	sets   int
	err    error
}

func newMapBackend() *mapBackend {
	return &mapBackend{values: make(map[string][]byte)}
}

func (m *mapBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *mapBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sets++
	m.values[key] = value
	return nil
}

func (m *mapBackend) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	n, _ := strconv.ParseInt(string(m.values[key]), 10, 64)
	n++
	m.values[key] = []byte(strconv.FormatInt(n, 10))
	return n, nil
}

func (m *mapBackend) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

// stallingRepo holds its first FindByID after the store read until release
// is closed.
type stallingRepo struct {
	domain.RunRepository
	once    sync.Once
	loaded  chan struct{}
	release chan struct{}
}

func (s *stallingRepo) FindByID(ctx context.Context, id int64) (*domain.Run, error) {
	run, err := s.RunRepository.FindByID(ctx, id)
	s.once.Do(func() {
		close(s.loaded)
		<-s.release
	})
	return run, err
}
