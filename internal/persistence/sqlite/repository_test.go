package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/runnerz/internal/domain"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db)
}

func sampleRun(title string, location domain.Location) domain.Run {
	start := time.Date(2024, time.January, 1, 6, 0, 0, 0, time.UTC)
	return domain.Run{
		Title:       title,
		StartedOn:   start,
		CompletedOn: start.Add(30 * time.Minute),
		Miles:       3.1,
		Location:    location,
	}
}

func TestCreateThenFindReturnsIdenticalRecord(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	run := sampleRun("Morning Jog", domain.LocationOutdoor)
	id, err := repo.Create(ctx, run)
	require.NoError(t, err)
	require.NotZero(t, id)

	stored, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, stored)
	run.ID = id
	require.Equal(t, run, *stored)
}

func TestFindByIDMissingReturnsNil(t *testing.T) {
	repo := newTestRepository(t)

	run, err := repo.FindByID(context.Background(), 404)
	require.NoError(t, err)
	require.Nil(t, run)
}

func TestFindAllKeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	for _, title := range []string{"first", "second", "third"} {
		_, err := repo.Create(ctx, sampleRun(title, domain.LocationIndoor))
		require.NoError(t, err)
	}

	runs, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	require.Equal(t, "first", runs[0].Title)
	require.Equal(t, "third", runs[2].Title)
}

func TestFindAllEmptyStoreReturnsEmptySlice(t *testing.T) {
	runs, err := newTestRepository(t).FindAll(context.Background())
	require.NoError(t, err)
	require.NotNil(t, runs)
	require.Empty(t, runs)
}

func TestUpdateReplacesWholeRecord(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	id, err := repo.Create(ctx, sampleRun("before", domain.LocationOutdoor))
	require.NoError(t, err)

	replacement := sampleRun("after", domain.LocationIndoor)
	replacement.Miles = 5.5
	replacement.CompletedOn = replacement.StartedOn.Add(time.Hour)
	require.NoError(t, repo.Update(ctx, replacement, id))

	stored, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	replacement.ID = id
	require.Equal(t, replacement, *stored)
}

func TestUpdateMissingReturnsNotFound(t *testing.T) {
	repo := newTestRepository(t)

	err := repo.Update(context.Background(), sampleRun("ghost", domain.LocationIndoor), 99)
	require.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	id, err := repo.Create(ctx, sampleRun("short", domain.LocationIndoor))
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, id))
	require.NoError(t, repo.Delete(ctx, id))

	stored, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	require.Nil(t, stored)
}

func TestFindByLocationMatchesFilterOfFindAll(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	locations := []domain.Location{domain.LocationIndoor, domain.LocationOutdoor, domain.LocationOutdoor, domain.LocationIndoor}
	for i, loc := range locations {
		_, err := repo.Create(ctx, sampleRun("run-"+string(rune('a'+i)), loc))
		require.NoError(t, err)
	}

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)

	for _, loc := range domain.Locations {
		expected := make([]domain.Run, 0)
		for _, run := range all {
			if run.Location == loc {
				expected = append(expected, run)
			}
		}
		got, err := repo.FindByLocation(ctx, loc)
		require.NoError(t, err)
		require.Equal(t, expected, got)
	}
}

func TestSaveAllAndCount(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count)

	require.NoError(t, repo.SaveAll(ctx, []domain.Run{
		sampleRun("one", domain.LocationIndoor),
		sampleRun("two", domain.LocationOutdoor),
	}))

	count, err = repo.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.NoError(t, repo.Ping(ctx))
}

func TestRebindConvertsPlaceholders(t *testing.T) {
	require.Equal(t, "UPDATE runs SET title=? WHERE id=?", rebind("UPDATE runs SET title=$1 WHERE id=$2"))
}
