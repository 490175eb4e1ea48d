package seed

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/runnerz/internal/domain"
	"example.com/runnerz/internal/persistence/sqlite"
)

const runsJSON = `{
  "runs": [
    {"id": 1, "title": "Noonday Jog", "startedOn": "2024-02-20T06:05:00", "completedOn": "2024-02-20T06:50:00", "miles": 4, "location": "INDOOR"},
    {"id": 2, "title": "Trail Loop", "startedOn": "2024-02-21T07:00:00Z", "completedOn": "2024-02-21T08:15:00+00:00", "miles": 7.5, "location": "outdoor"}
  ]
}`

func TestParseAcceptsZonelessTimestampsAndUpperCaseLocations(t *testing.T) {
	runs, err := Parse(strings.NewReader(runsJSON))
	require.NoError(t, err)
	require.Len(t, runs, 2)

	require.Equal(t, domain.LocationIndoor, runs[0].Location)
	require.Equal(t, time.Date(2024, time.February, 20, 6, 5, 0, 0, time.UTC), runs[0].StartedOn)
	require.Zero(t, runs[0].ID)
	require.Equal(t, domain.LocationOutdoor, runs[1].Location)
}

func TestParseRejectsBadTimestamp(t *testing.T) {
	_, err := Parse(strings.NewReader(`{"runs":[{"title":"x","startedOn":"yesterday","completedOn":"2024-01-01T00:00:00Z","miles":1,"location":"indoor"}]}`))
	require.ErrorContains(t, err, "run 0 startedOn")
}

func TestLoadFileSeedsOnlyEmptyStore(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	service := domain.NewService(sqlite.NewRepository(db))
	path := filepath.Join(t.TempDir(), "runs.json")
	require.NoError(t, os.WriteFile(path, []byte(runsJSON), 0o600))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	n, err := LoadFile(ctx, service, path, logger)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = LoadFile(ctx, service, path, logger)
	require.NoError(t, err)
	require.Zero(t, n)

	runs, err := service.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "Noonday Jog", runs[0].Title)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(context.Background(), nil, filepath.Join(t.TempDir(), "nope.json"), slog.Default())
	require.ErrorContains(t, err, "open seed file")
}
