// Package seed loads an initial set of runs from a JSON document into an empty store.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"example.com/runnerz/internal/domain"
)

// Document is the on-disk seed layout: {"runs": [...]}.
type Document struct {
	Runs []Record `json:"runs"`
}

// Record is a single seeded run. IDs in the file are ignored.
type Record struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	StartedOn   string  `json:"startedOn"`
	CompletedOn string  `json:"completedOn"`
	Miles       float64 `json:"miles"`
	Location    string  `json:"location"`
}

// Parse decodes a seed document into domain runs.
func Parse(r io.Reader) ([]domain.Run, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode seed document: %w", err)
	}

	runs := make([]domain.Run, 0, len(doc.Runs))
	for i, rec := range doc.Runs {
		started, err := domain.ParseTimestamp(rec.StartedOn)
		if err != nil {
			return nil, fmt.Errorf("run %d startedOn: %w", i, err)
		}
		completed, err := domain.ParseTimestamp(rec.CompletedOn)
		if err != nil {
			return nil, fmt.Errorf("run %d completedOn: %w", i, err)
		}
		runs = append(runs, domain.Run{
			Title:       rec.Title,
			StartedOn:   started,
			CompletedOn: completed,
			Miles:       rec.Miles,
			Location:    domain.Location(strings.ToLower(strings.TrimSpace(rec.Location))),
		})
	}
	return runs, nil
}

// LoadFile imports the runs in path when the store is empty and returns how
// many were written.
func LoadFile(ctx context.Context, service *domain.Service, path string, logger *slog.Logger) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	runs, err := Parse(f)
	if err != nil {
		return 0, err
	}

	n, err := service.ImportRuns(ctx, runs)
	if err != nil {
		return 0, fmt.Errorf("import seed runs: %w", err)
	}
	if n == 0 {
		logger.Info("seed skipped; store already has runs or file is empty", "file", path)
		return 0, nil
	}
	logger.Info("seeded runs", "file", path, "count", n)
	return n, nil
}
