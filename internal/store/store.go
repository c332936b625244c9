// Package store persists summaries of partition runs.
package store

import (
	"context"
	"errors"
	"time"
)

// ClusterSummary describes one cluster of a stored run.
type ClusterSummary struct {
	Target   string             `json:"target"`
	Services []string           `json:"services"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
}

// Run is the persisted outcome of a partition.
type Run struct {
	ID         string           `json:"id"`
	CreatedAt  time.Time        `json:"createdAt"`
	Method     string           `json:"method"`
	Problem    string           `json:"problem,omitempty"`
	Score      float64          `json:"score"`
	Restart    int              `json:"restart"`
	Iterations int              `json:"iterations"`
	Evicted    []string         `json:"evicted,omitempty"`
	Clusters   []ClusterSummary `json:"clusters"`
}

// Store is the persistence interface used by the CLI.
type Store interface {
	// SaveRun stores run, assigning an id and creation time when missing.
	SaveRun(ctx context.Context, run Run) (Run, error)
	GetRun(ctx context.Context, id string) (Run, error)
	// ListRuns pages through runs oldest first. cursor is the id of the last
	// run of the previous page; the returned cursor is empty on the last page.
	ListRuns(ctx context.Context, cursor string, limit int) ([]Run, string, error)
	Close() error
}

var ErrNotFound = errors.New("not found")

const (
	defaultLimit = 100
	maxLimit     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxLimit {
		return defaultLimit
	}
	return limit
}
