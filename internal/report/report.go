// Package report writes the outcome of a partition as JSON and PNG.
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"vrpsplit/internal/geo"
	"vrpsplit/internal/store"
)

// Cluster is one group of services in a report.
type Cluster struct {
	Target   string             `json:"target"`
	Services []string           `json:"services"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
	Centroid *geo.Point         `json:"centroid,omitempty"`
	// Hull is an open ring around the cluster's services.
	Hull []geo.Point `json:"hull,omitempty"`
	// Points are the service locations, plotted but not written out.
	Points []geo.Point `json:"-"`
}

// Report describes a finished partition.
type Report struct {
	RunID      string    `json:"runId,omitempty"`
	Method     string    `json:"method"`
	Problem    string    `json:"problem,omitempty"`
	Score      float64   `json:"score"`
	Restart    int       `json:"restart"`
	Restarts   int       `json:"restarts"`
	Iterations int       `json:"iterations"`
	Evicted    []string  `json:"evicted,omitempty"`
	Clusters   []Cluster `json:"clusters"`
}

// WriteJSON writes r indented.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// Summary is the stored form of the report.
func (r *Report) Summary() store.Run {
	run := store.Run{
		ID:         r.RunID,
		Method:     r.Method,
		Problem:    r.Problem,
		Score:      r.Score,
		Restart:    r.Restart,
		Iterations: r.Iterations,
		Evicted:    append([]string(nil), r.Evicted...),
	}
	for _, c := range r.Clusters {
		run.Clusters = append(run.Clusters, store.ClusterSummary{
			Target:   c.Target,
			Services: append([]string(nil), c.Services...),
			Metrics:  c.Metrics,
		})
	}
	return run
}
