package kmeans

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"vrpsplit/internal/geo"
)

// NoIndex marks a missing matrix index.
const NoIndex = -1

// DurationUnit is the cut symbol that enables work-time based limits.
const DurationUnit = "duration"

var (
	// ErrConfiguration reports a run that cannot start with the given input.
	ErrConfiguration = errors.New("kmeans: invalid configuration")
	// ErrEmptyCluster is the sentinel behind EmptyClusterError.
	ErrEmptyCluster = errors.New("kmeans: empty cluster")
)

// EmptyClusterError is returned under the Terminate policy when a cluster
// ends an iteration without members.
type EmptyClusterError struct {
	Target    string
	Iteration int
}

func (e *EmptyClusterError) Error() string {
	return fmt.Sprintf("kmeans: cluster for target %q is empty at iteration %d: requested cluster count exceeds what the compatibility constraints allow", e.Target, e.Iteration)
}

func (e *EmptyClusterError) Unwrap() error { return ErrEmptyCluster }

// Characteristics are the compatibility attributes shared by items and
// targets. For items VehicleIDs are sticky vehicles, for targets the ids
// of the vehicles the target stands for.
type Characteristics struct {
	VehicleIDs []string `json:"vehicleIds,omitempty"`
	Skills     []string `json:"skills,omitempty"`
	DaySkills  []string `json:"daySkills,omitempty"`
}

// Item is a weighted point to cluster.
type Item struct {
	ID          string             `json:"id"`
	Location    *geo.Point         `json:"location,omitempty"`
	MatrixIndex int                `json:"matrixIndex"`
	Quantities  map[string]float64 `json:"quantities,omitempty"`
	Characteristics
	// DepotDurations[t] is the time to reach the item from target t's depot
	// and come back.
	DepotDurations []float64 `json:"depotDurations,omitempty"`
}

// Target is what a cluster is built for, typically one vehicle.
type Target struct {
	ID          string             `json:"id"`
	Depot       *geo.Point         `json:"depot,omitempty"`
	MatrixIndex int                `json:"matrixIndex"`
	Capacities  map[string]float64 `json:"capacities,omitempty"`
	// Limit is the share of the cut load this target should absorb. Zero
	// means an even split.
	Limit         float64 `json:"limit,omitempty"`
	TotalWorkTime float64 `json:"totalWorkTime,omitempty"`
	TotalWorkDays float64 `json:"totalWorkDays,omitempty"`
	Characteristics
}

// OnEmpty is the policy applied when a cluster loses all its members.
type OnEmpty string

const (
	Terminate OnEmpty = "terminate"
	Eliminate OnEmpty = "eliminate"
	Random    OnEmpty = "random"
	Indices   OnEmpty = "indices"
)

// Tuning holds the empirically chosen constants of the balancing objective.
type Tuning struct {
	IncompatibilityPenalty float64
	CapacityPenalty        float64
	// BalanceDecay is how much the balance rate drops over the run.
	BalanceDecay float64
	// PowerThreshold is the assigned share above which the balance ratio is
	// applied linearly.
	PowerThreshold float64
	ShuffleFrom    float64
	ShuffleTo      float64
	// MinMovement in meters; less total centroid movement means converged.
	MinMovement   float64
	LoopTolerance float64
	// DepotTripFactor scales depot round trips when deriving work time.
	DepotTripFactor float64
	MinLimitScale   float64
	MaxLimitScale   float64
	// EmptyAttemptsPerItem bounds empty-cluster recovery before eviction.
	EmptyAttemptsPerItem int
}

// DefaultTuning returns the reference constants.
func DefaultTuning() Tuning {
	return Tuning{
		IncompatibilityPenalty: 1 << 32,
		CapacityPenalty:        1 << 16,
		BalanceDecay:           0.2,
		PowerThreshold:         0.95,
		ShuffleFrom:            0.1,
		ShuffleTo:              0.9,
		MinMovement:            1,
		LoopTolerance:          1e-5,
		DepotTripFactor:        1.5,
		MinLimitScale:          0.9,
		MaxLimitScale:          1.5,
		EmptyAttemptsPerItem:   2,
	}
}

// Iteration is what the checkpoint hook sees after each iteration.
type Iteration struct {
	Number   int
	Movement float64
	Loads    []float64
	Limits   []float64
}

// Options configure a run. MaxIterations is required.
type Options struct {
	// Clusters defaults to the number of targets.
	Clusters  int
	CutSymbol string
	// CutRatio scales every limit, 1 when zero.
	CutRatio     float64
	StrictLimits bool
	// CentroidIndices seed one centroid per target, in target order.
	CentroidIndices []int
	// SpareIndices feed the Indices empty-cluster policy.
	SpareIndices  []int
	MaxIterations int
	OnEmpty       OnEmpty
	// LastIterationBalanceRate, when set, runs one extra pass with this rate.
	LastIterationBalanceRate *float64
	Seed                     int64
	// Matrix switches the run to matrix mode: items and targets are
	// compared through their matrix indices.
	Matrix        mat.Matrix
	Distance      Distance
	Compatibility Compatibility
	// Checkpoint runs after every iteration; an error stops the run.
	Checkpoint func(Iteration) error
	Tuning     *Tuning
}

// Centroid is the moving center of a cluster.
type Centroid struct {
	Target        int       `json:"target"`
	Location      geo.Point `json:"location"`
	MatrixIndex   int       `json:"matrixIndex"`
	DepotDuration float64   `json:"depotDuration"`
	Limit         float64   `json:"limit"`
}

// Cluster is one output group.
type Cluster struct {
	Target   int                `json:"target"`
	TargetID string             `json:"targetId"`
	Items    []int              `json:"items"`
	Metrics  map[string]float64 `json:"metrics"`
	Centroid Centroid           `json:"centroid"`
}

// Result of a run. Cluster item indices refer to the input slice.
type Result struct {
	Clusters   []Cluster `json:"clusters"`
	Iterations int       `json:"iterations"`
	// Evicted lists targets whose cluster was eliminated.
	Evicted []int `json:"evicted,omitempty"`
}
