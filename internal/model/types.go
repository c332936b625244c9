package model

import "vrpsplit/internal/geo"

// Core VRP types consumed by the clustering engine

type Point struct {
	ID          string     `json:"id" yaml:"id"`
	Location    *geo.Point `json:"location,omitempty" yaml:"location,omitempty"`
	MatrixIndex *int       `json:"matrixIndex,omitempty" yaml:"matrixIndex,omitempty"`
}

// Index returns the matrix index or -1.
func (p *Point) Index() int {
	if p == nil || p.MatrixIndex == nil {
		return -1
	}
	return *p.MatrixIndex
}

// TimeWindow bounds are seconds. A nil End is open; a nil DayIndex applies
// to every day.
type TimeWindow struct {
	Start    float64  `json:"start" yaml:"start"`
	End      *float64 `json:"end,omitempty" yaml:"end,omitempty"`
	DayIndex *int     `json:"dayIndex,omitempty" yaml:"dayIndex,omitempty"`
}

type ServiceType string

const (
	ServiceVisit ServiceType = "service"
	Pickup       ServiceType = "pickup"
	Delivery     ServiceType = "delivery"
)

type Service struct {
	ID               string             `json:"id" yaml:"id"`
	PointID          string             `json:"pointId" yaml:"pointId"`
	Type             ServiceType        `json:"type,omitempty" yaml:"type,omitempty"`
	Duration         float64            `json:"duration,omitempty" yaml:"duration,omitempty"`
	Priority         int                `json:"priority,omitempty" yaml:"priority,omitempty"`
	LateMultiplier   float64            `json:"lateMultiplier,omitempty" yaml:"lateMultiplier,omitempty"`
	Quantities       map[string]float64 `json:"quantities,omitempty" yaml:"quantities,omitempty"`
	Skills           []string           `json:"skills,omitempty" yaml:"skills,omitempty"`
	StickyVehicleIDs []string           `json:"stickyVehicleIds,omitempty" yaml:"stickyVehicleIds,omitempty"`
	TimeWindows      []TimeWindow       `json:"timeWindows,omitempty" yaml:"timeWindows,omitempty"`
	DoNotGroup       bool               `json:"doNotGroup,omitempty" yaml:"doNotGroup,omitempty"`
}

type Vehicle struct {
	ID                  string             `json:"id" yaml:"id"`
	StartPointID        string             `json:"startPointId,omitempty" yaml:"startPointId,omitempty"`
	EndPointID          string             `json:"endPointId,omitempty" yaml:"endPointId,omitempty"`
	MatrixID            string             `json:"matrixId,omitempty" yaml:"matrixId,omitempty"`
	Capacities          map[string]float64 `json:"capacities,omitempty" yaml:"capacities,omitempty"`
	Skills              []string           `json:"skills,omitempty" yaml:"skills,omitempty"`
	CostLateMultiplier  float64            `json:"costLateMultiplier,omitempty" yaml:"costLateMultiplier,omitempty"`
	Duration            float64            `json:"duration,omitempty" yaml:"duration,omitempty"`
	WorkDays            int                `json:"workDays,omitempty" yaml:"workDays,omitempty"`
	TimeWindow          *TimeWindow        `json:"timeWindow,omitempty" yaml:"timeWindow,omitempty"`
	SequenceTimeWindows []TimeWindow       `json:"sequenceTimeWindows,omitempty" yaml:"sequenceTimeWindows,omitempty"`
}

// Matrix holds square row-major cost tables indexed by point matrix index.
type Matrix struct {
	ID       string      `json:"id" yaml:"id"`
	Time     [][]float64 `json:"time,omitempty" yaml:"time,omitempty"`
	Distance [][]float64 `json:"distance,omitempty" yaml:"distance,omitempty"`
	Value    [][]float64 `json:"value,omitempty" yaml:"value,omitempty"`
}

type Problem struct {
	Points   []Point   `json:"points" yaml:"points"`
	Services []Service `json:"services" yaml:"services"`
	Vehicles []Vehicle `json:"vehicles" yaml:"vehicles"`
	Matrices []Matrix  `json:"matrices,omitempty" yaml:"matrices,omitempty"`
}

// Activity is one stop of a solved route. Depot stops have no ServiceID.
type Activity struct {
	ServiceID      string  `json:"serviceId,omitempty" yaml:"serviceId,omitempty"`
	PointID        string  `json:"pointId,omitempty" yaml:"pointId,omitempty"`
	TravelTime     float64 `json:"travelTime,omitempty" yaml:"travelTime,omitempty"`
	TravelDistance float64 `json:"travelDistance,omitempty" yaml:"travelDistance,omitempty"`
	TravelValue    float64 `json:"travelValue,omitempty" yaml:"travelValue,omitempty"`
}

type Route struct {
	VehicleID  string     `json:"vehicleId" yaml:"vehicleId"`
	Activities []Activity `json:"activities" yaml:"activities"`
}

type Solution struct {
	Routes     []Route    `json:"routes" yaml:"routes"`
	Unassigned []Activity `json:"unassigned,omitempty" yaml:"unassigned,omitempty"`
}
