package model

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

var ErrInvalidProblem = errors.New("model: invalid problem")

// Decode reads a YAML or JSON problem and validates its references.
func Decode(r io.Reader) (*Problem, error) {
	var p Problem
	if err := yaml.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode problem: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeSolution reads a YAML or JSON solution.
func DecodeSolution(r io.Reader) (*Solution, error) {
	var sol Solution
	if err := yaml.NewDecoder(r).Decode(&sol); err != nil {
		return nil, fmt.Errorf("decode solution: %w", err)
	}
	return &sol, nil
}

// Validate checks ids are unique and every reference resolves.
func (p *Problem) Validate() error {
	points := map[string]bool{}
	for _, pt := range p.Points {
		if pt.ID == "" || points[pt.ID] {
			return fmt.Errorf("%w: point id %q missing or duplicated", ErrInvalidProblem, pt.ID)
		}
		points[pt.ID] = true
	}
	services := map[string]bool{}
	for _, s := range p.Services {
		if s.ID == "" || services[s.ID] {
			return fmt.Errorf("%w: service id %q missing or duplicated", ErrInvalidProblem, s.ID)
		}
		services[s.ID] = true
		if !points[s.PointID] {
			return fmt.Errorf("%w: service %q references unknown point %q", ErrInvalidProblem, s.ID, s.PointID)
		}
	}
	matrices := map[string]bool{}
	for _, m := range p.Matrices {
		matrices[m.ID] = true
	}
	for _, v := range p.Vehicles {
		for _, ref := range []string{v.StartPointID, v.EndPointID} {
			if ref != "" && !points[ref] {
				return fmt.Errorf("%w: vehicle %q references unknown point %q", ErrInvalidProblem, v.ID, ref)
			}
		}
		if v.MatrixID != "" && !matrices[v.MatrixID] {
			return fmt.Errorf("%w: vehicle %q references unknown matrix %q", ErrInvalidProblem, v.ID, v.MatrixID)
		}
	}
	return nil
}

// Point returns the point with the given id.
func (p *Problem) Point(id string) *Point {
	for i := range p.Points {
		if p.Points[i].ID == id {
			return &p.Points[i]
		}
	}
	return nil
}

// Service returns the service with the given id.
func (p *Problem) Service(id string) *Service {
	for i := range p.Services {
		if p.Services[i].ID == id {
			return &p.Services[i]
		}
	}
	return nil
}

// Vehicle returns the vehicle with the given id.
func (p *Problem) Vehicle(id string) *Vehicle {
	for i := range p.Vehicles {
		if p.Vehicles[i].ID == id {
			return &p.Vehicles[i]
		}
	}
	return nil
}

// Matrix returns the matrix with the given id, or the first one when id is
// empty.
func (p *Problem) Matrix(id string) *Matrix {
	for i := range p.Matrices {
		if id == "" || p.Matrices[i].ID == id {
			return &p.Matrices[i]
		}
	}
	return nil
}

// HasMatrices reports whether travel tables were provided.
func (p *Problem) HasMatrices() bool { return len(p.Matrices) > 0 }

// At reads table[from][to], zero when either index is missing or out of
// range.
func At(table [][]float64, from, to int) float64 {
	if from < 0 || to < 0 || from >= len(table) || to >= len(table[from]) {
		return 0
	}
	return table[from][to]
}

// PointOf returns the point a service is performed at.
func (p *Problem) PointOf(s *Service) *Point { return p.Point(s.PointID) }

// Table returns the time, distance or value table by name.
func (m *Matrix) Table(dimension string) [][]float64 {
	switch dimension {
	case "distance":
		return m.Distance
	case "value":
		return m.Value
	}
	return m.Time
}
