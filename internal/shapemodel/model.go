// Package shapemodel estimates a peak's 3-D covariance and radial
// intensity profile from its neighbours, for peaks too weak to fit a
// shape of their own.
package shapemodel

import (
	"fmt"
	"math"
	"sort"

	"github.com/openhkl-project/ohkl/internal/geom"
	"gonum.org/v1/gonum/mat"
)

// Interpolation selects how neighbour covariances are combined.
type Interpolation int

const (
	// None averages neighbours with equal weight.
	None Interpolation = iota
	// InverseDistance weights each neighbour by 1/distance.
	InverseDistance
	// IntensityWeighted weights each neighbour by its reference intensity.
	IntensityWeighted
)

// Reference is one observed peak contributing to the model: its
// detector-space position (px, py, frame), covariance and integrated
// intensity.
type Reference struct {
	Position   geom.Vec3
	Covariance *mat.SymDense
	Intensity  float64
}

// Model accumulates Reference shapes and answers neighbour queries.
type Model struct {
	refs         []Reference
	minNeighbors int
}

// New builds an empty model requiring at least minNeighbors references
// to answer a query.
func New(minNeighbors int) *Model {
	if minNeighbors < 1 {
		minNeighbors = 1
	}
	return &Model{minNeighbors: minNeighbors}
}

// Add registers a reference shape.
func (m *Model) Add(r Reference) {
	m.refs = append(m.refs, r)
}

// Len returns the number of reference shapes registered.
func (m *Model) Len() int { return len(m.refs) }

type neighbour struct {
	ref      Reference
	distance float64
}

// nearest returns the k closest references to pos, sorted by ascending
// distance.
func (m *Model) nearest(pos geom.Vec3, k int) []neighbour {
	out := make([]neighbour, len(m.refs))
	for i, r := range m.refs {
		out[i] = neighbour{ref: r, distance: r.Position.Sub(pos).Norm()}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].distance < out[j].distance })
	if k < len(out) {
		out = out[:k]
	}
	return out
}

// MeanCovariance interpolates a covariance for pos from its k nearest
// reference shapes. It returns ErrTooFewNeighbours if fewer than
// minNeighbors references exist at all.
func (m *Model) MeanCovariance(pos geom.Vec3, mode Interpolation, k int) (*mat.SymDense, error) {
	if len(m.refs) < m.minNeighbors {
		return nil, ErrTooFewNeighbours
	}
	neighbours := m.nearest(pos, k)
	if len(neighbours) < m.minNeighbors {
		return nil, ErrTooFewNeighbours
	}

	weights := make([]float64, len(neighbours))
	var totalWeight float64
	for i, n := range neighbours {
		switch mode {
		case InverseDistance:
			d := n.distance
			if d < 1e-9 {
				d = 1e-9
			}
			weights[i] = 1 / d
		case IntensityWeighted:
			weights[i] = math.Max(n.ref.Intensity, 0)
		default:
			weights[i] = 1
		}
		totalWeight += weights[i]
	}
	if totalWeight <= 0 {
		return nil, fmt.Errorf("shapemodel: neighbour weights sum to zero")
	}

	dim := neighbours[0].ref.Covariance.SymmetricDim()
	mean := mat.NewSymDense(dim, nil)
	for i, n := range neighbours {
		w := weights[i] / totalWeight
		for r := 0; r < dim; r++ {
			for c := r; c < dim; c++ {
				mean.SetSym(r, c, mean.At(r, c)+w*n.ref.Covariance.At(r, c))
			}
		}
	}
	return mean, nil
}

// ErrTooFewNeighbours is returned when a query cannot be satisfied
// because fewer than minNeighbors reference shapes are available.
var ErrTooFewNeighbours = fmt.Errorf("shapemodel: too few neighbours")
