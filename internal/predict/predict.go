package predict

import (
	"context"
	"fmt"
	"math"

	"github.com/openhkl-project/ohkl/internal/cell"
	"github.com/openhkl-project/ohkl/internal/dataset"
	"github.com/openhkl-project/ohkl/internal/geom"
	"github.com/openhkl-project/ohkl/internal/peak"
	"gonum.org/v1/gonum/mat"
)

// Predict enumerates every reciprocal-lattice point within
// [params.DMin, params.DMax], locates the fractional frame at which each
// one crosses the Ewald sphere, projects the crossing onto the detector
// and returns one predicted peak per reflection that lands within the
// dataset's frame and detector bounds. Predicted peaks carry a nominal
// unit-sphere shape; the shape model later replaces it with a
// neighbour-interpolated covariance.
func Predict(ctx context.Context, ds *dataset.DataSet, dataSetID int, uc *cell.UnitCell, params Params) (*peak.Collection, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	nframes := ds.NumFrames()
	if nframes < 2 {
		return nil, fmt.Errorf("predict: dataset needs at least 2 frames, got %d", nframes)
	}
	states := ds.States()
	nrows, ncols := ds.Dims()

	ub := uc.UB()
	hkls := EnumerateHKL(uc, params.DMin, params.DMax)

	coll := peak.NewCollection("predicted", peak.Predicted)
	for i, m := range hkls {
		if i%256 == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}

		qXtal := mulUB(ub, m.H, m.K, m.L)
		qSample := qXtal.Scale(2 * math.Pi) // UB is built in the crystallographic (1/d) convention; Ki/Kf use the 2*pi physics convention

		frac, at, ok := solveFrame(states, qSample, params)
		if !ok {
			continue
		}
		kf := at.Ki().Add(at.LabQ(qSample))
		px, py, ok := at.PixelOf(kf)
		if !ok {
			continue
		}
		if px < 0 || px >= float64(ncols) || py < 0 || py >= float64(nrows) {
			continue
		}
		if frac < 0 || frac >= float64(nframes) {
			continue
		}

		shape, err := geom.NewEllipsoid(geom.Vec3{X: px, Y: py, Z: frac}, nominalMetric())
		if err != nil {
			continue
		}
		p := peak.NewPeak(0, dataSetID, shape)
		p.UnitCellID = 0
		p.SetMiller(m.H, m.K, m.L, 0)
		coll.Add(p)
	}
	return coll, nil
}

// nominalMetric is the placeholder unit-variance shape a predicted peak
// is given before the shape model assigns it a neighbour-interpolated
// covariance.
func nominalMetric() *mat.SymDense {
	return mat.NewSymDense(3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}
