package experiment

import (
	"context"
	"fmt"

	"github.com/openhkl-project/ohkl/internal/autoindex"
	"github.com/openhkl-project/ohkl/internal/cell"
	"github.com/openhkl-project/ohkl/internal/dataset"
	"github.com/openhkl-project/ohkl/internal/finder"
	"github.com/openhkl-project/ohkl/internal/geom"
	"github.com/openhkl-project/ohkl/internal/instrument"
	"github.com/openhkl-project/ohkl/internal/integrate"
	"github.com/openhkl-project/ohkl/internal/merge"
	"github.com/openhkl-project/ohkl/internal/peak"
	"github.com/openhkl-project/ohkl/internal/predict"
	"github.com/openhkl-project/ohkl/internal/refine"
	"github.com/openhkl-project/ohkl/internal/region"
	"github.com/openhkl-project/ohkl/internal/shapemodel"
	"github.com/openhkl-project/ohkl/internal/spacegroup"
)

// FindPeaks runs blob-finding over a registered data set and registers
// the resulting collection, returning its handle.
func (e *Experiment) FindPeaks(ctx context.Context, dataSetID int, params finder.Params) (int, error) {
	ds, ok := e.DataSet(dataSetID)
	if !ok {
		return 0, fmt.Errorf("experiment: no data set registered under id %d", dataSetID)
	}
	sink := e.progressSink()
	if sink.Cancelled() {
		return 0, fmt.Errorf("experiment: find peaks: cancelled before start")
	}
	sink.SetStatus("find", fmt.Sprintf("scanning data set %d", dataSetID))
	found, err := finder.Find(ctx, ds, dataSetID, params)
	if err != nil {
		return 0, fmt.Errorf("experiment: find peaks: %w", err)
	}
	sink.SetProgress("find", 1)
	return e.AddPeakCollection(found), nil
}

// Autoindex runs the direction search against a collection's indexable
// q-vectors (built from each valid peak's detector-space centre via the
// owning data set's instrument state), first narrowing the input to
// peaks within params' strength and d-spacing windows (and, if
// params.PeaksIntegrated is set, already-integrated peaks only), and
// returns the ranked solutions without registering a cell: the caller
// picks one (typically the best via autoindex.GoodSolution against a
// reference cell, or solutions[0]) and calls AddUnitCell explicitly.
func (e *Experiment) Autoindex(peakCollectionID, dataSetID int, sg spacegroup.SpaceGroup, params autoindex.Params) ([]autoindex.Solution, error) {
	peaks, ok := e.PeakCollection(peakCollectionID)
	if !ok {
		return nil, fmt.Errorf("experiment: no peak collection registered under id %d", peakCollectionID)
	}
	ds, ok := e.DataSet(dataSetID)
	if !ok {
		return nil, fmt.Errorf("experiment: no data set registered under id %d", dataSetID)
	}
	valid := peaks.Valid()
	qs, err := sampleQVectors(ds, valid)
	if err != nil {
		return nil, err
	}
	qs = autoindex.FilterPeaks(valid, qs, params)
	return autoindex.Solve(qs, sg, params)
}

// sampleQVectors maps each peak's detector-space centroid (px, py,
// fractional frame) to its sample-space scattering vector, interpolating
// the instrument's orientation between the bracketing integer frames.
func sampleQVectors(ds *dataset.DataSet, peaks []*peak.Peak3D) ([]geom.Vec3, error) {
	states := ds.States()
	n := len(states)
	if n < 1 {
		return nil, fmt.Errorf("experiment: data set has no instrument states")
	}
	qs := make([]geom.Vec3, 0, len(peaks))
	for _, p := range peaks {
		frac := p.Shape.Center.Z
		lo := int(frac)
		if lo < 0 {
			lo = 0
		}
		if lo >= n-1 {
			lo = n - 2
			if lo < 0 {
				lo = 0
			}
		}
		t := frac - float64(lo)
		var at instrument.State
		if n == 1 {
			at = states[0]
		} else {
			at = states[lo].InterpolateOrientation(states[lo+1], t)
		}
		qs = append(qs, at.SampleQ(p.Shape.Center.X, p.Shape.Center.Y))
	}
	return qs, nil
}

// Predict computes the full predicted-reflection list for a data set
// and registered cell, registering the resulting collection.
func (e *Experiment) Predict(ctx context.Context, dataSetID, cellID int, params predict.Params) (int, error) {
	ds, ok := e.DataSet(dataSetID)
	if !ok {
		return 0, fmt.Errorf("experiment: no data set registered under id %d", dataSetID)
	}
	uc, ok := e.UnitCell(cellID)
	if !ok {
		return 0, fmt.Errorf("experiment: no unit cell registered under id %d", cellID)
	}
	predicted, err := predict.Predict(ctx, ds, dataSetID, uc, params)
	if err != nil {
		return 0, fmt.Errorf("experiment: predict: %w", err)
	}
	for _, p := range predicted.Peaks() {
		p.UnitCellID = cellID
	}
	return e.AddPeakCollection(predicted), nil
}

// BuildShapeModel accumulates a reference shape model from a strong,
// found peak collection and registers it.
func (e *Experiment) BuildShapeModel(peakCollectionID, minNeighbors int) (int, error) {
	peaks, ok := e.PeakCollection(peakCollectionID)
	if !ok {
		return 0, fmt.Errorf("experiment: no peak collection registered under id %d", peakCollectionID)
	}
	model := shapemodel.BuildFromPeaks(peaks.Valid(), minNeighbors)
	return e.AddShapeModel(model), nil
}

// AssignShapes replaces every peak in a predicted collection's shape
// with the registered model's neighbour-interpolated covariance.
func (e *Experiment) AssignShapes(shapeModelID, peakCollectionID int, mode shapemodel.Interpolation, k int) error {
	model, ok := e.ShapeModel(shapeModelID)
	if !ok {
		return fmt.Errorf("experiment: no shape model registered under id %d", shapeModelID)
	}
	peaks, ok := e.PeakCollection(peakCollectionID)
	if !ok {
		return fmt.Errorf("experiment: no peak collection registered under id %d", peakCollectionID)
	}
	shapemodel.AssignShapes(model, peaks.Valid(), mode, k)
	return nil
}

// IntegrationJob pairs a peak with the three region boundary radii
// (expressed as scale factors of its fitted ellipsoid) needed to build
// its integration region.
type IntegrationJob struct {
	Peak                      *peak.Peak3D
	Shape                     region.Shape
	PeakEnd, BkgBegin, BkgEnd float64
}

// Integrate builds an IntegrationRegion for every job and runs
// integrator over a data set's events, writing results back onto each
// job's peak (profile selects whether ProfileIntensity/Sigma or
// SumIntensity/Sigma is treated as the peak's primary estimate
// downstream).
func (e *Experiment) Integrate(ctx context.Context, dataSetID int, jobs []IntegrationJob, integrator integrate.Integrator, workers int, profile bool) error {
	ds, ok := e.DataSet(dataSetID)
	if !ok {
		return fmt.Errorf("experiment: no data set registered under id %d", dataSetID)
	}
	sink := e.progressSink()
	if sink.Cancelled() {
		return fmt.Errorf("experiment: integrate: cancelled before start")
	}
	sink.SetStatus("integrate", fmt.Sprintf("building %d regions", len(jobs)))
	driverJobs := make([]integrate.Job, 0, len(jobs))
	for _, j := range jobs {
		r, err := region.New(j.Peak.Shape, j.Shape, j.PeakEnd, j.BkgBegin, j.BkgEnd)
		if err != nil {
			j.Peak.Reject(peak.InvalidRegion)
			continue
		}
		driverJobs = append(driverJobs, integrate.Job{Peak: j.Peak, Region: r})
	}
	sink.SetStatus("integrate", fmt.Sprintf("integrating %d regions with %s", len(driverJobs), integrator.Name()))
	err := integrate.Run(ctx, ds, driverJobs, integrator, workers, profile)
	sink.SetProgress("integrate", 1)
	return err
}

// Refine fits a registered cell and its owning data set's instrument
// states against a set of indexed peaks, replacing the registered cell
// in place with the cell of the last batch that holds peaks when
// refinement succeeds. With params.SetUnitCell, every batch peak is then
// bound to cellID.
func (e *Experiment) Refine(ctx context.Context, dataSetID, cellID int, peaks []*peak.Peak3D, params refine.Params) (refine.Result, error) {
	ds, ok := e.DataSet(dataSetID)
	if !ok {
		return refine.Result{}, fmt.Errorf("experiment: no data set registered under id %d", dataSetID)
	}
	uc, ok := e.UnitCell(cellID)
	if !ok {
		return refine.Result{}, fmt.Errorf("experiment: no unit cell registered under id %d", cellID)
	}
	sink := e.progressSink()
	if sink.Cancelled() {
		return refine.Result{}, fmt.Errorf("experiment: refine: cancelled before start")
	}
	sink.SetStatus("refine", fmt.Sprintf("fitting %d peaks", len(peaks)))
	result, err := refine.Refine(ctx, ds, peaks, uc, e.CellLookup(), params)
	if err != nil {
		return refine.Result{}, fmt.Errorf("experiment: refine: %w", err)
	}
	sink.SetProgress("refine", 1)
	if result.Success && len(result.Batches) > 0 {
		if err := e.ReplaceUnitCell(cellID, bestBatchCell(result.Batches)); err != nil {
			return result, err
		}
		if params.SetUnitCell {
			for _, b := range result.Batches {
				for _, p := range b.Peaks {
					p.UnitCellID = cellID
				}
			}
		}
		refine.UpdatePredictions(ds, peaks, result.Batches, params.EpsNorm)
	}
	return result, nil
}

func bestBatchCell(batches []*refine.Batch) *cell.UnitCell {
	best := batches[0].Cell
	for _, b := range batches[1:] {
		if len(b.Peaks) > 0 {
			best = b.Cell
		}
	}
	return best
}

// Merge groups peaks across one or more collections by their refined
// cell's symmetry-equivalence class and computes per-shell statistics.
func (e *Experiment) Merge(peakCollectionIDs []int, sg spacegroup.SpaceGroup, params merge.Params) (*merge.Collection, error) {
	collections := make([][]*peak.Peak3D, 0, len(peakCollectionIDs))
	for _, id := range peakCollectionIDs {
		c, ok := e.PeakCollection(id)
		if !ok {
			return nil, fmt.Errorf("experiment: no peak collection registered under id %d", id)
		}
		collections = append(collections, c.Valid())
	}
	mergedPeaks, err := merge.Merge(collections, e.CellLookup(), sg, params)
	if err != nil {
		return nil, fmt.Errorf("experiment: merge: %w", err)
	}
	return merge.SplitShells(mergedPeaks, sg, params), nil
}
