package refine

import (
	"context"
	"fmt"

	"github.com/openhkl-project/ohkl/internal/cell"
	"github.com/openhkl-project/ohkl/internal/dataset"
	"github.com/openhkl-project/ohkl/internal/instrument"
	"github.com/openhkl-project/ohkl/internal/peak"
)

// Result is what Refine reports back: whether every batch converged,
// and the batches themselves (useful for diagnostics and for the
// experiment orchestrator to persist refined cells).
type Result struct {
	Success bool
	Batches []*Batch
}

// Refine fits params' toggled free parameters against ds's instrument
// states and uc, batching peaks (filtered to enabled+indexed) into
// params.NBatches contiguous frame groups per FormBatches. Every batch
// is refined independently with Levenberg-Marquardt; Refine returns
// true only if every batch converged with a strictly reduced
// chi-square. On any batch failure, every touched instrument state and
// every batch cell is rolled back to its pre-refine value via
// ReconstructBatches, and Refine returns false.
func Refine(ctx context.Context, ds *dataset.DataSet, peaks []*peak.Peak3D, uc *cell.UnitCell, lookup CellLookup, params Params) (Result, error) {
	if err := params.Validate(); err != nil {
		return Result{}, err
	}

	batches, err := FormBatches(peaks, uc, lookup, params.NBatches, params.UseBatchCells)
	if err != nil {
		return Result{}, fmt.Errorf("refine: %w", err)
	}

	layout := newLayout(params)

	// Snapshot every state any batch could touch (including the
	// 2-frame overlap), so a rollback has something to restore.
	snapshot := make(map[int]instrument.State)
	for _, b := range batches {
		lo, hi := b.FrameRange()
		for f := lo; f < hi; f++ {
			if _, ok := snapshot[f]; ok {
				continue
			}
			s, err := ds.State(f)
			if err != nil {
				continue
			}
			snapshot[f] = s
		}
	}

	allOK := true
	for _, b := range batches {
		select {
		case <-ctx.Done():
			ReconstructBatches(ds, batches, snapshot)
			return Result{Success: false, Batches: batches}, ctx.Err()
		default:
		}

		baseStates := make(map[int]instrument.State)
		lo, hi := b.FrameRange()
		for f := lo; f < hi; f++ {
			if s, ok := snapshot[f]; ok {
				baseStates[f] = s
			}
		}

		lm := levenbergMarquardt(layout, b, baseStates, params.ResidualType, params.MaxIter)
		if !lm.improved {
			allOK = false
			continue
		}

		pert := applyParams(lm.x, layout, b.Cell, baseStates)
		b.Cell = pert.cell
		for f, s := range pert.states {
			if err := ds.SetState(f, s); err != nil {
				allOK = false
			}
		}
		if params.SetUnitCell {
			for _, p := range b.Peaks {
				p.UnitCellID = 0 // experiment.Experiment.Refine re-binds this to the refined cell's handle on success
			}
		}
	}

	if !allOK {
		ReconstructBatches(ds, batches, snapshot)
		for _, b := range batches {
			b.Cell = b.unrefinedCell
		}
		return Result{Success: false, Batches: batches}, nil
	}

	return Result{Success: true, Batches: batches}, nil
}

// ReconstructBatches restores every instrument state any batch's
// frame range (including its 2-frame overlap) could have touched back
// to the value captured in snapshot. It is used for rollback after a
// failed refine call, and deliberately uses the overlap-inclusive
// Overlaps semantics rather than OnlyContains: a rollback must undo
// everything a batch could have written, not just its own exclusive
// span.
func ReconstructBatches(ds *dataset.DataSet, batches []*Batch, snapshot map[int]instrument.State) {
	for _, b := range batches {
		lo, hi := b.FrameRange()
		for f := lo; f < hi; f++ {
			if !b.Overlaps(f) {
				continue
			}
			if s, ok := snapshot[f]; ok {
				_ = ds.SetState(f, s)
			}
		}
	}
}
