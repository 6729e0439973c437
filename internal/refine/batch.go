package refine

import (
	"fmt"
	"sort"

	"github.com/openhkl-project/ohkl/internal/cell"
	"github.com/openhkl-project/ohkl/internal/peak"
)

// Batch is one contiguous frame range's worth of peaks, together with
// the cell copy it refines against and the instrument states it owns
// for the duration of a refine call.
type Batch struct {
	Cell  *cell.UnitCell
	Peaks []*peak.Peak3D

	FMin, FMax int // peaks cover frames in [FMin, FMax]; the batch owns states over [FMin, FMax+2)

	unrefinedCell *cell.UnitCell
}

// FrameRange returns the half-open state interval this batch owns:
// [FMin, FMax+2), the 2-frame overlap required so adjacent
// batches share a short transition region.
func (b *Batch) FrameRange() (lo, hi int) { return b.FMin, b.FMax + 2 }

// OnlyContains reports whether frame lies in this batch's own peak span
// [FMin, FMax], excluding the 2-frame overlap tail — the semantics
// UpdatePredictions uses to find a predicted peak's unique owning batch,
// since the overlap tail is shared between adjacent batches.
func (b *Batch) OnlyContains(frame int) bool { return frame >= b.FMin && frame <= b.FMax }

// Overlaps reports whether frame lies anywhere in the batch's owned
// state range, including the overlap tail — used by ReconstructBatches
// during rollback, which must restore every state a batch could have
// touched.
func (b *Batch) Overlaps(frame int) bool {
	lo, hi := b.FrameRange()
	return frame >= lo && frame < hi
}

// CellLookup resolves a peak's bound UnitCellID to the cell it
// currently references; refine's caller (normally the experiment
// orchestrator's UnitCellHandler) supplies this since peaks only carry
// a weak integer reference.
type CellLookup func(id int) *cell.UnitCell

// FormBatches filters peaks to those enabled, indexed (a valid cached
// Miller index) and — if useBatchCells is false and lookup is non-nil —
// bound to fallback's identity, sorts them by frame centre, and partitions them into
// nBatches contiguous, equal-sized groups. Each batch starts from a
// fresh copy of fallback, or (useBatchCells) of the most common cell
// among its own peaks.
func FormBatches(peaks []*peak.Peak3D, fallback *cell.UnitCell, lookup CellLookup, nBatches int, useBatchCells bool) ([]*Batch, error) {
	var filtered []*peak.Peak3D
	for _, p := range peaks {
		if !p.Valid() || !p.Miller.Valid {
			continue
		}
		if !useBatchCells && lookup != nil && lookup(p.UnitCellID) != fallback {
			continue
		}
		filtered = append(filtered, p)
	}
	if len(filtered) == 0 {
		return nil, fmt.Errorf("refine: no enabled, indexed peaks to batch")
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].Shape.Center.Z < filtered[j].Shape.Center.Z
	})

	n := nBatches
	if n > len(filtered) {
		n = len(filtered)
	}
	perBatch := len(filtered) / n
	remainder := len(filtered) % n

	batches := make([]*Batch, 0, n)
	start := 0
	for i := 0; i < n; i++ {
		size := perBatch
		if i < remainder {
			size++
		}
		group := filtered[start : start+size]
		start += size
		if len(group) == 0 {
			continue
		}

		var bcell *cell.UnitCell
		if useBatchCells {
			bcell = mostCommonCell(group, lookup, fallback)
		} else {
			bcell = fallback
		}
		b := &Batch{
			Cell:          bcell.Clone(),
			Peaks:         group,
			FMin:          int(group[0].Shape.Center.Z),
			FMax:          int(group[len(group)-1].Shape.Center.Z),
			unrefinedCell: bcell.Clone(),
		}
		batches = append(batches, b)
	}
	if len(batches) == 0 {
		return nil, fmt.Errorf("refine: batching produced no non-empty groups")
	}
	return batches, nil
}

func mostCommonCell(group []*peak.Peak3D, lookup CellLookup, fallback *cell.UnitCell) *cell.UnitCell {
	if lookup == nil {
		return fallback
	}
	counts := make(map[int]int)
	for _, p := range group {
		counts[p.UnitCellID]++
	}
	bestID, bestCount := 0, -1
	for id, c := range counts {
		if c > bestCount {
			bestID, bestCount = id, c
		}
	}
	if uc := lookup(bestID); uc != nil {
		return uc
	}
	return fallback
}
