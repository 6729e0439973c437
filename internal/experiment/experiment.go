// Package experiment implements Experiment, the top-level object that
// owns every dataset, unit cell, peak collection and shape model
// belonging to one data-reduction session, and that drives them
// through the find -> autoindex -> predict -> shape-model -> integrate
// -> refine -> merge pipeline.
//
// Entities are handed out as small integer IDs rather than pointers (an
// arena-plus-index model): a peak's UnitCellID can be repointed to a
// newly refined cell in O(1) without walking every peak collection that
// references the old one, and collections can be swapped, replaced or
// dropped independently of whatever still names their old ID.
package experiment

import (
	"fmt"
	"sync"

	"github.com/openhkl-project/ohkl/internal/cell"
	"github.com/openhkl-project/ohkl/internal/dataset"
	"github.com/openhkl-project/ohkl/internal/peak"
	"github.com/openhkl-project/ohkl/internal/progress"
	"github.com/openhkl-project/ohkl/internal/shapemodel"
)

// Experiment owns a single diffractometer (resolved in favour of single
// ownership here rather than a per-handler constructor) plus the
// arenas of data sets, unit cells, peak collections and shape models
// built up while reducing it.
type Experiment struct {
	Name           string
	Diffractometer string

	mu     sync.Mutex
	nextID int

	dataSets  map[int]*dataset.DataSet
	cells     map[int]*cell.UnitCell
	peaks     map[int]*peak.Collection
	shapes    map[int]*shapemodel.Model
	dataNames map[string]int

	sink progress.Sink
}

// New builds an empty Experiment for the named diffractometer. Its
// progress sink defaults to progress.Noop; set one with
// SetProgressSink to observe or cancel long-running stages.
func New(name, diffractometer string) *Experiment {
	return &Experiment{
		Name:           name,
		Diffractometer: diffractometer,
		dataSets:       make(map[int]*dataset.DataSet),
		cells:          make(map[int]*cell.UnitCell),
		peaks:          make(map[int]*peak.Collection),
		shapes:         make(map[int]*shapemodel.Model),
		dataNames:      make(map[string]int),
		sink:           progress.Noop,
	}
}

// SetProgressSink installs the Sink that FindPeaks, Integrate and Refine
// report status through and poll for cooperative cancellation.
func (e *Experiment) SetProgressSink(s progress.Sink) {
	if s == nil {
		s = progress.Noop
	}
	e.mu.Lock()
	e.sink = s
	e.mu.Unlock()
}

func (e *Experiment) progressSink() progress.Sink {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sink
}

func (e *Experiment) allocID() int {
	e.nextID++
	return e.nextID
}

// MaxHandle returns the highest handle issued so far (0 if none), letting
// a caller (e.g. the archive writer) enumerate every registered id across
// every arena without knowing which arena each one belongs to.
func (e *Experiment) MaxHandle() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nextID
}

func (e *Experiment) reserve(handle int) error {
	if handle <= 0 {
		return fmt.Errorf("experiment: handle must be positive, got %d", handle)
	}
	if handle > e.nextID {
		e.nextID = handle
	}
	return nil
}

// RestoreDataSet registers ds under an explicit handle rather than
// allocating a fresh one, so an archive reader can reproduce the exact
// handle numbering an experiment had when it was saved.
func (e *Experiment) RestoreDataSet(handle int, name string, ds *dataset.DataSet) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.reserve(handle); err != nil {
		return err
	}
	e.dataSets[handle] = ds
	e.dataNames[name] = handle
	return nil
}

// RestoreUnitCell registers uc under an explicit handle; see
// RestoreDataSet.
func (e *Experiment) RestoreUnitCell(handle int, uc *cell.UnitCell) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.reserve(handle); err != nil {
		return err
	}
	e.cells[handle] = uc
	return nil
}

// RestorePeakCollection registers c under an explicit handle; see
// RestoreDataSet.
func (e *Experiment) RestorePeakCollection(handle int, c *peak.Collection) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.reserve(handle); err != nil {
		return err
	}
	e.peaks[handle] = c
	return nil
}

// AddDataSet registers ds under name and returns its handle.
func (e *Experiment) AddDataSet(name string, ds *dataset.DataSet) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.allocID()
	e.dataSets[id] = ds
	e.dataNames[name] = id
	return id
}

// DataSet resolves a data-set handle.
func (e *Experiment) DataSet(id int) (*dataset.DataSet, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ds, ok := e.dataSets[id]
	return ds, ok
}

// DataSetByName resolves a data set registered under name.
func (e *Experiment) DataSetByName(name string) (int, *dataset.DataSet, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.dataNames[name]
	if !ok {
		return 0, nil, false
	}
	return id, e.dataSets[id], true
}

// AddUnitCell registers uc and returns its handle. A peak's UnitCellID
// names a handle returned here, never the cell pointer itself, so the
// cell behind a handle can later be replaced wholesale (e.g. by a
// refined cell) without touching the peaks that reference it.
func (e *Experiment) AddUnitCell(uc *cell.UnitCell) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.allocID()
	e.cells[id] = uc
	return id
}

// ReplaceUnitCell overwrites the cell behind an existing handle in
// place, e.g. after refinement, so every peak already pointing at id
// observes the new cell without a rewrite.
func (e *Experiment) ReplaceUnitCell(id int, uc *cell.UnitCell) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.cells[id]; !ok {
		return fmt.Errorf("experiment: no unit cell registered under id %d", id)
	}
	e.cells[id] = uc
	return nil
}

// UnitCell resolves a unit-cell handle.
func (e *Experiment) UnitCell(id int) (*cell.UnitCell, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	uc, ok := e.cells[id]
	return uc, ok
}

// CellLookup adapts the experiment's unit-cell arena to the
// refine.CellLookup / merge.CellLookup function signature.
func (e *Experiment) CellLookup() func(id int) *cell.UnitCell {
	return func(id int) *cell.UnitCell {
		uc, _ := e.UnitCell(id)
		return uc
	}
}

// AddPeakCollection registers a peak collection and returns its handle.
func (e *Experiment) AddPeakCollection(c *peak.Collection) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.allocID()
	e.peaks[id] = c
	return id
}

// PeakCollection resolves a peak-collection handle.
func (e *Experiment) PeakCollection(id int) (*peak.Collection, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.peaks[id]
	return c, ok
}

// AddShapeModel registers a shape model and returns its handle.
func (e *Experiment) AddShapeModel(m *shapemodel.Model) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.allocID()
	e.shapes[id] = m
	return id
}

// ShapeModel resolves a shape-model handle.
func (e *Experiment) ShapeModel(id int) (*shapemodel.Model, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.shapes[id]
	return m, ok
}

// SwapCell repoints p at a different registered unit cell in O(1),
// without walking any collection p happens to belong to.
func (e *Experiment) SwapCell(p *peak.Peak3D, newCellID int) error {
	if _, ok := e.UnitCell(newCellID); !ok {
		return fmt.Errorf("experiment: no unit cell registered under id %d", newCellID)
	}
	p.UnitCellID = newCellID
	return nil
}
