package dataset

import (
	"context"
	"fmt"
	"sync"

	"github.com/openhkl-project/ohkl/internal/instrument"
)

// DataSet is an ordered stack of 2-D frames plus per-frame instrument
// state, dataset metadata and masks (Component C). The frame buffer is
// guarded by a single mutex: a caller acquires it for the duration of one
// integration pass and every frame read within that pass is serialised,
// mirroring a connection manager's discipline of guarding its
// single net.Conn/bufio.Reader pair with one lock per session.
type DataSet struct {
	Name     string
	Metadata Metadata

	mu     sync.Mutex
	source Source
	states []instrument.State
	masks  []Mask
}

// New builds a DataSet from a frame Source and one instrument State per
// frame. len(states) must equal source.NumFrames().
func New(name string, meta Metadata, source Source, states []instrument.State) (*DataSet, error) {
	if source == nil {
		return nil, fmt.Errorf("dataset: source must not be nil")
	}
	if len(states) != source.NumFrames() {
		return nil, fmt.Errorf("dataset: states.len()=%d != frames.len()=%d", len(states), source.NumFrames())
	}
	return &DataSet{Name: name, Metadata: meta, source: source, states: states}, nil
}

// NumFrames returns the number of frames (and instrument states) owned by
// this dataset.
func (d *DataSet) NumFrames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.source.NumFrames()
}

// Dims returns the per-frame pixel dimensions.
func (d *DataSet) Dims() (nrows, ncols int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.source.Dims()
}

// State returns the instrument state for frame index.
func (d *DataSet) State(index int) (instrument.State, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || index >= len(d.states) {
		return instrument.State{}, errIndexRange(index, len(d.states))
	}
	return d.states[index], nil
}

// SetState overwrites the instrument state for frame index. Only the
// refiner mutates states, and only while holding exclusive access.
func (d *DataSet) SetState(index int, s instrument.State) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || index >= len(d.states) {
		return errIndexRange(index, len(d.states))
	}
	d.states[index] = s
	return nil
}

// States returns a copy of all per-frame instrument states.
func (d *DataSet) States() []instrument.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]instrument.State, len(d.states))
	copy(out, d.states)
	return out
}

// Masks returns the dataset's 2-D pixel masks.
func (d *DataSet) Masks() []Mask {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Mask, len(d.masks))
	copy(out, d.masks)
	return out
}

// AddMask appends a 2-D mask to the dataset.
func (d *DataSet) AddMask(m Mask) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.masks = append(d.masks, m)
}

// IsMasked reports whether (row,col) is excluded by any registered mask.
func (d *DataSet) IsMasked(row, col int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, m := range d.masks {
		if m.At(row, col) {
			return true
		}
	}
	return false
}

// Pass represents exclusive ownership of the dataset's frame buffer for
// the duration of one integration or finder pass. Frame reads within a
// Pass are serialised by the dataset's mutex; Release must be called when
// the pass completes.
type Pass struct {
	ds *DataSet
}

// Acquire locks the dataset's frame buffer for a pass. The returned Pass
// must be released exactly once. Acquire blocks (respecting ctx) until any
// concurrent pass completes, since only one integration pass may read
// frames from a dataset at a time.
func (d *DataSet) Acquire(ctx context.Context) (*Pass, error) {
	done := make(chan struct{})
	go func() {
		d.mu.Lock()
		close(done)
	}()
	select {
	case <-done:
		return &Pass{ds: d}, nil
	case <-ctx.Done():
		go func() { <-done; d.mu.Unlock() }()
		return nil, ctx.Err()
	}
}

// Release returns the frame buffer lock.
func (p *Pass) Release() {
	p.ds.mu.Unlock()
}

// ReadFrame reads a single frame, serialised under the pass's lock.
func (p *Pass) ReadFrame(ctx context.Context, index int) (Frame, error) {
	return p.ds.source.ReadFrame(ctx, index)
}

// Validate checks that the DataSet's frame count and state count agree.
func (d *DataSet) Validate() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.source.NumFrames() != len(d.states) {
		return fmt.Errorf("dataset: states.len()=%d != frames.len()=%d", len(d.states), d.source.NumFrames())
	}
	return nil
}

// Close releases the underlying frame source.
func (d *DataSet) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.source.Close()
}
