// Package archive implements the .ohkl experiment container: a SQLite
// file, standing in for an HDF5 container, with one table per named
// group (/Experiment, /Data/<name>, /Peaks/<collection>,
// /UnitCells/<name>, /InstrumentStates/<dataset>). Complex nested values
// (instrument states, peak shapes, unit cells) are stored as JSON text
// columns, following the same blob-column convention as the rest of
// this codebase's persisted configuration; frame pixel data is stored
// as a raw binary column instead, since JSON-encoding megapixel counts
// would bloat the file for no benefit.
package archive

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"

	_ "modernc.org/sqlite"

	"github.com/openhkl-project/ohkl/internal/cell"
	"github.com/openhkl-project/ohkl/internal/dataset"
	"github.com/openhkl-project/ohkl/internal/experiment"
	"github.com/openhkl-project/ohkl/internal/geom"
	"github.com/openhkl-project/ohkl/internal/instrument"
	"github.com/openhkl-project/ohkl/internal/peak"
	"github.com/openhkl-project/ohkl/internal/spacegroup"
)

const schemaSQL = `
CREATE TABLE experiment (
	name TEXT NOT NULL,
	diffractometer TEXT NOT NULL
);
CREATE TABLE datasets (
	handle INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	nrows INTEGER NOT NULL,
	ncols INTEGER NOT NULL,
	nframes INTEGER NOT NULL,
	metadata_json TEXT NOT NULL
);
CREATE TABLE frames (
	dataset_handle INTEGER NOT NULL,
	frame_index INTEGER NOT NULL,
	pixels BLOB NOT NULL
);
CREATE TABLE instrument_states (
	dataset_handle INTEGER NOT NULL,
	frame_index INTEGER NOT NULL,
	state_json TEXT NOT NULL
);
CREATE TABLE unit_cells (
	handle INTEGER PRIMARY KEY,
	cell_json TEXT NOT NULL
);
CREATE TABLE peak_collections (
	handle INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	type INTEGER NOT NULL,
	peaks_json TEXT NOT NULL
);
`

// stateDTO and cellDTO mirror instrument.State/cell.UnitCell field for
// field: both types cache unexported derived matrices, so on load a
// cell is rebuilt from its six scalar characters (cellDTO) and a state
// from its exported fields, DetectorOrientation included (stateDTO),
// rather than round-tripped verbatim.
type stateDTO struct {
	Detector            instrument.DetectorGeometry
	SampleOrientation   geom.Quaternion
	SampleOffset        geom.Quaternion
	SamplePosition      geom.Vec3
	DetectorOrientation [9]float64
	DetectorPosition    geom.Vec3
	KiDirection         geom.Vec3
	Wavelength          float64
}

func toStateDTO(s instrument.State) stateDTO {
	dto := stateDTO{
		Detector:          s.Detector,
		SampleOrientation: s.SampleOrientation,
		SampleOffset:      s.SampleOffset,
		SamplePosition:    s.SamplePosition,
		DetectorPosition:  s.DetectorPosition,
		KiDirection:       s.KiDirection,
		Wavelength:        s.Wavelength,
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			dto.DetectorOrientation[i*3+j] = s.DetectorOrientation.At(i, j)
		}
	}
	return dto
}

func (dto stateDTO) toState() instrument.State {
	s := instrument.NewState(dto.Detector, dto.Wavelength)
	s.SampleOrientation = dto.SampleOrientation
	s.SampleOffset = dto.SampleOffset
	s.SamplePosition = dto.SamplePosition
	s.DetectorPosition = dto.DetectorPosition
	s.KiDirection = dto.KiDirection
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			s.DetectorOrientation.Set(i, j, dto.DetectorOrientation[i*3+j])
		}
	}
	return s
}

type cellDTO struct {
	A, B, C          float64
	Alpha, Beta, Gamma float64
	SpaceGroupSymbol string
	U                [9]float64
}

func toCellDTO(uc *cell.UnitCell) cellDTO {
	dto := cellDTO{
		A: uc.A, B: uc.Bl, C: uc.C,
		Alpha: uc.Alpha, Beta: uc.Beta, Gamma: uc.Gamma,
		SpaceGroupSymbol: uc.SpaceGroup.Symbol,
	}
	u := uc.U
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			dto.U[i*3+j] = u.At(i, j)
		}
	}
	return dto
}

// peakDTO mirrors peak.Peak3D, except its Shape is flattened: gonum's
// mat.SymDense keeps its backing array unexported, so json.Marshal would
// silently drop it (producing an empty object) if Peak3D were encoded
// directly.
type peakDTO struct {
	ID, DataSetID, UnitCellID int

	ShapeCenter [3]float64
	ShapeMetric [6]float64 // upper triangle: m00,m01,m02,m11,m12,m22

	SumIntensity, SumSigma         float64
	ProfileIntensity, ProfileSigma float64
	Background, BackgroundSigma    float64
	HasBackgroundGradient          bool

	RockingCurve []float64

	Miller peak.MillerIndex

	Rejection peak.RejectionFlag
	Selected  bool
	Enabled   bool
}

func toPeakDTO(p *peak.Peak3D) peakDTO {
	dto := peakDTO{
		ID: p.ID, DataSetID: p.DataSetID, UnitCellID: p.UnitCellID,
		ShapeCenter:            p.Shape.Center.Array(),
		SumIntensity:           p.SumIntensity,
		SumSigma:               p.SumSigma,
		ProfileIntensity:       p.ProfileIntensity,
		ProfileSigma:           p.ProfileSigma,
		Background:             p.Background,
		BackgroundSigma:        p.BackgroundSigma,
		HasBackgroundGradient:  p.HasBackgroundGradient,
		RockingCurve:           p.RockingCurve,
		Miller:                 p.Miller,
		Rejection:              p.Rejection,
		Selected:               p.Selected,
		Enabled:                p.Enabled,
	}
	if m := p.Shape.Metric; m != nil {
		dto.ShapeMetric = [6]float64{m.At(0, 0), m.At(0, 1), m.At(0, 2), m.At(1, 1), m.At(1, 2), m.At(2, 2)}
	}
	return dto
}

func (dto peakDTO) toPeak() (*peak.Peak3D, error) {
	center := geom.Vec3{X: dto.ShapeCenter[0], Y: dto.ShapeCenter[1], Z: dto.ShapeCenter[2]}
	m := dto.ShapeMetric
	metric := mat.NewSymDense(3, []float64{m[0], m[1], m[2], m[1], m[3], m[4], m[2], m[4], m[5]})
	shape, err := geom.NewEllipsoid(center, metric)
	if err != nil {
		return nil, fmt.Errorf("archive: rebuild peak %d shape: %w", dto.ID, err)
	}
	p := peak.NewPeak(dto.ID, dto.DataSetID, shape)
	p.UnitCellID = dto.UnitCellID
	p.SumIntensity, p.SumSigma = dto.SumIntensity, dto.SumSigma
	p.ProfileIntensity, p.ProfileSigma = dto.ProfileIntensity, dto.ProfileSigma
	p.Background, p.BackgroundSigma = dto.Background, dto.BackgroundSigma
	p.HasBackgroundGradient = dto.HasBackgroundGradient
	p.RockingCurve = dto.RockingCurve
	p.Miller = dto.Miller
	p.Rejection = dto.Rejection
	p.Selected = dto.Selected
	p.Enabled = dto.Enabled
	return p, nil
}

func (dto cellDTO) toCell() (*cell.UnitCell, error) {
	sg, err := spacegroup.Lookup(dto.SpaceGroupSymbol)
	if err != nil {
		return nil, fmt.Errorf("archive: unit cell references unknown space group %q: %w", dto.SpaceGroupSymbol, err)
	}
	uc, err := cell.New(dto.A, dto.B, dto.C, dto.Alpha, dto.Beta, dto.Gamma, sg)
	if err != nil {
		return nil, err
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			uc.U.Set(i, j, dto.U[i*3+j])
		}
	}
	return uc, nil
}

// Save writes e's full state to path, always building the file at
// path+".tmp" first and renaming it into place so a crash mid-write
// never leaves a half-written archive at the destination.
func Save(path string, e *experiment.Experiment) error {
	tmp := path + ".tmp"
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("archive: clear stale temp file: %w", err)
	}
	db, err := sql.Open("sqlite", tmp)
	if err != nil {
		return fmt.Errorf("archive: open %s: %w", tmp, err)
	}
	defer db.Close()

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("archive: create schema: %w", err)
	}
	if _, err := db.Exec(`INSERT INTO experiment(name, diffractometer) VALUES (?, ?)`, e.Name, e.Diffractometer); err != nil {
		return fmt.Errorf("archive: write experiment row: %w", err)
	}
	if err := saveDataSets(db, e); err != nil {
		return err
	}
	if err := saveUnitCells(db, e); err != nil {
		return err
	}
	if err := savePeakCollections(db, e); err != nil {
		return err
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("archive: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("archive: rename %s to %s: %w", tmp, path, err)
	}
	return nil
}

func saveDataSets(db *sql.DB, e *experiment.Experiment) error {
	for id := 1; id <= e.MaxHandle(); id++ {
		ds, ok := e.DataSet(id)
		if !ok {
			continue
		}
		nrows, ncols := ds.Dims()
		metaJSON, err := json.Marshal(ds.Metadata)
		if err != nil {
			return fmt.Errorf("archive: marshal dataset %d metadata: %w", id, err)
		}
		if _, err := db.Exec(`INSERT INTO datasets(handle, name, nrows, ncols, nframes, metadata_json) VALUES (?,?,?,?,?,?)`,
			id, ds.Name, nrows, ncols, ds.NumFrames(), string(metaJSON)); err != nil {
			return fmt.Errorf("archive: write dataset %d row: %w", id, err)
		}
		if err := saveFrames(db, id, ds); err != nil {
			return err
		}
		if err := saveStates(db, id, ds); err != nil {
			return err
		}
	}
	return nil
}

func saveFrames(db *sql.DB, handle int, ds *dataset.DataSet) error {
	n := ds.NumFrames()
	pass, err := ds.Acquire(context.Background())
	if err != nil {
		return fmt.Errorf("archive: acquire dataset %d: %w", handle, err)
	}
	defer pass.Release()
	for i := 0; i < n; i++ {
		frame, err := pass.ReadFrame(context.Background(), i)
		if err != nil {
			return fmt.Errorf("archive: read frame %d of dataset %d: %w", i, handle, err)
		}
		buf := make([]byte, 4*len(frame.Counts))
		for j, v := range frame.Counts {
			binary.LittleEndian.PutUint32(buf[4*j:], v)
		}
		if _, err := db.Exec(`INSERT INTO frames(dataset_handle, frame_index, pixels) VALUES (?,?,?)`, handle, i, buf); err != nil {
			return fmt.Errorf("archive: write frame %d of dataset %d: %w", i, handle, err)
		}
	}
	return nil
}

func saveStates(db *sql.DB, handle int, ds *dataset.DataSet) error {
	for i, s := range ds.States() {
		stateJSON, err := json.Marshal(toStateDTO(s))
		if err != nil {
			return fmt.Errorf("archive: marshal instrument state: %w", err)
		}
		if _, err := db.Exec(`INSERT INTO instrument_states(dataset_handle, frame_index, state_json) VALUES (?,?,?)`,
			handle, i, string(stateJSON)); err != nil {
			return fmt.Errorf("archive: write instrument state: %w", err)
		}
	}
	return nil
}

func saveUnitCells(db *sql.DB, e *experiment.Experiment) error {
	for id := 1; id <= e.MaxHandle(); id++ {
		uc, ok := e.UnitCell(id)
		if !ok {
			continue
		}
		cellJSON, err := json.Marshal(toCellDTO(uc))
		if err != nil {
			return fmt.Errorf("archive: marshal unit cell %d: %w", id, err)
		}
		if _, err := db.Exec(`INSERT INTO unit_cells(handle, cell_json) VALUES (?,?)`, id, string(cellJSON)); err != nil {
			return fmt.Errorf("archive: write unit cell %d: %w", id, err)
		}
	}
	return nil
}

func savePeakCollections(db *sql.DB, e *experiment.Experiment) error {
	for id := 1; id <= e.MaxHandle(); id++ {
		c, ok := e.PeakCollection(id)
		if !ok {
			continue
		}
		dtos := make([]peakDTO, len(c.Peaks()))
		for i, p := range c.Peaks() {
			dtos[i] = toPeakDTO(p)
		}
		peaksJSON, err := json.Marshal(dtos)
		if err != nil {
			return fmt.Errorf("archive: marshal peak collection %d: %w", id, err)
		}
		if _, err := db.Exec(`INSERT INTO peak_collections(handle, name, type, peaks_json) VALUES (?,?,?,?)`,
			id, c.Name, int(c.Type), string(peaksJSON)); err != nil {
			return fmt.Errorf("archive: write peak collection %d: %w", id, err)
		}
	}
	return nil
}

// Load reads an archive written by Save and reconstructs its Experiment,
// wiring datasets through dataset.NewSliceSource (no lazy re-read of the
// underlying pixel file: an archive's frames live entirely inside the
// archive itself).
func Load(path string) (*experiment.Experiment, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	defer db.Close()

	var name, diffractometer string
	if err := db.QueryRow(`SELECT name, diffractometer FROM experiment LIMIT 1`).Scan(&name, &diffractometer); err != nil {
		return nil, fmt.Errorf("archive: read experiment row: %w", err)
	}
	e := experiment.New(name, diffractometer)

	if err := loadDataSets(db, e); err != nil {
		return nil, err
	}
	if err := loadUnitCells(db, e); err != nil {
		return nil, err
	}
	if err := loadPeakCollections(db, e); err != nil {
		return nil, err
	}
	return e, nil
}

func loadDataSets(db *sql.DB, e *experiment.Experiment) error {
	rows, err := db.Query(`SELECT handle, name, nrows, ncols, nframes, metadata_json FROM datasets ORDER BY handle`)
	if err != nil {
		return fmt.Errorf("archive: query datasets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var handle, nrows, ncols, nframes int
		var name, metaJSON string
		if err := rows.Scan(&handle, &name, &nrows, &ncols, &nframes, &metaJSON); err != nil {
			return fmt.Errorf("archive: scan dataset row: %w", err)
		}
		var meta dataset.Metadata
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			return fmt.Errorf("archive: unmarshal dataset %d metadata: %w", handle, err)
		}
		frames, err := loadFrames(db, handle, nrows, ncols, nframes)
		if err != nil {
			return err
		}
		states, err := loadStates(db, handle, nframes)
		if err != nil {
			return err
		}
		ds, err := dataset.New(name, meta, dataset.NewSliceSource(nrows, ncols, frames), states)
		if err != nil {
			return fmt.Errorf("archive: rebuild dataset %d: %w", handle, err)
		}
		if err := e.RestoreDataSet(handle, name, ds); err != nil {
			return fmt.Errorf("archive: restore dataset %d: %w", handle, err)
		}
	}
	return rows.Err()
}

func loadFrames(db *sql.DB, handle, nrows, ncols, nframes int) ([]dataset.Frame, error) {
	rows, err := db.Query(`SELECT frame_index, pixels FROM frames WHERE dataset_handle = ? ORDER BY frame_index`, handle)
	if err != nil {
		return nil, fmt.Errorf("archive: query frames for dataset %d: %w", handle, err)
	}
	defer rows.Close()

	frames := make([]dataset.Frame, nframes)
	for rows.Next() {
		var idx int
		var pixels []byte
		if err := rows.Scan(&idx, &pixels); err != nil {
			return nil, fmt.Errorf("archive: scan frame for dataset %d: %w", handle, err)
		}
		f := dataset.NewFrame(nrows, ncols)
		for j := range f.Counts {
			f.Counts[j] = binary.LittleEndian.Uint32(pixels[4*j:])
		}
		if idx < 0 || idx >= nframes {
			return nil, fmt.Errorf("archive: frame index %d out of range for dataset %d", idx, handle)
		}
		frames[idx] = f
	}
	return frames, rows.Err()
}

func loadStates(db *sql.DB, handle, nframes int) ([]instrument.State, error) {
	rows, err := db.Query(`SELECT state_json FROM instrument_states WHERE dataset_handle = ? ORDER BY frame_index`, handle)
	if err != nil {
		return nil, fmt.Errorf("archive: query instrument states for dataset %d: %w", handle, err)
	}
	defer rows.Close()

	states := make([]instrument.State, 0, nframes)
	for rows.Next() {
		var stateJSON string
		if err := rows.Scan(&stateJSON); err != nil {
			return nil, fmt.Errorf("archive: scan instrument state for dataset %d: %w", handle, err)
		}
		var dto stateDTO
		if err := json.Unmarshal([]byte(stateJSON), &dto); err != nil {
			return nil, fmt.Errorf("archive: unmarshal instrument state for dataset %d: %w", handle, err)
		}
		states = append(states, dto.toState())
	}
	return states, rows.Err()
}

func loadUnitCells(db *sql.DB, e *experiment.Experiment) error {
	rows, err := db.Query(`SELECT handle, cell_json FROM unit_cells ORDER BY handle`)
	if err != nil {
		return fmt.Errorf("archive: query unit cells: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var handle int
		var cellJSON string
		if err := rows.Scan(&handle, &cellJSON); err != nil {
			return fmt.Errorf("archive: scan unit cell row: %w", err)
		}
		var dto cellDTO
		if err := json.Unmarshal([]byte(cellJSON), &dto); err != nil {
			return fmt.Errorf("archive: unmarshal unit cell %d: %w", handle, err)
		}
		uc, err := dto.toCell()
		if err != nil {
			return fmt.Errorf("archive: rebuild unit cell %d: %w", handle, err)
		}
		if err := e.RestoreUnitCell(handle, uc); err != nil {
			return fmt.Errorf("archive: restore unit cell %d: %w", handle, err)
		}
	}
	return rows.Err()
}

func loadPeakCollections(db *sql.DB, e *experiment.Experiment) error {
	rows, err := db.Query(`SELECT handle, name, type, peaks_json FROM peak_collections ORDER BY handle`)
	if err != nil {
		return fmt.Errorf("archive: query peak collections: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var handle, kind int
		var name, peaksJSON string
		if err := rows.Scan(&handle, &name, &kind, &peaksJSON); err != nil {
			return fmt.Errorf("archive: scan peak collection row: %w", err)
		}
		var dtos []peakDTO
		if err := json.Unmarshal([]byte(peaksJSON), &dtos); err != nil {
			return fmt.Errorf("archive: unmarshal peak collection %d: %w", handle, err)
		}
		coll := peak.NewCollection(name, peak.CollectionType(kind))
		for _, dto := range dtos {
			p, err := dto.toPeak()
			if err != nil {
				return fmt.Errorf("archive: restore peak collection %d: %w", handle, err)
			}
			coll.Add(p)
		}
		if err := e.RestorePeakCollection(handle, coll); err != nil {
			return fmt.Errorf("archive: restore peak collection %d: %w", handle, err)
		}
	}
	return rows.Err()
}
