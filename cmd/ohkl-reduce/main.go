// Command ohkl-reduce drives one data set through the full find ->
// autoindex -> predict -> shape-model -> integrate -> refine -> merge
// pipeline from the command line and writes the result to a .ohkl
// archive, optionally exporting a merged reflection file alongside it.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/openhkl-project/ohkl/internal/archive"
	"github.com/openhkl-project/ohkl/internal/autoindex"
	"github.com/openhkl-project/ohkl/internal/cell"
	"github.com/openhkl-project/ohkl/internal/config"
	"github.com/openhkl-project/ohkl/internal/dataset"
	"github.com/openhkl-project/ohkl/internal/experiment"
	"github.com/openhkl-project/ohkl/internal/export"
	"github.com/openhkl-project/ohkl/internal/geom"
	"github.com/openhkl-project/ohkl/internal/imageio"
	"github.com/openhkl-project/ohkl/internal/instrument"
	"github.com/openhkl-project/ohkl/internal/integrate"
	"github.com/openhkl-project/ohkl/internal/logging"
	"github.com/openhkl-project/ohkl/internal/merge"
	"github.com/openhkl-project/ohkl/internal/peak"
	"github.com/openhkl-project/ohkl/internal/region"
	"github.com/openhkl-project/ohkl/internal/shapemodel"
	"github.com/openhkl-project/ohkl/internal/spacegroup"
)

// Exit codes, per the documented command-surface contract.
const (
	exitOK               = 0
	exitIOFailure        = 1
	exitCellMismatch     = 2
	exitIntegrationFatal = 3
)

// loadConfig, openFrameSource and saveExperiment are reassigned in tests
// so run can be exercised without a real config file, frame stack or
// SQLite archive on disk.
var (
	loadConfig      = config.Load
	openFrameSource = openRawFrameSource
	saveExperiment  = archive.Save
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Getenv))
}

// options collects every flag run accepts, parsed once up front so the
// pipeline stages below read plain fields instead of *flag.Value.
type options struct {
	configPath string
	inputPath  string

	datasetName    string
	diffractometer string
	spaceGroup     string

	rows, cols, frames int
	wavelength         float64
	deltaOmega         float64
	distance           float64
	pixelWidth         float64
	pixelHeight        float64

	seedCell string // "a,b,c,alpha,beta,gamma" in Angstrom/degrees, optional

	archivePath  string
	exportFormat string
	exportPath   string

	logLevel string
}

func parseOptions(args []string, getenv func(string) string) (options, error) {
	fs := flag.NewFlagSet("ohkl-reduce", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var o options
	defaultConfig := strings.TrimSpace(getenv("OHKL_CONFIG"))
	if defaultConfig == "" {
		defaultConfig = "ohkl.yaml"
	}

	fs.StringVar(&o.configPath, "config", defaultConfig, "path to the YAML pipeline configuration")
	fs.StringVar(&o.inputPath, "input", "", "path to the raw detector frame stack")
	fs.StringVar(&o.datasetName, "name", "dataset", "name to register the data set under")
	fs.StringVar(&o.diffractometer, "diffractometer", "", "diffractometer name declared for this run")
	fs.StringVar(&o.spaceGroup, "spacegroup", "P1", "space group symbol")
	fs.IntVar(&o.rows, "rows", 0, "detector rows")
	fs.IntVar(&o.cols, "cols", 0, "detector columns")
	fs.IntVar(&o.frames, "frames", 0, "number of frames in the input stack")
	fs.Float64Var(&o.wavelength, "wavelength", 1.54, "incident wavelength (Angstrom)")
	fs.Float64Var(&o.deltaOmega, "delta-omega", 0.1, "sample rotation per frame (degrees)")
	fs.Float64Var(&o.distance, "distance", 0.2, "sample-to-detector distance (metres)")
	fs.Float64Var(&o.pixelWidth, "pixel-width", 1e-4, "detector pixel width (metres)")
	fs.Float64Var(&o.pixelHeight, "pixel-height", 1e-4, "detector pixel height (metres)")
	fs.StringVar(&o.seedCell, "cell", "", "seed unit cell as a,b,c,alpha,beta,gamma; used to validate the autoindexed solution")
	fs.StringVar(&o.archivePath, "out", "out.ohkl", "path to write the resulting archive")
	fs.StringVar(&o.exportFormat, "export-format", "", "optional reflection export format: shelx, fullprof, scalepack, ccp4")
	fs.StringVar(&o.exportPath, "export-out", "", "path for the optional reflection export")
	fs.StringVar(&o.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if o.inputPath == "" {
		return options{}, fmt.Errorf("ohkl-reduce: -input is required")
	}
	if o.rows <= 0 || o.cols <= 0 || o.frames <= 0 {
		return options{}, fmt.Errorf("ohkl-reduce: -rows, -cols and -frames must all be positive")
	}
	return o, nil
}

func run(args []string, out io.Writer, getenv func(string) string) int {
	o, err := parseOptions(args, getenv)
	if err != nil {
		fmt.Fprintln(out, err)
		return exitIOFailure
	}

	level, err := logging.ParseLevel(o.logLevel)
	if err != nil {
		level = logging.Info
	}
	logger := logging.New(level, logging.Text, out)

	cfg, err := loadConfig(o.configPath, logger)
	if err != nil {
		logger.Error("failed to load configuration", logging.Field{Key: "error", Value: err.Error()})
		return exitIOFailure
	}

	sg, err := spacegroup.Lookup(o.spaceGroup)
	if err != nil {
		logger.Error("unknown space group", logging.Field{Key: "symbol", Value: o.spaceGroup})
		return exitIOFailure
	}

	src, err := openFrameSource(o.inputPath, cfg.DataReader, o.rows, o.cols, o.frames)
	if err != nil {
		logger.Error("failed to open frame stack", logging.Field{Key: "error", Value: err.Error()})
		return exitIOFailure
	}

	det := instrument.DetectorGeometry{
		NumRows: o.rows, NumCols: o.cols,
		PixelWidth: o.pixelWidth, PixelHeight: o.pixelHeight,
		Distance: o.distance,
	}
	states := buildStates(det, o.wavelength, o.deltaOmega, o.frames)
	meta := dataset.Metadata{
		DiffractometerName: o.diffractometer,
		Wavelength:         o.wavelength,
		DeltaOmega:         o.deltaOmega,
	}
	ds, err := dataset.New(o.datasetName, meta, src, states)
	if err != nil {
		logger.Error("failed to build data set", logging.Field{Key: "error", Value: err.Error()})
		return exitIOFailure
	}

	exp := experiment.New(o.datasetName, o.diffractometer)
	dataSetID := exp.AddDataSet(o.datasetName, ds)

	ctx := context.Background()

	var seed *cell.UnitCell
	if o.seedCell != "" {
		seed, err = parseSeedCell(o.seedCell, sg)
		if err != nil {
			logger.Error("invalid seed cell", logging.Field{Key: "error", Value: err.Error()})
			return exitCellMismatch
		}
	}

	peakCollectionID, err := exp.FindPeaks(ctx, dataSetID, cfg.Experiment.PeakFinder)
	if err != nil {
		logger.Error("peak finding failed", logging.Field{Key: "error", Value: err.Error()})
		return exitIOFailure
	}

	solutions, err := exp.Autoindex(peakCollectionID, dataSetID, sg, cfg.Experiment.Autoindexer)
	if err != nil || len(solutions) == 0 {
		logger.Error("autoindexing failed to find a solution")
		return exitCellMismatch
	}
	best := solutions[0]
	if seed != nil {
		if match, ok := autoindex.GoodSolution(solutions, seed, 0.5, 2.0); ok {
			best = match
		} else {
			logger.Error("no autoindexed solution matches the declared seed cell")
			return exitCellMismatch
		}
	}
	cellID := exp.AddUnitCell(best.Cell)

	predictedID, err := exp.Predict(ctx, dataSetID, cellID, cfg.Experiment.Predictor)
	if err != nil {
		logger.Error("prediction failed", logging.Field{Key: "error", Value: err.Error()})
		return exitIOFailure
	}

	shapeModelID, err := exp.BuildShapeModel(peakCollectionID, cfg.Experiment.ShapeModel.MinNeighbors)
	if err != nil {
		logger.Error("shape model construction failed", logging.Field{Key: "error", Value: err.Error()})
		return exitIOFailure
	}
	mode, err := parseInterpolation(cfg.Experiment.ShapeModel.Mode)
	if err != nil {
		logger.Error("invalid shape model mode", logging.Field{Key: "error", Value: err.Error()})
		return exitIOFailure
	}
	if err := exp.AssignShapes(shapeModelID, predictedID, mode, cfg.Experiment.ShapeModel.NumNeighbours); err != nil {
		logger.Error("shape assignment failed", logging.Field{Key: "error", Value: err.Error()})
		return exitIOFailure
	}

	predicted, _ := exp.PeakCollection(predictedID)
	integrator, err := buildIntegrator(cfg.Experiment.Integration, shapeModelID, exp)
	if err != nil {
		logger.Error("invalid integration method", logging.Field{Key: "error", Value: err.Error()})
		return exitIOFailure
	}
	shape, err := parseRegionShape(cfg.Experiment.Integration.RegionShape)
	if err != nil {
		logger.Error("invalid region shape", logging.Field{Key: "error", Value: err.Error()})
		return exitIOFailure
	}
	jobs := make([]experiment.IntegrationJob, 0, len(predicted.Peaks()))
	ic := cfg.Experiment.Integration
	for _, p := range predicted.Peaks() {
		jobs = append(jobs, experiment.IntegrationJob{
			Peak: p, Shape: shape,
			PeakEnd: ic.PeakEnd, BkgBegin: ic.BkgBegin, BkgEnd: ic.BkgEnd,
		})
	}
	if err := exp.Integrate(ctx, dataSetID, jobs, integrator, ic.Workers, ic.Profile); err != nil {
		logger.Error("integration failed", logging.Field{Key: "error", Value: err.Error()})
		return exitIntegrationFatal
	}
	logRejectionCounts(logger, "integration", predicted.Peaks())

	indexed := make([]*peak.Peak3D, 0, len(predicted.Valid()))
	for _, p := range predicted.Valid() {
		if p.Miller.Valid {
			indexed = append(indexed, p)
		}
	}
	if len(indexed) > 0 {
		m := indexed[0].Miller
		logger.Debug("first indexed peak", logging.HKLField(m.H, m.K, m.L))
	}
	refineResult, err := exp.Refine(ctx, dataSetID, cellID, indexed, cfg.Experiment.Refiner)
	if err != nil {
		logger.Error("refinement failed", logging.Field{Key: "error", Value: err.Error()})
		return exitIntegrationFatal
	}
	logger.Info("refinement finished",
		logging.Field{Key: "converged", Value: refineResult.Success},
		logging.BatchField(len(refineResult.Batches)),
		logging.Field{Key: "indexed_peaks", Value: len(indexed)})

	merged, err := exp.Merge([]int{predictedID}, sg, cfg.Experiment.Merge)
	if err != nil {
		logger.Error("merge failed", logging.Field{Key: "error", Value: err.Error()})
		return exitIOFailure
	}

	if err := saveExperiment(o.archivePath, exp); err != nil {
		logger.Error("failed to write archive", logging.Field{Key: "error", Value: err.Error()})
		return exitIOFailure
	}

	if o.exportFormat != "" {
		if err := writeExport(o.exportFormat, o.exportPath, merged, best.Cell, o.wavelength); err != nil {
			logger.Error("export failed", logging.Field{Key: "error", Value: err.Error()})
			return exitIOFailure
		}
	}

	logger.Info("reduction complete",
		logging.Field{Key: "archive", Value: o.archivePath},
		logging.Field{Key: "peaks_found", Value: len(predicted.Peaks())})
	return exitOK
}

// buildStates synthesizes one instrument state per frame, advancing the
// sample orientation by deltaOmega degrees about the vertical axis each
// frame. It is a stand-in for a real diffractometer's goniometer log,
// which this command does not read.
func buildStates(det instrument.DetectorGeometry, wavelength, deltaOmegaDeg float64, n int) []instrument.State {
	const degToRad = 3.14159265358979323846 / 180
	axis := geom.NewVec3(0, 1, 0)
	states := make([]instrument.State, n)
	for i := 0; i < n; i++ {
		s := instrument.NewState(det, wavelength)
		s.SampleOrientation = geom.FromAxisAngle(axis, float64(i)*deltaOmegaDeg*degToRad)
		states[i] = s
	}
	return states
}

func openRawFrameSource(path string, params imageio.Params, rows, cols, frames int) (dataset.Source, error) {
	params.NRows, params.NCols, params.NFrames = rows, cols, frames
	if err := params.Validate(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	src, err := imageio.OpenRaw(f, f, params)
	if err != nil {
		f.Close()
		return nil, err
	}
	return src, nil
}

func parseSeedCell(spec string, sg spacegroup.SpaceGroup) (*cell.UnitCell, error) {
	parts := strings.Split(spec, ",")
	if len(parts) != 6 {
		return nil, fmt.Errorf("cell: expected a,b,c,alpha,beta,gamma, got %q", spec)
	}
	vals := make([]float64, 6)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("cell: %q is not a number: %w", p, err)
		}
		vals[i] = v
	}
	const degToRad = 3.14159265358979323846 / 180
	return cell.New(vals[0], vals[1], vals[2], vals[3]*degToRad, vals[4]*degToRad, vals[5]*degToRad, sg)
}

func parseInterpolation(mode string) (shapemodel.Interpolation, error) {
	switch mode {
	case "none":
		return shapemodel.None, nil
	case "inverse-distance":
		return shapemodel.InverseDistance, nil
	case "intensity-weighted":
		return shapemodel.IntensityWeighted, nil
	default:
		return 0, fmt.Errorf("unknown interpolation mode %q", mode)
	}
}

func parseRegionShape(s string) (region.Shape, error) {
	switch s {
	case "variable-ellipsoid":
		return region.VariableEllipsoid, nil
	case "fixed-ellipsoid":
		return region.FixedEllipsoid, nil
	case "fixed-sphere":
		return region.FixedSphere, nil
	default:
		return 0, fmt.Errorf("unknown region shape %q", s)
	}
}

func buildIntegrator(ic config.IntegrationConfig, shapeModelID int, exp *experiment.Experiment) (integrate.Integrator, error) {
	var inner integrate.Integrator
	switch ic.Method {
	case "pixel-sum", "i-sigma":
		inner = integrate.PixelSum{MinBackgroundPixels: ic.MinBackgroundPixels}
	case "gaussian":
		inner = integrate.Gaussian{MinBackgroundPixels: ic.MinBackgroundPixels}
	case "profile-1d":
		profile := shapemodel.NewRadialProfile(32, 3.0)
		inner = integrate.Profile1D{Reference: profile, RMax: 3.0, MinBackgroundPixels: ic.MinBackgroundPixels}
	case "profile-3d":
		model, ok := exp.ShapeModel(shapeModelID)
		if !ok {
			return nil, fmt.Errorf("integrate: no shape model registered under id %d", shapeModelID)
		}
		inner = integrate.Profile3D{Model: model, Mode: shapemodel.InverseDistance, NumNeighbours: 20, MinBackgroundPixels: ic.MinBackgroundPixels}
	default:
		return nil, fmt.Errorf("unknown integration method %q", ic.Method)
	}
	if ic.Method == "i-sigma" {
		return integrate.ISigma{Inner: inner, MinIOverSigma: ic.MinIOverSigma}, nil
	}
	return inner, nil
}

func writeExport(format, path string, c *merge.Collection, uc *cell.UnitCell, wavelength float64) error {
	if path == "" {
		return fmt.Errorf("export: -export-out is required when -export-format is set")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var peaks []*merge.MergedPeak
	for _, shell := range c.Shells {
		peaks = append(peaks, shell.MergedPeaks...)
	}

	switch format {
	case "shelx":
		return export.WriteShelX(f, peaks, 1)
	case "fullprof":
		return export.WriteFullProf(f, peaks, 1)
	case "scalepack":
		return export.WriteScalepack(f, peaks, uc, wavelength, 1)
	case "ccp4":
		return export.WriteCCP4(f, peaks, uc, wavelength, 1)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// logRejectionCounts tallies peaks by rejection flag and emits one
// structured field per flag actually seen, so a run's log carries a
// breakdown of why peaks dropped out of a stage rather than just a
// pass/fail count.
func logRejectionCounts(logger logging.Logger, stage string, peaks []*peak.Peak3D) {
	counts := make(map[peak.RejectionFlag]int)
	for _, p := range peaks {
		if p.Rejection != peak.NotRejected {
			counts[p.Rejection]++
		}
	}
	if len(counts) == 0 {
		return
	}
	fields := make([]logging.Field, 0, len(counts))
	for flag, n := range counts {
		fields = append(fields, logging.RejectionField(flag, n))
	}
	logger.Warn(stage+": peaks rejected", fields...)
}
