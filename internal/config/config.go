// Package config loads the YAML experiment configuration described in
// a DataReader section and one Experiment.<Stage> section
// per pipeline stage, each mapping onto the corresponding package's
// Params type. A field absent from the file keeps its schema default;
// a key the schema does not recognise is logged and ignored rather than
// rejected, so an older or newer config file never hard-fails a run.
package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/openhkl-project/ohkl/internal/autoindex"
	"github.com/openhkl-project/ohkl/internal/finder"
	"github.com/openhkl-project/ohkl/internal/imageio"
	"github.com/openhkl-project/ohkl/internal/logging"
	"github.com/openhkl-project/ohkl/internal/merge"
	"github.com/openhkl-project/ohkl/internal/predict"
	"github.com/openhkl-project/ohkl/internal/refine"
	"gopkg.in/yaml.v3"
)

// maxFileSize guards against accidentally feeding a non-config file (a
// multi-gigabyte frame stack, say) into the YAML decoder.
const maxFileSize = 4 << 20 // 4 MiB

// IntegrationConfig selects one of the integrate package's Integrator
// implementations and the region geometry it runs against; it is kept
// here rather than in internal/integrate since it is a serialisation
// concern (choosing among several Integrator types), not a numerical one.
type IntegrationConfig struct {
	Method              string  `yaml:"method"` // "pixel-sum", "gaussian", "profile-1d", "profile-3d", "i-sigma"
	RegionShape         string  `yaml:"region_shape"` // "variable-ellipsoid", "fixed-ellipsoid", "fixed-sphere"
	PeakEnd             float64 `yaml:"peak_end"`
	BkgBegin            float64 `yaml:"bkg_begin"`
	BkgEnd              float64 `yaml:"bkg_end"`
	MinBackgroundPixels int     `yaml:"min_background_pixels"`
	MinIOverSigma       float64 `yaml:"min_i_over_sigma"`
	Profile             bool    `yaml:"profile"`
	Workers             int     `yaml:"workers"`
}

func defaultIntegrationConfig() IntegrationConfig {
	return IntegrationConfig{
		Method:              "pixel-sum",
		RegionShape:         "variable-ellipsoid",
		PeakEnd:             3.0,
		BkgBegin:            1.3,
		BkgEnd:              2.3,
		MinBackgroundPixels: 5,
		MinIOverSigma:       3.0,
		Profile:             false,
		Workers:             4,
	}
}

// experimentConfig groups every per-stage section under the
// Experiment.* YAML namespace.
type experimentConfig struct {
	PeakFinder  finder.Params     `yaml:"PeakFinder"`
	Autoindexer autoindex.Params  `yaml:"Autoindexer"`
	ShapeModel  ShapeModelConfig  `yaml:"ShapeModel"`
	Predictor   predict.Params    `yaml:"Predictor"`
	Integration IntegrationConfig `yaml:"Integration"`
	Merge       merge.Params      `yaml:"Merge"`
	Refiner     refine.Params     `yaml:"Refiner"`
}

// ShapeModelConfig configures neighbour-covariance interpolation; kept
// here (rather than as shapemodel.Params, which the package does not
// define) since it is three plain scalars with no numerical behaviour
// of their own.
type ShapeModelConfig struct {
	MinNeighbors  int    `yaml:"min_neighbors"`
	NumNeighbours int    `yaml:"num_neighbours"`
	Mode          string `yaml:"mode"` // "none", "inverse-distance", "intensity-weighted"
}

func defaultShapeModelConfig() ShapeModelConfig {
	return ShapeModelConfig{MinNeighbors: 10, NumNeighbours: 20, Mode: "inverse-distance"}
}

// Config is the root document: DataReader plus every Experiment.<stage>
// section, pre-populated with each package's own DefaultParams() so that
// a key omitted from the YAML file keeps that default.
type Config struct {
	DataReader imageio.Params   `yaml:"DataReader"`
	Experiment experimentConfig `yaml:"Experiment"`
}

// Default returns a Config entirely populated with schema defaults, the
// starting point Load unmarshals a file's content onto.
func Default() Config {
	return Config{
		DataReader: imageio.Params{Format: imageio.FormatRaw, Pixel: imageio.PixelU16, Order: imageio.RowMajor},
		Experiment: experimentConfig{
			PeakFinder:  finder.DefaultParams(),
			Autoindexer: autoindex.DefaultParams(),
			ShapeModel:  defaultShapeModelConfig(),
			Predictor:   predict.DefaultParams(),
			Integration: defaultIntegrationConfig(),
			Merge:       merge.DefaultParams(),
			Refiner:     refine.DefaultParams(),
		},
	}
}

// Load reads and parses path, warning (via log, never failing) about
// unrecognised keys and falling back to schema defaults for any section
// or field the file omits.
func Load(path string, log logging.Logger) (Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
	}
	if info.Size() > maxFileSize {
		return Config{}, fmt.Errorf("config: %s is %d bytes, exceeds the %d byte limit", path, info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	warnUnknownKeys(data, log)

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// warnUnknownKeys re-decodes data in strict mode purely to discover and
// log keys the schema does not recognise; the error it produces is never
// propagated, since unknown keys are a warning, not a failure.
func warnUnknownKeys(data []byte, log logging.Logger) {
	var strict Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&strict); err != nil && log != nil {
		log.Warn("config: unrecognised or mistyped field", logging.Field{Key: "error", Value: err.Error()})
	}
}
