package main

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/openhkl-project/ohkl/internal/config"
	"github.com/openhkl-project/ohkl/internal/dataset"
	"github.com/openhkl-project/ohkl/internal/experiment"
	"github.com/openhkl-project/ohkl/internal/imageio"
	"github.com/openhkl-project/ohkl/internal/logging"
	"github.com/openhkl-project/ohkl/internal/spacegroup"
)

func spacegroupP1(t *testing.T) spacegroup.SpaceGroup {
	t.Helper()
	sg, err := spacegroup.Lookup("P1")
	if err != nil {
		t.Fatalf("Lookup(P1): %v", err)
	}
	return sg
}

func noEnv(string) string { return "" }

// fakeSource is a minimal in-memory dataset.Source returning flat,
// peak-free frames, enough to drive the pipeline up to the point where
// autoindexing finds nothing to solve.
type fakeSource struct {
	nrows, ncols, nframes int
}

func (s fakeSource) NumFrames() int            { return s.nframes }
func (s fakeSource) Dims() (int, int)          { return s.nrows, s.ncols }
func (s fakeSource) Close() error               { return nil }
func (s fakeSource) ReadFrame(ctx context.Context, index int) (dataset.Frame, error) {
	return dataset.NewFrame(s.nrows, s.ncols), nil
}

func withMocks(t *testing.T, loadCfg func(string, logging.Logger) (config.Config, error), openSrc func(string, imageio.Params, int, int, int) (dataset.Source, error), save func(string, *experiment.Experiment) error) {
	t.Helper()
	prevLoad, prevOpen, prevSave := loadConfig, openFrameSource, saveExperiment
	loadConfig, openFrameSource, saveExperiment = loadCfg, openSrc, save
	t.Cleanup(func() {
		loadConfig, openFrameSource, saveExperiment = prevLoad, prevOpen, prevSave
	})
}

func TestRunFailsIOWhenInputFlagMissing(t *testing.T) {
	out := &strings.Builder{}
	code := run([]string{"-rows", "4", "-cols", "4", "-frames", "2"}, out, noEnv)
	if code != exitIOFailure {
		t.Fatalf("code = %d, want %d", code, exitIOFailure)
	}
	if !strings.Contains(out.String(), "-input is required") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestRunFailsIOWhenDimensionsMissing(t *testing.T) {
	out := &strings.Builder{}
	code := run([]string{"-input", "frames.raw"}, out, noEnv)
	if code != exitIOFailure {
		t.Fatalf("code = %d, want %d", code, exitIOFailure)
	}
}

func TestRunFailsIOWhenConfigLoadErrors(t *testing.T) {
	withMocks(t,
		func(string, logging.Logger) (config.Config, error) { return config.Config{}, fmt.Errorf("boom") },
		openFrameSource, saveExperiment)

	out := &strings.Builder{}
	code := run([]string{"-input", "frames.raw", "-rows", "4", "-cols", "4", "-frames", "2"}, out, noEnv)
	if code != exitIOFailure {
		t.Fatalf("code = %d, want %d", code, exitIOFailure)
	}
}

func TestRunFailsIOWhenFrameSourceErrors(t *testing.T) {
	withMocks(t,
		func(string, logging.Logger) (config.Config, error) { return config.Default(), nil },
		func(string, imageio.Params, int, int, int) (dataset.Source, error) { return nil, fmt.Errorf("no such file") },
		saveExperiment)

	out := &strings.Builder{}
	code := run([]string{"-input", "frames.raw", "-rows", "4", "-cols", "4", "-frames", "2"}, out, noEnv)
	if code != exitIOFailure {
		t.Fatalf("code = %d, want %d", code, exitIOFailure)
	}
}

func TestRunReportsCellMismatchWhenAutoindexFindsNoSolution(t *testing.T) {
	withMocks(t,
		func(string, logging.Logger) (config.Config, error) { return config.Default(), nil },
		func(_ string, _ imageio.Params, rows, cols, frames int) (dataset.Source, error) {
			return fakeSource{nrows: rows, ncols: cols, nframes: frames}, nil
		},
		saveExperiment)

	out := &strings.Builder{}
	code := run([]string{"-input", "frames.raw", "-rows", "8", "-cols", "8", "-frames", "3"}, out, noEnv)
	if code != exitCellMismatch {
		t.Fatalf("code = %d, want %d (no peaks means autoindex finds nothing)", code, exitCellMismatch)
	}
}

func TestRunFailsIOOnUnknownSpaceGroup(t *testing.T) {
	withMocks(t,
		func(string, logging.Logger) (config.Config, error) { return config.Default(), nil },
		func(_ string, _ imageio.Params, rows, cols, frames int) (dataset.Source, error) {
			return fakeSource{nrows: rows, ncols: cols, nframes: frames}, nil
		},
		saveExperiment)

	out := &strings.Builder{}
	code := run([]string{"-input", "frames.raw", "-rows", "4", "-cols", "4", "-frames", "2", "-spacegroup", "Not-A-Group"}, out, noEnv)
	if code != exitIOFailure {
		t.Fatalf("code = %d, want %d", code, exitIOFailure)
	}
}

func TestParseSeedCellRejectsWrongFieldCount(t *testing.T) {
	if _, err := parseSeedCell("1,2,3", spacegroupP1(t)); err == nil {
		t.Fatal("expected an error for too few fields")
	}
}

func TestParseInterpolationRejectsUnknownMode(t *testing.T) {
	if _, err := parseInterpolation("bogus"); err == nil {
		t.Fatal("expected an error for an unknown mode")
	}
}
