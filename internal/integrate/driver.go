package integrate

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/openhkl-project/ohkl/internal/dataset"
	"github.com/openhkl-project/ohkl/internal/geom"
	"github.com/openhkl-project/ohkl/internal/peak"
	"github.com/openhkl-project/ohkl/internal/region"
)

// Integrator computes an intensity estimate from a peak's classified
// events. PixelSum, Gaussian, Profile3D, Profile1D and ISigma all
// implement it.
type Integrator interface {
	Name() string
	Compute(events []Event, r *region.Region) ComputeResult
}

// Job pairs a peak with the region its events should be classified
// against.
type Job struct {
	Peak   *peak.Peak3D
	Region *region.Region
}

// Run extracts events for every job from ds and applies integrator to
// each, using up to workers goroutines concurrently. Work is read-only
// against the data set (a single Pass is shared, since frame reads are
// already serialised by the dataset's lock) but CPU-bound integration
// math runs in parallel across peaks.
func Run(ctx context.Context, ds *dataset.DataSet, jobs []Job, integrator Integrator, workers int, profile bool) error {
	if workers <= 0 {
		workers = 1
	}
	pass, err := ds.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("integrate: acquire dataset: %w", err)
	}
	defer pass.Release()

	jobCh := make(chan Job)
	errCh := make(chan error, workers)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				events, err := eventsForPeak(ctx, pass, job.Region)
				if err != nil {
					select {
					case errCh <- err:
					default:
					}
					continue
				}
				result := integrator.Compute(events, job.Region)
				result.Apply(job.Peak, profile)
			}
		}()
	}

	for _, job := range jobs {
		select {
		case jobCh <- job:
		case <-ctx.Done():
			close(jobCh)
			wg.Wait()
			return ctx.Err()
		}
	}
	close(jobCh)
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// eventsForPeak reads every frame spanning a region's background-outer
// boundary and collects the pixels within its 2-D bounding box as events.
func eventsForPeak(ctx context.Context, pass *dataset.Pass, r *region.Region) ([]Event, error) {
	box := r.BkgEndBoundary()
	bbox := ellipsoidBBox(box)

	frameLo, frameHi := int(bbox.Min.Z), int(bbox.Max.Z)+1
	rowLo, rowHi := int(bbox.Min.Y), int(bbox.Max.Y)+1
	colLo, colHi := int(bbox.Min.X), int(bbox.Max.X)+1

	var events []Event
	for f := frameLo; f < frameHi; f++ {
		frame, err := pass.ReadFrame(ctx, f)
		if err != nil {
			continue // frame index outside data set extent; skip rather than fail the whole peak
		}
		for row := rowLo; row < rowHi; row++ {
			if row < 0 || row >= frame.NRows {
				continue
			}
			for col := colLo; col < colHi; col++ {
				if col < 0 || col >= frame.NCols {
					continue
				}
				pos := geom.Vec3{X: float64(col) + 0.5, Y: float64(row) + 0.5, Z: float64(f) + 0.5}
				events = append(events, Event{Position: pos, Counts: float64(frame.At(row, col))})
			}
		}
	}
	return events, nil
}

// ellipsoidBBox approximates an AABB around an Ellipsoid by sampling its
// principal axis extent along each coordinate via the metric's inverse
// diagonal (a conservative box, not the tight rotated bound).
func ellipsoidBBox(e geom.Ellipsoid) geom.AABB {
	cov, err := e.Covariance()
	box := geom.NewAABB(e.Center)
	if err != nil {
		return box.Extend(e.Center.Add(geom.Vec3{X: 1, Y: 1, Z: 1})).Extend(e.Center.Sub(geom.Vec3{X: 1, Y: 1, Z: 1}))
	}
	for i, axis := range []geom.Vec3{{X: 1}, {Y: 1}, {Z: 1}} {
		half := 3 * math.Sqrt(math.Max(cov.At(i, i), 0))
		box = box.Extend(e.Center.Add(axis.Scale(half))).Extend(e.Center.Sub(axis.Scale(half)))
	}
	return box
}
