package finder

import (
	"context"
	"fmt"

	"github.com/openhkl-project/ohkl/internal/dataset"
	"github.com/openhkl-project/ohkl/internal/geom"
	"github.com/openhkl-project/ohkl/internal/peak"
)

// Find scans every frame of ds, looking for connected components of
// background-subtracted intensity above threshold, and links components
// across consecutive frames by 2-D bounding-box overlap into 3-D blobs.
// It returns a Found-type peak.Collection containing one Peak3D per blob
// that survives the size and frame-span filters.
func Find(ctx context.Context, ds *dataset.DataSet, dataSetID int, params Params) (*peak.Collection, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	nframes := ds.NumFrames()
	masks := ds.Masks()
	isMasked := func(row, col int) bool {
		for _, m := range masks {
			if m.At(row, col) {
				return true
			}
		}
		return false
	}

	pass, err := ds.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("finder: acquire dataset: %w", err)
	}
	defer pass.Release()

	var active []*blob
	var finished []*blob

	for f := 0; f < nframes; f++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frame, err := pass.ReadFrame(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("finder: read frame %d: %w", f, err)
		}
		components := labelFrame(frame, isMasked, params)

		matched := make([]bool, len(active))
		var stillActive []*blob
		usedComponent := make([]bool, len(components))

		for ai, b := range active {
			bestIdx := -1
			for ci, px := range components {
				if usedComponent[ci] {
					continue
				}
				if componentOverlaps2D(b, px) {
					bestIdx = ci
					break
				}
			}
			if bestIdx >= 0 {
				b.absorb(f, components[bestIdx])
				usedComponent[bestIdx] = true
				matched[ai] = true
				stillActive = append(stillActive, b)
			} else {
				finished = append(finished, b)
			}
		}
		for ci, px := range components {
			if !usedComponent[ci] {
				stillActive = append(stillActive, newBlob(f, px))
			}
		}
		active = stillActive
	}
	finished = append(finished, active...)

	collection := peak.NewCollection("found", peak.Found)
	id := 1
	for _, b := range finished {
		if b.pixelCount < params.MinSize || b.pixelCount > params.MaxSize {
			continue
		}
		if span := b.frameSpan(); span < params.MinFrameSpan || span > params.MaxFrameSpan {
			continue
		}
		cov := b.covariance()
		metric, err := geom.MetricFromCovariance(cov)
		if err != nil {
			continue
		}
		shape, err := geom.NewEllipsoid(b.centroid(), metric)
		if err != nil {
			continue
		}
		shape = shape.Scale(params.PeakEnd)

		p := peak.NewPeak(id, dataSetID, shape)
		p.SumIntensity = b.weight
		id++
		collection.Add(p)
	}
	return collection, nil
}

func componentOverlaps2D(b *blob, pixels []labelPixel) bool {
	if len(pixels) == 0 {
		return false
	}
	compBox := geom.NewAABB(geom.Vec3{X: float64(pixels[0].col), Y: float64(pixels[0].row)})
	for _, px := range pixels[1:] {
		compBox = compBox.Extend(geom.Vec3{X: float64(px.col), Y: float64(px.row)})
	}
	return b.bbox.Overlaps2D(compBox)
}
