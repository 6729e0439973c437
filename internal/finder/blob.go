package finder

import (
	"github.com/openhkl-project/ohkl/internal/geom"
	"gonum.org/v1/gonum/mat"
)

// blob accumulates intensity-weighted moments for a candidate peak as it
// grows across frames. X is column (px), Y is row (py), Z is frame index.
type blob struct {
	bbox geom.AABB

	weight   float64
	sx, sy, sz float64
	sxx, sxy, sxz, syy, syz, szz float64

	firstFrame, lastFrame int
	pixelCount            int
}

func newBlob(frameIdx int, pixels []labelPixel) *blob {
	b := &blob{firstFrame: frameIdx, lastFrame: frameIdx}
	b.absorb(frameIdx, pixels)
	return b
}

func (b *blob) absorb(frameIdx int, pixels []labelPixel) {
	for _, px := range pixels {
		x, y, z := float64(px.col)+0.5, float64(px.row)+0.5, float64(frameIdx)+0.5
		w := px.value
		if w <= 0 {
			continue
		}
		p := geom.Vec3{X: x, Y: y, Z: z}
		if b.weight == 0 && b.pixelCount == 0 {
			b.bbox = geom.NewAABB(p)
		} else {
			b.bbox = b.bbox.Extend(p)
		}
		b.weight += w
		b.sx += w * x
		b.sy += w * y
		b.sz += w * z
		b.sxx += w * x * x
		b.sxy += w * x * y
		b.sxz += w * x * z
		b.syy += w * y * y
		b.syz += w * y * z
		b.szz += w * z * z
		b.pixelCount++
	}
	if frameIdx < b.firstFrame {
		b.firstFrame = frameIdx
	}
	if frameIdx > b.lastFrame {
		b.lastFrame = frameIdx
	}
}

func (b *blob) frameSpan() int { return b.lastFrame - b.firstFrame + 1 }

// centroid returns the intensity-weighted mean position.
func (b *blob) centroid() geom.Vec3 {
	if b.weight == 0 {
		return geom.Vec3{}
	}
	return geom.Vec3{X: b.sx / b.weight, Y: b.sy / b.weight, Z: b.sz / b.weight}
}

// covariance returns the intensity-weighted 3x3 covariance matrix about
// the centroid.
func (b *blob) covariance() *mat.SymDense {
	c := b.centroid()
	cov := mat.NewSymDense(3, nil)
	w := b.weight
	cov.SetSym(0, 0, b.sxx/w-c.X*c.X)
	cov.SetSym(0, 1, b.sxy/w-c.X*c.Y)
	cov.SetSym(0, 2, b.sxz/w-c.X*c.Z)
	cov.SetSym(1, 1, b.syy/w-c.Y*c.Y)
	cov.SetSym(1, 2, b.syz/w-c.Y*c.Z)
	cov.SetSym(2, 2, b.szz/w-c.Z*c.Z)
	return cov
}
