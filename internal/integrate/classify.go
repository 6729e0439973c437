package integrate

import "github.com/openhkl-project/ohkl/internal/region"

// classified holds the per-class accumulations a region sorts events
// into: peak-shell sum and count, background-shell sum and count. Events
// in the forbidden gap or outside every shell are dropped.
type classified struct {
	peakEvents []Event
	peakSum    float64
	peakN      int
	bkgSum     float64
	bkgN       int
}

func classify(events []Event, r *region.Region) classified {
	var c classified
	for _, e := range events {
		switch r.Classify(e.Position) {
		case region.PeakEvent:
			c.peakEvents = append(c.peakEvents, e)
			c.peakSum += e.Counts
			c.peakN++
		case region.BackgroundEvent:
			c.bkgSum += e.Counts
			c.bkgN++
		}
	}
	return c
}

// backgroundEstimate scales the background shell's mean count to the
// peak shell's pixel count, and returns its propagated Poisson variance.
func (c classified) backgroundEstimate() (mean, variance float64) {
	if c.bkgN == 0 {
		return 0, 0
	}
	bkgMean := c.bkgSum / float64(c.bkgN)
	scaled := bkgMean * float64(c.peakN)
	ratio := float64(c.peakN) / float64(c.bkgN)
	return scaled, ratio * ratio * c.bkgSum
}
