package imageio

import "fmt"

func errInvalidDims(nrows, ncols int) error {
	return fmt.Errorf("imageio: invalid frame dimensions %dx%d", nrows, ncols)
}

func errInvalidRebin(size int) error {
	return fmt.Errorf("imageio: rebin_size must be >= 1, got %d", size)
}

func errShortRead(want, got int) error {
	return fmt.Errorf("imageio: short read, wanted %d bytes got %d", want, got)
}
