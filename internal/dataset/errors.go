package dataset

import "fmt"

func errIndexRange(index, n int) error {
	return fmt.Errorf("dataset: frame index %d out of range [0,%d)", index, n)
}
