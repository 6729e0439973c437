package autoindex

import "github.com/openhkl-project/ohkl/internal/cell"

// GoodSolution returns the highest-quality solution (solutions is
// assumed ranked best-first, as Solve returns it) whose cell agrees
// with ref within lenTol/angTol. It reports ok=false if no solution
// matches.
func GoodSolution(solutions []Solution, ref *cell.UnitCell, lenTol, angTol float64) (Solution, bool) {
	for _, s := range solutions {
		if s.Cell.IsSimilar(ref, lenTol, angTol) {
			return s, true
		}
	}
	return Solution{}, false
}
