package dataset

// Metadata carries dataset-scope constants shared by every frame: the
// diffractometer name, wavelength, angular step sizes for the rotation
// scan, and the detector's baseline/gain.
type Metadata struct {
	DiffractometerName string
	Wavelength         float64 // Angstrom
	DeltaOmega         float64 // degrees per frame
	DeltaChi           float64
	DeltaPhi           float64
	BytesPerPixel      int
	Baseline           float64
	Gain               float64
}
