package models

// Slice is a 2D plane cut out of a volume
type Slice struct {
	// Data holds the plane intensities in row-major order
	Data []float64

	// Width and Height are the plane dimensions in pixels
	Width, Height int

	// Axis is the volume axis the plane is perpendicular to
	Axis int

	// Index is the position of the plane along Axis
	Index int
}

// At returns the intensity at column x, row y
func (s *Slice) At(x, y int) float64 {
	return s.Data[y*s.Width+x]
}
