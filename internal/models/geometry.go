package models

import (
	"fmt"
	"math"
)

// Geometry describes how voxel indices map to physical space
type Geometry struct {
	// Size is the number of voxels along each axis
	Size []int `yaml:"size"`

	// Spacing is the physical distance between adjacent voxel centers in mm
	Spacing []float64 `yaml:"spacing"`

	// Origin is the physical position of the first voxel
	Origin []float64 `yaml:"origin"`

	// Direction holds the axis direction cosines as a row-major dims*dims matrix
	Direction []float64 `yaml:"direction"`
}

// Dims returns the number of image dimensions
func (g Geometry) Dims() int {
	return len(g.Size)
}

// NumVoxels returns the total number of voxels in the grid
func (g Geometry) NumVoxels() int {
	if len(g.Size) == 0 {
		return 0
	}
	n := 1
	for _, s := range g.Size {
		n *= s
	}
	return n
}

// Clone returns a deep copy so callers can never alias another geometry's slices
func (g Geometry) Clone() Geometry {
	return Geometry{
		Size:      append([]int(nil), g.Size...),
		Spacing:   append([]float64(nil), g.Spacing...),
		Origin:    append([]float64(nil), g.Origin...),
		Direction: append([]float64(nil), g.Direction...),
	}
}

// Validate checks that all components agree on the dimensionality
func (g Geometry) Validate() error {
	d := len(g.Size)
	if d == 0 {
		return fmt.Errorf("geometry has no dimensions")
	}
	if len(g.Spacing) != d || len(g.Origin) != d || len(g.Direction) != d*d {
		return fmt.Errorf("geometry components disagree: size %d, spacing %d, origin %d, direction %d",
			d, len(g.Spacing), len(g.Origin), len(g.Direction))
	}
	for i, s := range g.Size {
		if s <= 0 {
			return fmt.Errorf("size along axis %d must be positive, got %d", i, s)
		}
	}
	for i, s := range g.Spacing {
		if !(s > 0) {
			return fmt.Errorf("spacing along axis %d must be positive, got %g", i, s)
		}
	}
	return nil
}

// Equal reports whether two geometries match, comparing floats within tol
func (g Geometry) Equal(other Geometry, tol float64) bool {
	if len(g.Size) != len(other.Size) {
		return false
	}
	for i := range g.Size {
		if g.Size[i] != other.Size[i] {
			return false
		}
	}
	return floatsEqual(g.Spacing, other.Spacing, tol) &&
		floatsEqual(g.Origin, other.Origin, tol) &&
		floatsEqual(g.Direction, other.Direction, tol)
}

// Identity returns a flattened dims*dims identity matrix
func Identity(dims int) []float64 {
	m := make([]float64, dims*dims)
	for i := 0; i < dims; i++ {
		m[i*dims+i] = 1
	}
	return m
}

func floatsEqual(a, b []float64, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}
