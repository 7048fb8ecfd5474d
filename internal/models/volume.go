package models

// Volume is a decoded image: its geometry, on-disk pixel type and intensities
type Volume struct {
	Geometry

	// PixelType is the scalar type the data was read from and will be written as
	PixelType PixelType

	// Data is the voxel buffer with the first axis varying fastest
	Data []float64
}

// Index returns the flat buffer offset of a voxel index
func (v *Volume) Index(idx []int) int {
	off, stride := 0, 1
	for i, n := range v.Size {
		off += idx[i] * stride
		stride *= n
	}
	return off
}

// At returns the intensity at a voxel index
func (v *Volume) At(idx ...int) float64 {
	return v.Data[v.Index(idx)]
}

// Clone returns a deep copy of the volume
func (v *Volume) Clone() *Volume {
	return &Volume{
		Geometry:  v.Geometry.Clone(),
		PixelType: v.PixelType,
		Data:      append([]float64(nil), v.Data...),
	}
}
