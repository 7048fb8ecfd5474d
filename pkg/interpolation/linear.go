// Package interpolation resamples volumes from one physical grid onto another.
package interpolation

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"volaudit/internal/models"
)

// snapTolerance absorbs rounding in the index transform so that points
// landing on a voxel center read that voxel alone
const snapTolerance = 1e-9

// ProgressCallback is called after each slab along the last axis is resampled
type ProgressCallback func(completed, total int)

// Options controls a resampling run
type Options struct {
	// Workers bounds the number of slabs resampled concurrently; <= 0 uses all CPUs
	Workers int

	// DefaultValue is written where an output voxel falls outside the source grid
	DefaultValue float64

	// Progress is optional
	Progress ProgressCallback
}

// IndexMap maps output voxel indices to continuous source indices:
// c = M*i + b with M = S_in^-1 D_in^-1 D_out S_out and b = S_in^-1 D_in^-1 (o_out - o_in).
type IndexMap struct {
	dims   int
	matrix []float64 // row-major dims*dims
	offset []float64
}

// NewIndexMap builds the transform from the output grid to the source grid
func NewIndexMap(src, out models.Geometry) (*IndexMap, error) {
	if err := src.Validate(); err != nil {
		return nil, fmt.Errorf("source geometry: %w", err)
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("output geometry: %w", err)
	}
	d := src.Dims()
	if out.Dims() != d {
		return nil, fmt.Errorf("cannot resample a %dD image onto a %dD grid", d, out.Dims())
	}

	dirIn := mat.NewDense(d, d, append([]float64(nil), src.Direction...))
	var dirInv mat.Dense
	if err := dirInv.Inverse(dirIn); err != nil {
		return nil, fmt.Errorf("source direction is singular: %w", err)
	}

	// A = S_in^-1 D_in^-1
	var a mat.Dense
	a.Mul(diagonal(src.Spacing, true), &dirInv)

	// M = A D_out S_out
	var ad, m mat.Dense
	ad.Mul(&a, mat.NewDense(d, d, append([]float64(nil), out.Direction...)))
	m.Mul(&ad, diagonal(out.Spacing, false))

	delta := mat.NewVecDense(d, nil)
	for i := 0; i < d; i++ {
		delta.SetVec(i, out.Origin[i]-src.Origin[i])
	}
	var b mat.VecDense
	b.MulVec(&a, delta)

	im := &IndexMap{dims: d, matrix: make([]float64, d*d), offset: make([]float64, d)}
	for i := 0; i < d; i++ {
		im.offset[i] = b.AtVec(i)
		for j := 0; j < d; j++ {
			im.matrix[i*d+j] = m.At(i, j)
		}
	}
	return im, nil
}

func diagonal(v []float64, invert bool) *mat.DiagDense {
	data := make([]float64, len(v))
	for i, x := range v {
		if invert {
			data[i] = 1 / x
		} else {
			data[i] = x
		}
	}
	return mat.NewDiagDense(len(v), data)
}

// Apply writes the continuous source index of output index idx into c
func (im *IndexMap) Apply(idx []int, c []float64) {
	d := im.dims
	for i := 0; i < d; i++ {
		v := im.offset[i]
		row := im.matrix[i*d : (i+1)*d]
		for j, x := range idx {
			v += row[j] * float64(x)
		}
		if r := math.Round(v); math.Abs(v-r) < snapTolerance {
			v = r
		}
		c[i] = v
	}
}

// Resample linearly interpolates src onto target. The result keeps the source
// pixel type; intensities are rounded and saturated for integer types.
func Resample(ctx context.Context, src *models.Volume, target models.Geometry, opts Options) (*models.Volume, error) {
	if len(src.Data) != src.NumVoxels() {
		return nil, fmt.Errorf("source buffer holds %d voxels, geometry needs %d", len(src.Data), src.NumVoxels())
	}
	im, err := NewIndexMap(src.Geometry, target)
	if err != nil {
		return nil, err
	}

	out := &models.Volume{
		Geometry:  target.Clone(),
		PixelType: src.PixelType,
		Data:      make([]float64, target.NumVoxels()),
	}

	d := target.Dims()
	slabs := target.Size[d-1]
	slabLen := out.NumVoxels() / slabs

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	progress := newProgressCounter(slabs, opts.Progress)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for k := 0; k < slabs; k++ {
		k := k
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s := newSampler(src, im, opts.DefaultValue)
			idx := make([]int, d)
			idx[d-1] = k
			base := k * slabLen
			for n := 0; n < slabLen; n++ {
				out.Data[base+n] = src.PixelType.Clamp(s.at(idx))
				increment(idx[:d-1], target.Size[:d-1])
			}
			progress.done()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// increment advances a multi-index with the first axis fastest
func increment(idx, size []int) {
	for i := range idx {
		idx[i]++
		if idx[i] < size[i] {
			return
		}
		idx[i] = 0
	}
}
