package interpolation

import (
	"math"
	"sync"

	"volaudit/internal/models"
)

// sampler evaluates a source volume at continuous indices. It holds scratch
// buffers and must not be shared between goroutines.
type sampler struct {
	src      *models.Volume
	im       *IndexMap
	fallback float64

	strides []int
	cont    []float64
	lower   []int
	upper   []int
	frac    []float64
}

func newSampler(src *models.Volume, im *IndexMap, fallback float64) *sampler {
	d := src.Dims()
	s := &sampler{
		src:      src,
		im:       im,
		fallback: fallback,
		strides:  make([]int, d),
		cont:     make([]float64, d),
		lower:    make([]int, d),
		upper:    make([]int, d),
		frac:     make([]float64, d),
	}
	stride := 1
	for i, n := range src.Size {
		s.strides[i] = stride
		stride *= n
	}
	return s
}

// at returns the interpolated source value for output index idx
func (s *sampler) at(idx []int) float64 {
	s.im.Apply(idx, s.cont)

	size := s.src.Size
	for i, c := range s.cont {
		// inside means within half a voxel of the outermost centers
		if !(c >= -0.5 && c < float64(size[i])-0.5) {
			return s.fallback
		}
		f := math.Floor(c)
		s.frac[i] = c - f
		s.lower[i] = clampIndex(int(f), size[i])
		s.upper[i] = clampIndex(int(f)+1, size[i])
	}

	// weighted sum over the 2^d corners of the enclosing cell
	d := len(size)
	var sum float64
	for corner := 0; corner < 1<<d; corner++ {
		w, off := 1.0, 0
		for i := 0; i < d; i++ {
			if corner&(1<<i) != 0 {
				w *= s.frac[i]
				off += s.upper[i] * s.strides[i]
			} else {
				w *= 1 - s.frac[i]
				off += s.lower[i] * s.strides[i]
			}
			if w == 0 {
				break
			}
		}
		if w != 0 {
			sum += w * s.src.Data[off]
		}
	}
	return sum
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// progressCounter serialises progress callbacks from concurrent workers
type progressCounter struct {
	mu        sync.Mutex
	completed int
	total     int
	callback  ProgressCallback
}

func newProgressCounter(total int, cb ProgressCallback) *progressCounter {
	return &progressCounter{total: total, callback: cb}
}

func (p *progressCounter) done() {
	if p.callback == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed++
	p.callback(p.completed, p.total)
}
