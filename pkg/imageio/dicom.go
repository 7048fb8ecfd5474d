package imageio

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"volaudit/internal/models"
)

// dicomAttributes collects the header values that define geometry and pixel type
type dicomAttributes struct {
	Rows                int
	Columns             int
	Frames              int
	PixelSpacing        []float64 // row spacing, column spacing
	SliceSpacing        float64
	Position            []float64
	Orientation         []float64 // row cosines then column cosines
	BitsAllocated       int
	PixelRepresentation int
	SamplesPerPixel     int
	RescaleSlope        float64
	RescaleIntercept    float64
}

func parseDICOMAttributes(ds dicom.Dataset) (dicomAttributes, error) {
	a := dicomAttributes{Frames: 1, SamplesPerPixel: 1, RescaleSlope: 1}

	var ok bool
	if a.Rows, ok = firstInt(ds, tag.Rows); !ok {
		return a, fmt.Errorf("%w: missing Rows", ErrInvalidHeader)
	}
	if a.Columns, ok = firstInt(ds, tag.Columns); !ok {
		return a, fmt.Errorf("%w: missing Columns", ErrInvalidHeader)
	}
	if a.BitsAllocated, ok = firstInt(ds, tag.BitsAllocated); !ok {
		return a, fmt.Errorf("%w: missing BitsAllocated", ErrInvalidHeader)
	}
	if v, ok := firstInt(ds, tag.NumberOfFrames); ok && v > 0 {
		a.Frames = v
	}
	if v, ok := firstInt(ds, tag.PixelRepresentation); ok {
		a.PixelRepresentation = v
	}
	if v, ok := firstInt(ds, tag.SamplesPerPixel); ok {
		a.SamplesPerPixel = v
	}

	a.PixelSpacing, _ = decimals(ds, tag.PixelSpacing)
	if v, ok := decimals(ds, tag.SpacingBetweenSlices); ok && len(v) > 0 {
		a.SliceSpacing = v[0]
	} else if v, ok := decimals(ds, tag.SliceThickness); ok && len(v) > 0 {
		a.SliceSpacing = v[0]
	}
	a.Position, _ = decimals(ds, tag.ImagePositionPatient)
	a.Orientation, _ = decimals(ds, tag.ImageOrientationPatient)
	if v, ok := decimals(ds, tag.RescaleSlope); ok && len(v) > 0 && v[0] != 0 {
		a.RescaleSlope = v[0]
	}
	if v, ok := decimals(ds, tag.RescaleIntercept); ok && len(v) > 0 {
		a.RescaleIntercept = v[0]
	}
	return a, nil
}

func (a dicomAttributes) rescaled() bool {
	return a.RescaleSlope != 1 || a.RescaleIntercept != 0
}

// header derives an LPS geometry; a single-frame file is a volume one slice deep
func (a dicomAttributes) header() (*Header, error) {
	if a.SamplesPerPixel != 1 {
		return nil, fmt.Errorf("%w: %d samples per pixel, only grayscale is supported",
			ErrUnsupportedFormat, a.SamplesPerPixel)
	}

	g := models.Geometry{
		Size:      []int{a.Columns, a.Rows, a.Frames},
		Spacing:   []float64{1, 1, 1},
		Origin:    []float64{0, 0, 0},
		Direction: models.Identity(3),
	}
	if len(a.PixelSpacing) >= 2 && a.PixelSpacing[0] > 0 && a.PixelSpacing[1] > 0 {
		g.Spacing[0], g.Spacing[1] = a.PixelSpacing[1], a.PixelSpacing[0]
	}
	if a.SliceSpacing > 0 {
		g.Spacing[2] = a.SliceSpacing
	}
	if len(a.Position) >= 3 {
		copy(g.Origin, a.Position[:3])
	}
	if len(a.Orientation) >= 6 {
		row, col := a.Orientation[0:3], a.Orientation[3:6]
		normal := []float64{
			row[1]*col[2] - row[2]*col[1],
			row[2]*col[0] - row[0]*col[2],
			row[0]*col[1] - row[1]*col[0],
		}
		for i := 0; i < 3; i++ {
			g.Direction[i*3+0] = row[i]
			g.Direction[i*3+1] = col[i]
			g.Direction[i*3+2] = normal[i]
		}
	}

	pt, err := a.pixelType()
	if err != nil {
		return nil, err
	}
	return &Header{Format: FormatDICOM, Geometry: g, PixelType: pt}, nil
}

func (a dicomAttributes) pixelType() (models.PixelType, error) {
	if a.rescaled() {
		return models.PixelFloat32, nil
	}
	signed := a.PixelRepresentation == 1
	switch a.BitsAllocated {
	case 8:
		if signed {
			return models.PixelInt8, nil
		}
		return models.PixelUint8, nil
	case 16:
		if signed {
			return models.PixelInt16, nil
		}
		return models.PixelUint16, nil
	case 32:
		if signed {
			return models.PixelInt32, nil
		}
		return models.PixelUint32, nil
	}
	return models.PixelUnknown, fmt.Errorf("%w: BitsAllocated=%d", ErrUnsupportedFormat, a.BitsAllocated)
}

// sample converts a stored value, restoring the sign bit if the parser left it unsigned
func (a dicomAttributes) sample(v int) float64 {
	if a.PixelRepresentation == 1 && a.BitsAllocated < 64 {
		if limit := 1 << (a.BitsAllocated - 1); v >= limit {
			v -= 1 << a.BitsAllocated
		}
	}
	return float64(v)*a.RescaleSlope + a.RescaleIntercept
}

func readDICOMHeader(path string) (*Header, error) {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	attrs, err := parseDICOMAttributes(ds)
	if err != nil {
		return nil, err
	}
	return attrs.header()
}

func readDICOMVolume(path string) (*models.Volume, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	attrs, err := parseDICOMAttributes(ds)
	if err != nil {
		return nil, err
	}
	hdr, err := attrs.header()
	if err != nil {
		return nil, err
	}

	el, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("missing pixel data: %w", err)
	}
	info, ok := el.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected pixel data value", ErrInvalidHeader)
	}

	vol := &models.Volume{Geometry: hdr.Geometry, PixelType: hdr.PixelType}
	plane := attrs.Rows * attrs.Columns
	vol.Data = make([]float64, 0, plane*attrs.Frames)
	for i := range info.Frames {
		fr := info.Frames[i]
		if fr.IsEncapsulated() {
			return nil, ErrCompressedTransferSyntax
		}
		native, err := fr.GetNativeFrame()
		if err != nil {
			return nil, err
		}
		if len(native.Data) != plane {
			return nil, fmt.Errorf("%w: frame %d holds %d pixels, expected %d",
				ErrInvalidHeader, i, len(native.Data), plane)
		}
		for _, px := range native.Data {
			vol.Data = append(vol.Data, attrs.sample(px[0]))
		}
	}
	if len(vol.Data) != vol.NumVoxels() {
		return nil, fmt.Errorf("%w: %d frames decoded, header declares %d",
			ErrInvalidHeader, len(vol.Data)/plane, attrs.Frames)
	}
	return vol, nil
}

func firstInt(ds dicom.Dataset, t tag.Tag) (int, bool) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return 0, false
	}
	switch v := el.Value.GetValue().(type) {
	case []int:
		if len(v) > 0 {
			return v[0], true
		}
	case []string:
		if len(v) > 0 {
			n, err := strconv.Atoi(strings.TrimSpace(v[0]))
			return n, err == nil
		}
	}
	return 0, false
}

// decimals parses a DS (decimal string) element, which may hold backslash-joined values
func decimals(ds dicom.Dataset, t tag.Tag) ([]float64, bool) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return nil, false
	}
	raw, ok := el.Value.GetValue().([]string)
	if !ok {
		return nil, false
	}
	var out []float64
	for _, s := range raw {
		for _, part := range strings.Split(s, `\`) {
			f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil || math.IsNaN(f) {
				return nil, false
			}
			out = append(out, f)
		}
	}
	return out, true
}
