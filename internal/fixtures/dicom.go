// Package fixtures writes small synthetic image files for tests.
package fixtures

import (
	"fmt"
	"os"
	"strconv"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
	"github.com/suyashkumar/dicom/pkg/uid"
)

const (
	secondaryCaptureSOPClass = "1.2.840.10008.5.1.4.1.1.7"
	jpegBaselineSyntax       = "1.2.840.10008.1.2.4.50"
)

// DICOM describes a grayscale DICOM file. Frames holds the stored pixel
// values of each frame in row-major order.
type DICOM struct {
	Rows, Columns int
	Frames        [][]int

	// BitsAllocated is 8, 16 or 32
	BitsAllocated int
	Signed        bool

	// PixelSpacing is (row spacing, column spacing); zero omits the tag
	PixelSpacing   [2]float64
	SliceThickness float64
	Position       []float64
	Orientation    []float64

	// RescaleSlope of zero omits both rescale tags
	RescaleSlope     float64
	RescaleIntercept float64

	// Encapsulated stores each frame as an opaque JPEG item
	Encapsulated bool
}

// WriteDICOM writes d to path with the elements in ascending tag order
func WriteDICOM(path string, d DICOM) error {
	syntax := uid.ExplicitVRLittleEndian
	if d.Encapsulated {
		syntax = jpegBaselineSyntax
	}
	signed := 0
	if d.Signed {
		signed = 1
	}

	var elems []*dicom.Element
	add := func(t tag.Tag, data interface{}) error {
		el, err := dicom.NewElement(t, data)
		if err != nil {
			return fmt.Errorf("element %v: %w", t, err)
		}
		elems = append(elems, el)
		return nil
	}

	steps := []struct {
		tag  tag.Tag
		data interface{}
		skip bool
	}{
		{tag.MediaStorageSOPClassUID, []string{secondaryCaptureSOPClass}, false},
		{tag.MediaStorageSOPInstanceUID, []string{"1.2.826.0.1.3680043.2.1125.1"}, false},
		{tag.TransferSyntaxUID, []string{syntax}, false},
		{tag.SliceThickness, decimalStrings(d.SliceThickness), d.SliceThickness == 0},
		{tag.ImagePositionPatient, decimalStrings(d.Position...), len(d.Position) == 0},
		{tag.ImageOrientationPatient, decimalStrings(d.Orientation...), len(d.Orientation) == 0},
		{tag.SamplesPerPixel, []int{1}, false},
		{tag.PhotometricInterpretation, []string{"MONOCHROME2"}, false},
		{tag.NumberOfFrames, []string{strconv.Itoa(len(d.Frames))}, false},
		{tag.Rows, []int{d.Rows}, false},
		{tag.Columns, []int{d.Columns}, false},
		{tag.PixelSpacing, decimalStrings(d.PixelSpacing[0], d.PixelSpacing[1]), d.PixelSpacing[0] == 0},
		{tag.BitsAllocated, []int{d.BitsAllocated}, false},
		{tag.BitsStored, []int{d.BitsAllocated}, false},
		{tag.HighBit, []int{d.BitsAllocated - 1}, false},
		{tag.PixelRepresentation, []int{signed}, false},
		{tag.RescaleIntercept, decimalStrings(d.RescaleIntercept), d.RescaleSlope == 0},
		{tag.RescaleSlope, decimalStrings(d.RescaleSlope), d.RescaleSlope == 0},
	}
	for _, s := range steps {
		if s.skip {
			continue
		}
		if err := add(s.tag, s.data); err != nil {
			return err
		}
	}

	info := dicom.PixelDataInfo{IsEncapsulated: d.Encapsulated}
	for _, values := range d.Frames {
		f := &frame.Frame{Encapsulated: d.Encapsulated}
		if d.Encapsulated {
			// a JPEG SOI/EOI pair stands in for compressed data
			f.EncapsulatedData = frame.EncapsulatedFrame{Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}}
		} else {
			pixels := make([][]int, len(values))
			for i, v := range values {
				pixels[i] = []int{v}
			}
			f.NativeData = frame.NativeFrame{
				BitsPerSample: d.BitsAllocated,
				Rows:          d.Rows,
				Cols:          d.Columns,
				Data:          pixels,
			}
		}
		info.Frames = append(info.Frames, f)
	}
	pixelData, err := dicom.NewElement(tag.PixelData, info)
	if err != nil {
		return fmt.Errorf("pixel data: %w", err)
	}
	if d.Encapsulated {
		pixelData.ValueLength = tag.VLUndefinedLength
	}
	elems = append(elems, pixelData)

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := dicom.Write(out, dicom.Dataset{Elements: elems}); err != nil {
		out.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return out.Close()
}

func decimalStrings(values ...float64) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return out
}
