// Package imageio reads and writes the volumetric file formats volaudit works with.
// NIfTI-1 single-file images (optionally gzip compressed) can be read and written;
// DICOM files are read only.
package imageio

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"volaudit/internal/models"
)

var (
	// ErrUnsupportedFormat is returned for file extensions no codec handles
	ErrUnsupportedFormat = errors.New("unsupported image format")

	// ErrInvalidHeader is returned when a header cannot be decoded
	ErrInvalidHeader = errors.New("invalid image header")

	// ErrCompressedTransferSyntax is returned for encapsulated DICOM pixel data
	ErrCompressedTransferSyntax = errors.New("compressed DICOM transfer syntax not supported")
)

// Format identifies an on-disk image format
type Format int

const (
	FormatUnknown Format = iota
	FormatNIfTI
	FormatNIfTIGzip
	FormatDICOM
)

func (f Format) String() string {
	switch f {
	case FormatNIfTI:
		return "nifti"
	case FormatNIfTIGzip:
		return "nifti-gz"
	case FormatDICOM:
		return "dicom"
	}
	return "unknown"
}

// Writable reports whether volumes can be written in this format
func (f Format) Writable() bool {
	return f == FormatNIfTI || f == FormatNIfTIGzip
}

// Header is the information available without decoding pixel data
type Header struct {
	Format    Format
	Geometry  models.Geometry
	PixelType models.PixelType
}

// DetectFormat picks a format from the file extension
func DetectFormat(path string) Format {
	_, ext := SplitExtension(path)
	switch strings.ToLower(ext) {
	case "nii":
		return FormatNIfTI
	case "nii.gz":
		return FormatNIfTIGzip
	case "dcm", "dicom":
		return FormatDICOM
	}
	return FormatUnknown
}

// SplitExtension splits a path into everything before the first dot of the base name
// and the compound extension after it, without the leading dot.
// "data/brain.nii.gz" gives ("data/brain", "nii.gz").
func SplitExtension(path string) (stem, ext string) {
	dir, base := filepath.Split(path)
	// a leading dot marks a hidden file, not an extension
	i := strings.Index(strings.TrimLeft(base, "."), ".")
	if i < 0 {
		return path, ""
	}
	i += len(base) - len(strings.TrimLeft(base, "."))
	return dir + base[:i], base[i+1:]
}

// ReadHeader reads geometry and pixel type without decoding pixel data
func ReadHeader(path string) (*Header, error) {
	switch f := DetectFormat(path); f {
	case FormatNIfTI, FormatNIfTIGzip:
		hdr, err := readNIfTIHeader(path, f == FormatNIfTIGzip)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		return hdr, nil
	case FormatDICOM:
		hdr, err := readDICOMHeader(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		return hdr, nil
	}
	return nil, fmt.Errorf("reading %s: %w", path, ErrUnsupportedFormat)
}

// ReadVolume decodes the full image including pixel data
func ReadVolume(path string) (*models.Volume, error) {
	switch f := DetectFormat(path); f {
	case FormatNIfTI, FormatNIfTIGzip:
		vol, err := readNIfTIVolume(path, f == FormatNIfTIGzip)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		return vol, nil
	case FormatDICOM:
		vol, err := readDICOMVolume(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		return vol, nil
	}
	return nil, fmt.Errorf("reading %s: %w", path, ErrUnsupportedFormat)
}

// WriteVolume writes a volume in the format implied by the file extension
func WriteVolume(path string, vol *models.Volume) error {
	f := DetectFormat(path)
	if !f.Writable() {
		return fmt.Errorf("writing %s as %s: %w", path, f, ErrUnsupportedFormat)
	}
	if err := vol.Geometry.Validate(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if len(vol.Data) != vol.NumVoxels() {
		return fmt.Errorf("writing %s: buffer holds %d voxels, geometry needs %d",
			path, len(vol.Data), vol.NumVoxels())
	}
	if err := writeNIfTI(path, vol, f == FormatNIfTIGzip); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
