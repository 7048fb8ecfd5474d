package imageio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/gzip"

	"volaudit/internal/models"
)

const (
	niftiHeaderSize = 348
	niftiVoxOffset  = 352

	xformUnknown = 0
	xformScanner = 1

	unitsMM  = 2
	unitsSec = 8
)

// niftiHeader mirrors the on-disk NIfTI-1 header field for field
type niftiHeader struct {
	SizeOfHdr     int32
	DataTypeStr   [10]byte
	DBName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	DataType      int16
	BitPix        int16
	SliceStart    int16
	PixDim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XYZTUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	TOffset       float32
	GLMax         int32
	GLMin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QFormCode     int16
	SFormCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QOffsetX      float32
	QOffsetY      float32
	QOffsetZ      float32
	SRowX         [4]float32
	SRowY         [4]float32
	SRowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// NIfTI datatype codes
const (
	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
	dtInt8    = 256
	dtUint16  = 512
	dtUint32  = 768
	dtInt64   = 1024
	dtUint64  = 1280
)

var niftiTypes = map[int16]models.PixelType{
	dtUint8:   models.PixelUint8,
	dtInt16:   models.PixelInt16,
	dtInt32:   models.PixelInt32,
	dtFloat32: models.PixelFloat32,
	dtFloat64: models.PixelFloat64,
	dtInt8:    models.PixelInt8,
	dtUint16:  models.PixelUint16,
	dtUint32:  models.PixelUint32,
	dtInt64:   models.PixelInt64,
	dtUint64:  models.PixelUint64,
}

func niftiCode(p models.PixelType) (int16, bool) {
	for code, t := range niftiTypes {
		if t == p {
			return code, true
		}
	}
	return 0, false
}

func openNIfTI(path string, gz bool) (io.Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if !gz {
		return bufio.NewReader(f), f.Close, nil
	}
	zr, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	return zr, func() error {
		zr.Close()
		return f.Close()
	}, nil
}

func decodeNIfTIHeader(r io.Reader) (*niftiHeader, binary.ByteOrder, error) {
	buf := make([]byte, niftiHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}

	var order binary.ByteOrder
	switch {
	case binary.LittleEndian.Uint32(buf) == niftiHeaderSize:
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(buf) == niftiHeaderSize:
		order = binary.BigEndian
	default:
		return nil, nil, fmt.Errorf("%w: sizeof_hdr is not %d", ErrInvalidHeader, niftiHeaderSize)
	}

	var hdr niftiHeader
	if err := binary.Read(bytes.NewReader(buf), order, &hdr); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	if string(hdr.Magic[:3]) != "n+1" {
		return nil, nil, fmt.Errorf("%w: magic %q is not a single-file NIfTI-1 image", ErrInvalidHeader, hdr.Magic[:3])
	}
	if hdr.Dim[0] < 1 || hdr.Dim[0] > 7 {
		return nil, nil, fmt.Errorf("%w: dim[0]=%d", ErrInvalidHeader, hdr.Dim[0])
	}
	return &hdr, order, nil
}

// scaled reports whether scl_slope/scl_inter change the stored values
func (h *niftiHeader) scaled() bool {
	return h.SclSlope != 0 && (h.SclSlope != 1 || h.SclInter != 0)
}

func (h *niftiHeader) pixelType() (models.PixelType, error) {
	p, ok := niftiTypes[h.DataType]
	if !ok {
		return models.PixelUnknown, fmt.Errorf("%w: unsupported datatype %d", ErrInvalidHeader, h.DataType)
	}
	// scaled integer data is presented as float, as ITK does
	if h.scaled() && !p.IsFloat() {
		return models.PixelFloat32, nil
	}
	return p, nil
}

// geometry converts the header to an LPS geometry
func (h *niftiHeader) geometry() models.Geometry {
	dims := int(h.Dim[0])
	g := models.Geometry{
		Size:      make([]int, dims),
		Spacing:   make([]float64, dims),
		Origin:    make([]float64, dims),
		Direction: models.Identity(dims),
	}
	for i := 0; i < dims; i++ {
		g.Size[i] = int(h.Dim[i+1])
		if g.Size[i] < 1 {
			g.Size[i] = 1
		}
		sp := math.Abs(float64(h.PixDim[i+1]))
		if sp == 0 {
			sp = 1
		}
		g.Spacing[i] = sp
	}

	rot, offset := h.rasAffine()
	// RAS to LPS
	for j := 0; j < 3; j++ {
		rot[0][j], rot[1][j] = -rot[0][j], -rot[1][j]
	}
	offset[0], offset[1] = -offset[0], -offset[1]

	spatial := dims
	if spatial > 3 {
		spatial = 3
	}
	for i := 0; i < spatial; i++ {
		g.Origin[i] = offset[i]
		for j := 0; j < spatial; j++ {
			g.Direction[i*dims+j] = rot[i][j]
		}
	}
	return g
}

// rasAffine returns direction cosines and offset in RAS from sform, qform or neither
func (h *niftiHeader) rasAffine() ([3][3]float64, [3]float64) {
	var rot [3][3]float64
	var offset [3]float64

	switch {
	case h.SFormCode > xformUnknown:
		rows := [3][4]float32{h.SRowX, h.SRowY, h.SRowZ}
		for j := 0; j < 3; j++ {
			norm := math.Sqrt(sq(rows[0][j]) + sq(rows[1][j]) + sq(rows[2][j]))
			for i := 0; i < 3; i++ {
				if norm == 0 {
					if i == j {
						rot[i][j] = 1
					}
					continue
				}
				rot[i][j] = float64(rows[i][j]) / norm
			}
		}
		for i := 0; i < 3; i++ {
			offset[i] = float64(rows[i][3])
		}
	case h.QFormCode > xformUnknown:
		b, c, d := float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD)
		a := 1 - (b*b + c*c + d*d)
		if a < 1e-7 {
			n := 1 / math.Sqrt(b*b+c*c+d*d)
			b, c, d = b*n, c*n, d*n
			a = 0
		} else {
			a = math.Sqrt(a)
		}
		qfac := 1.0
		if h.PixDim[0] < 0 {
			qfac = -1
		}
		rot = [3][3]float64{
			{a*a + b*b - c*c - d*d, 2 * (b*c - a*d), 2 * (b*d + a*c) * qfac},
			{2 * (b*c + a*d), a*a + c*c - b*b - d*d, 2 * (c*d - a*b) * qfac},
			{2 * (b*d - a*c), 2 * (c*d + a*b), (a*a + d*d - c*c - b*b) * qfac},
		}
		offset = [3]float64{float64(h.QOffsetX), float64(h.QOffsetY), float64(h.QOffsetZ)}
	default:
		rot = [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	}
	return rot, offset
}

func sq(v float32) float64 {
	return float64(v) * float64(v)
}

func readNIfTIHeader(path string, gz bool) (*Header, error) {
	r, closeFn, err := openNIfTI(path, gz)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	hdr, _, err := decodeNIfTIHeader(r)
	if err != nil {
		return nil, err
	}
	pt, err := hdr.pixelType()
	if err != nil {
		return nil, err
	}
	format := FormatNIfTI
	if gz {
		format = FormatNIfTIGzip
	}
	return &Header{Format: format, Geometry: hdr.geometry(), PixelType: pt}, nil
}

func readNIfTIVolume(path string, gz bool) (*models.Volume, error) {
	r, closeFn, err := openNIfTI(path, gz)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	hdr, order, err := decodeNIfTIHeader(r)
	if err != nil {
		return nil, err
	}
	pt, err := hdr.pixelType()
	if err != nil {
		return nil, err
	}
	stored := niftiTypes[hdr.DataType]

	skip := int64(hdr.VoxOffset) - niftiHeaderSize
	if skip < 0 {
		return nil, fmt.Errorf("%w: vox_offset %g inside header", ErrInvalidHeader, hdr.VoxOffset)
	}
	if _, err := io.CopyN(io.Discard, r, skip); err != nil {
		return nil, fmt.Errorf("%w: skipping extensions: %v", ErrInvalidHeader, err)
	}

	vol := &models.Volume{Geometry: hdr.geometry(), PixelType: pt}
	n := vol.NumVoxels()
	raw := make([]byte, n*stored.Bits()/8)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("reading %d voxels: %w", n, err)
	}
	vol.Data = decodeSamples(raw, stored, order, n)

	if hdr.scaled() {
		slope, inter := float64(hdr.SclSlope), float64(hdr.SclInter)
		for i, v := range vol.Data {
			vol.Data[i] = v*slope + inter
		}
	}
	return vol, nil
}

func decodeSamples(raw []byte, p models.PixelType, order binary.ByteOrder, n int) []float64 {
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		switch p {
		case models.PixelUint8:
			out[i] = float64(raw[i])
		case models.PixelInt8:
			out[i] = float64(int8(raw[i]))
		case models.PixelUint16:
			out[i] = float64(order.Uint16(raw[i*2:]))
		case models.PixelInt16:
			out[i] = float64(int16(order.Uint16(raw[i*2:])))
		case models.PixelUint32:
			out[i] = float64(order.Uint32(raw[i*4:]))
		case models.PixelInt32:
			out[i] = float64(int32(order.Uint32(raw[i*4:])))
		case models.PixelUint64:
			out[i] = float64(order.Uint64(raw[i*8:]))
		case models.PixelInt64:
			out[i] = float64(int64(order.Uint64(raw[i*8:])))
		case models.PixelFloat32:
			out[i] = float64(math.Float32frombits(order.Uint32(raw[i*4:])))
		case models.PixelFloat64:
			out[i] = math.Float64frombits(order.Uint64(raw[i*8:]))
		}
	}
	return out
}

func encodeSamples(data []float64, p models.PixelType) []byte {
	size := p.Bits() / 8
	out := make([]byte, len(data)*size)
	le := binary.LittleEndian
	for i, v := range data {
		v = p.Clamp(v)
		switch p {
		case models.PixelUint8:
			out[i] = uint8(v)
		case models.PixelInt8:
			out[i] = byte(int8(v))
		case models.PixelUint16:
			le.PutUint16(out[i*2:], uint16(v))
		case models.PixelInt16:
			le.PutUint16(out[i*2:], uint16(int16(v)))
		case models.PixelUint32:
			le.PutUint32(out[i*4:], uint32(v))
		case models.PixelInt32:
			le.PutUint32(out[i*4:], uint32(int32(v)))
		case models.PixelUint64:
			le.PutUint64(out[i*8:], uint64(v))
		case models.PixelInt64:
			le.PutUint64(out[i*8:], uint64(int64(v)))
		case models.PixelFloat32:
			le.PutUint32(out[i*4:], math.Float32bits(float32(v)))
		case models.PixelFloat64:
			le.PutUint64(out[i*8:], math.Float64bits(v))
		}
	}
	return out
}

// newNIfTIHeader builds a little-endian single-file header for vol
func newNIfTIHeader(vol *models.Volume) (*niftiHeader, error) {
	code, ok := niftiCode(vol.PixelType)
	if !ok {
		return nil, fmt.Errorf("no NIfTI datatype for %s", vol.PixelType)
	}
	dims := vol.Dims()
	if dims > 7 {
		return nil, fmt.Errorf("NIfTI-1 supports at most 7 dimensions, got %d", dims)
	}

	h := &niftiHeader{
		SizeOfHdr: niftiHeaderSize,
		Regular:   'r',
		DataType:  code,
		BitPix:    int16(vol.PixelType.Bits()),
		VoxOffset: niftiVoxOffset,
		SclSlope:  1,
		XYZTUnits: unitsMM | unitsSec,
		QFormCode: xformScanner,
		SFormCode: xformScanner,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	h.Dim[0] = int16(dims)
	for i := 1; i < 8; i++ {
		h.Dim[i] = 1
		h.PixDim[i] = 1
	}
	for i := 0; i < dims; i++ {
		if vol.Size[i] > math.MaxInt16 {
			return nil, fmt.Errorf("size %d along axis %d exceeds NIfTI-1 limit", vol.Size[i], i)
		}
		h.Dim[i+1] = int16(vol.Size[i])
		h.PixDim[i+1] = float32(vol.Spacing[i])
	}
	copy(h.Descrip[:], "volaudit")

	// LPS geometry back to RAS, padded to 3D
	var rot [3][3]float64
	var offset [3]float64
	spacing := [3]float64{1, 1, 1}
	for i := 0; i < 3; i++ {
		rot[i][i] = 1
	}
	spatial := dims
	if spatial > 3 {
		spatial = 3
	}
	for i := 0; i < spatial; i++ {
		offset[i] = vol.Origin[i]
		spacing[i] = vol.Spacing[i]
		for j := 0; j < spatial; j++ {
			rot[i][j] = vol.Direction[i*dims+j]
		}
	}
	for j := 0; j < 3; j++ {
		rot[0][j], rot[1][j] = -rot[0][j], -rot[1][j]
	}
	offset[0], offset[1] = -offset[0], -offset[1]

	rows := [3]*[4]float32{&h.SRowX, &h.SRowY, &h.SRowZ}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rows[i][j] = float32(rot[i][j] * spacing[j])
		}
		rows[i][3] = float32(offset[i])
	}

	b, c, d, qfac := rotationToQuaternion(rot)
	h.QuaternB, h.QuaternC, h.QuaternD = float32(b), float32(c), float32(d)
	h.PixDim[0] = float32(qfac)
	h.QOffsetX, h.QOffsetY, h.QOffsetZ = float32(offset[0]), float32(offset[1]), float32(offset[2])
	return h, nil
}

// rotationToQuaternion follows nifti_mat44_to_quatern for an orthonormal matrix
func rotationToQuaternion(r [3][3]float64) (b, c, d, qfac float64) {
	det := r[0][0]*(r[1][1]*r[2][2]-r[1][2]*r[2][1]) -
		r[0][1]*(r[1][0]*r[2][2]-r[1][2]*r[2][0]) +
		r[0][2]*(r[1][0]*r[2][1]-r[1][1]*r[2][0])
	qfac = 1
	if det < 0 {
		qfac = -1
		for i := 0; i < 3; i++ {
			r[i][2] = -r[i][2]
		}
	}

	var a float64
	if t := 1 + r[0][0] + r[1][1] + r[2][2]; t > 0.5 {
		a = 0.5 * math.Sqrt(t)
		b = 0.25 * (r[2][1] - r[1][2]) / a
		c = 0.25 * (r[0][2] - r[2][0]) / a
		d = 0.25 * (r[1][0] - r[0][1]) / a
	} else {
		xd := 1 + r[0][0] - (r[1][1] + r[2][2])
		yd := 1 + r[1][1] - (r[0][0] + r[2][2])
		zd := 1 + r[2][2] - (r[0][0] + r[1][1])
		switch {
		case xd > 1:
			b = 0.5 * math.Sqrt(xd)
			c = 0.25 * (r[0][1] + r[1][0]) / b
			d = 0.25 * (r[0][2] + r[2][0]) / b
			a = 0.25 * (r[2][1] - r[1][2]) / b
		case yd > 1:
			c = 0.5 * math.Sqrt(yd)
			b = 0.25 * (r[0][1] + r[1][0]) / c
			d = 0.25 * (r[1][2] + r[2][1]) / c
			a = 0.25 * (r[0][2] - r[2][0]) / c
		default:
			d = 0.5 * math.Sqrt(zd)
			b = 0.25 * (r[0][2] + r[2][0]) / d
			c = 0.25 * (r[1][2] + r[2][1]) / d
			a = 0.25 * (r[1][0] - r[0][1]) / d
		}
		if a < 0 {
			b, c, d = -b, -c, -d
		}
	}
	return b, c, d, qfac
}

func writeNIfTI(path string, vol *models.Volume, gz bool) (err error) {
	hdr, err := newNIfTIHeader(vol)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	bw := bufio.NewWriter(f)
	var w io.Writer = bw
	var zw *gzip.Writer
	if gz {
		zw = gzip.NewWriter(bw)
		w = zw
	}

	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return err
	}
	// empty extension block
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}
	if _, err := w.Write(encodeSamples(vol.Data, vol.PixelType)); err != nil {
		return err
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return err
		}
	}
	return bw.Flush()
}
