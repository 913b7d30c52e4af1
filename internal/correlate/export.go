package correlate

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zstd"
)

// mapMagic starts every exported map.
const mapMagic = "PIVCMAP1"

// ErrBadExport is returned when a map dump cannot be decoded.
var ErrBadExport = errors.New("invalid correlation map export")

// ExportMap writes m as a zstd-compressed dump: the magic, width and height
// as little-endian uint32, then the values as little-endian float64.
func ExportMap(w io.Writer, m *Map) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	buf := make([]byte, 0, len(mapMagic)+8+8*len(m.Data))
	buf = append(buf, mapMagic...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(m.W))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(m.H))
	for _, v := range m.Data {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}
	if _, err := enc.Write(buf); err != nil {
		enc.Close()
		return fmt.Errorf("write correlation map: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("flush correlation map: %w", err)
	}
	return nil
}

// ImportMap reads a map written by ExportMap.
func ImportMap(r io.Reader) (*Map, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer dec.Close()
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("read correlation map: %w", err)
	}
	if len(raw) < len(mapMagic)+8 || string(raw[:len(mapMagic)]) != mapMagic {
		return nil, ErrBadExport
	}
	raw = raw[len(mapMagic):]
	w := int(binary.LittleEndian.Uint32(raw))
	h := int(binary.LittleEndian.Uint32(raw[4:]))
	raw = raw[8:]
	if len(raw) != 8*w*h {
		return nil, fmt.Errorf("%w: %dx%d map with %d value bytes", ErrBadExport, w, h, len(raw))
	}
	m := NewMap(w, h)
	for i := range m.Data {
		m.Data[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
	}
	return m, nil
}
