// Package codec encodes and decodes the fixed-width float segments that back
// field_score rows. The default format is a flat little-endian
// float32 array; an experimental "sorted+gzip" variant is also provided for
// write-side experimentation (see Experimental).
package codec

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// SegmentSize is S, the number of floats in a full segment.
const SegmentSize = 1000

// BytesPerFloat is the on-disk width of one encoded value.
const BytesPerFloat = 4

// MaxPayloadBytes is the largest legal encoded payload (one full segment).
const MaxPayloadBytes = SegmentSize * BytesPerFloat

// ErrBadLength reports a payload whose length is not a multiple of
// BytesPerFloat, per the DecodeError taxonomy entry in spec §7.
var ErrBadLength = errors.New("codec: payload length is not a multiple of 4")

// Missing returns the NaN bit pattern used to mean "no value at this row".
func Missing() float32 {
	return float32(math.NaN())
}

// IsMissing reports whether v is the "missing" sentinel.
func IsMissing(v float32) bool {
	return v != v
}

// Encode packs vals (len(vals) <= SegmentSize) into the default wire format:
// concatenated little-endian float32s.
func Encode(vals []float32) []byte {
	buf := make([]byte, len(vals)*BytesPerFloat)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*BytesPerFloat:], math.Float32bits(v))
	}
	return buf
}

// Decode reverses Encode. It returns ErrBadLength if payload's length isn't a
// multiple of 4.
func Decode(payload []byte) ([]float32, error) {
	if len(payload)%BytesPerFloat != 0 {
		return nil, errors.Wrapf(ErrBadLength, "len=%d", len(payload))
	}
	n := len(payload) / BytesPerFloat
	vals := make([]float32, n)
	for i := range vals {
		bits := binary.LittleEndian.Uint32(payload[i*BytesPerFloat:])
		vals[i] = math.Float32frombits(bits)
	}
	return vals, nil
}

// Experimental marks the sorted+gzip codec variant. Segments encoded with it
// must never be handed to the Segment Cache's mmap reader (cache.MmapSegmentSource):
// that reader assumes the default flat layout.
const Experimental = true

// EncodeSortedGzip transposes the byte planes of vals (all byte 0s, then all
// byte 1s, ...) before gzip-compressing, which compresses better than the
// interleaved default layout for slowly-varying numeric columns. Write-only
// in the sense that spec.md flags this path experimental; EncodeSortedGzip and
// DecodeSortedGzip are nonetheless a matched, round-trippable pair here.
func EncodeSortedGzip(vals []float32) ([]byte, error) {
	flat := Encode(vals)
	transposed := transposeBytes(flat, BytesPerFloat)

	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(transposed); err != nil {
		return nil, errors.Wrap(err, "codec: gzip write")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "codec: gzip close")
	}
	return buf.Bytes(), nil
}

// DecodeSortedGzip reverses EncodeSortedGzip.
func DecodeSortedGzip(payload []byte) ([]float32, error) {
	r, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "codec: gzip reader")
	}
	transposed, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "codec: gzip read")
	}
	if err := r.Close(); err != nil {
		return nil, errors.Wrap(err, "codec: gzip close")
	}
	flat := untransposeBytes(transposed, BytesPerFloat)
	return Decode(flat)
}

// transposeBytes rearranges data, which is a sequence of n-byte records, into
// n planes: all byte-0s, then all byte-1s, etc.
func transposeBytes(data []byte, width int) []byte {
	if len(data)%width != 0 {
		panic("codec: transpose requires a length that's a multiple of width")
	}
	n := len(data) / width
	out := make([]byte, len(data))
	for plane := 0; plane < width; plane++ {
		for rec := 0; rec < n; rec++ {
			out[plane*n+rec] = data[rec*width+plane]
		}
	}
	return out
}

// untransposeBytes reverses transposeBytes.
func untransposeBytes(data []byte, width int) []byte {
	if len(data)%width != 0 {
		panic("codec: untranspose requires a length that's a multiple of width")
	}
	n := len(data) / width
	out := make([]byte, len(data))
	for plane := 0; plane < width; plane++ {
		for rec := 0; rec < n; rec++ {
			out[rec*width+plane] = data[plane*n+rec]
		}
	}
	return out
}
