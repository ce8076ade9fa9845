package compress

import "github.com/klauspost/compress/s2"

// S2Compressor is the default secondary compressor for a chunk's
// packed streams: fast enough on the write path to never show up next
// to the page writer's disk I/O.
type S2Compressor struct{}

var _ Codec = (*S2Compressor)(nil)

// NewS2Compressor returns a new S2 compressor.
func NewS2Compressor() S2Compressor {
	return S2Compressor{}
}

// Compress compresses data, sizing its own destination buffer up front
// the way lz4.go does rather than relying on s2.Encode's fallback
// allocation.
func (c S2Compressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	dst := make([]byte, s2.MaxEncodedLen(len(data)))

	return s2.Encode(dst, data), nil
}

// Decompress reverses Compress.
func (c S2Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	return s2.Decode(nil, data)
}
