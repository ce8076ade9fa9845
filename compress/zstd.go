package compress

// ZstdCompressor is the compression-ratio-over-speed tier: pages
// written once and read back rarely can afford its higher CPU cost in
// exchange for a smaller on-disk footprint than S2 or LZ4.
type ZstdCompressor struct{}

var _ Codec = (*ZstdCompressor)(nil)

// NewZstdCompressor returns a new Zstd compressor with default
// settings.
func NewZstdCompressor() ZstdCompressor {
	return ZstdCompressor{}
}
