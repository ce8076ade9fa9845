package pagefile

import (
	"github.com/pkg/errors"

	"github.com/chronoflux/tsengine/codec"
	"github.com/chronoflux/tsengine/compress"
	"github.com/chronoflux/tsengine/errs"
	"github.com/chronoflux/tsengine/format"
)

// payloadHeaderSize: count(4) + timeLen(4) + valueLen(4) + flagLen(4) +
// idLen(4) + crc(4) + compressionType(1) + pad(3) + compressedLen(4).
const payloadHeaderSize = 32

// compressionExpansionMargin bounds how much bigger the secondary
// compression pass can make an already-incompressible payload (block
// magic, frame headers, checksums) across None/S2/LZ4/Zstd.
const compressionExpansionMargin = 64

// maxPackedBytes returns the raw, pre-compression byte budget the four
// codec streams must stay under so the chunk still fits chunkSize even
// when compression cannot shrink it at all. Used to seal a chunk before
// encodePayload ever sees it, rather than discovering the overflow
// there with no way to split the chunk.
func maxPackedBytes(chunkSize int) int {
	budget := chunkSize - payloadHeaderSize - compressionExpansionMargin
	if budget < 1 {
		return 1
	}

	return budget
}

// encodePayload packs a chunk's four streams plus its CRC into a
// single byte slice sized to fit within chunkSize. The concatenated
// streams are run through the secondary general-purpose compressor
// selected by ct before being written into the fixed-size slot; this
// is the block-level pass on top of the codec package's delta-of-delta
// and Gorilla encoding. It returns an error if the compressed payload
// would not fit in chunkSize.
func encodePayload(s codec.Streams, crc uint32, chunkSize int, ct format.CompressionType) ([]byte, error) {
	raw := make([]byte, 0, len(s.Time)+len(s.Value)+len(s.Flag)+len(s.Id))
	raw = append(raw, s.Time...)
	raw = append(raw, s.Value...)
	raw = append(raw, s.Flag...)
	raw = append(raw, s.Id...)

	cdc, err := compress.GetCodec(ct)
	if err != nil {
		return nil, errors.Wrap(err, "pagefile: compression codec")
	}

	packed, err := cdc.Compress(raw)
	if err != nil {
		return nil, errors.Wrap(err, "pagefile: compress chunk payload")
	}

	total := payloadHeaderSize + len(packed)
	if total > chunkSize {
		return nil, errors.Wrap(errs.ErrFull, "pagefile: chunk payload exceeds chunk_size")
	}

	buf := make([]byte, chunkSize)
	le.PutUint32(buf[0:4], uint32(s.Count))
	le.PutUint32(buf[4:8], uint32(len(s.Time)))
	le.PutUint32(buf[8:12], uint32(len(s.Value)))
	le.PutUint32(buf[12:16], uint32(len(s.Flag)))
	le.PutUint32(buf[16:20], uint32(len(s.Id)))
	le.PutUint32(buf[20:24], crc)
	buf[24] = byte(ct)
	le.PutUint32(buf[28:32], uint32(len(packed)))

	copy(buf[payloadHeaderSize:], packed)

	return buf, nil
}

// decodePayload unpacks a chunk slot back into its streams and CRC,
// reversing encodePayload's compression pass.
func decodePayload(buf []byte) (codec.Streams, uint32, error) {
	if len(buf) < payloadHeaderSize {
		return codec.Streams{}, 0, errors.Wrap(errs.ErrCorruption, "pagefile: short chunk payload")
	}

	count := int(le.Uint32(buf[0:4]))
	timeLen := int(le.Uint32(buf[4:8]))
	valueLen := int(le.Uint32(buf[8:12]))
	flagLen := int(le.Uint32(buf[12:16]))
	idLen := int(le.Uint32(buf[16:20]))
	crc := le.Uint32(buf[20:24])
	ct := format.CompressionType(buf[24])
	packedLen := int(le.Uint32(buf[28:32]))

	if payloadHeaderSize+packedLen > len(buf) {
		return codec.Streams{}, 0, errors.Wrap(errs.ErrCorruption, "pagefile: truncated chunk payload")
	}

	cdc, err := compress.GetCodec(ct)
	if err != nil {
		return codec.Streams{}, 0, errors.Wrap(err, "pagefile: compression codec")
	}

	raw, err := cdc.Decompress(buf[payloadHeaderSize : payloadHeaderSize+packedLen])
	if err != nil {
		return codec.Streams{}, 0, errors.Wrap(errs.ErrCorruption, "pagefile: decompress chunk payload")
	}

	need := timeLen + valueLen + flagLen + idLen
	if need > len(raw) {
		return codec.Streams{}, 0, errors.Wrap(errs.ErrCorruption, "pagefile: truncated decompressed payload")
	}

	s := codec.Streams{Count: count}
	off := 0
	s.Time = cloneSlice(raw[off : off+timeLen])
	off += timeLen
	s.Value = cloneSlice(raw[off : off+valueLen])
	off += valueLen
	s.Flag = cloneSlice(raw[off : off+flagLen])
	off += flagLen
	s.Id = cloneSlice(raw[off : off+idLen])

	return s, crc, nil
}

func cloneSlice(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)

	return out
}
