// Package compress implements the secondary, general-purpose byte
// compression pass applied to a chunk's packed streams once the codec
// package's delta-of-delta and Gorilla encoding has already exploited
// the data's own structure.
//
// A chunk's Time/Value/Flag/Id streams are concatenated and handed to
// one of these codecs before being written into a page's fixed-size
// chunk slot (pagefile.encodePayload); the chosen algorithm is the
// settings.Settings.Compression field, recorded in each chunk's payload
// header and read back from there on decode so old pages keep working
// if the default changes.
//
//   - None: no-op, for data the codec stage already squeezed dry
//   - S2: the default; fast enough not to matter on the write path
//   - LZ4: fastest decompression, favors read-heavy workloads
//   - Zstd: best ratio, for cold data that's rarely read back
package compress
