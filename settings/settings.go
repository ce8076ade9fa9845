// Package settings loads and persists the engine's tunable parameters
// as a JSON file under the storage root. This is a minimal on-disk
// settings file, not a generic config framework: just the struct and
// its round trip, the part the core engine directly depends on.
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/chronoflux/tsengine/compress"
	"github.com/chronoflux/tsengine/format"
)

// FileName is the settings file's fixed name under the storage root.
const FileName = "settings.json"

// Strategy selects which tiers participate in a write and how the
// memory tier sheds data.
type Strategy string

const (
	StrategyWAL        Strategy = "WAL"
	StrategyCompressed Strategy = "COMPRESSED"
	StrategyMemory     Strategy = "MEMORY"
	StrategyCache      Strategy = "CACHE"
)

// Settings holds every tunable parameter the engine persists alongside
// the storage root.
type Settings struct {
	WalFileSize              int      `json:"wal_file_size"`
	WalBufferSize             int      `json:"wal_buffer_size"`
	ChunkSize                 int      `json:"chunk_size"`
	Strategy                  Strategy `json:"strategy"`
	MemoryLimit                int64    `json:"memory_limit"`
	PercentWhenStartDropping  float64  `json:"percent_when_start_dropping"`
	PercentToDrop             float64  `json:"percent_to_drop"`

	// WriteWindowDeep and SyncDelta are the memory tier's late-arrival
	// window and its background-tick margin. SyncDelta is exposed as a
	// tunable rather than a hardcoded constant since DariaDB's rationale
	// for its default value is not documented.
	WriteWindowDeep uint64 `json:"write_window_deep"`
	SyncDelta       uint64 `json:"capacitor_sync_delta"`

	// ChunkCapacity and MaxChunksPerPage bound one page's geometry;
	// required to construct pagefile.Writer/chunk.New, so they travel
	// alongside the rest of the persisted configuration rather than as
	// hardcoded constants buried in the dropper.
	ChunkCapacity    int `json:"chunk_capacity"`
	MaxChunksPerPage int `json:"max_chunks_per_page"`

	// Compression selects the secondary, general-purpose byte compressor
	// applied to a chunk's packed streams before they are written into a
	// page slot, on top of the codec package's delta-of-delta/Gorilla
	// encoding.
	Compression format.CompressionType `json:"compression"`
}

// Default returns the engine's baseline configuration, used the first
// time a storage root is opened (mirrors DariaDB's Settings::set_default).
func Default() Settings {
	return Settings{
		WalFileSize:              8000,
		WalBufferSize:            2000,
		ChunkSize:                1024,
		Strategy:                 StrategyCompressed,
		MemoryLimit:              64 << 20,
		PercentWhenStartDropping: 0.75,
		PercentToDrop:            0.1,
		WriteWindowDeep:          5000,
		SyncDelta:                500,
		ChunkCapacity:            200,
		MaxChunksPerPage:         64,
		Compression:              format.CompressionS2,
	}
}

// Validate reports whether s is internally consistent: the fields that
// feed directly into on-disk geometry (ChunkSize, ChunkCapacity) and
// the configured compressor must make sense before a root is opened
// with them, since page files inherit them for their entire lifetime.
func (s Settings) Validate() error {
	if _, err := compress.CreateCodec(s.Compression, "settings.compression"); err != nil {
		return errors.Wrap(err, "settings: validate")
	}
	// 256 leaves enough room past the payload header and the
	// compression-expansion margin (see pagefile.maxPackedBytes) for at
	// least one worst-case record; anything smaller can wedge a page
	// into writing nothing but empty chunks.
	if s.ChunkSize < 256 {
		return errors.Errorf("settings: chunk_size %d is too small to hold a payload header plus any data", s.ChunkSize)
	}
	if s.ChunkCapacity < 1 {
		return errors.Errorf("settings: chunk_capacity must be positive, got %d", s.ChunkCapacity)
	}

	return nil
}

// path returns the settings file's location under root.
func path(root string) string { return filepath.Join(root, FileName) }

// Load reads root's settings file, creating it with Default() values
// if it does not yet exist (DariaDB's Settings constructor does the
// same: load if present, else set_default + save).
func Load(root string) (Settings, error) {
	p := path(root)

	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			s := Default()

			return s, Save(root, s)
		}

		return Settings{}, errors.Wrap(err, "settings: read")
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, errors.Wrap(err, "settings: parse")
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}

	return s, nil
}

// Save persists s to root's settings file using the same
// write-to-temp, fsync, then atomic-rename discipline as the manifest,
// for the same crash-safety reason.
func Save(root string, s Settings) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return errors.Wrap(err, "settings: mkdir storage root")
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "settings: marshal")
	}

	tmp := filepath.Join(root, "."+uuid.NewString()+".settings.tmp")

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return errors.Wrap(err, "settings: create temp file")
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)

		return errors.Wrap(err, "settings: write temp file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)

		return errors.Wrap(err, "settings: sync temp file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)

		return errors.Wrap(err, "settings: close temp file")
	}

	if err := os.Rename(tmp, path(root)); err != nil {
		os.Remove(tmp)

		return errors.Wrap(err, "settings: rename temp file")
	}

	return nil
}
