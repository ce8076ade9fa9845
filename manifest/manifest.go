// Package manifest implements the journaled registry of live WAL and
// page filenames plus a storage-format tag, grounded on DariaDB's
// Manifest (storage/manifest.h): page_list/page_append/page_rm,
// wal_list/wal_append/wal_rm, get_format/set_format.
package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/chronoflux/tsengine/errs"
)

// FileName is the manifest's fixed name under the storage root.
const FileName = "Manifest"

// document is the on-disk shape of the manifest file.
type document struct {
	Format string   `json:"format"`
	Wal    []string `json:"wal"`
	Page   []string `json:"page"`
}

// Manifest is the single global registry of filenames backing a
// storage root; all mutations are short and protected by one mutex,
// then journaled to disk with a write-to-temp, fsync, atomic-rename
// sequence so a crash leaves either the old or the new manifest
// document, never a partly written one.
type Manifest struct {
	mu   sync.Mutex
	root string
	doc  document
}

// Open loads root's manifest, creating an empty one (format "1") if it
// does not yet exist.
func Open(root string) (*Manifest, error) {
	m := &Manifest{root: root}

	data, err := os.ReadFile(path(root))
	if err != nil {
		if os.IsNotExist(err) {
			m.doc = document{Format: "1"}

			return m, m.persist()
		}

		return nil, errors.Wrap(err, "manifest: read")
	}

	if err := json.Unmarshal(data, &m.doc); err != nil {
		return nil, errors.Wrapf(errs.ErrCorruption, "manifest: parse: %v", err)
	}

	return m, nil
}

func path(root string) string { return filepath.Join(root, FileName) }

// persist must be called with mu held.
func (m *Manifest) persist() error {
	data, err := json.MarshalIndent(m.doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "manifest: marshal")
	}

	tmp := filepath.Join(m.root, "."+uuid.NewString()+".manifest.tmp")

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return errors.Wrap(err, "manifest: create temp file")
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)

		return errors.Wrap(err, "manifest: write temp file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)

		return errors.Wrap(err, "manifest: sync temp file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)

		return errors.Wrap(err, "manifest: close temp file")
	}

	if err := os.Rename(tmp, path(m.root)); err != nil {
		os.Remove(tmp)

		return errors.Wrap(err, "manifest: rename temp file")
	}

	return nil
}

// PageList returns the currently registered page base names.
func (m *Manifest) PageList() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.doc.Page))
	copy(out, m.doc.Page)

	return out
}

// PageAppend registers name as a live page, persisting the change
// before returning.
func (m *Manifest) PageAppend(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.doc.Page {
		if existing == name {
			return nil
		}
	}

	m.doc.Page = append(m.doc.Page, name)

	return m.persist()
}

// PageRm removes name from the live-page set.
func (m *Manifest) PageRm(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.doc.Page = removeString(m.doc.Page, name)

	return m.persist()
}

// WalList returns the currently registered WAL base names.
func (m *Manifest) WalList() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.doc.Wal))
	copy(out, m.doc.Wal)

	return out
}

// WalAppend registers name as a live WAL file.
func (m *Manifest) WalAppend(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.doc.Wal {
		if existing == name {
			return nil
		}
	}

	m.doc.Wal = append(m.doc.Wal, name)

	return m.persist()
}

// WalRm removes name from the live-WAL set.
func (m *Manifest) WalRm(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.doc.Wal = removeString(m.doc.Wal, name)

	return m.persist()
}

// GetFormat returns the storage-format version tag.
func (m *Manifest) GetFormat() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.doc.Format
}

// SetFormat updates the storage-format version tag.
func (m *Manifest) SetFormat(version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.doc.Format = version

	return m.persist()
}

func removeString(ss []string, target string) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}

	return out
}
