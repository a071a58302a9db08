// Package store persists the operator settings document, AppConfig.json.
//
// The document is a flat JSON object shared with other tools, so reads pick
// out the three keys forgerunner owns and writes patch only those keys,
// leaving everything else in the file untouched.
package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
)

// Document keys.
const (
	KeyMaxHeap       = "Xmx"
	KeyMinHeap       = "Xms"
	KeyTunnelEnabled = "PlayItSupportEnabled"
)

// DefaultHeap is used for blank heap values.
const DefaultHeap = "2G"

const filePermissions = 0644

// Configuration is the operator-editable run configuration.
type Configuration struct {
	MaxHeap       string `json:"max_heap"`
	MinHeap       string `json:"min_heap"`
	TunnelEnabled bool   `json:"tunnel_enabled"`
}

// DefaultConfiguration returns 2G/2G with the tunnel disabled.
func DefaultConfiguration() Configuration {
	return Configuration{MaxHeap: DefaultHeap, MinHeap: DefaultHeap}
}

// Normalize trims heap values and replaces blanks with DefaultHeap.
func (c Configuration) Normalize() Configuration {
	c.MaxHeap = strings.TrimSpace(c.MaxHeap)
	c.MinHeap = strings.TrimSpace(c.MinHeap)
	if c.MaxHeap == "" {
		c.MaxHeap = DefaultHeap
	}
	if c.MinHeap == "" {
		c.MinHeap = DefaultHeap
	}
	return c
}

// Store loads and saves the configuration.
type Store interface {
	Load() (Configuration, error)
	Save(Configuration) error
}

// FileStore keeps the configuration in a JSON file.
type FileStore struct {
	path string

	mu        sync.Mutex
	lastWrite []byte
}

// NewFileStore returns a store for the document at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the document path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the document. The returned Configuration is always usable: a
// missing file yields defaults and no error, an unreadable or malformed
// file yields defaults together with an error describing why.
func (s *FileStore) Load() (Configuration, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return DefaultConfiguration(), nil
	}
	if err != nil {
		return DefaultConfiguration(), fmt.Errorf("%w: reading %s: %v", ErrIO, s.path, err)
	}
	return decode(data)
}

func decode(data []byte) (Configuration, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return DefaultConfiguration(), nil
	}
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return DefaultConfiguration(), ErrMalformed
	}

	cfg := Configuration{
		MaxHeap: gjson.GetBytes(data, KeyMaxHeap).String(),
		MinHeap: gjson.GetBytes(data, KeyMinHeap).String(),
	}
	if v := gjson.GetBytes(data, KeyTunnelEnabled); v.IsBool() {
		cfg.TunnelEnabled = v.Bool()
	}
	return cfg.Normalize(), nil
}

// Save writes the three owned keys, preserving any other keys already in
// the document. A malformed existing document is replaced.
func (s *FileStore) Save(cfg Configuration) error {
	cfg = cfg.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := os.ReadFile(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: reading %s: %v", ErrIO, s.path, err)
	}
	if !gjson.ValidBytes(doc) || !gjson.ParseBytes(doc).IsObject() {
		doc = []byte("{}")
	}

	for _, kv := range []struct {
		key   string
		value any
	}{
		{KeyMaxHeap, cfg.MaxHeap},
		{KeyMinHeap, cfg.MinHeap},
		{KeyTunnelEnabled, cfg.TunnelEnabled},
	} {
		if doc, err = sjson.SetBytes(doc, kv.key, kv.value); err != nil {
			return fmt.Errorf("setting %s: %w", kv.key, err)
		}
	}
	doc = pretty.Pretty(doc)

	if err := writeAtomic(s.path, doc); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	s.lastWrite = doc
	return nil
}

// ownWrite reports whether data is exactly what Save last wrote.
func (s *FileStore) ownWrite(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastWrite != nil && bytes.Equal(s.lastWrite, data)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck // already failing
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Chmod(filePermissions); err != nil {
		tmp.Close() //nolint:errcheck // already failing
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
