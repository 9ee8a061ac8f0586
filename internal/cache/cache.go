package cache

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Metadata is the human-readable header stored with each cache entry.
type Metadata struct {
	CreatedAt   time.Time `json:"created_at"`
	Filters     string    `json:"filters"`
	RecordCount int       `json:"record_count"`
}

// Entry is one cache hit: the raw export payload and how old it is.
// Staleness policy belongs to the caller, not the store.
type Entry struct {
	Payload  []byte
	Metadata Metadata
	Age      time.Duration
}

// Store is a content-addressed, age-bounded cache of raw export
// payloads, keyed by request fingerprint. One file per fingerprint:
// a JSON metadata header line followed by the payload.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore opens (and creates if needed) the cache directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir %s: %w", dir, err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

func (s *Store) path(fingerprint string) string {
	return filepath.Join(s.dir, "vulns_"+fingerprint+".ndjson")
}

// Get returns the entry for a fingerprint, if present and readable.
// A stale entry is still returned with its age; unreadable or corrupt
// entries are treated as absent, never raised as fatal.
func (s *Store) Get(fingerprint string) (*Entry, bool) {
	f, err := os.Open(s.path(fingerprint))
	if err != nil {
		return nil, false
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	header, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, false
	}

	var meta Metadata
	if err := json.Unmarshal(header, &meta); err != nil || meta.CreatedAt.IsZero() {
		return nil, false
	}

	var payload bytes.Buffer
	if _, err := payload.ReadFrom(reader); err != nil {
		return nil, false
	}

	return &Entry{
		Payload:  payload.Bytes(),
		Metadata: meta,
		Age:      s.now().Sub(meta.CreatedAt),
	}, true
}

// Info returns the metadata and age of an entry without loading the payload.
func (s *Store) Info(fingerprint string) (*Metadata, time.Duration, bool) {
	f, err := os.Open(s.path(fingerprint))
	if err != nil {
		return nil, 0, false
	}
	defer f.Close()

	header, err := bufio.NewReader(f).ReadBytes('\n')
	if err != nil {
		return nil, 0, false
	}
	var meta Metadata
	if err := json.Unmarshal(header, &meta); err != nil || meta.CreatedAt.IsZero() {
		return nil, 0, false
	}
	return &meta, s.now().Sub(meta.CreatedAt), true
}

// Put writes an entry atomically: to a temp file first, then rename,
// so a crashed write never yields a corrupt entry.
func (s *Store) Put(fingerprint string, payload []byte, filterDescription string, recordCount int) error {
	meta := Metadata{
		CreatedAt:   s.now().UTC(),
		Filters:     filterDescription,
		RecordCount: recordCount,
	}
	header, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "vulns_*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create cache temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(header, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, s.path(fingerprint))
}

// IsStale reports whether an entry age exceeds the given ceiling.
func IsStale(age time.Duration, maxAgeHours int) bool {
	return age > time.Duration(maxAgeHours)*time.Hour
}

// Clear removes all cached entries.
func (s *Store) Clear() error {
	matches, err := filepath.Glob(filepath.Join(s.dir, "vulns_*.ndjson"))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			return err
		}
	}
	return nil
}
