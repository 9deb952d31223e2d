package dedup

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/logging"
)

// Store is the set of licitacion ids already accepted by the remote system.
// Entries are never removed.
type Store interface {
	Has(id string) bool
	Add(id string) error
	AddMany(ids []string) error
	Len() int
	Close() error
}

type record struct {
	LicitacionID string    `json:"licitacion_id"`
	CreatedAt    time.Time `json:"created_at"`
}

type document struct {
	Records []record `json:"records"`
}

// FileStore keeps the id set in memory and mirrors it to a single JSON
// document. Only one process may write a given store file.
type FileStore struct {
	path   string
	logger *logrus.Entry

	mu    sync.Mutex
	ids   map[string]time.Time
	dirty bool

	// swapped in tests to simulate a crash between write and rename
	rename func(oldpath, newpath string) error
	now    func() time.Time
}

var _ Store = (*FileStore)(nil)

// Open loads the store at path. A missing file yields an empty store; an
// unreadable document is moved aside and the store starts empty.
func Open(path string, logger logrus.FieldLogger) (*FileStore, error) {
	s := &FileStore{
		path:   path,
		logger: logging.ForSession(logger, logging.CategoryDedup, "").WithField("store", path),
		ids:    make(map[string]time.Time),
		rename: os.Rename,
		now:    time.Now,
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Info("dedup store not found, starting empty")
			return s, nil
		}
		return nil, fmt.Errorf("failed to read dedup store %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		aside := fmt.Sprintf("%s.corrupt-%s", path, s.now().Format("20060102T150405"))
		if rerr := os.Rename(path, aside); rerr != nil {
			s.logger.WithError(rerr).Error("failed to move corrupt dedup store aside")
		}
		s.logger.WithError(err).WithField("moved_to", aside).Warn("dedup store is corrupt, every record will be treated as new")
		return s, nil
	}

	for _, r := range doc.Records {
		id := strings.TrimSpace(r.LicitacionID)
		if id == "" {
			continue
		}
		if _, ok := s.ids[id]; !ok {
			s.ids[id] = r.CreatedAt
		}
	}
	s.logger.WithField("records", len(s.ids)).Info("dedup store loaded")
	return s, nil
}

func (s *FileStore) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[strings.TrimSpace(id)]
	return ok
}

func (s *FileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// IDs returns the stored ids in ascending order.
func (s *FileStore) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *FileStore) Add(id string) error {
	return s.AddMany([]string{id})
}

// AddMany inserts ids and, when the set changed, rewrites the whole document.
// On a persistence error the ids stay in memory and the store stays dirty.
func (s *FileStore) AddMany(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	changed := false
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := s.ids[id]; ok {
			continue
		}
		s.ids[id] = now
		changed = true
	}
	if !changed {
		return nil
	}

	s.dirty = true
	if err := s.persist(); err != nil {
		s.logger.WithError(err).Error("failed to persist dedup store, keeping ids in memory")
		return err
	}
	return nil
}

// Close flushes pending changes.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	return s.persist()
}

// persist writes the full set to a temp file in the store directory and renames
// it over the store, so the store file is always a complete document.
func (s *FileStore) persist() error {
	doc := document{Records: make([]record, 0, len(s.ids))}
	for id, createdAt := range s.ids {
		doc.Records = append(doc.Records, record{LicitacionID: id, CreatedAt: createdAt})
	}
	sort.Slice(doc.Records, func(i, j int) bool { return doc.Records[i].LicitacionID < doc.Records[j].LicitacionID })

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode dedup store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", s.path, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := s.rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}

	s.dirty = false
	return nil
}
