package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ErlanBelekov/keepwarm/internal/domain"
	"github.com/ErlanBelekov/keepwarm/internal/repository"
	"go.yaml.in/yaml/v3"
)

// Store keeps every model record in one human-readable YAML document:
//
//	models:
//	  <model id>:
//	    definition: {...}
//	    state: {...}
//	    updated_at: ...
//
// Records that fail to decode are reported as skipped and written back
// verbatim on every rewrite, so a hand-edit mistake never loses data.
type Store struct {
	path        string
	maxInterval int
	logger      *slog.Logger

	mu      sync.Mutex
	records map[string]*domain.ModelRecord
	raw     map[string]*yaml.Node
	loaded  bool
}

func New(path string, maxIntervalMinutes int, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("file store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{
		path:        path,
		maxInterval: maxIntervalMinutes,
		logger:      logger.With("component", "filestore"),
		records:     make(map[string]*domain.ModelRecord),
		raw:         make(map[string]*yaml.Node),
	}, nil
}

func (s *Store) Load(_ context.Context) (repository.LoadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readLocked(); err != nil {
		return repository.LoadResult{}, err
	}

	res := repository.LoadResult{Records: make(map[string]*domain.ModelRecord, len(s.records))}
	for id, rec := range s.records {
		res.Records[id] = rec.Clone()
	}
	for id := range s.raw {
		res.Skipped = append(res.Skipped, repository.SkippedRecord{ModelID: id, Err: s.decodeErr(id)})
	}
	sort.Slice(res.Skipped, func(i, j int) bool { return res.Skipped[i].ModelID < res.Skipped[j].ModelID })
	return res, nil
}

func (s *Store) Save(_ context.Context, rec *domain.ModelRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}
	id := rec.Definition.ModelID
	prev, hadPrev := s.records[id]
	prevRaw, hadRaw := s.raw[id]

	s.records[id] = rec.Clone()
	delete(s.raw, id)
	if err := s.writeLocked(); err != nil {
		if hadPrev {
			s.records[id] = prev
		} else {
			delete(s.records, id)
		}
		if hadRaw {
			s.raw[id] = prevRaw
		}
		return err
	}
	return nil
}

func (s *Store) Delete(_ context.Context, modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}
	prev, hadPrev := s.records[modelID]
	prevRaw, hadRaw := s.raw[modelID]
	if !hadPrev && !hadRaw {
		return nil
	}

	delete(s.records, modelID)
	delete(s.raw, modelID)
	if err := s.writeLocked(); err != nil {
		if hadPrev {
			s.records[modelID] = prev
		}
		if hadRaw {
			s.raw[modelID] = prevRaw
		}
		return err
	}
	return nil
}

func (s *Store) ListAll(_ context.Context) ([]*domain.ModelRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	out := make([]*domain.ModelRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Definition.ModelID < out[j].Definition.ModelID })
	return out, nil
}

// Ping checks that the store directory is still writable.
func (s *Store) Ping(_ context.Context) error {
	f, err := os.CreateTemp(filepath.Dir(s.path), ".ping-*")
	if err != nil {
		return fmt.Errorf("store dir not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func (s *Store) Close() error { return nil }

type document struct {
	Models map[string]yaml.Node `yaml:"models"`
}

func (s *Store) ensureLoadedLocked() error {
	if s.loaded {
		return nil
	}
	return s.readLocked()
}

func (s *Store) readLocked() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.records = make(map[string]*domain.ModelRecord)
		s.raw = make(map[string]*yaml.Node)
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("read store: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrStoreCorrupt, s.path, err)
	}

	records := make(map[string]*domain.ModelRecord, len(doc.Models))
	raw := make(map[string]*yaml.Node)
	for id, node := range doc.Models {
		rec, err := s.decode(id, &node)
		if err != nil {
			n := node
			raw[id] = &n
			s.logger.Warn("malformed record kept on disk", "model_id", id, "error", err)
			continue
		}
		records[id] = rec
	}
	s.records, s.raw, s.loaded = records, raw, true
	return nil
}

func (s *Store) decode(id string, node *yaml.Node) (*domain.ModelRecord, error) {
	var rec domain.ModelRecord
	if err := node.Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if rec.Definition.ModelID == "" {
		rec.Definition.ModelID = id
	}
	if rec.Definition.ModelID != id {
		return nil, fmt.Errorf("key %q does not match model_id %q", id, rec.Definition.ModelID)
	}
	if err := rec.Definition.Validate(s.maxInterval); err != nil {
		return nil, err
	}
	if rec.State.Status == "" {
		rec.State.Status = domain.StatusIdle
	}
	if !rec.State.Status.Valid() {
		return nil, fmt.Errorf("unknown status %q", rec.State.Status)
	}
	return &rec, nil
}

func (s *Store) decodeErr(id string) error {
	node, ok := s.raw[id]
	if !ok {
		return nil
	}
	_, err := s.decode(id, node)
	return err
}

// writeLocked rewrites the whole document through a temp file in the same
// directory, fsyncs it, then renames it over the old one.
func (s *Store) writeLocked() error {
	models := &yaml.Node{Kind: yaml.MappingNode}
	ids := make([]string, 0, len(s.records)+len(s.raw))
	for id := range s.records {
		ids = append(ids, id)
	}
	for id := range s.raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		var value *yaml.Node
		if rec, ok := s.records[id]; ok {
			value = &yaml.Node{}
			if err := value.Encode(rec); err != nil {
				return fmt.Errorf("encode %s: %w", id, err)
			}
		} else {
			value = s.raw[id]
		}
		models.Content = append(models.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: id}, value)
	}

	root := &yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{
		{Kind: yaml.ScalarNode, Value: "models"},
		models,
	}}
	data, err := yaml.Marshal(root)
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}
