// Package filestore persists the reconciler state as flat JSON files
// in a state directory. Every write goes through a temp file and a
// rename so a crash never leaves a torn document.
package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/schedsync/internal/core/manifest"
	"github.com/sonroyaalmerol/schedsync/internal/core/reconcile"
	"github.com/sonroyaalmerol/schedsync/internal/state"
	"github.com/sonroyaalmerol/schedsync/internal/syncerr"
)

type Store struct {
	root   string
	logger zerolog.Logger
}

// New creates or opens a state directory.
func New(root string, logger zerolog.Logger) (*Store, error) {
	if root == "" {
		return nil, syncerr.IO("state directory required", nil)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, syncerr.IO("create state directory", err)
	}
	return &Store{root: root, logger: logger}, nil
}

func (s *Store) Close() {}

func (s *Store) path(doc string) string {
	return filepath.Join(s.root, doc+".json")
}

func (s *Store) LoadManifest(ctx context.Context) (*manifest.Manifest, error) {
	return s.loadManifest(state.DocManifest)
}

func (s *Store) SaveManifest(ctx context.Context, m *manifest.Manifest) error {
	return s.saveManifest(state.DocManifest, m)
}

// The draft is a work-in-progress document: it skips the invariant
// checks so adoption can stage partial state, and only the durable
// manifest save enforces them.
func (s *Store) LoadDraft(ctx context.Context) (*manifest.Manifest, error) {
	b, err := os.ReadFile(s.path(state.DocDraft))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, syncerr.IO("read "+state.DocDraft, err)
	}
	return manifest.Decode(b)
}

func (s *Store) SaveDraft(ctx context.Context, m *manifest.Manifest) error {
	b, err := m.Encode()
	if err != nil {
		return syncerr.IO("encode "+state.DocDraft, err)
	}
	return s.writeAtomic(state.DocDraft, b)
}

func (s *Store) ClearDraft(ctx context.Context) error {
	err := os.Remove(s.path(state.DocDraft))
	if err != nil && !os.IsNotExist(err) {
		return syncerr.IO("remove draft", err)
	}
	return nil
}

func (s *Store) loadManifest(doc string) (*manifest.Manifest, error) {
	b, err := os.ReadFile(s.path(doc))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, syncerr.IO("read "+doc, err)
	}
	m, err := manifest.Decode(b)
	if err != nil {
		return nil, err
	}
	if err := manifest.Validate(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) saveManifest(doc string, m *manifest.Manifest) error {
	if err := manifest.Validate(m); err != nil {
		return err
	}
	b, err := m.Encode()
	if err != nil {
		return syncerr.IO("encode "+doc, err)
	}
	return s.writeAtomic(doc, b)
}

func (s *Store) LoadTimestamps(ctx context.Context) (*state.Timestamps, error) {
	var t state.Timestamps
	ok, err := s.loadJSON(state.DocTimestamps, &t)
	if err != nil {
		return nil, err
	}
	if !ok {
		return state.NewTimestamps(), nil
	}
	if t.Events == nil {
		t.Events = make(map[string]state.Stamp)
	}
	return &t, nil
}

func (s *Store) SaveTimestamps(ctx context.Context, t *state.Timestamps) error {
	t.Version = state.TimestampsVersion
	return s.saveJSON(state.DocTimestamps, t)
}

func (s *Store) LoadTombstones(ctx context.Context) (reconcile.Tombstones, error) {
	var doc state.TombstoneDoc
	ok, err := s.loadJSON(state.DocTombstones, &doc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return reconcile.NewTombstones(), nil
	}
	return state.DecodeTombstones(doc), nil
}

func (s *Store) SaveTombstones(ctx context.Context, t reconcile.Tombstones) error {
	return s.saveJSON(state.DocTombstones, state.EncodeTombstones(t))
}

func (s *Store) loadJSON(doc string, v any) (bool, error) {
	b, err := os.ReadFile(s.path(doc))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, syncerr.IO("read "+doc, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, syncerr.IO("decode "+doc, err)
	}
	return true, nil
}

func (s *Store) saveJSON(doc string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return syncerr.IO("encode "+doc, err)
	}
	return s.writeAtomic(doc, buf.Bytes())
}

func (s *Store) writeAtomic(doc string, b []byte) error {
	path := s.path(doc)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return syncerr.IO("write "+doc, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return syncerr.IO("rename "+doc, err)
	}
	s.logger.Debug().Str("doc", doc).Int("bytes", len(b)).Msg("state document written")
	return nil
}
