package state

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/sonroyaalmerol/schedsync/internal/core/manifest"
	"github.com/sonroyaalmerol/schedsync/internal/core/reconcile"
	"github.com/sonroyaalmerol/schedsync/internal/syncerr"
)

// Documents adapts a byte-oriented document backend to the typed load
// and save operations shared by the database backends. Load returns
// nil bytes for a missing document.
type Documents struct {
	Load   func(ctx context.Context, name string) ([]byte, error)
	Save   func(ctx context.Context, name string, body []byte) error
	Remove func(ctx context.Context, name string) error
}

func (d Documents) LoadManifestDoc(ctx context.Context, name string) (*manifest.Manifest, error) {
	b, err := d.Load(ctx, name)
	if err != nil || b == nil {
		return nil, err
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

func (d Documents) SaveManifestDoc(ctx context.Context, name string, m *manifest.Manifest) error {
	if err := manifest.Validate(m); err != nil {
		return err
	}
	b, err := m.Encode()
	if err != nil {
		return syncerr.IO("encode "+name, err)
	}
	return d.Save(ctx, name, b)
}

// Draft documents skip invariant enforcement: only the durable manifest
// validates on save and load.
func (d Documents) LoadDraftDoc(ctx context.Context) (*manifest.Manifest, error) {
	b, err := d.Load(ctx, DocDraft)
	if err != nil || b == nil {
		return nil, err
	}
	return manifest.Decode(b)
}

func (d Documents) SaveDraftDoc(ctx context.Context, m *manifest.Manifest) error {
	b, err := m.Encode()
	if err != nil {
		return syncerr.IO("encode "+DocDraft, err)
	}
	return d.Save(ctx, DocDraft, b)
}

func (d Documents) LoadTimestampsDoc(ctx context.Context) (*Timestamps, error) {
	b, err := d.Load(ctx, DocTimestamps)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return NewTimestamps(), nil
	}
	var t Timestamps
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, syncerr.IO("decode "+DocTimestamps, err)
	}
	if t.Events == nil {
		t.Events = make(map[string]Stamp)
	}
	return &t, nil
}

func (d Documents) SaveTimestampsDoc(ctx context.Context, t *Timestamps) error {
	t.Version = TimestampsVersion
	return d.saveJSON(ctx, DocTimestamps, t)
}

func (d Documents) LoadTombstonesDoc(ctx context.Context) (reconcile.Tombstones, error) {
	b, err := d.Load(ctx, DocTombstones)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return reconcile.NewTombstones(), nil
	}
	var doc TombstoneDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, syncerr.IO("decode "+DocTombstones, err)
	}
	return DecodeTombstones(doc), nil
}

func (d Documents) SaveTombstonesDoc(ctx context.Context, t reconcile.Tombstones) error {
	return d.saveJSON(ctx, DocTombstones, EncodeTombstones(t))
}

func (d Documents) saveJSON(ctx context.Context, name string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return syncerr.IO("encode "+name, err)
	}
	return d.Save(ctx, name, buf.Bytes())
}
