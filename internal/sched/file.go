package sched

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/sonroyaalmerol/schedsync/internal/syncerr"
)

// ReadFile loads the schedule list. A missing file is an empty
// schedule, not an error.
func ReadFile(path string) ([]Row, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, syncerr.IO("read schedule file", err)
	}
	var rows []Row
	if err := json.Unmarshal(b, &rows); err != nil {
		return nil, syncerr.IO("decode schedule file", err)
	}
	return rows, nil
}

// FileMtimeEpoch returns the schedule file's modification time, or 0
// when the file does not exist.
func FileMtimeEpoch(path string) (int64, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, syncerr.IO("stat schedule file", err)
	}
	return info.ModTime().Unix(), nil
}

// WriteFile atomically replaces the schedule list: temp write in the
// same directory, then rename.
func WriteFile(path string, rows []Row) error {
	if rows == nil {
		rows = []Row{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		return syncerr.IO("encode schedule file", err)
	}
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return syncerr.IO("create schedule directory", err)
	}
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return syncerr.IO("write schedule temp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return syncerr.IO("rename schedule file", err)
	}
	return nil
}
