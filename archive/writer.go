package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/openolsr/olsrv2d/metrics"
	"github.com/openolsr/olsrv2d/zstd"
)

// Writer appends Snapshots as JSONL to a zstd-compressed file in Dir,
// rotating to a freshly named file every FileAgeLimit. It plays
// saver.Saver's role (one open writer, rotated by age) but for a single
// continuous stream of snapshots instead of per-connection files, since
// a routing daemon has one topology database, not one file per flow.
type Writer struct {
	Dir          string
	FileAgeLimit time.Duration

	current    io.WriteCloser
	expiration time.Time
	newWriter  func(filename string) (io.WriteCloser, error) // swappable for tests
}

// NewWriter creates a Writer rooted at dir, rotating every ageLimit.
func NewWriter(dir string, ageLimit time.Duration) *Writer {
	return &Writer{Dir: dir, FileAgeLimit: ageLimit, newWriter: zstd.NewWriter}
}

// Append JSON-encodes s as one line and writes it to the current file,
// rotating first if the file has aged out.
func (w *Writer) Append(now time.Time, s Snapshot) error {
	if w.current == nil || !now.Before(w.expiration) {
		if err := w.rotate(now, s.RunID); err != nil {
			return err
		}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if _, err := w.current.Write(append(b, '\n')); err != nil {
		return err
	}
	metrics.ArchiveSnapshotsWritten.Inc()
	return nil
}

func (w *Writer) rotate(now time.Time, runID string) error {
	if w.current != nil {
		if err := w.current.Close(); err != nil {
			return err
		}
	}
	name := fmt.Sprintf("%s_%s.jsonl.zst", runID, now.UTC().Format("20060102T150405.000"))
	writer, err := w.newWriter(filepath.Join(w.Dir, name))
	if err != nil {
		return err
	}
	w.current = writer
	w.expiration = now.Add(w.FileAgeLimit)
	metrics.ArchiveFileRotations.Inc()
	return nil
}

// Close closes the current file, if any.
func (w *Writer) Close() error {
	if w.current == nil {
		return nil
	}
	err := w.current.Close()
	w.current = nil
	return err
}
