package archive

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/openolsr/olsrv2d/zstd"
)

// Reader decodes Snapshots from a JSONL stream, one per line, playing
// snapshot.Reader's role against this package's own wire format.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps an already-open (decompressed) stream of JSONL
// Snapshot records.
func NewReader(r io.Reader) *Reader {
	return &Reader{scanner: bufio.NewScanner(r)}
}

// Open opens filename through the external zstd decompressor and
// returns a Reader over the decompressed stream, plus the underlying
// ReadCloser the caller must Close when done.
func Open(filename string) (*Reader, io.Closer) {
	rc := zstd.NewReader(filename)
	return NewReader(rc), rc
}

// Next decodes the next Snapshot, or returns io.EOF once the stream is
// exhausted.
func (r *Reader) Next() (*Snapshot, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	var s Snapshot
	if err := json.Unmarshal(r.scanner.Bytes(), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadAll reads every Snapshot out of filename.
func LoadAll(filename string) ([]Snapshot, error) {
	r, closer := Open(filename)
	defer closer.Close()

	var out []Snapshot
	for {
		s, err := r.Next()
		if err != nil {
			if err == io.EOF {
				return out, nil
			}
			return out, err
		}
		out = append(out, *s)
	}
}
