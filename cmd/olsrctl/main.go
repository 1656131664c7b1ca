// Command olsrctl dumps an archive snapshot file's route table as CSV,
// for ad-hoc inspection of what a node believed its routes were at some
// point in the past. See the archive package's Snapshot type for the
// snapshot file format.
package main

import (
	"io"
	"log"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/m-lab/go/rtx"

	"github.com/openolsr/olsrv2d/archive"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

// A variable to enable mocking for testing.
var logFatal = log.Fatal

// readSnapshots reads every Snapshot out of fn, decompressing through
// zstd when its name ends in .zst and reading a plain JSONL stream
// otherwise.
func readSnapshots(fn string) ([]archive.Snapshot, error) {
	if strings.HasSuffix(fn, ".zst") {
		return archive.LoadAll(fn)
	}
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := archive.NewReader(f)
	var out []archive.Snapshot
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

// toCSV flattens every snapshot's routes (across every domain) into one
// CSV table, in file order.
func toCSV(snapshots []archive.Snapshot, wtr io.Writer) error {
	var rows []archive.RouteSnapshot
	for _, s := range snapshots {
		rows = append(rows, s.Routes...)
	}
	return gocsv.Marshal(rows, wtr)
}

func main() {
	args := os.Args[1:]
	if len(args) != 1 {
		logFatal("Usage: olsrctl <snapshot-file>")
		return
	}

	snaps, err := readSnapshots(args[0])
	rtx.Must(err, "Could not read snapshots from %q", args[0])
	rtx.Must(toCSV(snaps, os.Stdout), "Could not convert snapshots to CSV")
}
