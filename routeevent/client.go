package routeevent

import (
	"bufio"
	"context"
	"encoding/json"
	"log"
	"net"
	"strings"

	"github.com/m-lab/go/rtx"
)

// Handler receives decoded RouteEvents as MustRun scans them off the
// socket, one call per JSONL line.
type Handler interface {
	Added(ctx context.Context, e RouteEvent)
	Changed(ctx context.Context, e RouteEvent)
	Removed(ctx context.Context, e RouteEvent)
}

// MustRun connects to socket and delivers events to handler until ctx
// is canceled. Any error other than the connection closing is fatal,
// matching the teacher's eventsocket.MustRun contract for a diagnostic
// sidecar tool that has no sensible way to keep running after its feed
// breaks.
func MustRun(ctx context.Context, socket string, handler Handler) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c, err := net.Dial("unix", socket)
	rtx.Must(err, "routeevent: could not connect to %q", socket)
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	s := bufio.NewScanner(c)
	for s.Scan() {
		var e RouteEvent
		rtx.Must(json.Unmarshal(s.Bytes(), &e), "routeevent: could not unmarshal event")
		switch e.Kind {
		case Added:
			handler.Added(ctx, e)
		case Changed:
			handler.Changed(ctx, e)
		case Removed:
			handler.Removed(ctx, e)
		default:
			log.Println("routeevent: unknown event kind:", e.Kind)
		}
	}

	// Closing c to unblock the scanner (above, on ctx.Done) surfaces as
	// an unexported "use of closed network connection" error rather than
	// io.EOF; treat it the same as the expected-EOF case Scanner already
	// swallows.
	err = s.Err()
	if err != nil && strings.Contains(err.Error(), "use of closed network connection") {
		err = nil
	}
	rtx.Must(err, "routeevent: scanning %q died with a non-EOF error", socket)
}
