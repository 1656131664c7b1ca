package routeevent

import (
	"context"
	"sync"
	"testing"

	"github.com/m-lab/go/rtx"
)

type testHandler struct {
	added, changed, removed int
	wg                      sync.WaitGroup
}

func (h *testHandler) Added(ctx context.Context, e RouteEvent)   { h.added++; h.wg.Done() }
func (h *testHandler) Changed(ctx context.Context, e RouteEvent) { h.changed++; h.wg.Done() }
func (h *testHandler) Removed(ctx context.Context, e RouteEvent) { h.removed++; h.wg.Done() }

func TestClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir := t.TempDir()

	srv := New(dir + "/routeevents.sock").(*server)
	rtx.Must(srv.Listen(), "could not listen")
	srvCtx, srvCancel := context.WithCancel(context.Background())
	go srv.Serve(srvCtx)
	defer srvCancel()

	th := &testHandler{}
	var clientWg sync.WaitGroup
	clientWg.Add(1)
	go func() {
		MustRun(ctx, dir+"/routeevents.sock", th)
		clientWg.Done()
	}()
	th.wg.Add(3)

	srv.RouteAdded(1, sampleRoute())
	// An unrecognized kind must log and move on rather than crash.
	e := RouteEvent{Kind: RouteEventKind(1000)}
	srv.eventC <- &e
	srv.RouteChanged(1, sampleRoute())
	srv.RouteRemoved(1, sampleRoute().Key())
	th.wg.Wait()

	if th.added != 1 || th.changed != 1 || th.removed != 1 {
		t.Fatalf("unexpected handler counts: %+v", th)
	}

	cancel()
	clientWg.Wait()
}
