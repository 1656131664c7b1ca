package routeevent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"sync"

	"github.com/openolsr/olsrv2d/addr"
	"github.com/openolsr/olsrv2d/fib"
	"github.com/openolsr/olsrv2d/metrics"
)

// Server is the interface with the methods that serve route-change
// events over a unix-domain socket. Construct with New, or use
// NullServer when diagnostic archiving is disabled but a caller still
// wants a non-nil Server to hold.
type Server interface {
	Listen() error
	Serve(context.Context) error
	RouteAdded(domain int, r fib.Route)
	RouteChanged(domain int, r fib.Route)
	RouteRemoved(domain int, k addr.RouteKey)
}

type server struct {
	eventC       chan *RouteEvent
	filename     string
	clients      map[net.Conn]struct{}
	unixListener net.Listener
	mutex        sync.Mutex
	servingWG    sync.WaitGroup
}

func (s *server) addClient(c net.Conn) {
	log.Println("routeevent: new client", c.RemoteAddr())
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.clients[c] = struct{}{}
}

func (s *server) removeClient(c net.Conn) {
	s.servingWG.Add(1)
	defer s.servingWG.Done()
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
}

func (s *server) sendToAllListeners(data string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for c := range s.clients {
		if _, err := fmt.Fprintln(c, data); err != nil {
			log.Println("routeevent: write to client", c, "failed:", err, "- removing it")
			// Remove in a goroutine: removeClient needs the mutex this
			// method already holds, and closing inline would also block
			// on a slow client.
			go s.removeClient(c)
			go c.Close()
		}
	}
}

func (s *server) notifyClients(ctx context.Context) {
	s.servingWG.Add(1)
	defer s.servingWG.Done()
	for ctx.Err() == nil {
		event := <-s.eventC
		if event == nil {
			continue
		}
		b, err := json.Marshal(*event)
		if err != nil {
			log.Printf("routeevent: bad event %+v: %v\n", event, err)
			continue
		}
		metrics.RouteEventsPublished.WithLabelValues(event.Kind.String()).Inc()
		s.sendToAllListeners(string(b))
	}
}

// Listen creates the unix-domain socket. Connections will not succeed
// until Serve is also running. Called once per Server.
func (s *server) Listen() error {
	s.servingWG.Add(1)
	// A prior unclean shutdown can leave a stale socket file behind.
	os.Remove(s.filename)
	var err error
	s.unixListener, err = net.Listen("unix", s.filename)
	return err
}

// Serve accepts clients until ctx is canceled. Called once per Server,
// in a goroutine, after Listen.
func (s *server) Serve(ctx context.Context) error {
	defer s.servingWG.Done()
	derivedCtx, derivedCancel := context.WithCancel(ctx)
	defer derivedCancel()

	go s.notifyClients(derivedCtx)

	s.servingWG.Add(1)
	go func() {
		<-derivedCtx.Done()
		s.unixListener.Close()
		close(s.eventC)
		s.servingWG.Done()
	}()

	var err error
	for derivedCtx.Err() == nil {
		var conn net.Conn
		conn, err = s.unixListener.Accept()
		if err != nil {
			log.Printf("routeevent: accept on %q failed: %s\n", s.filename, err)
			break
		}
		s.addClient(conn)
	}
	return err
}

func (s *server) RouteAdded(domain int, r fib.Route)   { e := fromRoute(Added, domain, r); s.eventC <- &e }
func (s *server) RouteChanged(domain int, r fib.Route) { e := fromRoute(Changed, domain, r); s.eventC <- &e }
func (s *server) RouteRemoved(domain int, k addr.RouteKey) {
	e := fromKey(domain, k)
	s.eventC <- &e
}

// New makes a Server that serves clients on the given unix-domain
// socket path.
func New(filename string) Server {
	return &server{
		filename: filename,
		eventC:   make(chan *RouteEvent, 100),
		clients:  make(map[net.Conn]struct{}),
	}
}

type nullServer struct{}

func (nullServer) Listen() error                   { return nil }
func (nullServer) Serve(context.Context) error     { return nil }
func (nullServer) RouteAdded(int, fib.Route)       {}
func (nullServer) RouteChanged(int, fib.Route)     {}
func (nullServer) RouteRemoved(int, addr.RouteKey) {}

// NullServer returns a Server that does nothing, so code that may or
// may not want route-event archiving can hold a Server unconditionally.
func NullServer() Server { return nullServer{} }
