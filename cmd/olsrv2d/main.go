// Command olsrv2d runs the OLSRv2/NHDP routing daemon: it binds a set
// of network interfaces, exchanges RFC 5444 HELLO/TC traffic with
// neighbors over RFC 5498 multicast, and installs the resulting routes
// into the kernel FIB.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/openolsr/olsrv2d/addr"
	"github.com/openolsr/olsrv2d/archive"
	"github.com/openolsr/olsrv2d/daemon"
	"github.com/openolsr/olsrv2d/fib"
	"github.com/openolsr/olsrv2d/iface"
	"github.com/openolsr/olsrv2d/lan"
	"github.com/openolsr/olsrv2d/netsock"
	"github.com/openolsr/olsrv2d/routeevent"
	"github.com/openolsr/olsrv2d/sig"
	"github.com/openolsr/olsrv2d/tc"
	"github.com/openolsr/olsrv2d/timer"
)

var (
	promPort  = flag.String("prom", ":9090", "Prometheus metrics export address and port.")
	ifaces    = flag.String("ifaces", "", "Comma-separated list of interfaces to run OLSRv2/NHDP on.")
	ifacePoll = flag.Duration("iface-poll", 2*time.Second, "How often to re-poll kernel interface/address state.")
	domains   = flag.String("domains", "0", "Comma-separated list of routing domain IDs to run an SPF engine for.")
	tableID   = flag.Int("table", 254, "Kernel routing table ID routes are installed into (254 is the main table).")
	protoID   = flag.Int("proto", 100, "Kernel route protocol ID tagging routes this daemon installs.")

	signingKey = flag.String("signing-key", "", "Hex-encoded HMAC-SHA256 key for RFC 7182 message signing. Empty disables signing.")

	helloInterval = flag.Duration("hello-interval", 2*time.Second, "HELLO emission interval.")
	tcInterval    = flag.Duration("tc-interval", 5*time.Second, "TC emission interval.")
	holdIntervals = flag.Int("hold-intervals", 3, "Number of TC intervals to keep emitting TCs after this router has nothing left to advertise.")

	lanInterval = flag.Duration("lan-poll", 5*time.Second, "How often to re-poll the kernel route table for attached LANs to import.")

	eventSocket = flag.String("events-socket", "", "Unix socket path to publish FIB route-change events on. Empty disables publishing.")

	archiveDir      = flag.String("archive-dir", "", "Directory to write periodic zstd-compressed JSONL diagnostic snapshots into. Empty disables archiving.")
	archiveInterval = flag.Duration("archive-interval", time.Minute, "How often to write a diagnostic snapshot.")
	archiveFileAge  = flag.Duration("archive-file-age", time.Hour, "How long to keep appending to one archive file before rotating.")
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

func main() {
	flag.Parse()
	flagx.ArgsFromEnv(flag.CommandLine)

	promSrv := prometheusx.MustStartPrometheus(*promPort)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		promSrv.Shutdown(ctx)
	}()

	ifaceTable := iface.NewTable(nil)
	watcher := iface.NewWatcher(ifaceTable, *ifacePoll)
	names := splitNonEmpty(*ifaces)
	watcher.Configure(names)
	go func() {
		rtx.Must(watcher.Run(ctx), "interface watcher exited")
	}()

	sockets := netsock.New()
	defer sockets.Close()
	for _, name := range names {
		for _, family := range []addr.Family{addr.AF_INET, addr.AF_INET6} {
			if err := sockets.Bind(name, family); err != nil {
				log.Printf("netsock: %v (continuing without it)", err)
			}
		}
	}

	var signer sig.Signer = sig.NoOp{}
	if *signingKey != "" {
		key, err := hex.DecodeString(*signingKey)
		rtx.Must(err, "invalid -signing-key: not hex")
		signer = sig.NewHMACSHA256(key)
	}

	var events routeevent.Server = routeevent.NullServer()
	if *eventSocket != "" {
		events = routeevent.New(*eventSocket)
	}

	var archiveWriter *archive.Writer
	if *archiveDir != "" {
		archiveWriter = archive.NewWriter(*archiveDir, *archiveFileAge)
	}

	var domainCfgs []daemon.Domain
	for _, id := range splitNonEmpty(*domains) {
		n, err := strconv.Atoi(id)
		rtx.Must(err, "invalid domain id %q", id)
		domainCfgs = append(domainCfgs, daemon.Domain{
			ID: tc.DomainID(n),
			Adapter: &fib.LinuxAdapter{
				Ifaces:      ifaceTable,
				DeleteFirst: false,
				MaxRetries:  3,
				RetryDelay:  50 * time.Millisecond,
			},
			TableID: *tableID,
			ProtoID: *protoID,
		})
	}

	lanWatcher := lan.NewWatcher(ifaceTable, nil, *protoID)

	cfg := daemon.Config{
		Sockets: []daemon.Socket{sockets},
		Ifaces:  ifaceTable,
		Domains: domainCfgs,
		Signer:  signer,
		LAN:     lanWatcher,
		Events:  events,
		Archive: archiveWriter,

		HelloInterval:   *helloInterval,
		TCInterval:      *tcInterval,
		LANInterval:     *lanInterval,
		ArchiveInterval: *archiveInterval,
		HoldIntervals:   *holdIntervals,
	}

	d := daemon.New(cfg, timer.RealClock{})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("olsrv2d: shutting down")
		cancel()
	}()

	// Run blocks until ctx is canceled, performing its own Shutdown
	// (final Flush/settle/snapshot) before returning.
	d.Run(ctx)
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
