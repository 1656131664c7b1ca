// Package daemon is the top-level run-loop aggregate (§5): a
// single-threaded cooperative loop that drains ready sockets, fires
// timers, and — if anything went dirty — runs the settle phase (MPR
// selection, then Dijkstra, then FIB diff-apply) exactly once per
// cycle. It owns every other package's state; nothing outside this
// package holds a reference that outlives one callback.
//
// The loop shape is adapted from the teacher's main.go, which wires a
// collector loop and a saver loop together over a channel and shuts
// both down from one place; here everything lives in one goroutine
// instead of two, since §5 forbids a consumer callback from invoking
// Dijkstra or flushing the writer directly — there is no second loop to
// hand work off to.
package daemon

import (
	"context"
	"log"
	"time"

	"github.com/openolsr/olsrv2d/addr"
	"github.com/openolsr/olsrv2d/archive"
	"github.com/openolsr/olsrv2d/fib"
	"github.com/openolsr/olsrv2d/hello"
	"github.com/openolsr/olsrv2d/iface"
	"github.com/openolsr/olsrv2d/lan"
	"github.com/openolsr/olsrv2d/mpr"
	"github.com/openolsr/olsrv2d/nhdp"
	"github.com/openolsr/olsrv2d/olsrv2"
	"github.com/openolsr/olsrv2d/rfc5444"
	"github.com/openolsr/olsrv2d/routeevent"
	"github.com/openolsr/olsrv2d/sig"
	"github.com/openolsr/olsrv2d/spf"
	"github.com/openolsr/olsrv2d/tc"
	"github.com/openolsr/olsrv2d/timer"
)

// Socket is the interface transport adapter contract (§6). Recv is
// non-blocking and returns ok=false when nothing is ready to read; Send
// must not block.
type Socket interface {
	Recv() (data []byte, from addr.Address, ifaceName string, family addr.Family, ok bool)
	Send(ifaceName string, family addr.Family, data []byte) error
}

// Domain configures one routing domain's SPF engine and FIB target.
type Domain struct {
	ID      tc.DomainID
	Adapter fib.Adapter
	TableID int
	ProtoID int
}

// Config assembles everything a Daemon needs to run.
type Config struct {
	Sockets []Socket
	Ifaces  *iface.Table
	Domains []Domain
	Signer  sig.Signer
	LAN     *lan.Watcher
	Events  routeevent.Server // defaults to routeevent.NullServer()
	Archive *archive.Writer   // nil disables diagnostic snapshotting

	VTime uint8 // RFC 5497-encoded default validity time
	ITime uint8

	HelloInterval   time.Duration
	TCInterval      time.Duration
	LANInterval     time.Duration
	SettleDelay     time.Duration
	ArchiveInterval time.Duration
	HoldIntervals   int
	PollInterval    time.Duration // socket-drain / timer-fire cadence
}

// Daemon is the single-threaded core. Construct with New, then call Run.
type Daemon struct {
	cfg   Config
	clock timer.Clock
	wheel *timer.Wheel

	reader *rfc5444.Reader
	writer *rfc5444.Writer

	nhdpDB *nhdp.Database
	tcDB   *tc.Database

	helloConsumer *hello.Consumer
	tcConsumer    *olsrv2.Consumer
	forwarder     *olsrv2.Forwarder

	engines  map[tc.DomainID]*spf.Engine
	trackers map[tc.DomainID]*archive.Tracker

	dirty       bool
	settleID    timer.ID
	hasSettleID bool

	localLANs []lan.Network
	runID     string
}

// New builds a Daemon from cfg, registering HELLO/TC consumers and
// providers and one spf.Engine per configured domain. clock nil
// defaults to the real clock.
func New(cfg Config, clock timer.Clock) *Daemon {
	if clock == nil {
		clock = timer.RealClock{}
	}
	now := func() time.Time { return clock.Now() }

	nhdpDomains := make([]nhdp.DomainID, 0, len(cfg.Domains)+1)
	nhdpDomains = append(nhdpDomains, nhdp.FloodingDomain)
	for _, dom := range cfg.Domains {
		nhdpDomains = append(nhdpDomains, nhdp.DomainID(dom.ID))
	}
	nhdpDB := nhdp.NewDatabase(now, nhdp.DefaultHysteresis(), nhdpDomains)
	tcDB := tc.NewDatabase()

	if cfg.HelloInterval <= 0 {
		cfg.HelloInterval = rfc5444.DecodeTime(cfg.ITime)
	}
	if cfg.TCInterval <= 0 {
		cfg.TCInterval = rfc5444.DecodeTime(cfg.ITime)
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 250 * time.Millisecond
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.LANInterval <= 0 {
		cfg.LANInterval = 5 * time.Second
	}
	if cfg.ArchiveInterval <= 0 {
		cfg.ArchiveInterval = time.Minute
	}
	if cfg.VTime == 0 {
		cfg.VTime = rfc5444.EncodeTime(3 * cfg.TCInterval)
	}

	signer := cfg.Signer
	if signer == nil {
		signer = sig.NoOp{}
	}
	if cfg.Events == nil {
		cfg.Events = routeevent.NullServer()
	}

	d := &Daemon{
		cfg:      cfg,
		clock:    clock,
		wheel:    timer.NewWheel(clock),
		reader:   rfc5444.NewReader(),
		writer:   rfc5444.NewWriter(1280),
		nhdpDB:   nhdpDB,
		tcDB:     tcDB,
		engines:  make(map[tc.DomainID]*spf.Engine),
		trackers: make(map[tc.DomainID]*archive.Tracker),
	}
	if runID, err := archive.RunID(); err == nil {
		d.runID = runID
	}

	d.helloConsumer = &hello.Consumer{DB: nhdpDB, LocalTable: cfg.Ifaces}
	d.tcConsumer = &olsrv2.Consumer{DB: tcDB, Clock: now}
	d.forwarder = olsrv2.NewForwarder(clock)

	d.reader.Register(d.helloConsumer)
	d.reader.Register(d.tcConsumer)

	helloProvider := &hello.Provider{
		Table: cfg.Ifaces, DB: nhdpDB, VTime: cfg.VTime, ITime: cfg.ITime,
		Willing: willingnessTable(cfg.Domains),
	}
	tcProvider := &olsrv2.Provider{
		Table: cfg.Ifaces, NHDP: nhdpDB, VTime: cfg.VTime, ITime: cfg.ITime,
		HoldIntervals: cfg.HoldIntervals, LocalAttachments: d.localAttachments,
	}
	d.writer.Register(sig.Wrap(helloProvider, signer))
	d.writer.Register(sig.Wrap(tcProvider, signer))

	for _, dom := range cfg.Domains {
		adapter := routeevent.Wrap(dom.Adapter, int(dom.ID), cfg.Events)
		if cfg.Archive != nil {
			tracker := archive.Track(adapter)
			d.trackers[dom.ID] = tracker
			adapter = tracker
		}
		d.engines[dom.ID] = &spf.Engine{
			Self: selfAddress(cfg.Ifaces), Domain: dom.ID, TC: tcDB, NHDP: nhdpDB,
			Adapter: adapter, TableID: dom.TableID, ProtoID: dom.ProtoID,
		}
	}

	return d
}

// defaultWillingness is RFC 7181 §5.3's recommended WILLINGNESS value
// for a node with no special routing role.
const defaultWillingness = 3

// willingnessTable seeds every configured domain (plus the flooding
// domain) with RFC 7181's default willingness. The map is held only by
// the hello.Provider that New builds, and nothing changes it afterwards.
func willingnessTable(domains []Domain) map[nhdp.DomainID]uint8 {
	out := map[nhdp.DomainID]uint8{nhdp.FloodingDomain: defaultWillingness}
	for _, d := range domains {
		out[nhdp.DomainID(d.ID)] = defaultWillingness
	}
	return out
}

func selfAddress(ifaces *iface.Table) addr.Address {
	for _, ifc := range ifaces.All() {
		if ifc.HasOriginatorV4 {
			return ifc.OriginatorV4
		}
		if ifc.HasOriginatorV6 {
			return ifc.OriginatorV6
		}
	}
	return addr.Address{}
}

func (d *Daemon) localAttachments() []olsrv2.LocalAttachment {
	out := make([]olsrv2.LocalAttachment, 0, len(d.localLANs))
	for _, n := range d.localLANs {
		out = append(out, olsrv2.LocalAttachment{Prefix: n.Prefix, Metric: n.Metric, Distance: n.Distance})
	}
	return out
}

// markDirty schedules the coalescing settle timer if one isn't already
// pending, per §4.6's settle-timer requirement: several neighbor/TC
// changes arriving in quick succession only trigger one Dijkstra run.
func (d *Daemon) markDirty() {
	if d.dirty {
		return
	}
	d.dirty = true
	if d.hasSettleID {
		d.wheel.Cancel(d.settleID)
	}
	d.settleID = d.wheel.Schedule(d.cfg.SettleDelay, d.settle)
	d.hasSettleID = true
}

// settle runs MPR selection then Dijkstra then FIB diff-apply, per §5
// step (c). It is only ever invoked from the timer wheel, never
// directly from a consumer callback.
func (d *Daemon) settle(now time.Time) {
	d.dirty = false
	d.hasSettleID = false

	for _, domID := range d.activeDomains() {
		d.selectMPRs(domID)
	}
	for _, engine := range d.engines {
		if err := engine.Recompute(now); err != nil {
			log.Println("spf: recompute failed, will retry next settle:", err)
		}
	}
}

func (d *Daemon) activeDomains() []nhdp.DomainID {
	out := make([]nhdp.DomainID, 0, len(d.engines)+1)
	out = append(out, nhdp.FloodingDomain)
	for id := range d.engines {
		out = append(out, nhdp.DomainID(id))
	}
	return out
}

// selectMPRs runs RFC 7181 §18 selection for one domain over every
// symmetric link's willingness and two-hop reachability, then records
// the result on each link so the HELLO/TC writers can read it back.
func (d *Daemon) selectMPRs(domain nhdp.DomainID) {
	var candidates []mpr.Candidate
	n2 := map[addr.Address]bool{}
	byOriginator := map[addr.Address][]*nhdp.Link{}

	for _, n := range d.nhdpDB.Neighbors() {
		if n.SymmetricLinkCount() == 0 {
			continue
		}
		reaches := map[addr.Address]uint32{}
		will, hasWill := n.Willingness[domain]
		var links []*nhdp.Link
		for _, l := range n.Links {
			if l.Status != nhdp.Symmetric {
				continue
			}
			links = append(links, l)
			for a, th := range l.TwoHop {
				n2[a] = true
				if m, ok := th.OutMetric[domain]; ok {
					if cur, ok2 := reaches[a]; !ok2 || m < cur {
						reaches[a] = m
					}
				}
			}
		}
		if len(links) == 0 {
			continue
		}
		if !hasWill {
			will = defaultWillingness
		}
		byOriginator[n.Originator] = links
		candidates = append(candidates, mpr.Candidate{Originator: n.Originator, Willingness: will, Reaches: reaches})
	}

	selected := mpr.Select(candidates, n2)
	for originator, links := range byOriginator {
		sel := selected[originator]
		for _, l := range links {
			if domain == nhdp.FloodingDomain {
				l.LocalIsFloodingMPR = sel
			} else {
				l.LocalIsRoutingMPR[domain] = sel
			}
		}
	}
}

// HandlePacket decodes one received packet and dispatches it, per §5
// step (a): "drain ready sockets, delivering one packet at a time to
// the codec". It is meant to be called once per Recv result, never
// concurrently, from Run's own goroutine.
func (d *Daemon) HandlePacket(data []byte, from addr.Address, ifaceName string, family addr.Family) {
	pkt, err := rfc5444.DecodePacket(data, family)
	if err != nil {
		return
	}
	signer := d.cfg.Signer
	if signer == nil {
		signer = sig.NoOp{}
	}

	changed := false
	for _, m := range pkt.Messages {
		verified, ok := signer.Verify(m)
		if !ok {
			continue
		}
		m = verified

		if m.Type == olsrv2.MessageType {
			d.tryForward(m, from, ifaceName)
		}
		if m.Type == hello.MessageType {
			d.helloConsumer.IfaceName = ifaceName
		}
		d.reader.DispatchMessage(m)
		changed = true
	}
	if changed {
		d.markDirty()
	}
}

func (d *Daemon) tryForward(m rfc5444.Message, from addr.Address, inIface string) {
	if !m.HasHopLimit || m.HopLimit <= 1 {
		return
	}
	var incoming *nhdp.Link
	for _, l := range d.nhdpDB.Links() {
		if l.Iface == inIface && l.HasAddress(from) {
			incoming = l
			break
		}
	}
	if incoming == nil {
		return
	}

	vtime := messageVtime(m)
	out := olsrv2.PrepareForward(m)
	for _, ifc := range d.cfg.Ifaces.All() {
		if ifc.Name == inIface {
			continue
		}
		if !d.forwarder.ShouldForward(incoming, ifc.Name, m, vtime) {
			continue
		}
		d.sendMessage(ifc, out)
	}
}

// messageVtime extracts the VALIDITY_TIME message TLV, defaulting to
// 20s if absent (matching hello/olsrv2's own decode default).
func messageVtime(m rfc5444.Message) time.Duration {
	for _, t := range m.Tlvs {
		if t.Type == olsrv2.TlvValidityTime && len(t.Value) == 1 {
			return rfc5444.DecodeTime(t.Value[0])
		}
	}
	return 20 * time.Second
}

func (d *Daemon) sendMessage(ifc *iface.Interface, m rfc5444.Message) {
	buf, err := rfc5444.EncodeMessage(m)
	if err != nil {
		log.Println("daemon: forward encode failed:", err)
		return
	}
	family := addr.AF_INET
	if m.Originator.Family() == addr.AF_INET6 {
		family = addr.AF_INET6
	}
	d.send(ifc.Name, family, wirePacket(buf))
}

// wirePacket wraps an already-encoded message as a minimal RFC 5444
// packet (no packet sequence number, no packet TLVs): a single zero
// flags byte followed by the message bytes.
func wirePacket(msg []byte) []byte {
	return append([]byte{0}, msg...)
}

func (d *Daemon) send(ifaceName string, family addr.Family, data []byte) {
	for _, sock := range d.cfg.Sockets {
		if err := sock.Send(ifaceName, family, data); err != nil {
			log.Println("daemon: send failed:", err)
		}
	}
}

// Flush renders every registered provider against every bound
// interface/family and sends the resulting packets. Called by the
// HELLO/TC emission timers.
func (d *Daemon) Flush() {
	var targets []rfc5444.Target
	for _, ifc := range d.cfg.Ifaces.All() {
		if ifc.HasOriginatorV4 {
			targets = append(targets, rfc5444.Target{Name: ifc.Name, Family: addr.AF_INET})
		}
		if ifc.HasOriginatorV6 {
			targets = append(targets, rfc5444.Target{Name: ifc.Name, Family: addr.AF_INET6})
		}
	}
	out, err := d.writer.Flush(targets)
	if err != nil {
		log.Println("daemon: flush failed:", err)
		return
	}
	for target, frags := range out {
		for _, frag := range frags {
			d.send(target.Name, target.Family, wirePacket(frag))
		}
	}
}

// snapshot flattens the topology database and every domain's currently
// installed routes into one archive.Snapshot and appends it to
// cfg.Archive. Runs on its own timer, independent of settle, since a
// diagnostic snapshot is useful even on a quiet network with nothing
// to recompute.
func (d *Daemon) snapshot(now time.Time) {
	routes := make(map[int][]fib.Route, len(d.trackers))
	for domID, tracker := range d.trackers {
		routes[int(domID)] = tracker.Routes()
	}
	snap := archive.Build(d.runID, now, d.tcDB, routes)
	if err := d.cfg.Archive.Append(now, snap); err != nil {
		log.Println("daemon: archive append failed:", err)
	}
}

func (d *Daemon) onLANChange(added, removed []lan.Network) {
	next := make([]lan.Network, 0, len(d.localLANs)+len(added))
	removedSet := make(map[addr.Prefix]bool, len(removed))
	for _, n := range removed {
		removedSet[n.Prefix] = true
	}
	for _, n := range d.localLANs {
		if !removedSet[n.Prefix] {
			next = append(next, n)
		}
	}
	next = append(next, added...)
	d.localLANs = next
	d.markDirty()
}

// Run is the §5 run loop: drain sockets, fire timers, settle if dirty.
// It returns when ctx is canceled.
func (d *Daemon) Run(ctx context.Context) {
	if err := d.cfg.Events.Listen(); err != nil {
		log.Println("daemon: route-event socket listen failed:", err)
	} else {
		go d.cfg.Events.Serve(ctx)
	}

	helloID := d.wheel.SchedulePeriodic(d.cfg.HelloInterval, func(time.Time) { d.Flush() })
	tcID := d.wheel.SchedulePeriodic(d.cfg.TCInterval, func(time.Time) { d.Flush() })
	defer d.wheel.Cancel(helloID)
	defer d.wheel.Cancel(tcID)

	var lanID timer.ID
	hasLanTimer := false
	if d.cfg.LAN != nil {
		lanID = d.wheel.SchedulePeriodic(d.cfg.LANInterval, func(time.Time) {
			added, removed, err := d.cfg.LAN.Poll()
			if err != nil {
				log.Println("daemon: LAN poll failed:", err)
				return
			}
			if len(added) > 0 || len(removed) > 0 {
				d.onLANChange(added, removed)
			}
		})
		hasLanTimer = true
	}
	if hasLanTimer {
		defer d.wheel.Cancel(lanID)
	}

	var archiveID timer.ID
	hasArchiveTimer := false
	if d.cfg.Archive != nil {
		archiveID = d.wheel.SchedulePeriodic(d.cfg.ArchiveInterval, func(now time.Time) { d.snapshot(now) })
		hasArchiveTimer = true
	}
	if hasArchiveTimer {
		defer d.wheel.Cancel(archiveID)
	}

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.Shutdown()
			return
		case <-ticker.C:
			d.step()
		}
	}
}

func (d *Daemon) step() {
	d.drainSockets()
	now := d.clock.Now()
	d.wheel.Fire(now)
	if expired := d.nhdpDB.Expire(now); len(expired) > 0 {
		d.markDirty()
	}
	if removed := d.tcDB.Prune(now); len(removed) > 0 {
		d.markDirty()
	}
}

func (d *Daemon) drainSockets() {
	for _, sock := range d.cfg.Sockets {
		for {
			data, from, ifaceName, family, ok := sock.Recv()
			if !ok {
				break
			}
			d.HandlePacket(data, from, ifaceName, family)
		}
	}
}

// Shutdown performs the §5 shutdown drain: a final emission cycle (so
// peers see this node's last HELLO/TC before it goes silent and age the
// content out on their own hold timers — there is no explicit withdraw
// message in this wire format) followed by one last settle so any FIB
// entries that should no longer exist (e.g. this node's own advertised
// attachments) are reflected before the process exits.
func (d *Daemon) Shutdown() {
	d.Flush()
	d.settle(d.clock.Now())
	if d.cfg.Archive != nil {
		d.snapshot(d.clock.Now())
		if err := d.cfg.Archive.Close(); err != nil {
			log.Println("daemon: archive close failed:", err)
		}
	}
}
