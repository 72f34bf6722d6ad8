package emulation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/glennswest/fattree/pkg/controller"
	"github.com/glennswest/fattree/pkg/fabric"
)

var (
	// ErrUnknownHost is returned by Send for a host name not in the topology.
	ErrUnknownHost = errors.New("unknown host")

	// ErrStorm is returned when one Send puts more frames on the wire than
	// Opts.MaxFrames, which happens when loops are not blocked.
	ErrStorm = errors.New("broadcast storm")

	// ErrNotConnected is returned by Send before Connect.
	ErrNotConnected = errors.New("fabric not connected to a controller")
)

// Controller is the northbound peer of the fabric.
type Controller interface {
	Handle(ctx context.Context, msg controller.Message) error
}

// Opts configures a Fabric. Zero values pick defaults.
type Opts struct {
	// DisableSTP leaves redundant links forwarding. Flooding then loops
	// until HopLimit or MaxFrames cuts it off.
	DisableSTP bool
	HopLimit   int              // switches a frame may cross, default 64
	MaxFrames  int              // link transmissions per Send, default 100000
	Clock      func() time.Time // default time.Now
}

func (o Opts) withDefaults() Opts {
	if o.HopLimit <= 0 {
		o.HopLimit = 64
	}
	if o.MaxFrames <= 0 {
		o.MaxFrames = 100000
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// Fabric is an in-memory switched network built from a Topology. Its
// switches hold real flow tables populated by FlowMods, miss to the
// controller with PacketIns, and emit PacketOuts onto their links. It
// implements controller.Datapath.
type Fabric struct {
	topo *fabric.Topology
	opts Opts
	log  *zap.SugaredLogger

	// sendMu serializes Send so the outbox only ever holds the reaction to
	// the packet-in being processed.
	sendMu sync.Mutex
	ctrl   Controller

	mu           sync.Mutex
	switches     map[uint64]*datapath
	blocked      map[fabric.Endpoint]bool
	outbox       []controller.PacketOut
	failFlowMods bool
}

type datapath struct {
	sw    fabric.Switch
	ports map[uint32]bool // up ports
	flows *controller.FlowTable
}

// New materializes topo. Ports on links outside the spanning tree start
// blocked unless opts.DisableSTP is set.
func New(topo *fabric.Topology, opts Opts, log *zap.SugaredLogger) *Fabric {
	f := &Fabric{
		topo:     topo,
		opts:     opts.withDefaults(),
		log:      log.Named("emulation"),
		switches: make(map[uint64]*datapath, len(topo.Switches)),
		blocked:  make(map[fabric.Endpoint]bool),
	}
	for _, sw := range topo.Switches {
		ports := make(map[uint32]bool, sw.Ports)
		for p := 1; p <= sw.Ports; p++ {
			ports[uint32(p)] = true
		}
		f.switches[sw.DatapathID] = &datapath{sw: sw, ports: ports, flows: controller.NewExactFlowTable()}
	}

	if !f.opts.DisableSTP {
		for i, kept := range fabric.SpanningTree(topo) {
			if kept {
				continue
			}
			l := topo.Links[i]
			f.blocked[l.A] = true
			f.blocked[l.B] = true
		}
		f.log.Infow("spanning tree converged", "blocked_links", len(f.blocked)/2, "links", len(topo.Links))
	}
	return f
}

// Blocked reports whether a switch port is blocked by the spanning tree.
func (f *Fabric) Blocked(node string, port uint32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocked[fabric.Endpoint{Node: node, Port: port}]
}

// ─── Control channel ────────────────────────────────────────────────────────

// Connect announces every switch to ctrl. Subsequent misses are sent to it.
func (f *Fabric) Connect(ctx context.Context, ctrl Controller) error {
	f.sendMu.Lock()
	defer f.sendMu.Unlock()

	for _, sw := range f.topo.Switches {
		dp := f.datapath(sw.DatapathID)
		msg := controller.SwitchConnect{Switch: sw.DatapathID, Ports: f.upPorts(dp)}
		if err := ctrl.Handle(ctx, msg); err != nil {
			return fmt.Errorf("connecting %s: %w", sw.Name, err)
		}
	}
	f.ctrl = ctrl
	f.log.Infow("switches connected", "count", len(f.topo.Switches))
	return nil
}

// Disconnect drops every control session and empties the switches' flow
// tables, as a switch does when it loses its controller.
func (f *Fabric) Disconnect(ctx context.Context) error {
	f.sendMu.Lock()
	defer f.sendMu.Unlock()

	if f.ctrl == nil {
		return ErrNotConnected
	}
	var errs []error
	for _, sw := range f.topo.Switches {
		if err := f.ctrl.Handle(ctx, controller.SwitchDisconnect{Switch: sw.DatapathID}); err != nil {
			errs = append(errs, fmt.Errorf("disconnecting %s: %w", sw.Name, err))
		}
		f.mu.Lock()
		f.switches[sw.DatapathID].flows.Clear()
		f.mu.Unlock()
	}
	f.ctrl = nil
	return errors.Join(errs...)
}

// SendFlowMod installs the entry in the switch's flow table.
func (f *Fabric) SendFlowMod(_ context.Context, m controller.FlowMod) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failFlowMods {
		return fmt.Errorf("flow table of %x rejected the entry", m.Switch)
	}
	dp, ok := f.switches[m.Switch]
	if !ok {
		return fmt.Errorf("flow-mod for %x: %w", m.Switch, controller.ErrUnknownSwitch)
	}
	dp.flows.Install(controller.FlowEntry{
		Switch:      m.Switch,
		Match:       m.Match,
		OutPort:     m.OutPort,
		IdleTimeout: time.Duration(m.IdleTimeout) * time.Second,
		HardTimeout: time.Duration(m.HardTimeout) * time.Second,
	}, f.opts.Clock())
	return nil
}

// SendPacketOut queues the packet-out; the Send that caused it puts it on
// the wire.
func (f *Fabric) SendPacketOut(_ context.Context, m controller.PacketOut) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.switches[m.Switch]; !ok {
		return fmt.Errorf("packet-out for %x: %w", m.Switch, controller.ErrUnknownSwitch)
	}
	f.outbox = append(f.outbox, m)
	return nil
}

// FailFlowMods makes every FlowMod fail until called again with false.
func (f *Fabric) FailFlowMods(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failFlowMods = fail
}

// SetPortDown takes a switch port out of service and reports it to the
// controller.
func (f *Fabric) SetPortDown(ctx context.Context, node string, port uint32) error {
	sw, ok := f.topo.SwitchByName(node)
	if !ok {
		return fmt.Errorf("switch %q: %w", node, controller.ErrUnknownSwitch)
	}

	f.sendMu.Lock()
	defer f.sendMu.Unlock()

	f.mu.Lock()
	dp := f.switches[sw.DatapathID]
	if !dp.ports[port] {
		f.mu.Unlock()
		return fmt.Errorf("%s has no port %d in service", node, port)
	}
	dp.ports[port] = false
	dp.flows.RemovePort(port)
	f.mu.Unlock()

	if f.ctrl == nil {
		return nil
	}
	return f.ctrl.Handle(ctx, controller.PortStatus{Switch: sw.DatapathID, Port: port, Reason: controller.PortDeleted})
}

// Expire evicts timed-out entries from every switch flow table and reports
// each to the controller as a FlowRemoved.
func (f *Fabric) Expire(ctx context.Context) (int, error) {
	f.sendMu.Lock()
	defer f.sendMu.Unlock()

	now := f.opts.Clock()
	var removed []controller.FlowRemoved
	f.mu.Lock()
	for _, sw := range f.topo.Switches {
		for _, ev := range f.switches[sw.DatapathID].flows.Tick(now) {
			removed = append(removed, controller.FlowRemoved{Switch: sw.DatapathID, Match: ev.Entry.Match})
		}
	}
	f.mu.Unlock()

	if f.ctrl == nil {
		return len(removed), nil
	}
	for _, m := range removed {
		if err := f.ctrl.Handle(ctx, m); err != nil {
			return len(removed), err
		}
	}
	return len(removed), nil
}

// FlowCount returns the number of live flow entries on a switch.
func (f *Fabric) FlowCount(node string) int {
	sw, ok := f.topo.SwitchByName(node)
	if !ok {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.switches[sw.DatapathID].flows.Len()
}

// ReportStats sends each connected switch's flow statistics to the
// controller, so entries kept alive by traffic on the switch stay alive in
// the controller's mirror too.
func (f *Fabric) ReportStats(ctx context.Context) error {
	f.sendMu.Lock()
	defer f.sendMu.Unlock()

	if f.ctrl == nil {
		return ErrNotConnected
	}
	now := f.opts.Clock()
	reports := make([]controller.FlowStats, 0, len(f.topo.Switches))
	f.mu.Lock()
	for _, sw := range f.topo.Switches {
		entries := f.switches[sw.DatapathID].flows.Entries()
		if len(entries) == 0 {
			continue
		}
		stats := controller.FlowStats{Switch: sw.DatapathID, Flows: make([]controller.FlowStat, 0, len(entries))}
		for _, e := range entries {
			stats.Flows = append(stats.Flows, controller.FlowStat{Match: e.Match, IdleFor: now.Sub(e.LastUsed)})
		}
		reports = append(reports, stats)
	}
	f.mu.Unlock()

	for _, m := range reports {
		if err := f.ctrl.Handle(ctx, m); err != nil {
			return fmt.Errorf("flow stats for %x: %w", m.Switch, err)
		}
	}
	return nil
}

// HasFlow reports whether a switch holds a live entry for frames from host
// src to host dst arriving on inPort.
func (f *Fabric) HasFlow(node string, inPort uint32, src, dst string) bool {
	sw, ok := f.topo.SwitchByName(node)
	if !ok {
		return false
	}
	from, ok := f.topo.Host(src)
	if !ok {
		return false
	}
	to, ok := f.topo.Host(dst)
	if !ok {
		return false
	}
	m := controller.FlowMatch{InPort: inPort, Src: from.HardwareAddr(), Dst: to.HardwareAddr()}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, hit := f.switches[sw.DatapathID].flows.Lookup(m, f.opts.Clock())
	return hit
}

func (f *Fabric) datapath(dpid uint64) *datapath {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.switches[dpid]
}

func (f *Fabric) upPorts(dp *datapath) []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint32, 0, len(dp.ports))
	for p := 1; p <= dp.sw.Ports; p++ {
		if dp.ports[uint32(p)] {
			out = append(out, uint32(p))
		}
	}
	return out
}

func (f *Fabric) takeOutbox() []controller.PacketOut {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.outbox
	f.outbox = nil
	return out
}
