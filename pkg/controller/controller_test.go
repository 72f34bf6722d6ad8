package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

// recordingDatapath captures southbound messages.
type recordingDatapath struct {
	mu         sync.Mutex
	flowMods   []FlowMod
	packetOuts []PacketOut
	failMods   bool
}

func (d *recordingDatapath) SendFlowMod(_ context.Context, m FlowMod) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failMods {
		return errors.New("table full")
	}
	d.flowMods = append(d.flowMods, m)
	return nil
}

func (d *recordingDatapath) SendPacketOut(_ context.Context, m PacketOut) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.packetOuts = append(d.packetOuts, m)
	return nil
}

func (d *recordingDatapath) setFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failMods = fail
}

func (d *recordingDatapath) take() ([]FlowMod, []PacketOut) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mods, outs := d.flowMods, d.packetOuts
	d.flowMods, d.packetOuts = nil, nil
	return mods, outs
}

// gatedDatapath holds every packet-out until gate is closed, which keeps a
// switch worker busy.
type gatedDatapath struct {
	recordingDatapath
	gate chan struct{}
}

func (d *gatedDatapath) SendPacketOut(ctx context.Context, m PacketOut) error {
	select {
	case <-d.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	return d.recordingDatapath.SendPacketOut(ctx, m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const (
	macA = "02:04:00:00:00:00"
	macB = "02:04:00:00:00:01"
	macC = "02:04:00:01:00:00"
)

func newTestController(t *testing.T, opts Opts) (*Controller, *recordingDatapath, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: t0}
	opts.Clock = clock.Now
	if opts.TickInterval == 0 {
		opts.TickInterval = time.Hour
	}
	dp := &recordingDatapath{}
	c := New(dp, opts, zap.NewNop().Sugar())
	t.Cleanup(c.Close)
	return c, dp, clock
}

func connect(t *testing.T, c *Controller, dpid uint64, ports ...uint32) {
	t.Helper()
	if err := c.Handle(context.Background(), SwitchConnect{Switch: dpid, Ports: ports}); err != nil {
		t.Fatalf("connect %x: %v", dpid, err)
	}
}

func packetIn(t *testing.T, c *Controller, dpid uint64, in uint32, src, dst string) {
	t.Helper()
	err := c.Handle(context.Background(), PacketIn{
		Switch:   dpid,
		InPort:   in,
		Src:      mac(src),
		Dst:      mac(dst),
		Payload:  []byte("frame"),
		BufferID: NoBuffer,
	})
	if err != nil {
		t.Fatalf("packet-in on %x: %v", dpid, err)
	}
}

func TestFloodUnknownDestination(t *testing.T) {
	c, dp, _ := newTestController(t, Opts{})
	connect(t, c, 1, 1, 2, 3, 4)

	packetIn(t, c, 1, 1, macA, macB)

	mods, outs := dp.take()
	if len(mods) != 0 {
		t.Errorf("unresolved destination must not install flows, got %+v", mods)
	}
	if len(outs) != 1 {
		t.Fatalf("expected 1 packet-out, got %d", len(outs))
	}
	if !reflect.DeepEqual(outs[0].OutPorts, []uint32{2, 3, 4}) {
		t.Errorf("expected flood to 2,3,4, got %v", outs[0].OutPorts)
	}
	if string(outs[0].Payload) != "frame" {
		t.Error("unbuffered packet-out should carry the payload")
	}
}

func TestLearnThenForward(t *testing.T) {
	c, dp, _ := newTestController(t, Opts{IdleTimeout: 10 * time.Second, HardTimeout: 30 * time.Second})
	connect(t, c, 1, 1, 2, 3, 4)

	// A on port 1 talks to B before B has said anything.
	packetIn(t, c, 1, 1, macA, macB)
	dp.take()

	// B answers from port 2: A is known, so this is forwarded.
	packetIn(t, c, 1, 2, macB, macA)
	mods, outs := dp.take()
	if len(mods) != 1 {
		t.Fatalf("expected 1 flow-mod, got %d", len(mods))
	}
	m := mods[0]
	if m.Match.InPort != 2 || m.Match.Dst.String() != macA || m.Match.Src.String() != macB || m.OutPort != 1 {
		t.Errorf("unexpected flow-mod %+v", m)
	}
	if m.IdleTimeout != 10 || m.HardTimeout != 30 {
		t.Errorf("expected timeouts 10/30, got %d/%d", m.IdleTimeout, m.HardTimeout)
	}
	if len(outs) != 1 || !reflect.DeepEqual(outs[0].OutPorts, []uint32{1}) {
		t.Errorf("expected packet-out on port 1, got %+v", outs)
	}

	snap, err := c.Snapshot(context.Background(), 1)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Macs) != 2 || len(snap.Flows) != 1 {
		t.Errorf("expected 2 macs and 1 flow, got %d and %d", len(snap.Macs), len(snap.Flows))
	}
}

func TestHairpinDropped(t *testing.T) {
	c, dp, _ := newTestController(t, Opts{})
	connect(t, c, 1, 1, 2, 3)

	packetIn(t, c, 1, 1, macA, macB)
	packetIn(t, c, 1, 1, macB, macC) // B also seen on port 1
	dp.take()

	packetIn(t, c, 1, 1, macA, macB)
	mods, outs := dp.take()
	if len(mods) != 0 || len(outs) != 0 {
		t.Errorf("hairpin must be dropped, got %d mods %d outs", len(mods), len(outs))
	}
}

func TestDuplicateEventsAreIdempotent(t *testing.T) {
	c, _, _ := newTestController(t, Opts{})
	connect(t, c, 1, 1, 2)

	for i := 0; i < 5; i++ {
		packetIn(t, c, 1, 2, macB, macA)
		packetIn(t, c, 1, 1, macA, macB)
	}

	snap, _ := c.Snapshot(context.Background(), 1)
	if len(snap.Macs) != 2 {
		t.Errorf("expected 2 macs, got %d", len(snap.Macs))
	}
	if len(snap.Flows) != 2 {
		t.Errorf("expected 2 flows, got %d", len(snap.Flows))
	}
}

func TestFlowInstallFailureFallsBackToFlooding(t *testing.T) {
	c, dp, _ := newTestController(t, Opts{})
	connect(t, c, 1, 1, 2, 3)

	packetIn(t, c, 1, 1, macA, macB)
	dp.take()

	dp.setFail(true)
	packetIn(t, c, 1, 2, macB, macA)
	_, outs := dp.take()
	if len(outs) != 1 || !reflect.DeepEqual(outs[0].OutPorts, []uint32{1, 3}) {
		t.Errorf("expected flood after rejected install, got %+v", outs)
	}
	snap, _ := c.Snapshot(context.Background(), 1)
	if len(snap.Flows) != 0 {
		t.Errorf("rejected install must not be cached, got %d flows", len(snap.Flows))
	}

	dp.setFail(false)
	packetIn(t, c, 1, 2, macB, macA)
	mods, outs := dp.take()
	if len(mods) != 1 || len(outs) != 1 || !reflect.DeepEqual(outs[0].OutPorts, []uint32{1}) {
		t.Errorf("expected install and unicast once the switch accepts, got %+v / %+v", mods, outs)
	}
}

func TestTickEvictsExpiredFlows(t *testing.T) {
	c, _, clock := newTestController(t, Opts{IdleTimeout: 10 * time.Second, HardTimeout: time.Minute})
	connect(t, c, 1, 1, 2)

	packetIn(t, c, 1, 1, macA, macB)
	packetIn(t, c, 1, 2, macB, macA)

	clock.Advance(9 * time.Second)
	ev, err := c.Tick(context.Background(), 1)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(ev) != 0 {
		t.Fatalf("evicted before idle timeout: %+v", ev)
	}

	clock.Advance(time.Second)
	ev, _ = c.Tick(context.Background(), 1)
	if len(ev) != 1 || ev[0].Reason != EvictIdle {
		t.Fatalf("expected idle eviction, got %+v", ev)
	}

	// Learned addresses do not age out.
	snap, _ := c.Snapshot(context.Background(), 1)
	if len(snap.Macs) != 2 || len(snap.Flows) != 0 {
		t.Errorf("expected 2 macs and no flows, got %d and %d", len(snap.Macs), len(snap.Flows))
	}
}

func TestNoTimeouts(t *testing.T) {
	c, dp, clock := newTestController(t, Opts{IdleTimeout: -1, HardTimeout: -1})
	connect(t, c, 1, 1, 2)

	packetIn(t, c, 1, 1, macA, macB)
	packetIn(t, c, 1, 2, macB, macA)
	mods, _ := dp.take()
	if len(mods) != 1 || mods[0].IdleTimeout != 0 || mods[0].HardTimeout != 0 {
		t.Fatalf("expected permanent flow-mod, got %+v", mods)
	}

	clock.Advance(24 * time.Hour)
	if ev, _ := c.Tick(context.Background(), 1); len(ev) != 0 {
		t.Errorf("permanent flow evicted: %+v", ev)
	}
}

func TestBackgroundTicker(t *testing.T) {
	c, _, clock := newTestController(t, Opts{IdleTimeout: time.Second, TickInterval: 5 * time.Millisecond})
	connect(t, c, 1, 1, 2)

	packetIn(t, c, 1, 1, macA, macB)
	packetIn(t, c, 1, 2, macB, macA)
	clock.Advance(2 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := c.Snapshot(context.Background(), 1)
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if len(snap.Flows) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("worker ticker never expired the flow")
}

func TestFlowStatsRefreshIdleTimer(t *testing.T) {
	c, _, clock := newTestController(t, Opts{IdleTimeout: 10 * time.Second, HardTimeout: time.Minute})
	connect(t, c, 1, 1, 2)

	packetIn(t, c, 1, 1, macA, macB)
	packetIn(t, c, 1, 2, macB, macA)
	flow := FlowMatch{InPort: 2, Src: mac(macB), Dst: mac(macA)}

	// Traffic hit the flow on the switch 1s before the report.
	clock.Advance(8 * time.Second)
	stats := FlowStats{Switch: 1, Flows: []FlowStat{{Match: flow, IdleFor: time.Second}}}
	if err := c.Handle(context.Background(), stats); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	clock.Advance(8 * time.Second)
	if ev, _ := c.Tick(context.Background(), 1); len(ev) != 0 {
		t.Fatalf("reported flow evicted early: %+v", ev)
	}
	clock.Advance(time.Second)
	ev, err := c.Tick(context.Background(), 1)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(ev) != 1 || ev[0].Reason != EvictIdle {
		t.Errorf("expected idle eviction 10s after the reported use, got %+v", ev)
	}
}

func TestSnapshotAbandonedByContext(t *testing.T) {
	dp := &gatedDatapath{gate: make(chan struct{})}
	c := New(dp, Opts{TickInterval: time.Hour}, zap.NewNop().Sugar())
	defer c.Close()
	defer close(dp.gate)
	connect(t, c, 1, 1, 2)

	// The flood blocks the worker until the gate opens.
	if err := c.Dispatch(PacketIn{Switch: 1, InPort: 1, Src: mac(macA), Dst: mac(macB), BufferID: NoBuffer}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	snap, err := c.Snapshot(ctx, 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if snap.Session != "" || snap.Macs != nil {
		t.Errorf("abandoned snapshot should be empty, got %+v", snap)
	}
	if _, err := c.Tick(ctx, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded from Tick, got %v", err)
	}
}

func TestDispatchQueueFull(t *testing.T) {
	dp := &gatedDatapath{gate: make(chan struct{})}
	c := New(dp, Opts{TickInterval: time.Hour, QueueDepth: 1}, zap.NewNop().Sugar())
	defer c.Close()
	defer close(dp.gate)
	connect(t, c, 1, 1, 2)

	in := PacketIn{Switch: 1, InPort: 1, Src: mac(macA), Dst: mac(macB), BufferID: NoBuffer}
	var err error
	for i := 0; i < 5 && err == nil; i++ {
		err = c.Dispatch(in)
	}
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull once the worker stalls, got %v", err)
	}
}

func TestDisconnectIsolation(t *testing.T) {
	c, _, _ := newTestController(t, Opts{})
	connect(t, c, 1, 1, 2)
	connect(t, c, 2, 1, 2)

	for _, dpid := range []uint64{1, 2} {
		packetIn(t, c, dpid, 1, macA, macB)
		packetIn(t, c, dpid, 2, macB, macA)
	}

	if err := c.Handle(context.Background(), SwitchDisconnect{Switch: 1}); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	if _, err := c.Snapshot(context.Background(), 1); !errors.Is(err, ErrUnknownSwitch) {
		t.Errorf("expected ErrUnknownSwitch for disconnected switch, got %v", err)
	}
	snap, err := c.Snapshot(context.Background(), 2)
	if err != nil {
		t.Fatalf("Snapshot(2): %v", err)
	}
	if len(snap.Macs) != 2 || len(snap.Flows) != 1 {
		t.Errorf("switch 2 state disturbed: %d macs %d flows", len(snap.Macs), len(snap.Flows))
	}

	// Reconnect starts from nothing.
	connect(t, c, 1, 1, 2)
	snap, _ = c.Snapshot(context.Background(), 1)
	if len(snap.Macs) != 0 || len(snap.Flows) != 0 {
		t.Errorf("reconnected switch should start empty, got %d macs %d flows", len(snap.Macs), len(snap.Flows))
	}

	if !reflect.DeepEqual(c.Switches(), []uint64{1, 2}) {
		t.Errorf("unexpected switch list %v", c.Switches())
	}
}

func TestReconnectDiscardsSession(t *testing.T) {
	c, _, _ := newTestController(t, Opts{})
	connect(t, c, 1, 1, 2)
	packetIn(t, c, 1, 1, macA, macB)
	before, _ := c.Snapshot(context.Background(), 1)

	connect(t, c, 1, 1, 2, 3)
	after, _ := c.Snapshot(context.Background(), 1)
	if after.Session == before.Session {
		t.Error("reconnect should open a new session")
	}
	if len(after.Macs) != 0 || len(after.Ports) != 3 {
		t.Errorf("expected fresh state with 3 ports, got %+v", after)
	}
}

func TestUnknownSwitch(t *testing.T) {
	c, _, _ := newTestController(t, Opts{})

	err := c.Handle(context.Background(), PacketIn{Switch: 9, InPort: 1, Src: mac(macA), Dst: mac(macB)})
	if !errors.Is(err, ErrUnknownSwitch) {
		t.Errorf("expected ErrUnknownSwitch, got %v", err)
	}
	if err := c.Handle(context.Background(), SwitchDisconnect{Switch: 9}); !errors.Is(err, ErrUnknownSwitch) {
		t.Errorf("expected ErrUnknownSwitch on disconnect, got %v", err)
	}
	if err := c.Handle(context.Background(), FlowMod{Switch: 9}); err == nil {
		t.Error("controller should refuse southbound message types")
	}
}

func ethernetFrame(t *testing.T, src, dst string, ethType layers.EthernetType) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	eth := &layers.Ethernet{SrcMAC: mac(src), DstMAC: mac(dst), EthernetType: ethType}
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, gopacket.Payload([]byte("hello"))); err != nil {
		t.Fatalf("serializing frame: %v", err)
	}
	return buf.Bytes()
}

func TestLLDPIgnored(t *testing.T) {
	c, dp, _ := newTestController(t, Opts{})
	connect(t, c, 1, 1, 2)

	frame := ethernetFrame(t, macA, "01:80:c2:00:00:0e", layers.EthernetTypeLinkLayerDiscovery)
	if err := c.Handle(context.Background(), PacketIn{Switch: 1, InPort: 1, Payload: frame, BufferID: NoBuffer}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	mods, outs := dp.take()
	if len(mods)+len(outs) != 0 {
		t.Errorf("LLDP must not be forwarded, got %d mods %d outs", len(mods), len(outs))
	}
	snap, _ := c.Snapshot(context.Background(), 1)
	if len(snap.Macs) != 0 {
		t.Error("LLDP sources must not be learned")
	}
}

func TestAddressesDecodedFromPayload(t *testing.T) {
	c, dp, _ := newTestController(t, Opts{})
	connect(t, c, 1, 1, 2, 3)

	frame := ethernetFrame(t, macA, macB, layers.EthernetTypeIPv4)
	if err := c.Handle(context.Background(), PacketIn{Switch: 1, InPort: 3, Payload: frame, BufferID: NoBuffer}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	_, outs := dp.take()
	if len(outs) != 1 || !reflect.DeepEqual(outs[0].OutPorts, []uint32{1, 2}) {
		t.Errorf("expected flood to 1,2, got %+v", outs)
	}
	snap, _ := c.Snapshot(context.Background(), 1)
	if len(snap.Macs) != 1 || snap.Macs[0].MAC != macA || snap.Macs[0].Port != 3 {
		t.Errorf("expected %s learned on port 3, got %+v", macA, snap.Macs)
	}
}

func TestBufferedPacketOut(t *testing.T) {
	c, dp, _ := newTestController(t, Opts{})
	connect(t, c, 1, 1, 2)

	err := c.Handle(context.Background(), PacketIn{
		Switch: 1, InPort: 1, Src: mac(macA), Dst: mac(macB), Payload: []byte("frame"), BufferID: 42,
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	_, outs := dp.take()
	if len(outs) != 1 || outs[0].BufferID != 42 || outs[0].Payload != nil {
		t.Errorf("buffered packet-out should reference the buffer only, got %+v", outs)
	}
}

func TestPortDeletedPurgesState(t *testing.T) {
	c, _, _ := newTestController(t, Opts{})
	connect(t, c, 1, 1, 2, 3)

	packetIn(t, c, 1, 1, macA, macB)
	packetIn(t, c, 1, 2, macB, macA) // flow 2 -> 1
	packetIn(t, c, 1, 3, macC, macB) // flow 3 -> 2

	if err := c.Handle(context.Background(), PortStatus{Switch: 1, Port: 1, Reason: PortDeleted}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	snap, _ := c.Snapshot(context.Background(), 1)
	if !reflect.DeepEqual(snap.Ports, []uint32{2, 3}) {
		t.Errorf("expected ports [2 3], got %v", snap.Ports)
	}
	if len(snap.Macs) != 2 {
		t.Errorf("expected 2 macs left, got %d", len(snap.Macs))
	}
	if len(snap.Flows) != 1 || snap.Flows[0].Match.InPort != 3 {
		t.Errorf("expected only the 3 -> 2 flow left, got %+v", snap.Flows)
	}

	_ = c.Handle(context.Background(), PortStatus{Switch: 1, Port: 4, Reason: PortAdded})
	snap, _ = c.Snapshot(context.Background(), 1)
	if !reflect.DeepEqual(snap.Ports, []uint32{2, 3, 4}) {
		t.Errorf("expected ports [2 3 4], got %v", snap.Ports)
	}
}

func TestFlowRemovedDropsMirror(t *testing.T) {
	c, _, _ := newTestController(t, Opts{})
	connect(t, c, 1, 1, 2)
	packetIn(t, c, 1, 1, macA, macB)
	packetIn(t, c, 1, 2, macB, macA)

	err := c.Handle(context.Background(), FlowRemoved{Switch: 1, Match: FlowMatch{InPort: 2, Dst: mac(macA)}})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	snap, _ := c.Snapshot(context.Background(), 1)
	if len(snap.Flows) != 0 {
		t.Errorf("expected flow gone, got %+v", snap.Flows)
	}
}

func TestConcurrentSwitches(t *testing.T) {
	defer goleak.VerifyNone(t)

	dp := &recordingDatapath{}
	c := New(dp, Opts{TickInterval: time.Millisecond}, zap.NewNop().Sugar())

	const switches = 16
	for i := 1; i <= switches; i++ {
		if err := c.Handle(context.Background(), SwitchConnect{Switch: uint64(i), Ports: []uint32{1, 2, 3}}); err != nil {
			t.Fatalf("connect: %v", err)
		}
	}

	var wg sync.WaitGroup
	for i := 1; i <= switches; i++ {
		wg.Add(1)
		go func(dpid uint64) {
			defer wg.Done()
			for n := 0; n < 50; n++ {
				src := mac(fmt.Sprintf("02:00:00:00:%02x:%02x", dpid, n))
				dst := mac(fmt.Sprintf("02:00:00:00:%02x:%02x", dpid, (n+1)%50))
				_ = c.Handle(context.Background(), PacketIn{Switch: dpid, InPort: uint32(n%3) + 1, Src: src, Dst: dst})
				_ = c.Dispatch(PacketIn{Switch: dpid, InPort: uint32(n%3) + 1, Src: dst, Dst: src})
			}
		}(uint64(i))
	}
	wg.Wait()

	for i := 1; i <= switches; i++ {
		snap, err := c.Snapshot(context.Background(), uint64(i))
		if err != nil {
			t.Fatalf("Snapshot(%d): %v", i, err)
		}
		if len(snap.Macs) != 50 {
			t.Errorf("switch %d learned %d macs, want 50", i, len(snap.Macs))
		}
	}

	c.Close()
	if err := c.Handle(context.Background(), SwitchConnect{Switch: 1}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
}

func TestAPI(t *testing.T) {
	c, _, _ := newTestController(t, Opts{})
	connect(t, c, 0x300000000, 1, 2)
	packetIn(t, c, 0x300000000, 1, macA, macB)

	mux := http.NewServeMux()
	c.RegisterRoutes(mux, nil)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tests := []struct {
		path string
		code int
	}{
		{"/api/v1/switches", http.StatusOK},
		{"/api/v1/switches/0000000300000000/macs", http.StatusOK},
		{"/api/v1/switches/0000000300000000/flows", http.StatusOK},
		{"/api/v1/switches/0000000300000001/macs", http.StatusNotFound},
		{"/api/v1/switches/zz/macs", http.StatusBadRequest},
		{"/api/v1/switches/0000000300000000/bogus", http.StatusNotFound},
		{"/metrics", http.StatusOK},
	}
	for _, tt := range tests {
		resp, err := http.Get(srv.URL + tt.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tt.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.code {
			t.Errorf("GET %s: status %d, want %d", tt.path, resp.StatusCode, tt.code)
		}
	}
}
