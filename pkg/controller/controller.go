package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/glennswest/fattree/pkg/fabric/addr"
)

var (
	// ErrUnknownSwitch is returned for events addressed to a datapath that is
	// not connected.
	ErrUnknownSwitch = errors.New("switch not connected")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("controller closed")

	// ErrQueueFull is returned by Dispatch when the switch's event queue has
	// no room. The event is dropped.
	ErrQueueFull = errors.New("switch event queue full")
)

// Datapath is the southbound side of the controller: whatever carries
// FlowMod and PacketOut messages to switches. Both calls are fire-and-forget;
// an error means the message was rejected, not that delivery was awaited.
// Implementations must not call back into Handle synchronously.
type Datapath interface {
	SendFlowMod(ctx context.Context, m FlowMod) error
	SendPacketOut(ctx context.Context, m PacketOut) error
}

// Opts configures the controller. Zero values pick defaults; a negative
// timeout disables that timer.
type Opts struct {
	IdleTimeout  time.Duration    // default 10s
	HardTimeout  time.Duration    // default 30s
	TickInterval time.Duration    // flow expiry cadence per switch, default 1s
	QueueDepth   int              // per-switch event queue, default 1024
	Clock        func() time.Time // default time.Now
}

func (o Opts) withDefaults() Opts {
	if o.IdleTimeout == 0 {
		o.IdleTimeout = 10 * time.Second
	}
	if o.HardTimeout == 0 {
		o.HardTimeout = 30 * time.Second
	}
	if o.IdleTimeout < 0 {
		o.IdleTimeout = 0
	}
	if o.HardTimeout < 0 {
		o.HardTimeout = 0
	}
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = 1024
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// Controller is a learning-switch controller. Each connected switch gets its
// own worker goroutine that owns the switch's MAC and flow tables; every
// event for that switch, including periodic expiry, runs on that worker in
// arrival order. Switches share no mutable state.
type Controller struct {
	dp   Datapath
	opts Opts
	log  *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	switches map[uint64]*switchState
	closed   bool
}

type switchState struct {
	dpid    uint64
	session string
	ports   []uint32
	macs    *MacTable
	flows   *FlowTable
	log     *zap.SugaredLogger

	tasks chan task
	stop  chan struct{}
	done  chan struct{}
}

type task struct {
	run  func(s *switchState)
	done chan struct{} // nil for fire-and-forget
}

// New returns a controller that sends southbound messages through dp.
func New(dp Datapath, opts Opts, log *zap.SugaredLogger) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		dp:       dp,
		opts:     opts.withDefaults(),
		log:      log.Named("controller"),
		ctx:      ctx,
		cancel:   cancel,
		switches: make(map[uint64]*switchState),
	}
}

// Handle processes msg and returns once the owning switch worker has acted
// on it.
func (c *Controller) Handle(ctx context.Context, msg Message) error {
	return c.handle(ctx, msg, true)
}

// Dispatch queues msg without waiting. Events for a switch whose queue is
// full are dropped, as a congested control channel would, and ErrQueueFull
// is returned.
func (c *Controller) Dispatch(msg Message) error {
	return c.handle(c.ctx, msg, false)
}

func (c *Controller) handle(ctx context.Context, msg Message, wait bool) error {
	switch m := msg.(type) {
	case SwitchConnect:
		return c.connect(m)
	case SwitchDisconnect:
		return c.disconnect(m.Switch)
	case PacketIn:
		return c.submit(ctx, m.Switch, func(s *switchState) { c.packetIn(s, m) }, wait)
	case PortStatus:
		return c.submit(ctx, m.Switch, func(s *switchState) { c.portStatus(s, m) }, wait)
	case FlowRemoved:
		return c.submit(ctx, m.Switch, func(s *switchState) { c.flowRemoved(s, m) }, wait)
	case FlowStats:
		return c.submit(ctx, m.Switch, func(s *switchState) { c.flowStats(s, m) }, wait)
	case nil:
		return errors.New("nil message")
	}
	return fmt.Errorf("controller does not accept %T", msg)
}

// ─── Registry ───────────────────────────────────────────────────────────────

func (c *Controller) connect(m SwitchConnect) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	old := c.switches[m.Switch]

	ports := append([]uint32(nil), m.Ports...)
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })

	session := uuid.New().String()
	tier, _, _ := addr.SplitDatapathID(m.Switch)
	s := &switchState{
		dpid:    m.Switch,
		session: session,
		ports:   ports,
		macs:    NewMacTable(),
		flows:   NewFlowTable(),
		log:     c.log.With("dpid", addr.FormatDatapathID(m.Switch), "tier", tier.String(), "session", session),
		tasks:   make(chan task, c.opts.QueueDepth),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.switches[m.Switch] = s
	c.wg.Add(1)
	go c.run(s)
	c.mu.Unlock()

	if old != nil {
		// Reconnect without a disconnect: the old session's state is stale.
		close(old.stop)
		<-old.done
		s.log.Infow("switch reconnected, previous session discarded", "previous", old.session)
	} else {
		connectedSwitches.Inc()
	}
	s.log.Infow("switch connected", "ports", len(ports))
	return nil
}

func (c *Controller) disconnect(dpid uint64) error {
	c.mu.Lock()
	s, ok := c.switches[dpid]
	if ok {
		delete(c.switches, dpid)
	}
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("disconnect %s: %w", addr.FormatDatapathID(dpid), ErrUnknownSwitch)
	}

	close(s.stop)
	<-s.done
	connectedSwitches.Dec()
	s.log.Infow("switch disconnected, state discarded")
	return nil
}

func (c *Controller) lookup(dpid uint64) (*switchState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}
	s, ok := c.switches[dpid]
	if !ok {
		return nil, fmt.Errorf("%s: %w", addr.FormatDatapathID(dpid), ErrUnknownSwitch)
	}
	return s, nil
}

// Switches returns the datapath ids of connected switches in ascending order.
func (c *Controller) Switches() []uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]uint64, 0, len(c.switches))
	for dpid := range c.switches {
		out = append(out, dpid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close disconnects every switch and stops all workers.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	states := make([]*switchState, 0, len(c.switches))
	for _, s := range c.switches {
		states = append(states, s)
	}
	c.switches = make(map[uint64]*switchState)
	c.mu.Unlock()

	for _, s := range states {
		close(s.stop)
		connectedSwitches.Dec()
	}
	c.wg.Wait()
	c.cancel()
	c.log.Infow("controller stopped", "switches", len(states))
}

// ─── Worker ─────────────────────────────────────────────────────────────────

func (c *Controller) submit(ctx context.Context, dpid uint64, run func(*switchState), wait bool) error {
	s, err := c.lookup(dpid)
	if err != nil {
		droppedEventsTotal.Inc()
		return err
	}

	t := task{run: run}
	if !wait {
		select {
		case s.tasks <- t:
			return nil
		case <-s.stop:
			droppedEventsTotal.Inc()
			return ErrUnknownSwitch
		default:
			droppedEventsTotal.Inc()
			s.log.Warnw("event queue full, dropping event", "depth", cap(s.tasks))
			return fmt.Errorf("%s: %w", addr.FormatDatapathID(dpid), ErrQueueFull)
		}
	}

	t.done = make(chan struct{})
	select {
	case s.tasks <- t:
	case <-s.stop:
		droppedEventsTotal.Inc()
		return ErrUnknownSwitch
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-t.done:
		return nil
	case <-s.done:
		// Worker exited with the task still queued.
		select {
		case <-t.done:
			return nil
		default:
		}
		droppedEventsTotal.Inc()
		return ErrUnknownSwitch
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) run(s *switchState) {
	defer c.wg.Done()
	defer close(s.done)

	ticker := time.NewTicker(c.opts.TickInterval)
	defer ticker.Stop()

	for {
		// Stop wins over queued work.
		select {
		case <-s.stop:
			s.macs.Clear()
			s.flows.Clear()
			return
		default:
		}

		select {
		case <-s.stop:
			s.macs.Clear()
			s.flows.Clear()
			return
		case t := <-s.tasks:
			t.run(s)
			if t.done != nil {
				close(t.done)
			}
		case <-ticker.C:
			c.expire(s, c.opts.Clock())
		}
	}
}

// Tick runs flow expiry for one switch now, on its worker, and returns what
// was evicted. The worker also does this on its own every TickInterval.
func (c *Controller) Tick(ctx context.Context, dpid uint64) ([]Eviction, error) {
	out := make(chan []Eviction, 1)
	err := c.submit(ctx, dpid, func(s *switchState) {
		out <- c.expire(s, c.opts.Clock())
	}, true)
	if err != nil {
		return nil, err
	}
	return <-out, nil
}

func (c *Controller) expire(s *switchState, now time.Time) []Eviction {
	evicted := s.flows.Tick(now)
	for _, ev := range evicted {
		flowEvictionsTotal.WithLabelValues(string(ev.Reason)).Inc()
		s.log.Debugw("flow expired",
			"reason", ev.Reason,
			"in_port", ev.Entry.Match.InPort,
			"dst", ev.Entry.Match.Dst.String(),
			"out_port", ev.Entry.OutPort,
		)
	}
	return evicted
}

// Snapshot is a point-in-time copy of one switch's tables.
type Snapshot struct {
	DatapathID uint64      `json:"dpid"`
	Session    string      `json:"session"`
	Ports      []uint32    `json:"ports"`
	Macs       []MacEntry  `json:"macs"`
	Flows      []FlowEntry `json:"flows"`
}

// Snapshot copies a switch's tables from its worker.
func (c *Controller) Snapshot(ctx context.Context, dpid uint64) (Snapshot, error) {
	// The worker may still run the closure after ctx gives up waiting, so
	// the result only travels through the channel.
	out := make(chan Snapshot, 1)
	err := c.submit(ctx, dpid, func(s *switchState) {
		out <- Snapshot{
			DatapathID: s.dpid,
			Session:    s.session,
			Ports:      append([]uint32(nil), s.ports...),
			Macs:       s.macs.Entries(),
			Flows:      s.flows.Entries(),
		}
	}, true)
	if err != nil {
		return Snapshot{}, err
	}
	return <-out, nil
}
