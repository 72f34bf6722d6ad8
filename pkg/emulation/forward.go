package emulation

import (
	"context"
	"fmt"

	"github.com/glennswest/fattree/pkg/controller"
	"github.com/glennswest/fattree/pkg/fabric"
)

// Trace describes what happened to one frame sent between two hosts.
type Trace struct {
	Src       string `json:"src"`
	Dst       string `json:"dst"`
	Delivered int    `json:"delivered"` // copies accepted by the destination
	Hops      int    `json:"hops"`      // switches crossed by the first delivered copy
	PacketIns int    `json:"packetIns"`
	FlowHits  int    `json:"flowHits"` // forwarding decisions taken from switch flow tables
	Frames    int    `json:"frames"`   // link transmissions
	Dropped   int    `json:"dropped"`  // blocked port, port down or hop limit
}

// OK reports exactly-once delivery.
func (t Trace) OK() bool { return t.Delivered == 1 }

type inFlight struct {
	sw   uint64
	in   uint32
	hops int
}

// Send emits one echo request from host src to host dst and carries every
// resulting copy until the network is quiet. seq distinguishes repeated sends.
func (f *Fabric) Send(ctx context.Context, src, dst string, seq uint16) (Trace, error) {
	tr := Trace{Src: src, Dst: dst}

	from, ok := f.topo.Host(src)
	if !ok {
		return tr, fmt.Errorf("%q: %w", src, ErrUnknownHost)
	}
	to, ok := f.topo.Host(dst)
	if !ok {
		return tr, fmt.Errorf("%q: %w", dst, ErrUnknownHost)
	}
	fr, err := echoRequest(from, to, seq)
	if err != nil {
		return tr, err
	}

	f.sendMu.Lock()
	defer f.sendMu.Unlock()
	if f.ctrl == nil {
		return tr, ErrNotConnected
	}

	queue := []inFlight{{sw: from.EdgeSwitch, in: from.EdgePort, hops: 1}}
	tr.Frames = 1
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return tr, err
		}
		if tr.Frames > f.opts.MaxFrames {
			return tr, fmt.Errorf("%s -> %s after %d frames: %w", src, dst, tr.Frames, ErrStorm)
		}

		cur := queue[0]
		queue = queue[1:]

		outs, err := f.forward(ctx, cur, fr, &tr)
		if err != nil {
			return tr, err
		}
		for _, p := range outs {
			next, ok := f.transmit(cur, p, fr, to, &tr)
			if ok {
				queue = append(queue, next)
			}
		}
	}

	f.log.Debugw("frame sent", "src", src, "dst", dst, "delivered", tr.Delivered,
		"hops", tr.Hops, "packet_ins", tr.PacketIns, "frames", tr.Frames)
	return tr, nil
}

// forward returns the ports a switch sends the frame out of: the flow entry's
// port on a hit, otherwise whatever the controller answers with.
func (f *Fabric) forward(ctx context.Context, cur inFlight, fr frame, tr *Trace) ([]uint32, error) {
	f.mu.Lock()
	dp := f.switches[cur.sw]
	e, hit := dp.flows.Match(controller.FlowMatch{InPort: cur.in, Src: fr.src, Dst: fr.dst}, f.opts.Clock())
	f.mu.Unlock()

	if hit {
		tr.FlowHits++
		return []uint32{e.OutPort}, nil
	}

	tr.PacketIns++
	msg := controller.PacketIn{
		Switch:   cur.sw,
		InPort:   cur.in,
		Src:      fr.src,
		Dst:      fr.dst,
		Payload:  fr.data,
		BufferID: controller.NoBuffer,
	}
	if err := f.ctrl.Handle(ctx, msg); err != nil {
		return nil, fmt.Errorf("packet-in from %s: %w", dp.sw.Name, err)
	}

	var outs []uint32
	for _, po := range f.takeOutbox() {
		if po.Switch != cur.sw {
			f.log.Warnw("packet-out for a switch that did not miss", "switch", po.Switch)
			continue
		}
		outs = append(outs, po.OutPorts...)
	}
	return outs, nil
}

// transmit puts the frame on the link behind (cur.sw, port). It returns the
// next switch hop, if any; deliveries to hosts are recorded in tr.
func (f *Fabric) transmit(cur inFlight, port uint32, fr frame, dst fabric.Host, tr *Trace) (inFlight, bool) {
	f.mu.Lock()
	dp := f.switches[cur.sw]
	name := dp.sw.Name
	usable := dp.ports[port] && !f.blocked[fabric.Endpoint{Node: name, Port: port}]
	f.mu.Unlock()

	if !usable {
		tr.Dropped++
		return inFlight{}, false
	}
	peer, ok := f.topo.Peer(name, port)
	if !ok {
		tr.Dropped++
		return inFlight{}, false
	}
	tr.Frames++

	if h, isHost := f.topo.Host(peer.Node); isHost {
		if h.Name == dst.Name && accepts(h, fr) {
			tr.Delivered++
			if tr.Delivered == 1 {
				tr.Hops = cur.hops
			}
		}
		return inFlight{}, false
	}

	next, ok := f.topo.SwitchByName(peer.Node)
	if !ok {
		tr.Dropped++
		return inFlight{}, false
	}
	if cur.hops >= f.opts.HopLimit {
		tr.Dropped++
		return inFlight{}, false
	}
	f.mu.Lock()
	up := f.switches[next.DatapathID].ports[peer.Port]
	f.mu.Unlock()
	if !up {
		tr.Dropped++
		return inFlight{}, false
	}
	return inFlight{sw: next.DatapathID, in: peer.Port, hops: cur.hops + 1}, true
}

// Report summarizes a PingAll run.
type Report struct {
	Pairs     int      `json:"pairs"`
	Delivered int      `json:"delivered"`
	PacketIns int      `json:"packetIns"`
	FlowHits  int      `json:"flowHits"`
	Failed    []string `json:"failed,omitempty"` // "src->dst"
}

// Loss is the fraction of pairs without exactly-once delivery.
func (r Report) Loss() float64 {
	if r.Pairs == 0 {
		return 0
	}
	return float64(len(r.Failed)) / float64(r.Pairs)
}

// PingAll sends one echo request between every ordered pair of distinct
// hosts, in topology order.
func (f *Fabric) PingAll(ctx context.Context) (Report, error) {
	var rep Report
	for i, src := range f.topo.Hosts {
		for j, dst := range f.topo.Hosts {
			if i == j {
				continue
			}
			tr, err := f.Send(ctx, src.Name, dst.Name, uint16(rep.Pairs))
			if err != nil {
				return rep, err
			}
			rep.Pairs++
			rep.PacketIns += tr.PacketIns
			rep.FlowHits += tr.FlowHits
			if tr.OK() {
				rep.Delivered++
			} else {
				rep.Failed = append(rep.Failed, src.Name+"->"+dst.Name)
			}
		}
	}
	f.log.Infow("ping all finished", "pairs", rep.Pairs, "delivered", rep.Delivered,
		"loss", fmt.Sprintf("%.1f%%", rep.Loss()*100), "packet_ins", rep.PacketIns)
	return rep, nil
}
