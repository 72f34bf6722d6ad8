package controller

import (
	"net"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// packetIn is the learning-switch step: learn the source, then forward to a
// known destination (installing a flow), drop a hairpin, or flood.
func (c *Controller) packetIn(s *switchState, m PacketIn) {
	src, dst, ok := frameAddrs(m)
	if !ok {
		packetInTotal.WithLabelValues(decisionIgnore).Inc()
		s.log.Debugw("packet-in without ethernet addresses", "in_port", m.InPort)
		return
	}

	now := c.opts.Clock()
	if s.macs.Learn(src, m.InPort, now) {
		s.log.Debugw("learned address", "mac", src.String(), "port", m.InPort)
	}

	out, known := s.macs.Lookup(dst)
	switch {
	case !known:
		c.flood(s, m)

	case out == m.InPort:
		// Never send a frame back out of the port it came in on.
		packetInTotal.WithLabelValues(decisionDrop).Inc()
		s.log.Debugw("dropping hairpin frame", "dst", dst.String(), "port", out)

	default:
		mod := FlowMod{
			Switch:      s.dpid,
			Match:       FlowMatch{InPort: m.InPort, Src: src, Dst: dst},
			OutPort:     out,
			IdleTimeout: seconds(c.opts.IdleTimeout),
			HardTimeout: seconds(c.opts.HardTimeout),
		}
		if err := c.dp.SendFlowMod(c.ctx, mod); err != nil {
			// Keep this destination on the flooding path until an install sticks.
			flowInstallsTotal.WithLabelValues("error").Inc()
			s.log.Warnw("flow install rejected, flooding instead",
				"in_port", m.InPort, "dst", dst.String(), "out_port", out, "error", err)
			c.flood(s, m)
			return
		}
		flowInstallsTotal.WithLabelValues("ok").Inc()
		s.flows.Install(FlowEntry{
			Switch:      s.dpid,
			Match:       mod.Match,
			OutPort:     out,
			IdleTimeout: c.opts.IdleTimeout,
			HardTimeout: c.opts.HardTimeout,
		}, now)

		packetInTotal.WithLabelValues(decisionForward).Inc()
		c.packetOut(s, m, []uint32{out})
	}
}

func (c *Controller) flood(s *switchState, m PacketIn) {
	packetInTotal.WithLabelValues(decisionFlood).Inc()

	ports := make([]uint32, 0, len(s.ports))
	for _, p := range s.ports {
		if p != m.InPort {
			ports = append(ports, p)
		}
	}
	if len(ports) == 0 {
		return
	}
	c.packetOut(s, m, ports)
}

func (c *Controller) packetOut(s *switchState, m PacketIn, ports []uint32) {
	out := PacketOut{
		Switch:   s.dpid,
		InPort:   m.InPort,
		OutPorts: ports,
		BufferID: m.BufferID,
	}
	if m.BufferID == NoBuffer {
		out.Payload = m.Payload
	}
	if err := c.dp.SendPacketOut(c.ctx, out); err != nil {
		s.log.Warnw("packet-out failed", "in_port", m.InPort, "ports", ports, "error", err)
	}
}

func (c *Controller) portStatus(s *switchState, m PortStatus) {
	s.log.Infow("port status", "port", m.Port, "reason", m.Reason.String())

	switch m.Reason {
	case PortAdded:
		for _, p := range s.ports {
			if p == m.Port {
				return
			}
		}
		s.ports = append(s.ports, m.Port)

	case PortDeleted:
		kept := s.ports[:0]
		for _, p := range s.ports {
			if p != m.Port {
				kept = append(kept, p)
			}
		}
		s.ports = kept

		macs := s.macs.ForgetPort(m.Port)
		flows := s.flows.RemovePort(m.Port)
		flowEvictionsTotal.WithLabelValues("port").Add(float64(len(flows)))
		s.log.Infow("purged state for deleted port", "port", m.Port, "macs", macs, "flows", len(flows))
	}
}

func (c *Controller) flowRemoved(s *switchState, m FlowRemoved) {
	if s.flows.Remove(m.Match) {
		flowEvictionsTotal.WithLabelValues("removed").Inc()
		s.log.Debugw("flow removed by switch", "in_port", m.Match.InPort, "dst", m.Match.Dst.String())
	}
}

// flowStats restarts the idle timer of entries the switch reports as used,
// so flows carrying steady traffic are not expired here while the switch
// still forwards with them.
func (c *Controller) flowStats(s *switchState, m FlowStats) {
	now := c.opts.Clock()
	refreshed := 0
	for _, st := range m.Flows {
		if s.flows.Touch(st.Match, now.Add(-st.IdleFor)) {
			refreshed++
		}
	}
	s.log.Debugw("flow stats", "reported", len(m.Flows), "refreshed", refreshed)
}

// frameAddrs returns the Ethernet addresses of a packet-in, decoding the
// payload when the message does not carry them. LLDP frames are link-local
// discovery traffic and are reported as not forwardable.
func frameAddrs(m PacketIn) (src, dst net.HardwareAddr, ok bool) {
	if len(m.Payload) > 0 {
		pkt := gopacket.NewPacket(m.Payload, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		if eth, isEth := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet); isEth {
			if eth.EthernetType == layers.EthernetTypeLinkLayerDiscovery {
				return nil, nil, false
			}
			if len(m.Src) == 0 {
				m.Src = eth.SrcMAC
			}
			if len(m.Dst) == 0 {
				m.Dst = eth.DstMAC
			}
		}
	}
	if len(m.Src) != 6 || len(m.Dst) != 6 {
		return nil, nil, false
	}
	return m.Src, m.Dst, true
}

// seconds converts a timeout to the 16-bit seconds field of a FlowMod,
// rounding up so a sub-second timeout is not sent as "never".
func seconds(d time.Duration) uint16 {
	if d <= 0 {
		return 0
	}
	s := (d + time.Second - 1) / time.Second
	if s > 0xffff {
		return 0xffff
	}
	return uint16(s)
}
