package emulation

import (
	"bytes"
	"fmt"
	"net"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/glennswest/fattree/pkg/fabric"
)

// frame is one Ethernet frame in flight. The addresses are decoded once when
// the frame is built so switches do not re-parse it per hop.
type frame struct {
	src, dst net.HardwareAddr
	data     []byte
}

// echoRequest builds an Ethernet/IPv4/ICMP echo request from src to dst.
func echoRequest(src, dst fabric.Host, seq uint16) (frame, error) {
	srcIP := net.ParseIP(src.IP).To4()
	dstIP := net.ParseIP(dst.IP).To4()
	if srcIP == nil || dstIP == nil {
		return frame{}, fmt.Errorf("hosts %s and %s need IPv4 addresses", src.Name, dst.Name)
	}

	eth := &layers.Ethernet{
		SrcMAC:       src.HardwareAddr(),
		DstMAC:       dst.HardwareAddr(),
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    srcIP,
		DstIP:    dstIP,
	}
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
		Id:       1,
		Seq:      seq,
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	payload := gopacket.Payload([]byte(src.Name + "->" + dst.Name))
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, icmp, payload); err != nil {
		return frame{}, fmt.Errorf("serializing echo request: %w", err)
	}
	return frame{src: eth.SrcMAC, dst: eth.DstMAC, data: buf.Bytes()}, nil
}

// accepts reports whether host h would take the frame: it must be addressed
// to h's MAC and carry an IPv4 packet for h's address.
func accepts(h fabric.Host, f frame) bool {
	if !bytes.Equal(f.dst, h.HardwareAddr()) {
		return false
	}
	pkt := gopacket.NewPacket(f.data, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	ip, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		return false
	}
	return ip.DstIP.Equal(net.ParseIP(h.IP))
}
