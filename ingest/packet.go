// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ingest decodes captured frames into the packet metadata the DPI
// core consumes and drives them through the flow table and dissector
// registry (spec.md §4.6). Wire capture itself is out of scope here too —
// callers hand this package already-captured frame bytes, whether read from
// a pcap file or a live interface; this package only does the datalink/L3/L4
// decode the core's own packet input contract assumes has already happened.
package ingest

import (
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"grimm.is/dpicore/internal/dissector"
	"grimm.is/dpicore/internal/errors"
	"grimm.is/dpicore/internal/flow"
)

// Packet is the core's packet input contract (spec.md §6): a decoded
// datalink frame reduced to the fields the flow table and dissectors need.
type Packet struct {
	TimestampMS int64

	SrcAddr netip.Addr
	DstAddr netip.Addr
	SrcPort uint16
	DstPort uint16

	Transport flow.Transport
	Payload   []byte

	IPv4Fragmented     bool
	IPv6FragmentHeader bool
}

// DecodeFrame decodes a captured Ethernet frame (or a bare IP packet, for
// capture sources that strip the datalink header) into a Packet.
// timestampMS is the capture timestamp supplied by the caller; this package
// performs no wall-clock reads of its own.
func DecodeFrame(data []byte, timestampMS int64) (Packet, error) {
	firstLayer := layers.LayerTypeEthernet
	if len(data) > 0 {
		switch data[0] >> 4 {
		case 4:
			firstLayer = layers.LayerTypeIPv4
		case 6:
			firstLayer = layers.LayerTypeIPv6
		}
	}

	parsed := gopacket.NewPacket(data, firstLayer, gopacket.NoCopy)
	if err := parsed.ErrorLayer(); err != nil {
		return Packet{}, errors.Wrap(err.Error(), errors.KindTruncated, "malformed capture frame")
	}

	pkt := Packet{TimestampMS: timestampMS}

	if v4 := parsed.Layer(layers.LayerTypeIPv4); v4 != nil {
		ip4 := v4.(*layers.IPv4)
		addr, ok := netip.AddrFromSlice(ip4.SrcIP.To4())
		if !ok {
			return Packet{}, errors.New(errors.KindTruncated, "malformed IPv4 source address")
		}
		pkt.SrcAddr = addr
		addr, ok = netip.AddrFromSlice(ip4.DstIP.To4())
		if !ok {
			return Packet{}, errors.New(errors.KindTruncated, "malformed IPv4 destination address")
		}
		pkt.DstAddr = addr
		pkt.IPv4Fragmented = ip4.Flags&layers.IPv4MoreFragments != 0 || ip4.FragOffset != 0
	} else if v6 := parsed.Layer(layers.LayerTypeIPv6); v6 != nil {
		ip6 := v6.(*layers.IPv6)
		addr, ok := netip.AddrFromSlice(ip6.SrcIP.To16())
		if !ok {
			return Packet{}, errors.New(errors.KindTruncated, "malformed IPv6 source address")
		}
		pkt.SrcAddr = addr
		addr, ok = netip.AddrFromSlice(ip6.DstIP.To16())
		if !ok {
			return Packet{}, errors.New(errors.KindTruncated, "malformed IPv6 destination address")
		}
		pkt.DstAddr = addr
		if parsed.Layer(layers.LayerTypeIPv6Fragment) != nil || ip6.NextHeader == layers.IPProtocolIPv6Fragment {
			pkt.IPv6FragmentHeader = true
		}
	} else {
		return Packet{}, errors.New(errors.KindUnknown, "no IPv4 or IPv6 layer found")
	}

	switch {
	case parsed.Layer(layers.LayerTypeTCP) != nil:
		tcp := parsed.Layer(layers.LayerTypeTCP).(*layers.TCP)
		pkt.Transport = flow.TransportTCP
		pkt.SrcPort = uint16(tcp.SrcPort)
		pkt.DstPort = uint16(tcp.DstPort)
		pkt.Payload = tcp.Payload
	case parsed.Layer(layers.LayerTypeUDP) != nil:
		udp := parsed.Layer(layers.LayerTypeUDP).(*layers.UDP)
		pkt.Transport = flow.TransportUDP
		pkt.SrcPort = uint16(udp.SrcPort)
		pkt.DstPort = uint16(udp.DstPort)
		pkt.Payload = udp.Payload
	default:
		pkt.Transport = flow.TransportUnknown
	}

	return pkt, nil
}

// Fingerprint derives the flow table key for p.
func (p Packet) Fingerprint() flow.Fingerprint {
	return flow.Fingerprint{
		SrcAddr:   p.SrcAddr,
		DstAddr:   p.DstAddr,
		SrcPort:   p.SrcPort,
		DstPort:   p.DstPort,
		Transport: p.Transport,
	}
}

// selectionMask computes the coarse dispatcher mask for p; fine-grained
// protocol selection (port numbers, multicast gates) is each dissector's
// own job.
func (p Packet) selectionMask() dissector.SelectionMask {
	var mask dissector.SelectionMask
	if p.SrcAddr.Is4() {
		mask |= dissector.SelectIPv4
	} else if p.SrcAddr.Is6() {
		mask |= dissector.SelectIPv6
	}
	switch p.Transport {
	case flow.TransportTCP:
		mask |= dissector.SelectTCP
	case flow.TransportUDP:
		mask |= dissector.SelectUDP
	}
	if len(p.Payload) > 0 {
		mask |= dissector.SelectPayloadBearing
	}
	mask |= dissector.SelectNonRetransmission
	return mask
}

func (p Packet) meta() dissector.PacketMeta {
	return dissector.PacketMeta{
		SrcAddr:            p.SrcAddr,
		DstAddr:            p.DstAddr,
		SrcPort:            p.SrcPort,
		DstPort:            p.DstPort,
		Transport:          p.Transport,
		Mask:               p.selectionMask(),
		Payload:            p.Payload,
		IPv4Fragmented:     p.IPv4Fragmented,
		IPv6FragmentHeader: p.IPv6FragmentHeader,
	}
}
