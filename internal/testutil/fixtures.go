// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package testutil builds realistic wire-format packet fixtures for tests
// elsewhere in the module, using the same encoding libraries a live capture
// pipeline would produce frames with — so a fixture exercises the real
// decode path (internal/dnsreader, ingest.DecodeFrame) rather than a
// hand-rolled byte layout that only coincidentally matches it.
package testutil

import (
	"net"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/miekg/dns"
)

var (
	testSrcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	testDstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// BuildUDPFrame serializes a complete Ethernet+IP+UDP frame carrying
// payload, choosing IPv4 or IPv6 based on the address family of src/dst.
func BuildUDPFrame(src, dst netip.Addr, srcPort, dstPort uint16, payload []byte) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC: testSrcMAC,
		DstMAC: testDstMAC,
	}

	udp := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dstPort),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}

	var networkLayer gopacket.SerializableLayer
	if src.Is4() {
		eth.EthernetType = layers.EthernetTypeIPv4
		ip4 := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IP(src.AsSlice()),
			DstIP:    net.IP(dst.AsSlice()),
		}
		udp.SetNetworkLayerForChecksum(ip4)
		networkLayer = ip4
	} else {
		eth.EthernetType = layers.EthernetTypeIPv6
		ip6 := &layers.IPv6{
			Version:    6,
			HopLimit:   64,
			NextHeader: layers.IPProtocolUDP,
			SrcIP:      net.IP(src.AsSlice()),
			DstIP:      net.IP(dst.AsSlice()),
		}
		udp.SetNetworkLayerForChecksum(ip6)
		networkLayer = ip6
	}

	if err := gopacket.SerializeLayers(buf, opts, eth, networkLayer, udp, gopacket.Payload(payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildDNSQuery packs a standard recursive A query for name using
// miekg/dns — a well-formed-message library, appropriate here since these
// fixtures exercise the decode path rather than probing its edge cases (the
// dissector's own malformed-input tests hand-encode wire bytes instead, see
// internal/dns/dns_test.go).
func BuildDNSQuery(name string, qtype uint16) []byte {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true
	out, err := msg.Pack()
	if err != nil {
		panic(err)
	}
	return out
}

// BuildDNSAResponse packs a response to an A query for name carrying a
// single answer record.
func BuildDNSAResponse(name string, ip net.IP, ttl uint32) []byte {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeA)
	msg.Response = true
	msg.RecursionAvailable = true
	msg.Answer = append(msg.Answer, &dns.A{
		Hdr: dns.RR_Header{Name: dns.Fqdn(name), Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
		A:   ip,
	})
	out, err := msg.Pack()
	if err != nil {
		panic(err)
	}
	return out
}
