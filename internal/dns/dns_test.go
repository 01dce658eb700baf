// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dns

import (
	"net/netip"
	"testing"

	"grimm.is/dpicore/internal/dissector"
	"grimm.is/dpicore/internal/flow"
	"grimm.is/dpicore/internal/protocol"
	"grimm.is/dpicore/internal/risk"
)

func encodeName(labels ...string) []byte {
	var out []byte
	for _, l := range labels {
		out = append(out, byte(len(l)))
		out = append(out, l...)
	}
	return append(out, 0x00)
}

func u16(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }
func u32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func dnsHeader(flags, numQueries, numAnswers, authorityRRs, additionalRRs uint16) []byte {
	out := u16(0x1234) // tr_id
	out = append(out, u16(flags)...)
	out = append(out, u16(numQueries)...)
	out = append(out, u16(numAnswers)...)
	out = append(out, u16(authorityRRs)...)
	out = append(out, u16(additionalRRs)...)
	return out
}

func buildQuery(name []byte, qtype uint16) []byte {
	payload := dnsHeader(0x0100, 1, 0, 0, 0) // standard query, recursion desired
	payload = append(payload, name...)
	payload = append(payload, u16(qtype)...)
	payload = append(payload, u16(1)...) // class IN
	return payload
}

func buildAResponse(name []byte, ip [4]byte, ttl uint32) []byte {
	payload := dnsHeader(0x8180, 1, 1, 0, 0) // standard response, no error
	payload = append(payload, name...)
	payload = append(payload, u16(1)...) // qtype A
	payload = append(payload, u16(1)...) // qclass IN

	// answer record
	payload = append(payload, name...)
	payload = append(payload, u16(1)...) // type A
	payload = append(payload, u16(1)...) // class IN
	payload = append(payload, u32(ttl)...)
	payload = append(payload, u16(4)...) // rdlength
	payload = append(payload, ip[:]...)
	return payload
}

func udpMeta(payload []byte, srcPort, dstPort uint16) dissector.PacketMeta {
	return dissector.PacketMeta{
		SrcAddr:   netip.MustParseAddr("10.0.0.1"),
		DstAddr:   netip.MustParseAddr("93.184.216.34"),
		SrcPort:   srcPort,
		DstPort:   dstPort,
		Transport: flow.TransportUDP,
		Mask:      dissector.SelectUDP | dissector.SelectPayloadBearing,
		Payload:   payload,
	}
}

func testRecord() *flow.Record {
	return flow.NewRecord(flow.Fingerprint{
		SrcAddr:   netip.MustParseAddr("10.0.0.1"),
		DstAddr:   netip.MustParseAddr("93.184.216.34"),
		SrcPort:   40000,
		DstPort:   53,
		Transport: flow.TransportUDP,
	})
}

func TestUnicastQueryThenResponseSetsRspAddr(t *testing.T) {
	d := New(Config{}, nil)
	rec := testRecord()
	name := encodeName("www", "example", "com")

	query := buildQuery(name, 1)
	if got := d.Run(rec, udpMeta(query, 40000, 53)); got != dissector.VerdictDone {
		t.Fatalf("query: got %v want Done (master is known once the query parses)", got)
	}
	if rec.HostServerName != "www.example.com" {
		t.Fatalf("got hostname %q", rec.HostServerName)
	}

	resp := buildAResponse(name, [4]byte{93, 184, 216, 34}, 3600)
	if got := d.Run(rec, udpMeta(resp, 53, 40000)); got != dissector.VerdictDone {
		t.Fatalf("response: got %v want Done", got)
	}

	if rec.DNS.NumRspAddr != 1 {
		t.Fatalf("got %d response addresses, want 1", rec.DNS.NumRspAddr)
	}
	if rec.DNS.RspAddr[0].TTL != 3600 {
		t.Fatalf("got ttl %d, want 3600", rec.DNS.RspAddr[0].TTL)
	}
	if rec.Verdict.Master != protocol.DNS {
		t.Fatalf("got master %v, want DNS", rec.Verdict.Master)
	}
}

func TestMDNSQueryToMulticastAddress(t *testing.T) {
	d := New(Config{}, nil)
	rec := flow.NewRecord(flow.Fingerprint{
		SrcAddr:   netip.MustParseAddr("10.0.0.5"),
		DstAddr:   netip.MustParseAddr("224.0.0.251"),
		SrcPort:   5353,
		DstPort:   5353,
		Transport: flow.TransportUDP,
	})

	name := encodeName("_services", "_dns-sd", "_udp", "local")
	query := buildQuery(name, 12)

	meta := dissector.PacketMeta{
		SrcAddr:   netip.MustParseAddr("10.0.0.5"),
		DstAddr:   netip.MustParseAddr("224.0.0.251"),
		SrcPort:   5353,
		DstPort:   5353,
		Transport: flow.TransportUDP,
		Mask:      dissector.SelectUDP | dissector.SelectPayloadBearing,
		Payload:   query,
	}

	got := d.Run(rec, meta)
	if got != dissector.VerdictDone && got != dissector.VerdictContinue {
		t.Fatalf("got %v want Done or Continue (not Excluded)", got)
	}
	if rec.Verdict.Master != protocol.MDNS {
		t.Fatalf("got master %v, want MDNS", rec.Verdict.Master)
	}
	if rec.HostServerName != "_services._dns-sd._udp.local" {
		t.Fatalf("got hostname %q", rec.HostServerName)
	}
	if rec.Risks.All() != nil {
		t.Fatalf("expected no risks, got %v", rec.Risks.All())
	}
}

func TestMDNSGateFailureWithEvidenceExcludes(t *testing.T) {
	d := New(Config{}, nil)
	rec := flow.NewRecord(flow.Fingerprint{
		SrcAddr:   netip.MustParseAddr("10.0.0.5"),
		DstAddr:   netip.MustParseAddr("10.0.0.9"), // not the mDNS multicast group
		SrcPort:   5353,
		DstPort:   5353,
		Transport: flow.TransportUDP,
	})

	name := encodeName("host", "local")
	query := buildQuery(name, 1)

	meta := dissector.PacketMeta{
		DstAddr:   netip.MustParseAddr("10.0.0.9"),
		SrcPort:   5353,
		DstPort:   5353,
		Transport: flow.TransportUDP,
		Mask:      dissector.SelectUDP | dissector.SelectPayloadBearing,
		Payload:   query,
	}

	if got := d.Run(rec, meta); got != dissector.VerdictExcluded {
		t.Fatalf("got %v want Excluded", got)
	}
}

func TestNXDOMAINSetsErrorCodeRisk(t *testing.T) {
	d := New(Config{}, nil)
	rec := testRecord()
	name := encodeName("nonexistent", "example")

	payload := dnsHeader(0x8183, 1, 0, 0, 0) // response, rcode 3 (NXDOMAIN)
	payload = append(payload, name...)
	payload = append(payload, u16(1)...)
	payload = append(payload, u16(1)...)

	d.Run(rec, udpMeta(buildQuery(name, 1), 40000, 53))
	d.Run(rec, udpMeta(payload, 53, 40000))

	if rec.DNS.ReplyCode != 3 {
		t.Fatalf("got reply_code %d, want 3", rec.DNS.ReplyCode)
	}
	reason, ok := rec.Risks.Reason(risk.ErrorCodeDetected)
	if !ok || reason != "NXDOMAIN" {
		t.Fatalf("got (%q, %v), want (NXDOMAIN, true)", reason, ok)
	}
}

func TestLongLabelRaisesSuspiciousTraffic(t *testing.T) {
	d := New(Config{}, nil)
	rec := testRecord()

	longLabel := make([]byte, 60)
	for i := range longLabel {
		longLabel[i] = 'a'
	}
	name := encodeName(string(longLabel), "example", "com")

	d.Run(rec, udpMeta(buildQuery(name, 1), 40000, 53))

	if !rec.Risks.IsSet(risk.SuspiciousTraffic) {
		t.Fatal("expected DNS_SUSPICIOUS_TRAFFIC for a 60-byte first label")
	}
}

func TestLongLabelExemptSuffixDoesNotRaiseRisk(t *testing.T) {
	d := New(Config{}, nil)
	rec := testRecord()

	longLabel := make([]byte, 60)
	for i := range longLabel {
		longLabel[i] = 'a'
	}
	name := encodeName(string(longLabel), "amazonaws", "com")

	d.Run(rec, udpMeta(buildQuery(name, 1), 40000, 53))

	if rec.Risks.IsSet(risk.SuspiciousTraffic) {
		t.Fatal("amazonaws.com suffix should be exempt from the long-label risk")
	}
}

func TestEDNS0NSIDGpdnsIATACode(t *testing.T) {
	d := New(Config{}, nil)
	rec := testRecord()
	name := encodeName("www", "example", "com")

	payload := dnsHeader(0x8180, 1, 1, 0, 1)
	payload = append(payload, name...)
	payload = append(payload, u16(1)...)
	payload = append(payload, u16(1)...)

	// answer: A record
	payload = append(payload, name...)
	payload = append(payload, u16(1)...)
	payload = append(payload, u16(1)...)
	payload = append(payload, u32(300)...)
	payload = append(payload, u16(4)...)
	payload = append(payload, []byte{93, 184, 216, 34}...)

	// additional: OPT record with NSID option "gpdns-CDG"
	nsidValue := append([]byte("gpdns-"), "CDG"...)
	opt := u16(0x03)
	opt = append(opt, u16(uint16(len(nsidValue)))...)
	opt = append(opt, nsidValue...)

	payload = append(payload, 0x00)              // root name
	payload = append(payload, u16(41)...)        // type OPT
	payload = append(payload, u16(4096)...)      // class = UDP payload size
	payload = append(payload, u32(0)...)         // ttl/extended rcode
	payload = append(payload, u16(uint16(len(opt)))...)
	payload = append(payload, opt...)

	d.Run(rec, udpMeta(buildQuery(name, 1), 40000, 53))
	d.Run(rec, udpMeta(payload, 53, 40000))

	if rec.DNS.EDNS0UDPPayloadSize != 4096 {
		t.Fatalf("got udp payload size %d, want 4096", rec.DNS.EDNS0UDPPayloadSize)
	}
	if rec.DNS.GeolocationIATACode != "CDG" {
		t.Fatalf("got iata code %q, want CDG", rec.DNS.GeolocationIATACode)
	}
}

func TestHeaderTruncationExcludesWithoutPanic(t *testing.T) {
	d := New(Config{}, nil)
	rec := testRecord()

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("panicked on truncated header: %v", r)
		}
	}()

	for i := 0; i < noEvidenceExclusionAt; i++ {
		got := d.Run(rec, udpMeta([]byte{0x00, 0x01, 0x02}, 40000, 53))
		if i < noEvidenceExclusionAt-1 && got != dissector.VerdictContinue {
			t.Fatalf("iteration %d: got %v want Continue", i, got)
		}
		if i == noEvidenceExclusionAt-1 && got != dissector.VerdictExcluded {
			t.Fatalf("iteration %d: got %v want Excluded", i, got)
		}
	}
}

func TestNumQueries17IsInvalid(t *testing.T) {
	if isGoodQuery(17, 0, 0, 0x0100) {
		t.Fatal("num_queries == 17 must be rejected")
	}
}

func TestObsoleteRecordTypeRaisesRisk(t *testing.T) {
	d := New(Config{}, nil)
	rec := testRecord()
	name := encodeName("example", "com")

	payload := dnsHeader(0x8180, 1, 1, 0, 0)
	payload = append(payload, name...)
	payload = append(payload, u16(8)...) // qtype 8 (MG), irrelevant to answer type below
	payload = append(payload, u16(1)...)

	payload = append(payload, name...)
	payload = append(payload, u16(7)...) // type 7: obsolete (MB)
	payload = append(payload, u16(1)...)
	payload = append(payload, u32(60)...)
	payload = append(payload, u16(2)...)
	payload = append(payload, []byte{0x00, 0x00}...)

	d.Run(rec, udpMeta(buildQuery(name, 8), 40000, 53))
	d.Run(rec, udpMeta(payload, 53, 40000))

	if !rec.Risks.IsSet(risk.SuspiciousTraffic) {
		t.Fatal("expected DNS_SUSPICIOUS_TRAFFIC for obsolete record type 7")
	}
}
