// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ingest

import (
	"net"
	"net/netip"
	"testing"

	"grimm.is/dpicore/internal/dissector"
	"grimm.is/dpicore/internal/dns"
	"grimm.is/dpicore/internal/flow"
	"grimm.is/dpicore/internal/protocol"
	"grimm.is/dpicore/internal/testutil"
)

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	registry := dissector.NewRegistry(nil)
	registry.Register(dns.New(dns.Config{ParseResponseEnabled: true}, nil).Entry())
	return NewPipeline(PipelineConfig{NumRoots: 4, MaxFlows: 16}, registry, nil)
}

func TestDecodeFrameExtractsUDPFiveTuple(t *testing.T) {
	src := netip.MustParseAddr("10.0.0.5")
	dst := netip.MustParseAddr("10.0.0.1")
	payload := testutil.BuildDNSQuery("example.com", 1)

	frame, err := testutil.BuildUDPFrame(src, dst, 40000, 53, payload)
	if err != nil {
		t.Fatalf("BuildUDPFrame: %v", err)
	}

	pkt, err := DecodeFrame(frame, 1000)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}

	if pkt.SrcAddr != src || pkt.DstAddr != dst {
		t.Errorf("got src=%s dst=%s, want src=%s dst=%s", pkt.SrcAddr, pkt.DstAddr, src, dst)
	}
	if pkt.SrcPort != 40000 || pkt.DstPort != 53 {
		t.Errorf("got ports %d->%d, want 40000->53", pkt.SrcPort, pkt.DstPort)
	}
	if len(pkt.Payload) != len(payload) {
		t.Errorf("payload length = %d, want %d", len(pkt.Payload), len(payload))
	}
}

func TestDecodeFrameIPv6(t *testing.T) {
	src := netip.MustParseAddr("fe80::1")
	dst := netip.MustParseAddr("fe80::2")
	payload := testutil.BuildDNSQuery("example.com", 1)

	frame, err := testutil.BuildUDPFrame(src, dst, 40000, 53, payload)
	if err != nil {
		t.Fatalf("BuildUDPFrame: %v", err)
	}

	pkt, err := DecodeFrame(frame, 1000)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if pkt.SrcAddr != src || pkt.DstAddr != dst {
		t.Errorf("got src=%s dst=%s, want src=%s dst=%s", pkt.SrcAddr, pkt.DstAddr, src, dst)
	}
}

func TestPipelineProcessesQueryAndResponse(t *testing.T) {
	p := newTestPipeline(t)

	client := netip.MustParseAddr("10.0.0.5")
	server := netip.MustParseAddr("10.0.0.1")
	queryPayload := testutil.BuildDNSQuery("example.com", 1)

	queryFrame, err := testutil.BuildUDPFrame(client, server, 40000, 53, queryPayload)
	if err != nil {
		t.Fatalf("BuildUDPFrame: %v", err)
	}
	queryPkt, err := DecodeFrame(queryFrame, 1000)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}

	rec, err := p.Process(queryPkt)
	if err != nil {
		t.Fatalf("Process query: %v", err)
	}
	if rec.Verdict.Master != protocol.DNS {
		t.Errorf("query verdict master = %v, want DNS", rec.Verdict.Master)
	}

	respPayload := testutil.BuildDNSAResponse("example.com", net.IPv4(93, 184, 216, 34), 3600)
	respFrame, err := testutil.BuildUDPFrame(server, client, 53, 40000, respPayload)
	if err != nil {
		t.Fatalf("BuildUDPFrame: %v", err)
	}
	respPkt, err := DecodeFrame(respFrame, 1001)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}

	rec2, err := p.Process(respPkt)
	if err != nil {
		t.Fatalf("Process response: %v", err)
	}
	if rec2 != rec {
		t.Fatal("expected the response to attach to the same flow record")
	}
	if rec.DNS.NumRspAddr != 1 {
		t.Errorf("NumRspAddr = %d, want 1", rec.DNS.NumRspAddr)
	}
}

func TestFinalizeGivesUpUnresolvedFlows(t *testing.T) {
	p := newTestPipeline(t)

	src := netip.MustParseAddr("10.0.0.5")
	dst := netip.MustParseAddr("10.0.0.1")
	pkt, err := DecodeFrame(mustFrame(t, src, dst, 40000, 9999, []byte{0x01, 0x02}), 1000)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}

	if _, err := p.Process(pkt); err != nil {
		t.Fatalf("Process: %v", err)
	}

	visited := 0
	p.Finalize(func(fp flow.Fingerprint, rec *flow.Record) {
		visited++
		if rec.Verdict.IsKnown() {
			t.Errorf("expected an unresolved verdict for fingerprint %+v, got %v", fp, rec.Verdict)
		}
	})
	if visited != 1 {
		t.Errorf("Finalize visited %d flows, want 1", visited)
	}
}

func mustFrame(t *testing.T, src, dst netip.Addr, srcPort, dstPort uint16, payload []byte) []byte {
	t.Helper()
	frame, err := testutil.BuildUDPFrame(src, dst, srcPort, dstPort, payload)
	if err != nil {
		t.Fatalf("BuildUDPFrame: %v", err)
	}
	return frame
}
