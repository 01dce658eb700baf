// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package flow implements the per-connection flow record and the
// tree-per-root flow table that correlates packets into flows (spec.md §3,
// §4.4), adapted from the teacher's eBPF flow manager: the same
// create/lookup/delete shape, a concrete ordered map primitive backing each
// shard instead of open-coded C flow-map buckets.
package flow

import (
	"net/netip"

	"grimm.is/dpicore/internal/protocol"
	"grimm.is/dpicore/internal/risk"
)

// MaxRespAddrs bounds the number of DNS response addresses recorded per
// flow (spec.md §3, K=4 by design).
const MaxRespAddrs = 4

// Transport identifies the transport protocol of a flow.
type Transport uint8

const (
	TransportUnknown Transport = 0
	TransportTCP     Transport = 6
	TransportUDP     Transport = 17
)

// Fingerprint is the 5-tuple (plus optional VLAN) identifying a flow.
// Ordering is preserved, not symmetrized: replies are recognized by port
// symmetry at lookup time, not by canonicalizing src/dst here.
type Fingerprint struct {
	SrcAddr   netip.Addr
	DstAddr   netip.Addr
	SrcPort   uint16
	DstPort   uint16
	Transport Transport
	VLAN      uint16
}

// Reversed returns the fingerprint seen from the other direction of the
// same connection, used to recognize replies.
func (f Fingerprint) Reversed() Fingerprint {
	f.SrcAddr, f.DstAddr = f.DstAddr, f.SrcAddr
	f.SrcPort, f.DstPort = f.DstPort, f.SrcPort
	return f
}

// Less defines the ordering used by the flow table's per-root trees.
func (f Fingerprint) Less(other Fingerprint) bool {
	if c := f.SrcAddr.Compare(other.SrcAddr); c != 0 {
		return c < 0
	}
	if c := f.DstAddr.Compare(other.DstAddr); c != 0 {
		return c < 0
	}
	if f.SrcPort != other.SrcPort {
		return f.SrcPort < other.SrcPort
	}
	if f.DstPort != other.DstPort {
		return f.DstPort < other.DstPort
	}
	if f.Transport != other.Transport {
		return f.Transport < other.Transport
	}
	return f.VLAN < other.VLAN
}

// ExtraDissectionState tracks bounded post-verdict follow-up dissection
// (spec.md §4.7.8, design note "callback re-entry -> explicit state
// machine"). It replaces a stored continuation function pointer with a
// small enum the dispatcher drives directly.
type ExtraDissectionState int

const (
	ExtraNone ExtraDissectionState = iota
	ExtraAwaitingResponse
	ExtraDone
	ExtraExcluded
)

// RespAddr is one resolved address extracted from a DNS answer record.
type RespAddr struct {
	Addr   netip.Addr
	IsIPv6 bool
	TTL    uint32
}

// DNSScratch is the DNS-family protocol scratch space described in spec.md
// §3, used only once DNS/mDNS/LLMNR is or may become the flow's verdict.
type DNSScratch struct {
	IsQuery            bool
	QueryType          uint16
	RspType            uint16
	ReplyCode          uint8
	NumQueries         uint16
	NumAnswers         uint16 // sum of answer + authority + additional counts
	EDNS0UDPPayloadSize uint16
	RspAddr            [MaxRespAddrs]RespAddr
	NumRspAddr         int
	PTRDomainName      string
	GeolocationIATACode string
	DNSAgainSeenAnswer bool // whether the latest well-formed response carried num_answers != 0

	// PacketsWithoutEvidence counts consecutive packets offered to the DNS
	// dissector that carried no DNS evidence, driving the 3-packet
	// exclusion rule.
	PacketsWithoutEvidence int
}

// Record is the per-connection flow record: 5-tuple, counters, verdict,
// risk registry, and the DNS-family scratch space.
type Record struct {
	Fingerprint Fingerprint

	PacketsSeen          uint64
	PacketsSeenDirection uint64
	Bytes                uint64

	Verdict protocol.Verdict
	Risks   risk.Registry

	HostServerName string // up to 255 bytes, normalized per spec.md §3

	MaxExtraPacketsToCheck int
	ExtraState             ExtraDissectionState
	ExcludedDissectors     map[string]bool

	DNS DNSScratch
}

// NewRecord creates a fresh flow record for fp.
func NewRecord(fp Fingerprint) *Record {
	return &Record{
		Fingerprint:        fp,
		ExcludedDissectors: make(map[string]bool),
	}
}

// Exclude marks dissectorName as no longer a candidate for this flow
// (spec.md §4.5 exclude_proto).
func (r *Record) Exclude(dissectorName string) {
	r.ExcludedDissectors[dissectorName] = true
}

// IsExcluded reports whether dissectorName has excluded itself from this
// flow.
func (r *Record) IsExcluded(dissectorName string) bool {
	return r.ExcludedDissectors[dissectorName]
}

// AddRespAddr appends an address to the DNS response address list, bounded
// at MaxRespAddrs. It reports whether the slot was available.
func (d *DNSScratch) AddRespAddr(addr netip.Addr, isIPv6 bool, ttl uint32) bool {
	if d.NumRspAddr >= MaxRespAddrs {
		return false
	}
	d.RspAddr[d.NumRspAddr] = RespAddr{Addr: addr, IsIPv6: isIPv6, TTL: ttl}
	d.NumRspAddr++
	return true
}
