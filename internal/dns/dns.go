// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dns implements the DNS/mDNS/LLMNR dissector of spec.md §4.7: a
// single protocol dissector that selects on transport port, parses the
// shared DNS message header, validates queries and responses, walks the
// resource-record sections, extracts and normalizes the queried hostname,
// and raises the risk signals the core defines for this protocol family.
package dns

import (
	"fmt"
	"net/netip"
	"strings"

	"grimm.is/dpicore/internal/cache"
	"grimm.is/dpicore/internal/dissector"
	"grimm.is/dpicore/internal/dnsreader"
	"grimm.is/dpicore/internal/flow"
	"grimm.is/dpicore/internal/logging"
	"grimm.is/dpicore/internal/protocol"
	"grimm.is/dpicore/internal/risk"
)

const (
	headerSize             = 12
	maxDNSRequests         = 16
	maxExtraPacketsToCheck = 5
	maxFirstLabelLen       = 48
	noEvidenceExclusionAt  = 3
	hostnameBufSize        = 256
)

var exemptHostSuffixes = []string{
	"multi.surbl.org",
	"spamhaus.org",
	"rackcdn.com",
	"akamaiedge.net",
	"mx-verification.google.com",
	"amazonaws.com",
}

// Subclassifier maps a hostname to the application protocol it names, the
// external `ndpi_match_host_subprotocol` collaborator of spec.md §6. It
// returns protocol.Unknown when the host doesn't match anything.
type Subclassifier func(host string) protocol.ID

// DGAChecker reports whether host looks like a DGA-generated domain name,
// the external `ndpi_check_dga_name` collaborator of spec.md §6.
type DGAChecker func(host string) bool

// Config holds the dissector's module-instance knobs (spec.md §6,
// "dependency injection over global tables").
type Config struct {
	SubclassificationEnabled bool
	ParseResponseEnabled     bool

	AddressCache *cache.AddressCache
	FPCDNSCache  *cache.FPCDNSCache

	Subclassifier Subclassifier
	DGAChecker    DGAChecker
}

// Dissector is the DNS/mDNS/LLMNR protocol dissector.
type Dissector struct {
	cfg    Config
	logger *logging.Logger
}

// New builds a Dissector from cfg.
func New(cfg Config, logger *logging.Logger) *Dissector {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	return &Dissector{cfg: cfg, logger: logger}
}

// Entry returns the dissector.Dissector registration record for this
// dissector, ready to pass to a dissector.Registry.
func (d *Dissector) Entry() dissector.Dissector {
	return dissector.Dissector{
		Name: "dns",
		Mask: dissector.SelectPayloadBearing,
		Run:  d.Run,
	}
}

func payloadOffset(transport flow.Transport) int {
	if transport == flow.TransportTCP {
		return 2
	}
	return 0
}

// provisionalFamily classifies a packet by port alone (spec.md §4.7.1).
func provisionalFamily(meta dissector.PacketMeta) protocol.ID {
	switch {
	case meta.SrcPort == 5353 || meta.DstPort == 5353:
		return protocol.MDNS
	case meta.DstPort == 5355:
		return protocol.LLMNR
	case meta.SrcPort == 53 || meta.DstPort == 53:
		return protocol.DNS
	default:
		return protocol.Unknown
	}
}

func multicastGateOK(family protocol.ID, dst netip.Addr) bool {
	if !dst.IsValid() {
		return false
	}
	switch family {
	case protocol.MDNS:
		return dst == netip.MustParseAddr("224.0.0.251") || dst == netip.MustParseAddr("ff02::fb")
	case protocol.LLMNR:
		return dst == netip.MustParseAddr("224.0.0.252") || dst == netip.MustParseAddr("ff02::1:3")
	default:
		return true
	}
}

// Run is the dissector.Callback entry point.
func (d *Dissector) Run(rec *flow.Record, meta dissector.PacketMeta) dissector.Verdict {
	offset := payloadOffset(meta.Transport)
	family := provisionalFamily(meta)

	if family == protocol.Unknown || len(meta.Payload) <= offset+headerSize {
		return d.noEvidence(rec)
	}

	cur := dnsreader.New(meta.Payload)

	flags, okFlags := cur.U16BE(offset + 2)
	numQueries, okNQ := cur.U16BE(offset + 4)
	numAnswers, okNA := cur.U16BE(offset + 6)
	authorityRRs, okAuth := cur.U16BE(offset + 8)
	additionalRRs, okAdd := cur.U16BE(offset + 10)
	if !(okFlags && okNQ && okNA && okAuth && okAdd) {
		return d.noEvidence(rec)
	}

	isQuery := flags&0x8000 == 0

	if isQuery && (family == protocol.MDNS || family == protocol.LLMNR) && !multicastGateOK(family, meta.DstAddr) {
		if flags != 0 && numQueries != 0 {
			return dissector.VerdictExcluded
		}
		return d.noEvidence(rec)
	}

	rec.DNS.PacketsWithoutEvidence = 0

	if isQuery {
		d.handleQuery(rec, offset, cur, flags, numQueries, numAnswers, authorityRRs, family)
	} else {
		d.handleResponse(rec, offset, cur, flags, numQueries, numAnswers, authorityRRs, additionalRRs, family)
	}

	d.applyPacketLevelRisks(rec, meta)

	if rec.Verdict.IsKnown() {
		return dissector.VerdictDone
	}
	return dissector.VerdictContinue
}

func (d *Dissector) noEvidence(rec *flow.Record) dissector.Verdict {
	rec.DNS.PacketsWithoutEvidence++
	if rec.DNS.PacketsWithoutEvidence >= noEvidenceExclusionAt {
		return dissector.VerdictExcluded
	}
	return dissector.VerdictContinue
}

func isGoodQuery(numQueries, numAnswers, authorityRRs, flags uint16) bool {
	if numQueries > maxDNSRequests {
		return false
	}
	switch {
	case flags&0x2800 == 0x2800: // Dynamic Update
		return true
	case flags&0xFCF0 == 0x0000: // Standard Query
		return true
	case flags&0xFCFF == 0x0800: // Inverse Query
		return true
	case numAnswers == 0 && authorityRRs == 0:
		return true
	default:
		return false
	}
}

func (d *Dissector) handleQuery(rec *flow.Record, offset int, cur *dnsreader.Cursor, flags, numQueries, numAnswers, authorityRRs uint16, family protocol.ID) {
	rec.DNS.IsQuery = true
	rec.DNS.NumQueries = numQueries

	if !isGoodQuery(numQueries, numAnswers, authorityRRs, flags) {
		if rec.Verdict.IsKnown() {
			rec.Risks.Set(risk.MalformedPacket, "Invalid DNS Header")
		}
		return
	}

	qStart := offset + headerSize
	if nameLen := cur.NameLength(qStart); nameLen > 0 {
		if qType, ok := cur.U16BE(qStart + nameLen); ok {
			rec.DNS.QueryType = qType
		}
	}

	d.extractHostname(rec, cur, qStart, family)

	if d.cfg.ParseResponseEnabled && family != protocol.LLMNR {
		rec.MaxExtraPacketsToCheck = maxExtraPacketsToCheck
		rec.ExtraState = flow.ExtraAwaitingResponse
	}
}

func inCountRange(n uint16) bool {
	return n >= 1 && n <= maxDNSRequests
}

func (d *Dissector) handleResponse(rec *flow.Record, offset int, cur *dnsreader.Cursor, flags, numQueries, numAnswers, authorityRRs, additionalRRs uint16, family protocol.ID) {
	replyCode := uint8(flags & 0x0F)
	rec.DNS.ReplyCode = replyCode
	if replyCode != 0 {
		rec.Risks.Set(risk.ErrorCodeDetected, rcodeName(replyCode))
	} else if rec.Risks.IsSet(risk.SuspiciousDGADomain) {
		rec.Risks.Set(risk.RiskyDomain, "DGA Name Query with no Error Code")
	}

	good := numQueries >= 1 && numQueries <= maxDNSRequests &&
		(inCountRange(numAnswers) || inCountRange(authorityRRs) || inCountRange(additionalRRs))
	if !good {
		return
	}

	rec.DNS.IsQuery = false

	pos, ok := walkQuestionSection(cur, offset+headerSize, numQueries)
	if !ok {
		return
	}
	pos, ok = d.walkAnswerSection(rec, cur, pos, numAnswers, additionalRRs)
	if !ok {
		return
	}
	pos, ok = walkRRSectionSkip(cur, pos, authorityRRs)
	if !ok {
		return
	}
	_, _ = d.walkAdditionalSection(rec, cur, pos, additionalRRs)

	rec.DNS.NumAnswers = numAnswers + authorityRRs + additionalRRs
	rec.DNS.DNSAgainSeenAnswer = numAnswers != 0

	d.extractHostname(rec, cur, offset+headerSize, family)

	if rec.ExtraState == flow.ExtraAwaitingResponse {
		rec.MaxExtraPacketsToCheck--
		if rec.DNS.DNSAgainSeenAnswer || rec.MaxExtraPacketsToCheck <= 0 {
			rec.ExtraState = flow.ExtraDone
		}
	}
}

func hasExemptSuffix(host string) bool {
	for _, suffix := range exemptHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

// extractHostname decodes the QNAME at qNameOffset, stores it on rec, raises
// the validity/long-label risks, and (if enabled) runs subclassification
// and the DGA check, setting the flow's verdict (spec.md §4.7.6).
func (d *Dissector) extractHostname(rec *flow.Record, cur *dnsreader.Cursor, qNameOffset int, family protocol.ID) {
	mode := dnsreader.LowercaseAll
	if family == protocol.MDNS || family == protocol.LLMNR {
		mode = dnsreader.LowercaseOnly
	}

	host, valid := cur.DecodeName(qNameOffset, hostnameBufSize, mode)
	if host == "" {
		return
	}
	rec.HostServerName = host
	if !valid {
		rec.Risks.Set(risk.InvalidCharacters, "")
	}

	if firstLabelLen, ok := cur.Byte(qNameOffset); ok && family != protocol.MDNS {
		if int(firstLabelLen) > maxFirstLabelLen && !strings.Contains(host, ".in-addr.") && !hasExemptSuffix(host) {
			rec.Risks.Set(risk.SuspiciousTraffic, "Long DNS host name")
		}
	}

	if !d.cfg.SubclassificationEnabled {
		rec.Verdict.Set(protocol.Unknown, family, protocol.ConfidenceDPI)
		return
	}

	var app protocol.ID
	if d.cfg.Subclassifier != nil {
		app = d.cfg.Subclassifier(host)
	}

	if app != protocol.Unknown {
		rec.Verdict.Set(app, protocol.DNS, protocol.ConfidenceDPI)
		if d.cfg.FPCDNSCache != nil && (rec.DNS.RspType == 1 || rec.DNS.RspType == 28) {
			d.cfg.FPCDNSCache.Add(cache.FPCDNSKey{Hostname: host, QType: rec.DNS.RspType}, app)
		}
	} else {
		rec.Verdict.Set(protocol.Unknown, family, protocol.ConfidenceDPI)
	}

	if d.cfg.DGAChecker != nil && d.cfg.DGAChecker(host) {
		rec.Risks.Set(risk.SuspiciousDGADomain, "")
	}
}

// applyPacketLevelRisks raises the large-packet and fragmentation risks
// once the flow's master protocol is DNS (spec.md §4.7.9).
func (d *Dissector) applyPacketLevelRisks(rec *flow.Record, meta dissector.PacketMeta) {
	if rec.Verdict.Master != protocol.DNS {
		return
	}

	payloadLen := len(meta.Payload)
	if meta.Transport == flow.TransportUDP && payloadLen > 512 && uint16(payloadLen) > rec.DNS.EDNS0UDPPayloadSize {
		rec.Risks.Set(risk.LargePacket, fmt.Sprintf("%d Bytes DNS Packet", payloadLen))
	}
	if meta.IPv4Fragmented || meta.IPv6FragmentHeader {
		rec.Risks.Set(risk.Fragmented, "")
	}
}
