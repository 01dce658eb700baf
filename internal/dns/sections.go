// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dns

import (
	"net/netip"

	"grimm.is/dpicore/internal/dnsreader"
	"grimm.is/dpicore/internal/flow"
	"grimm.is/dpicore/internal/risk"
)

// nsidOptionCode is the EDNS(0) option code for NSID (RFC 5001).
const nsidOptionCode = 0x03

// nsidGpdnsPrefix is the marker Google Public DNS prefixes its NSID payload
// with before the IATA airport code of the serving location.
var nsidGpdnsPrefix = []byte("gpdns-")

// geolocationIATABufSize bounds how much of the NSID payload is copied into
// a flow's GeolocationIATACode, mirroring a small fixed C buffer.
const geolocationIATABufSize = 16

// walkQuestionSection advances pos past count Question-section entries
// (name + 4 bytes of type/class), per spec.md §4.7.5's first paragraph.
func walkQuestionSection(cur *dnsreader.Cursor, pos int, count uint16) (int, bool) {
	for i := uint16(0); i < count; i++ {
		nameLen := cur.NameLength(pos)
		if nameLen == 0 {
			return pos, false
		}
		pos += nameLen + 4
		if pos > cur.Len() {
			return pos, false
		}
	}
	return pos, true
}

// walkRRSectionSkip advances pos past count full resource records (name,
// type, class, ttl, rdlength, rdata) without extracting anything — used for
// the Authority section, walked purely for offset tracking.
func walkRRSectionSkip(cur *dnsreader.Cursor, pos int, count uint16) (int, bool) {
	for i := uint16(0); i < count; i++ {
		next, ok := skipOneResourceRecord(cur, pos)
		if !ok {
			return pos, false
		}
		pos = next
	}
	return pos, true
}

// skipOneResourceRecord reads past a single RR starting at pos and returns
// the offset immediately after its rdata.
func skipOneResourceRecord(cur *dnsreader.Cursor, pos int) (int, bool) {
	nameLen := cur.NameLength(pos)
	if nameLen == 0 {
		return pos, false
	}
	pos += nameLen

	_, ok1 := cur.U16BE(pos)     // type
	_, ok2 := cur.U16BE(pos + 2) // class
	_, ok3 := cur.U32BE(pos + 4) // ttl
	rdlength, ok4 := cur.U16BE(pos + 8)
	if !(ok1 && ok2 && ok3 && ok4) {
		return pos, false
	}

	pos += 10 + int(rdlength)
	if pos > cur.Len() {
		return pos, false
	}
	return pos, true
}

// walkAnswerSection walks the Answer section, extracting rsp_type, the
// first PTR name, up to flow.MaxRespAddrs A/AAAA addresses, and the
// zero-TTL risk (spec.md §4.7.5).
func (d *Dissector) walkAnswerSection(rec *flow.Record, cur *dnsreader.Cursor, pos int, numAnswers, additionalRRs uint16) (int, bool) {
	first := true

	for i := uint16(0); i < numAnswers; i++ {
		nameLen := cur.NameLength(pos)
		if nameLen == 0 {
			return pos, false
		}
		pos += nameLen

		rtype, ok1 := cur.U16BE(pos)
		_, ok2 := cur.U16BE(pos + 2) // class, ignored
		ttl, ok3 := cur.U32BE(pos + 4)
		rdlength, ok4 := cur.U16BE(pos + 8)
		if !(ok1 && ok2 && ok3 && ok4) {
			return pos, false
		}
		rdataOffset := pos + 10
		if rdataOffset+int(rdlength) > cur.Len() {
			return pos, false
		}

		if first {
			rec.DNS.RspType = rtype
			if isObsoleteType(rtype) {
				rec.Risks.Set(risk.SuspiciousTraffic, "Obsolete DNS record type")
			}
			if rtype == 12 { // PTR
				if name, _ := cur.DecodeName(rdataOffset, hostnameBufSize, dnsreader.LowercaseAll); name != "" {
					rec.DNS.PTRDomainName = name
				}
			}
			first = false
		}

		if addr, ok := decodeRDataAddr(cur, rdataOffset, rtype, rdlength); ok {
			if rec.DNS.AddRespAddr(addr, rtype == 28, ttl) && d.cfg.AddressCache != nil {
				d.cfg.AddressCache.Put(addr, rec.HostServerName, ttl)
			}
		}

		if ttl == 0 {
			rec.Risks.Set(risk.MinorIssues, "DNS Record with zero TTL")
		}

		pos = rdataOffset + int(rdlength)

		if rec.DNS.NumRspAddr >= flow.MaxRespAddrs && additionalRRs == 0 {
			break
		}
	}

	return pos, true
}

// decodeRDataAddr interprets an answer's rdata as an IPv4 or IPv6 address
// when type/rdlength match (spec.md §4.7.5's "type==1 and rdlength==4, or
// type==28 and rdlength==16" rule).
func decodeRDataAddr(cur *dnsreader.Cursor, offset int, rtype, rdlength uint16) (netip.Addr, bool) {
	switch {
	case rtype == 1 && rdlength == 4:
		var b [4]byte
		for i := range b {
			v, ok := cur.Byte(offset + i)
			if !ok {
				return netip.Addr{}, false
			}
			b[i] = v
		}
		return netip.AddrFrom4(b), true
	case rtype == 28 && rdlength == 16:
		var b [16]byte
		for i := range b {
			v, ok := cur.Byte(offset + i)
			if !ok {
				return netip.Addr{}, false
			}
			b[i] = v
		}
		return netip.AddrFrom16(b), true
	default:
		return netip.Addr{}, false
	}
}

// walkAdditionalSection walks the Additional section, treating type==41
// (OPT) records as EDNS(0) (spec.md §4.7.5 final paragraph).
func (d *Dissector) walkAdditionalSection(rec *flow.Record, cur *dnsreader.Cursor, pos int, count uint16) (int, bool) {
	for i := uint16(0); i < count; i++ {
		nameLen := cur.NameLength(pos)
		if nameLen == 0 {
			return pos, false
		}
		pos += nameLen

		rtype, ok1 := cur.U16BE(pos)
		payloadSize, ok2 := cur.U16BE(pos + 2) // class field doubles as UDP payload size on OPT
		_, ok3 := cur.U32BE(pos + 4)           // extended rcode/version/flags, ignored
		rdlength, ok4 := cur.U16BE(pos + 8)
		if !(ok1 && ok2 && ok3 && ok4) {
			return pos, false
		}
		rdataOffset := pos + 10
		if rdataOffset+int(rdlength) > cur.Len() {
			return pos, false
		}

		if rtype == 41 {
			rec.DNS.EDNS0UDPPayloadSize = payloadSize
			parseEDNS0Options(rec, cur, rdataOffset, int(rdlength))
		}

		pos = rdataOffset + int(rdlength)
	}
	return pos, true
}

// parseEDNS0Options walks the OPT record's TLV option list looking for the
// first NSID option, and extracts a Google Public DNS-style "gpdns-<IATA>"
// payload from it (spec.md §4.7.5: "only the first-level NSID is parsed").
func parseEDNS0Options(rec *flow.Record, cur *dnsreader.Cursor, start, length int) {
	pos := start
	end := start + length

	for pos+4 <= end {
		code, ok1 := cur.U16BE(pos)
		optLen, ok2 := cur.U16BE(pos + 2)
		if !(ok1 && ok2) {
			return
		}
		dataOffset := pos + 4
		if dataOffset+int(optLen) > end {
			return
		}

		if code == nsidOptionCode {
			extractGpdnsIATACode(rec, cur, dataOffset, int(optLen))
			return
		}

		pos = dataOffset + int(optLen)
	}
}

func extractGpdnsIATACode(rec *flow.Record, cur *dnsreader.Cursor, dataOffset, optLen int) {
	if optLen < len(nsidGpdnsPrefix) {
		return
	}
	for i, want := range nsidGpdnsPrefix {
		b, ok := cur.Byte(dataOffset + i)
		if !ok || b != want {
			return
		}
	}

	remaining := optLen - len(nsidGpdnsPrefix)
	if remaining > geolocationIATABufSize-1 {
		remaining = geolocationIATABufSize - 1
	}

	buf := make([]byte, 0, remaining)
	for i := 0; i < remaining; i++ {
		b, ok := cur.Byte(dataOffset + len(nsidGpdnsPrefix) + i)
		if !ok {
			break
		}
		buf = append(buf, b)
	}
	rec.DNS.GeolocationIATACode = string(buf)
}
