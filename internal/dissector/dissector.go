// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dissector implements the dissector registry and dispatch loop of
// spec.md §4.5: a small set of protocol dissectors register themselves with
// a selection mask, and an incoming packet is offered to each candidate in
// registration order until one sets a verdict or every candidate has
// excluded itself or been exhausted for the flow.
package dissector

import (
	"net/netip"
	"sync"

	"grimm.is/dpicore/internal/flow"
	"grimm.is/dpicore/internal/logging"
)

// SelectionMask is a bitmask of packet properties a dissector accepts.
type SelectionMask uint8

const (
	SelectIPv4             SelectionMask = 1 << iota // packet is IPv4
	SelectIPv6                                       // packet is IPv6
	SelectTCP                                        // transport is TCP
	SelectUDP                                        // transport is UDP
	SelectPayloadBearing                             // payload length > 0
	SelectNonRetransmission                          // not a detected TCP retransmission
)

// PacketMeta carries the packet-level facts the dispatcher uses to match a
// dissector's selection mask, and the facts a dissector needs to do its own
// parsing without reaching back into the capture layer.
type PacketMeta struct {
	SrcAddr netip.Addr
	DstAddr netip.Addr
	SrcPort uint16
	DstPort uint16

	Transport flow.Transport
	Mask      SelectionMask
	Payload   []byte

	// IPv4Fragmented is true when the IPv4 header carries the More
	// Fragments bit or a non-zero fragment offset (spec.md §4.7.9). A frame
	// with a malformed IPv4 header is rejected by ingest.DecodeFrame and
	// never reaches a dissector, so it does not set this flag.
	IPv4Fragmented bool
	// IPv6FragmentHeader is true when the IPv6 next-header chain
	// contains the fragment extension header (44).
	IPv6FragmentHeader bool
}

// Matches reports whether meta satisfies every bit mask requires.
func (meta PacketMeta) Matches(mask SelectionMask) bool {
	return meta.Mask&mask == mask
}

// Verdict is returned by a dissector callback to tell the dispatcher what
// happened on this invocation.
type Verdict int

const (
	// VerdictContinue means the dissector did not (yet) set a protocol
	// verdict and remains a candidate for this flow's next packet.
	VerdictContinue Verdict = iota
	// VerdictDone means the dissector set (or confirmed) the flow's
	// protocol verdict; dispatch for this packet stops.
	VerdictDone
	// VerdictExcluded means the dissector determined it can never match
	// this flow and should not be offered future packets
	// (spec.md §4.5 exclude_proto).
	VerdictExcluded
)

// Callback is the per-packet entry point a dissector registers. It receives
// the flow record being mutated and the packet metadata for this packet.
type Callback func(rec *flow.Record, meta PacketMeta) Verdict

// Dissector is one registered protocol identifier.
type Dissector struct {
	Name string
	Mask SelectionMask
	Run  Callback
}

// Registry holds the set of registered dissectors and runs dispatch for a
// flow's packets (spec.md §4.5).
type Registry struct {
	logger *logging.Logger

	mu         sync.RWMutex
	dissectors []Dissector
	byName     map[string]*Dissector
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	return &Registry{
		logger: logger,
		byName: make(map[string]*Dissector),
	}
}

// Register adds d to the registry. Dissectors are offered to a packet in
// registration order.
func (r *Registry) Register(d Dissector) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dissectors = append(r.dissectors, d)
	r.byName[d.Name] = &r.dissectors[len(r.dissectors)-1]
}

// Names returns the registered dissector names, in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.dissectors))
	for i, d := range r.dissectors {
		names[i] = d.Name
	}
	return names
}

// Dispatch offers meta to every registered dissector not already excluded
// on rec, in order, until one reports VerdictDone or every candidate has
// excluded itself or been offered the packet. It returns the name of the
// dissector that produced the verdict, or "" if none did.
//
// After a verdict is set, subsequent packets on the same flow should still
// be routed through Dispatch if rec.ExtraState is ExtraAwaitingResponse, so
// that a dissector's requested extra-dissection continuation (spec.md
// §4.7.8) keeps running up to rec.MaxExtraPacketsToCheck; Dispatch itself
// is agnostic to that budget and simply re-offers the packet to the
// dissector that still claims the flow.
func (r *Registry) Dispatch(rec *flow.Record, meta PacketMeta) string {
	r.mu.RLock()
	candidates := make([]Dissector, len(r.dissectors))
	copy(candidates, r.dissectors)
	r.mu.RUnlock()

	for _, d := range candidates {
		if rec.IsExcluded(d.Name) {
			continue
		}
		if !meta.Matches(d.Mask) {
			continue
		}

		switch d.Run(rec, meta) {
		case VerdictDone:
			r.logger.Debug("dissector set verdict", "dissector", d.Name, "flow", rec.Fingerprint)
			return d.Name
		case VerdictExcluded:
			rec.Exclude(d.Name)
		case VerdictContinue:
			// stays a candidate for the flow's next packet.
		}
	}
	return ""
}
