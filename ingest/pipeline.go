// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ingest

import (
	"grimm.is/dpicore/internal/dissector"
	"grimm.is/dpicore/internal/flow"
	"grimm.is/dpicore/internal/logging"
	"grimm.is/dpicore/internal/protocol"
)

// PipelineConfig controls a Pipeline's flow table sizing and per-flow
// packet budget.
type PipelineConfig struct {
	NumRoots            int
	MaxFlows            int
	PacketsLimitPerFlow int
}

// DefaultPipelineConfig mirrors internal/flow's own table defaults, with no
// per-flow packet budget (0 disables the limit).
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		NumRoots: flow.DefaultNumRoots,
		MaxFlows: flow.DefaultMaxFlows,
	}
}

// Pipeline ties the flow table and dissector registry together into the
// single entry point spec.md §4.6 describes: decode → fingerprint →
// find_or_insert → dispatch → (at EOF) give_up and destroy.
type Pipeline struct {
	cfg      PipelineConfig
	logger   *logging.Logger
	table    *flow.Table
	registry *dissector.Registry
}

// NewPipeline builds a Pipeline. registry must already have its dissectors
// registered.
func NewPipeline(cfg PipelineConfig, registry *dissector.Registry, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	return &Pipeline{
		cfg:      cfg,
		logger:   logger,
		table:    flow.NewTable(cfg.NumRoots, cfg.MaxFlows, logger),
		registry: registry,
	}
}

// Table exposes the underlying flow table, e.g. for a caller that wants to
// inspect flow state between Process calls.
func (p *Pipeline) Table() *flow.Table { return p.table }

// Process runs one decoded packet through the pipeline: it attaches the
// packet to its flow (creating one if needed), updates counters, and
// dispatches the dissector registry. It returns the flow record the packet
// was attached to.
func (p *Pipeline) Process(pkt Packet) (*flow.Record, error) {
	fp := pkt.Fingerprint()

	// A reply travels with source and destination swapped relative to the
	// packet that opened the flow; check the reverse fingerprint first so
	// both directions of a connection share one flow record (flow.go's
	// Fingerprint.Reversed doc comment: "used to recognize replies").
	if existing, ok := p.table.Find(fp.Reversed()); ok {
		return p.dispatch(existing, pkt)
	}

	rec, _, err := p.table.FindOrInsert(fp)
	if err != nil {
		return nil, err
	}
	return p.dispatch(rec, pkt)
}

func (p *Pipeline) dispatch(rec *flow.Record, pkt Packet) (*flow.Record, error) {
	rec.PacketsSeen++
	rec.Bytes += uint64(len(pkt.Payload))

	if p.cfg.PacketsLimitPerFlow > 0 && rec.PacketsSeen > uint64(p.cfg.PacketsLimitPerFlow) && !rec.Verdict.IsKnown() {
		rec.Verdict.GiveUp(protocol.Unknown, protocol.Unknown)
		return rec, nil
	}

	if rec.Verdict.IsKnown() && rec.ExtraState != flow.ExtraAwaitingResponse {
		return rec, nil
	}

	p.registry.Dispatch(rec, pkt.meta())
	return rec, nil
}

// Finalize walks every flow still in the table, gives up on any flow that
// never reached a verdict, hands each finished flow to visit, and destroys
// the table. The Pipeline must not be used again after Finalize.
//
// GiveUp is called with Unknown/Unknown: a port-based best guess (the
// broader match-by-port protocol table spec.md §1 places outside this
// core) isn't something the DPI core itself maintains, so a flow that
// never produced DPI evidence simply stays Unknown rather than being
// assigned a guess this package has no basis for.
func (p *Pipeline) Finalize(visit func(fp flow.Fingerprint, rec *flow.Record)) {
	p.table.Walk(func(fp flow.Fingerprint, rec *flow.Record) {
		rec.Verdict.GiveUp(protocol.Unknown, protocol.Unknown)
	})
	p.table.Destroy(func(fp flow.Fingerprint, rec *flow.Record) {
		if visit != nil {
			visit(fp, rec)
		}
	})
}
