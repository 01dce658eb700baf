// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dpicore is the public entry point: it wires a Config into a
// dissector registry, the address and FPC-DNS caches, and an ingest
// pipeline, and exposes the result as a single Module a host application
// drives packet-by-packet. Nothing here is a global — every dependency a
// component needs is constructed once and passed in, so multiple Modules
// (e.g. one per interface) never share state unless the host chooses to
// share a cache explicitly.
package dpicore

import (
	"grimm.is/dpicore/internal/cache"
	"grimm.is/dpicore/internal/config"
	"grimm.is/dpicore/internal/dissector"
	"grimm.is/dpicore/internal/dns"
	"grimm.is/dpicore/internal/flow"
	"grimm.is/dpicore/internal/logging"
	"grimm.is/dpicore/ingest"
)

// Module is a configured DPI pipeline: flow table, dissector registry, and
// the caches the DNS dissector consults.
type Module struct {
	pipeline     *ingest.Pipeline
	addressCache *cache.AddressCache
	fpcDNSCache  *cache.FPCDNSCache
}

// Options carries the collaborator hooks SPEC_FULL.md's external interfaces
// name that this core does not implement itself (spec.md §6:
// match_host_subprotocol, check_dga_name) — a host embeds dpicore and
// supplies whatever lookup tables it has for these, or leaves them nil to
// run DNS/mDNS/LLMNR identification without subclassification.
type Options struct {
	Subclassifier dns.Subclassifier
	DGAChecker    dns.DGAChecker
	Logger        *logging.Logger
}

// New builds a Module from cfg and opts.
func New(cfg config.Config, opts Options) *Module {
	logger := opts.Logger
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}

	addressCache := cache.NewAddressCache(cfg.AddressCacheSize)
	fpcDNSCache := cache.NewFPCDNSCache(0)

	registry := dissector.NewRegistry(logger)
	registry.Register(dns.New(dns.Config{
		SubclassificationEnabled: cfg.DNSSubclassificationEnabled,
		ParseResponseEnabled:     cfg.DNSParseResponseEnabled,
		AddressCache:             addressCache,
		FPCDNSCache:              fpcDNSCache,
		Subclassifier:            opts.Subclassifier,
		DGAChecker:               opts.DGAChecker,
	}, logger).Entry())

	pipeline := ingest.NewPipeline(ingest.PipelineConfig{
		NumRoots:            cfg.NumRoots,
		MaxFlows:            cfg.MaxFlows,
		PacketsLimitPerFlow: cfg.PacketsLimitPerFlow,
	}, registry, logger)

	return &Module{
		pipeline:     pipeline,
		addressCache: addressCache,
		fpcDNSCache:  fpcDNSCache,
	}
}

// Process decodes a captured frame and runs it through the pipeline,
// returning the flow record it was attached to.
func (m *Module) Process(frameData []byte, timestampMS int64) (*flow.Record, error) {
	pkt, err := ingest.DecodeFrame(frameData, timestampMS)
	if err != nil {
		return nil, err
	}
	return m.pipeline.Process(pkt)
}

// Table exposes the underlying flow table for inspection between Process
// calls.
func (m *Module) Table() *flow.Table { return m.pipeline.Table() }

// Finalize gives up on every flow that never reached a verdict, hands each
// finished flow to visit, and tears the Module down. The Module must not be
// used again afterward.
func (m *Module) Finalize(visit func(fp flow.Fingerprint, rec *flow.Record)) {
	m.pipeline.Finalize(visit)
}
