// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command dpicapture replays a PCAP file through the DNS/mDNS/LLMNR
// dissector and prints the verdict and risks reached for every flow.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/pcap"

	"grimm.is/dpicore/internal/config"
	"grimm.is/dpicore/internal/dissector"
	"grimm.is/dpicore/internal/dns"
	"grimm.is/dpicore/internal/flow"
	"grimm.is/dpicore/internal/logging"
	"grimm.is/dpicore/ingest"
)

func main() {
	pcapFile := flag.String("pcap", "", "Path to a PCAP file to replay")
	configPath := flag.String("config", "", "Path to an HCL config file (optional, defaults applied otherwise)")
	verbose := flag.Bool("v", false, "Enable debug logging")
	flag.Parse()

	if *pcapFile == "" {
		log.Fatal("Usage: dpicapture -pcap <file> [-config <file>]")
	}

	logCfg := logging.DefaultConfig()
	if *verbose {
		logCfg.Level = "debug"
	}
	logger := logging.New(logCfg)

	cfg := config.Defaults()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
	}

	registry := dissector.NewRegistry(logger)
	registry.Register(dns.New(dns.Config{
		SubclassificationEnabled: cfg.DNSSubclassificationEnabled,
		ParseResponseEnabled:     cfg.DNSParseResponseEnabled,
	}, logger).Entry())

	pipeline := ingest.NewPipeline(ingest.PipelineConfig{
		NumRoots:            cfg.NumRoots,
		MaxFlows:            cfg.MaxFlows,
		PacketsLimitPerFlow: cfg.PacketsLimitPerFlow,
	}, registry, logger)

	if err := replay(*pcapFile, pipeline, logger); err != nil {
		log.Fatalf("replay failed: %v", err)
	}

	pipeline.Finalize(func(fp flow.Fingerprint, rec *flow.Record) {
		printFlow(fp, rec)
	})
}

func replay(path string, pipeline *ingest.Pipeline, logger *logging.Logger) error {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return fmt.Errorf("failed to open pcap %s: %w", path, err)
	}
	defer handle.Close()

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	count := 0

	for gopkt := range source.Packets() {
		ts := gopkt.Metadata().Timestamp.UnixMilli()
		pkt, err := ingest.DecodeFrame(gopkt.Data(), ts)
		if err != nil {
			logger.Debug("skipping undecodable frame", "error", err, "index", count)
			count++
			continue
		}
		if _, err := pipeline.Process(pkt); err != nil {
			logger.Warn("packet dropped", "error", err, "index", count)
		}
		count++
	}

	logger.Info("replay complete", "packets", count)
	return nil
}

func printFlow(fp flow.Fingerprint, rec *flow.Record) {
	fmt.Printf("%s:%d -> %s:%d proto=%d verdict=%s/%s (%s) host=%q packets=%d\n",
		fp.SrcAddr, fp.SrcPort, fp.DstAddr, fp.DstPort, fp.Transport,
		rec.Verdict.App, rec.Verdict.Master, rec.Verdict.Confidence,
		rec.HostServerName, rec.PacketsSeen)

	for _, kind := range rec.Risks.All() {
		if reason, ok := rec.Risks.Reason(kind); ok && reason != "" {
			fmt.Printf("  risk: %s (%s)\n", kind, reason)
		} else {
			fmt.Printf("  risk: %s\n", kind)
		}
	}
}
