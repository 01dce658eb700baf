// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config decodes the HCL configuration for a dpicore module
// instance: the five options spec.md §6 enumerates as consumed by the core,
// plus the module-instance knobs the "dependency injection over global
// tables" design note calls for (flow table shard count and capacity).
package config

import (
	"os"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"grimm.is/dpicore/internal/errors"
)

// Config is the HCL-decoded configuration of a dpicore module instance.
// Every field is optional: Decode starts from Defaults(), so an omitted
// attribute keeps its default, and a numeric field decoded as 0 is also
// replaced by its default before Validate runs.
type Config struct {
	// AddressCacheSize enables the DNS-to-IP reverse cache of this size
	// when positive (spec.md §6 dpi.address_cache_size).
	AddressCacheSize int `hcl:"address_cache_size,optional"`

	// DNSSubclassificationEnabled runs host-based subprotocol matching
	// against the external match table (spec.md §6
	// dns_subclassification_enabled).
	DNSSubclassificationEnabled bool `hcl:"dns_subclassification_enabled,optional"`

	// DNSParseResponseEnabled requests extra-dissection on queries so the
	// response can be correlated (spec.md §6 dns_parse_response_enabled).
	DNSParseResponseEnabled bool `hcl:"dns_parse_response_enabled,optional"`

	// PacketsLimitPerFlow bounds how many packets a flow is dissected for
	// before a forced give-up (spec.md §6 packets_limit_per_flow).
	PacketsLimitPerFlow int `hcl:"packets_limit_per_flow,optional"`

	// TrackPayload mirrors the external flow.track_payload option; the
	// core itself never retains payload bytes, but the knob is threaded
	// through so a host application can honor it consistently.
	TrackPayload bool `hcl:"flow_track_payload,optional"`

	// NumRoots is the flow table's shard count, rounded up to a power of
	// two by internal/flow.NewTable.
	NumRoots int `hcl:"num_roots,optional"`

	// MaxFlows bounds total flow table capacity (spec.md §4.4
	// max_ndpi_flows).
	MaxFlows int `hcl:"max_ndpi_flows,optional"`
}

// Defaults returns the configuration applied when a field was left at its
// zero value.
func Defaults() Config {
	return Config{
		AddressCacheSize:            4096,
		DNSSubclassificationEnabled: false,
		DNSParseResponseEnabled:     true,
		PacketsLimitPerFlow:         32,
		TrackPayload:                false,
		NumRoots:                    64,
		MaxFlows:                    100000,
	}
}

// Load decodes an HCL configuration file at path into a Config, applying
// Defaults() for any attribute the file omitted.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, errors.KindNotFound, "failed to read dpicore config")
	}
	return Decode(path, data)
}

// Decode parses HCL source already in memory, for embedding a config
// fragment or for tests that do not want a file on disk.
func Decode(filename string, data []byte) (Config, error) {
	cfg := Defaults()
	if err := hclsimple.Decode(filename, data, nil, &cfg); err != nil {
		return Config{}, errors.Wrap(err, errors.KindValidation, "failed to decode dpicore config")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Defaults()
	if c.AddressCacheSize == 0 {
		c.AddressCacheSize = d.AddressCacheSize
	}
	if c.PacketsLimitPerFlow == 0 {
		c.PacketsLimitPerFlow = d.PacketsLimitPerFlow
	}
	if c.NumRoots == 0 {
		c.NumRoots = d.NumRoots
	}
	if c.MaxFlows == 0 {
		c.MaxFlows = d.MaxFlows
	}
}

// Validate checks that the decoded values are sane, converting through
// cty where a bare Go comparison would miss an edge case HCL's numeric
// type can produce (e.g. a negative literal is syntactically a valid
// number but not a valid cache size).
func (c Config) Validate() error {
	if err := requireNonNegative("address_cache_size", c.AddressCacheSize); err != nil {
		return err
	}
	if err := requireNonNegative("packets_limit_per_flow", c.PacketsLimitPerFlow); err != nil {
		return err
	}
	if c.NumRoots <= 0 {
		return errors.New(errors.KindValidation, "num_roots must be positive")
	}
	if c.MaxFlows <= 0 {
		return errors.New(errors.KindValidation, "max_ndpi_flows must be positive")
	}
	return nil
}

func requireNonNegative(field string, value int) error {
	v, err := convert.Convert(cty.NumberIntVal(int64(value)), cty.Number)
	if err != nil {
		return errors.Wrapf(err, errors.KindValidation, "%s: invalid number", field)
	}
	if v.LessThan(cty.Zero).True() {
		return errors.Errorf(errors.KindValidation, "%s must not be negative", field)
	}
	return nil
}
