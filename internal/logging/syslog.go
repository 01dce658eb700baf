// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"fmt"
	"log/syslog"
)

// SyslogConfig describes a remote syslog collector for NewSyslogWriter. No
// package in this module writes risk or verdict events to that writer, and
// NewSyslogWriter does not consult Enabled.
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string // udp or tcp
	Tag      string
	Facility int // RFC 3164 facility number, e.g. 1 for "user-level"
}

// DefaultSyslogConfig returns a disabled syslog configuration with the
// module's conventional defaults.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "dpicore",
		Facility: 1,
	}
}

// NewSyslogWriter dials the configured syslog collector and returns a
// *syslog.Writer. Missing Port/Protocol/Tag fields are defaulted.
func NewSyslogWriter(cfg SyslogConfig) (*syslog.Writer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("logging: syslog host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "dpicore"
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	priority := syslog.Priority(cfg.Facility<<3) | syslog.LOG_INFO
	return syslog.Dial(cfg.Protocol, addr, priority, cfg.Tag)
}
