package config

import (
	"fmt"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult splits validation errors by severity: Fatals block
// startup (Load returns an error), Warnings are logged and the offending
// field is clamped to a safe value in place.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r *ValidationResult) HasFatals() bool { return len(r.Fatals) > 0 }

// AllErrors concatenates fatals and warnings, fatals first, for callers
// that want every validation issue regardless of severity.
func (r *ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

func (r *ValidationResult) fatal(format string, args ...any) {
	r.Fatals = append(r.Fatals, fmt.Errorf(format, args...))
}

func (r *ValidationResult) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Errorf(format, args...))
}

// ValidateTiered checks the config and returns every problem found,
// split into fatal (startup-blocking) and warning (clamped-and-continue)
// tiers. Values it clamps are corrected on cfg in place, so a caller that
// ignores Warnings still ends up with a safely runnable Config.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	// SampleFrame invariant, spec.md §3: N * sample_period_us *
	// messages_per_second == 1_000_000 exactly. A period/rate pair that
	// can't produce an exact integer frame size is fatal: C4/C5 have no
	// way to recover from a fractional frame.
	if c.SamplePeriodUs <= 0 {
		r.fatal("sample_period_us %d must be positive", c.SamplePeriodUs)
	} else if c.MessagesPerSecond <= 0 {
		r.fatal("messages_per_second %d must be positive", c.MessagesPerSecond)
	} else {
		samplesPerSecond := 1_000_000 / c.SamplePeriodUs
		if 1_000_000%c.SamplePeriodUs != 0 || samplesPerSecond%c.MessagesPerSecond != 0 {
			r.fatal("sample_period_us=%d, messages_per_second=%d do not divide 1_000_000 exactly",
				c.SamplePeriodUs, c.MessagesPerSecond)
		}
	}

	if c.SamplerCPU < -1 {
		r.warn("sampler_cpu %d is invalid, disabling CPU pinning", c.SamplerCPU)
		c.SamplerCPU = -1
	}

	if c.WebServerPort < 1 || c.WebServerPort > 65535 {
		r.fatal("web_server_port %d is out of range [1,65535]", c.WebServerPort)
	}

	if c.MaxJSONMsgLen < 1 {
		r.warn("max_json_msg_len %d is below minimum 1, clamping to 65536", c.MaxJSONMsgLen)
		c.MaxJSONMsgLen = 65536
	}

	// Pcap buffer bounds, per spec.md §4.7.
	if c.PcapMaxMemoryBytes <= 0 {
		r.warn("pcap_max_memory_bytes %d is below minimum, clamping to 64MiB", c.PcapMaxMemoryBytes)
		c.PcapMaxMemoryBytes = 64 * 1024 * 1024
	}
	if c.PcapDurationSec <= 0 {
		r.warn("pcap_duration_sec %d is below minimum 1, clamping", c.PcapDurationSec)
		c.PcapDurationSec = 1
	}
	if c.PcapPreTriggerSec < 0 {
		r.warn("pcap_pre_trigger_sec %d is negative, clamping to 0", c.PcapPreTriggerSec)
		c.PcapPreTriggerSec = 0
	}
	if c.PcapPostTriggerSec < 0 {
		r.warn("pcap_post_trigger_sec %d is negative, clamping to 0", c.PcapPostTriggerSec)
		c.PcapPostTriggerSec = 0
	}
	if c.PcapPreTriggerSec+c.PcapPostTriggerSec > c.PcapDurationSec {
		r.warn("pcap pre+post trigger window (%ds) exceeds pcap_duration_sec (%ds)",
			c.PcapPreTriggerSec+c.PcapPostTriggerSec, c.PcapDurationSec)
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.warn("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel)
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.warn("log_format %q is not valid (use text or json)", c.LogFormat)
	}

	return r
}
