package config

import (
	"fmt"
	"testing"
)

func TestValidateTieredNonDividingPeriodRateIsFatal(t *testing.T) {
	cfg := Default()
	cfg.SamplePeriodUs = 300 // 1_000_000/300 = 3333, not divisible by 10
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("non-dividing sample_period_us/messages_per_second should be fatal")
	}
}

func TestValidateTieredZeroSamplePeriodIsFatal(t *testing.T) {
	cfg := Default()
	cfg.SamplePeriodUs = 0
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("zero sample_period_us should be fatal")
	}
}

func TestValidateTieredPortOutOfRangeIsFatal(t *testing.T) {
	cfg := Default()
	cfg.WebServerPort = 70000
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("out-of-range web_server_port should be fatal")
	}
}

func TestValidateTieredInvalidSamplerCPUIsWarning(t *testing.T) {
	cfg := Default()
	cfg.SamplerCPU = -5
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("invalid sampler_cpu should be a warning, not fatal: %v", result.Fatals)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for invalid sampler_cpu")
	}
	if cfg.SamplerCPU != -1 {
		t.Fatalf("SamplerCPU = %d, want -1 (clamped, pinning disabled)", cfg.SamplerCPU)
	}
}

func TestValidateTieredMaxJSONMsgLenClamping(t *testing.T) {
	cfg := Default()
	cfg.MaxJSONMsgLen = 0
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped max_json_msg_len should be a warning: %v", result.Fatals)
	}
	if cfg.MaxJSONMsgLen != 65536 {
		t.Fatalf("MaxJSONMsgLen = %d, want 65536", cfg.MaxJSONMsgLen)
	}
}

func TestValidateTieredPcapDurationClamping(t *testing.T) {
	cfg := Default()
	cfg.PcapDurationSec = -1
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped pcap_duration_sec should be a warning: %v", result.Fatals)
	}
	if cfg.PcapDurationSec != 1 {
		t.Fatalf("PcapDurationSec = %d, want 1", cfg.PcapDurationSec)
	}
}

func TestValidateTieredPreTriggerExceedsDurationIsWarning(t *testing.T) {
	cfg := Default()
	cfg.PcapDurationSec = 5
	cfg.PcapPreTriggerSec = 3
	cfg.PcapPostTriggerSec = 4
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("pre+post exceeding duration should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for pre+post exceeding pcap_duration_sec")
	}
}

func TestValidateTieredUnknownLogLevelIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown log level should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for unknown log level")
	}
}

func TestValidateTieredInvalidLogFormatIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "xml"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("invalid log format should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for invalid log format")
	}
}

func TestHasFatals(t *testing.T) {
	r := ValidationResult{}
	if r.HasFatals() {
		t.Fatal("HasFatals() on empty result should be false")
	}
	r.Fatals = append(r.Fatals, fmt.Errorf("test error"))
	if !r.HasFatals() {
		t.Fatal("HasFatals() should be true with a fatal error")
	}
}

func TestAllErrorsReturnsBoth(t *testing.T) {
	cfg := Default()
	cfg.WebServerPort = -1        // fatal
	cfg.LogFormat = "bogusformat" // warning
	result := cfg.ValidateTiered()

	all := result.AllErrors()
	if len(all) < 2 {
		t.Fatalf("AllErrors() returned %d errors, expected at least 2 (fatals + warnings)", len(all))
	}
}

func TestDefaultConfigHasNoFatals(t *testing.T) {
	cfg := Default()
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("default config has fatals: %v", result.Fatals)
	}
	if len(result.Warnings) > 0 {
		t.Fatalf("default config has warnings: %v", result.Warnings)
	}
}
