package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/jittertrap/jittertrap/internal/logging"
)

var log = logging.L("config")

// Config holds every environment/compile-time knob spec.md §6 names
// (SAMPLE_PERIOD_US, MESSAGES_PER_SECOND, ALLOWED_IFACES,
// MAX_JSON_MSG_LEN, WEB_SERVER_PORT), the C7 pcap-buffer defaults, and
// the ambient logging settings the teacher's config layer carries.
type Config struct {
	// Sampler (C4), per spec.md §4.4/§6.
	SamplePeriodUs    int      `mapstructure:"sample_period_us"`
	MessagesPerSecond int      `mapstructure:"messages_per_second"`
	SamplerCPU        int      `mapstructure:"sampler_cpu"` // -1 disables pinning
	AllowedIfaces     []string `mapstructure:"allowed_ifaces"`
	InitialIface      string   `mapstructure:"initial_iface"`

	// C9 control-plane transport.
	WebServerPort int    `mapstructure:"web_server_port"`
	MaxJSONMsgLen int    `mapstructure:"max_json_msg_len"`
	ResourcePath  string `mapstructure:"resource_path"`

	// C7 rolling pcap buffer defaults, per spec.md §4.7.
	PcapMaxMemoryBytes int64  `mapstructure:"pcap_max_memory_bytes"`
	PcapDurationSec    int    `mapstructure:"pcap_duration_sec"`
	PcapPreTriggerSec  int    `mapstructure:"pcap_pre_trigger_sec"`
	PcapPostTriggerSec int    `mapstructure:"pcap_post_trigger_sec"`
	PcapDir            string `mapstructure:"pcap_dir"`

	// Logging configuration, matching the teacher's ambient logging layer.
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	// Metrics (A4).
	MetricsEnabled bool `mapstructure:"metrics_enabled"`
}

// Default returns a Config with a 10 s pcap buffer using 3 s pre- and
// 2 s post-trigger windows, a disabled CPU pin, plus ambient logging
// defaults matching the teacher's.
func Default() *Config {
	return &Config{
		SamplePeriodUs:    1000,
		MessagesPerSecond: 10,
		SamplerCPU:        -1,

		WebServerPort: 8080,
		MaxJSONMsgLen: 65536,

		PcapMaxMemoryBytes: 64 * 1024 * 1024,
		PcapDurationSec:    10,
		PcapPreTriggerSec:  3,
		PcapPostTriggerSec: 2,
		PcapDir:            "/var/lib/jittertrap/pcap",

		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  50,
		LogMaxBackups: 3,

		MetricsEnabled: true,
	}
}

// Load reads configuration from cfgFile (or the default search path if
// empty), environment variables prefixed JITTERTRAP_, and Default()'s
// values, then runs tiered validation: fatals abort startup, warnings
// are logged and the offending field is clamped in place.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("jittertrapd")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("JITTERTRAP")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	result := cfg.ValidateTiered()
	for _, w := range result.Warnings {
		log.Warn("config validation", "error", w)
	}
	if result.HasFatals() {
		for _, f := range result.Fatals {
			log.Error("config validation fatal", "error", f)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("sample_period_us", cfg.SamplePeriodUs)
	viper.Set("messages_per_second", cfg.MessagesPerSecond)
	viper.Set("sampler_cpu", cfg.SamplerCPU)
	viper.Set("allowed_ifaces", cfg.AllowedIfaces)
	viper.Set("initial_iface", cfg.InitialIface)
	viper.Set("web_server_port", cfg.WebServerPort)
	viper.Set("max_json_msg_len", cfg.MaxJSONMsgLen)
	viper.Set("resource_path", cfg.ResourcePath)
	viper.Set("pcap_max_memory_bytes", cfg.PcapMaxMemoryBytes)
	viper.Set("pcap_duration_sec", cfg.PcapDurationSec)
	viper.Set("pcap_pre_trigger_sec", cfg.PcapPreTriggerSec)
	viper.Set("pcap_post_trigger_sec", cfg.PcapPostTriggerSec)
	viper.Set("pcap_dir", cfg.PcapDir)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "jittertrapd.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := viper.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	return os.Chmod(cfgPath, 0644)
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "JitterTrap")
	case "darwin":
		return "/Library/Application Support/JitterTrap"
	default:
		return "/etc/jittertrap"
	}
}
