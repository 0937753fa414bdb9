// Package config loads the static configuration record the core is
// constructed with. The core itself is opaque to CLI flags and environment
// variables; cmd/mgmtd parses those and hands config.Config to pkg/app.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CapacityLimits holds the static thresholds used by pkg/capacity to
// classify a target or pool's remaining space/inodes, expressed as
// absolute values (bytes, inode counts) below which the category
// downgrades. Dynamic, if set, enables spread-based recalibration as
// described by the capacity classifier.
type CapacityLimits struct {
	LowSpace        uint64 `yaml:"low_space"`
	EmergencySpace  uint64 `yaml:"emergency_space"`
	LowInodes       uint64 `yaml:"low_inodes"`
	EmergencyInodes uint64 `yaml:"emergency_inodes"`

	Dynamic *DynamicCapacityLimits `yaml:"dynamic,omitempty"`
}

// DynamicCapacityLimits holds the alternate low/emergency thresholds
// calibration may switch in, plus the per-axis spread thresholds that
// trigger the switch, matching pkg/capacity.DynamicLimits field for
// field. A nil *DynamicCapacityLimits (the default) leaves
// classification static.
type DynamicCapacityLimits struct {
	LowSpace        uint64 `yaml:"low_space"`
	EmergencySpace  uint64 `yaml:"emergency_space"`
	LowInodes       uint64 `yaml:"low_inodes"`
	EmergencyInodes uint64 `yaml:"emergency_inodes"`

	SpaceNormalThreshold  uint64 `yaml:"space_normal_threshold"`
	SpaceLowThreshold     uint64 `yaml:"space_low_threshold"`
	InodesNormalThreshold uint64 `yaml:"inodes_normal_threshold"`
	InodesLowThreshold    uint64 `yaml:"inodes_low_threshold"`
}

func (d *DynamicCapacityLimits) validate(field string) error {
	if d == nil {
		return nil
	}
	if d.EmergencySpace > d.LowSpace {
		return fmt.Errorf("%s.dynamic.emergency_space must not exceed low_space", field)
	}
	if d.EmergencyInodes > d.LowInodes {
		return fmt.Errorf("%s.dynamic.emergency_inodes must not exceed low_inodes", field)
	}
	if d.SpaceLowThreshold > d.SpaceNormalThreshold {
		return fmt.Errorf("%s.dynamic.space_low_threshold must not exceed space_normal_threshold", field)
	}
	if d.InodesLowThreshold > d.InodesNormalThreshold {
		return fmt.Errorf("%s.dynamic.inodes_low_threshold must not exceed inodes_normal_threshold", field)
	}
	return nil
}

// Quota holds the quota subsystem's static configuration.
type Quota struct {
	Enabled        bool          `yaml:"enabled"`
	UpdateInterval time.Duration `yaml:"update_interval"`
}

// Auth holds the legacy-channel shared-secret configuration.
type Auth struct {
	Enabled    bool   `yaml:"enabled"`
	SecretFile string `yaml:"secret_file"`
}

// Log holds the logging sink configuration.
type Log struct {
	Target string `yaml:"target"` // "stdout", "stderr", or a file path
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	JSON   bool   `yaml:"json"`
}

// RPC holds the structured gRPC surface's listen address and optional
// transport credentials. CertFile/KeyFile left blank runs the listener
// without transport security, suitable for a trusted management network;
// ClientCAFile additionally turns on client certificate verification
// (mTLS) once a server certificate is configured.
type RPC struct {
	ListenAddr   string `yaml:"listen_addr"`
	CertFile     string `yaml:"cert_file,omitempty"`
	KeyFile      string `yaml:"key_file,omitempty"`
	ClientCAFile string `yaml:"client_ca_file,omitempty"`
}

// Config is the fully-parsed static configuration record the core is
// constructed with, per the external-interfaces contract: the core never
// reads flags, environment variables, or config files itself.
type Config struct {
	ListenPort            uint16        `yaml:"listen_port"`
	InterfaceFilter       []string      `yaml:"interface_filter,omitempty"`
	DatabasePath          string        `yaml:"database_path"`
	Auth                  Auth          `yaml:"auth"`
	Log                   Log           `yaml:"log"`
	NodeOfflineTimeout    time.Duration `yaml:"node_offline_timeout"`
	RegistrationEnabled   bool          `yaml:"registration_enabled"`
	Quota                 Quota         `yaml:"quota"`
	MetaCapacityLimits    CapacityLimits `yaml:"meta_capacity_limits"`
	StorageCapacityLimits CapacityLimits `yaml:"storage_capacity_limits"`
	LicenseFile           string        `yaml:"license_file,omitempty"`
	RPC                   RPC           `yaml:"rpc"`
}

// Default returns a Config populated with the values the original
// implementation ships as defaults, suitable as a base before applying a
// file and flag overrides.
func Default() Config {
	return Config{
		ListenPort:          8008,
		DatabasePath:        "/var/lib/beegfs/mgmtd.sqlite",
		Auth:                Auth{Enabled: false},
		Log:                 Log{Target: "stdout", Level: "info", JSON: true},
		NodeOfflineTimeout:  180 * time.Second,
		RegistrationEnabled: true,
		Quota:               Quota{Enabled: false, UpdateInterval: 30 * time.Second},
		MetaCapacityLimits: CapacityLimits{
			LowSpace:        10 * 1024 * 1024 * 1024,
			EmergencySpace:  3 * 1024 * 1024 * 1024,
			LowInodes:       10_000_000,
			EmergencyInodes: 1_000_000,
		},
		StorageCapacityLimits: CapacityLimits{
			LowSpace:        10 * 1024 * 1024 * 1024,
			EmergencySpace:  3 * 1024 * 1024 * 1024,
			LowInodes:       10_000_000,
			EmergencyInodes: 1_000_000,
		},
		RPC: RPC{ListenAddr: ":8010"},
	}
}

// Load reads a YAML configuration file from path and overlays it on top of
// Default(). A missing file is not an error; callers that require the file
// to exist should stat it first.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the invariants the core assumes hold for a Config before
// it is used to construct the application: a missing or contradictory
// value here must fail startup per the error-handling design's "failures
// during startup terminate with a non-zero exit" rule.
func (c Config) Validate() error {
	if c.ListenPort == 0 {
		return fmt.Errorf("listen_port must be set")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path must be set")
	}
	if c.Auth.Enabled && c.Auth.SecretFile == "" {
		return fmt.Errorf("auth.secret_file is required when auth.enabled is true")
	}
	if c.MetaCapacityLimits.EmergencySpace > c.MetaCapacityLimits.LowSpace {
		return fmt.Errorf("meta_capacity_limits.emergency_space must not exceed low_space")
	}
	if c.StorageCapacityLimits.EmergencySpace > c.StorageCapacityLimits.LowSpace {
		return fmt.Errorf("storage_capacity_limits.emergency_space must not exceed low_space")
	}
	if err := c.MetaCapacityLimits.Dynamic.validate("meta_capacity_limits"); err != nil {
		return err
	}
	if err := c.StorageCapacityLimits.Dynamic.validate("storage_capacity_limits"); err != nil {
		return err
	}
	if c.RPC.ListenAddr == "" {
		return fmt.Errorf("rpc.listen_addr must be set")
	}
	if c.RPC.ClientCAFile != "" && c.RPC.CertFile == "" {
		return fmt.Errorf("rpc.client_ca_file requires rpc.cert_file to also be set")
	}
	return nil
}
