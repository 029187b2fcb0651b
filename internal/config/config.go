// Package config loads the pipeline configuration from file and environment
// and builds the logger.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/HerbHall/fmcpilot/internal/bootstrap"
	"github.com/HerbHall/fmcpilot/internal/fmc"
	"github.com/HerbHall/fmcpilot/internal/provision"
	"github.com/HerbHall/fmcpilot/internal/report"
)

// ReportConfig controls the local report store.
type ReportConfig struct {
	Database string `mapstructure:"database"` // SQLite path; empty disables recording
}

// Config is the full fmcpilot configuration.
type Config struct {
	FMC          fmc.Config                   `mapstructure:"fmc"`
	Devices      []provision.DeviceSpec       `mapstructure:"devices"`
	Registration provision.RegistrationConfig `mapstructure:"registration"`
	HA           provision.HAConfig           `mapstructure:"ha"`
	Network      provision.NetConfig          `mapstructure:"network"`
	Deploy       provision.DeployConfig       `mapstructure:"deploy"`
	Precheck     bootstrap.PrecheckConfig     `mapstructure:"precheck"`
	Manager      bootstrap.ManagerConfig      `mapstructure:"manager"`
	Report       ReportConfig                 `mapstructure:"report"`
	Email        report.EmailConfig           `mapstructure:"email"`
}

// Load reads configuration from file and environment variables and unmarshals
// it into a Config. Defaults mirror the per-stage Default*Config constructors.
func Load(configPath string) (*Config, *viper.Viper, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	fmcDefaults := fmc.DefaultConfig()
	v.SetDefault("fmc.domain", fmcDefaults.Domain)
	v.SetDefault("fmc.timeout", fmcDefaults.Timeout)
	v.SetDefault("fmc.requests_per_min", fmcDefaults.RequestsPerMin)

	reg := provision.DefaultRegistrationConfig()
	v.SetDefault("registration.access_policy", reg.AccessPolicy)
	v.SetDefault("registration.license_caps", reg.LicenseCaps)
	v.SetDefault("registration.appear_timeout", reg.AppearTimeout)
	v.SetDefault("registration.appear_interval", reg.AppearInterval)
	v.SetDefault("registration.ready_interval", reg.ReadyInterval)
	v.SetDefault("registration.ready_soft_ceiling", reg.ReadySoftCeiling)
	v.SetDefault("registration.ready_hard_timeout", reg.ReadyHardTimeout)

	ha := provision.DefaultHAConfig()
	v.SetDefault("ha.create_timeout", ha.CreateTimeout)
	v.SetDefault("ha.converge_timeout", ha.ConvergeTimeout)
	v.SetDefault("ha.poll_interval", ha.PollInterval)

	deploy := provision.DefaultDeployConfig()
	v.SetDefault("deploy.poll_interval", deploy.PollInterval)
	v.SetDefault("deploy.max_wait", deploy.MaxWait)
	v.SetDefault("deploy.note", deploy.Note)

	precheck := bootstrap.DefaultPrecheckConfig()
	v.SetDefault("precheck.ping_count", precheck.PingCount)
	v.SetDefault("precheck.ping_timeout", precheck.PingTimeout)

	manager := bootstrap.DefaultManagerConfig()
	v.SetDefault("manager.port", manager.Port)
	v.SetDefault("manager.command_timeout", manager.CommandTimeout)

	v.SetDefault("report.database", "fmcpilot-report.db")
	v.SetDefault("email.smtp_port", 25)
	v.SetDefault("email.subject", "FTD HA Deployment Report")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("fmcpilot")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/fmcpilot")
	}

	// Environment variable support: FMCPILOT_FMC_PASSWORD=...
	// Credentials have no default, so they are bound explicitly; viper only
	// consults the environment for keys it already knows about.
	v.SetEnvPrefix("FMCPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{
		"fmc.host", "fmc.username", "fmc.password",
		"manager.username", "manager.password",
		"email.smtp_host", "email.from", "email.to",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// The manager enrollment points devices at the same FMC the API client
	// talks to unless overridden.
	if cfg.Manager.FMCHost == "" {
		cfg.Manager.FMCHost = cfg.FMC.Host
	}

	return &cfg, v, nil
}

// Validate checks the fields every step depends on.
func (c *Config) Validate() error {
	if c.FMC.Host == "" {
		return fmt.Errorf("fmc.host is required")
	}
	if c.FMC.Username == "" || c.FMC.Password == "" {
		return fmt.Errorf("fmc.username and fmc.password are required")
	}
	if len(c.Devices) != 2 {
		return fmt.Errorf("exactly 2 devices are required, got %d", len(c.Devices))
	}
	for i, dev := range c.Devices {
		if dev.Name == "" || dev.Host == "" || dev.RegKey == "" {
			return fmt.Errorf("devices[%d]: name, host, and reg_key are required", i)
		}
	}
	return nil
}
