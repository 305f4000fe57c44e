package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/blues/greensalary/internal/logger"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Chain      ChainConfig      `mapstructure:"chain"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	Lock       LockConfig       `mapstructure:"lock"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // postgres, sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	Path     string `mapstructure:"path"` // sqlite file, empty for in-memory
}

// ChainConfig selects one of the network profiles by Env.
type ChainConfig struct {
	Env      string                  `mapstructure:"env"`
	Profiles map[string]ChainProfile `mapstructure:"profiles"`
}

// ChainProfile holds connection and signing settings for one network.
type ChainProfile struct {
	RpcUrl           string        `mapstructure:"rpc_url"`
	PrivateKey       string        `mapstructure:"private_key"`
	ChainId          int64         `mapstructure:"chain_id"`
	NetworkId        string        `mapstructure:"network_id"`
	ContractAddress  string        `mapstructure:"contract_address"`
	ArtifactPath     string        `mapstructure:"artifact_path"`
	GasMarginPercent int           `mapstructure:"gas_margin_percent"` // applied on top of the estimate
	GasLimit         uint64        `mapstructure:"gas_limit"`          // flat limit, skips estimation when set
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
}

type SettlementConfig struct {
	Timezone         string        `mapstructure:"timezone"`
	ReviewGraceDays  int           `mapstructure:"review_grace_days"`
	SettlementGrace  time.Duration `mapstructure:"settlement_grace"`
	PayableStatuses  []string      `mapstructure:"payable_statuses"`
	Cron             string        `mapstructure:"cron"`
	RunOnStartup     bool          `mapstructure:"run_on_startup"`
	ScheduleDisabled bool          `mapstructure:"schedule_disabled"`
}

type AnalysisConfig struct {
	Endpoint        string            `mapstructure:"endpoint"`
	PdfBaseUrl      string            `mapstructure:"pdf_base_url"`
	Timeout         time.Duration     `mapstructure:"timeout"`
	ProbeTimeout    time.Duration     `mapstructure:"probe_timeout"`
	Workers         int               `mapstructure:"workers"`
	SiteUrlPrefixes map[string]string `mapstructure:"site_url_prefixes"`
}

type LockConfig struct {
	Mode     string        `mapstructure:"mode"` // local, database, redis
	Name     string        `mapstructure:"name"`
	RedisUrl string        `mapstructure:"redis_url"`
	LeaseTTL time.Duration `mapstructure:"lease_ttl"` // renewed every third of the TTL while a sweep runs
}

// MonitorConfig controls the escrow event reader.
type MonitorConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Interval      time.Duration `mapstructure:"interval"`
	BatchSize     uint64        `mapstructure:"batch_size"`
	StartBlock    uint64        `mapstructure:"start_block"`
	Confirmations uint64        `mapstructure:"confirmations"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error, fatal
	Output string `mapstructure:"output"` // stdout, stderr, file
	File   string `mapstructure:"file"`
}

// ActiveChain returns the profile selected by chain.env.
func (c *Config) ActiveChain() (ChainProfile, error) {
	profile, ok := c.Chain.Profiles[c.Chain.Env]
	if !ok {
		return ChainProfile{}, fmt.Errorf("chain profile %q not configured", c.Chain.Env)
	}
	return profile, nil
}

// Location resolves settlement.timezone, falling back to UTC.
func (s SettlementConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		logger.Warn("Unknown settlement timezone %q, using UTC: %v", s.Timezone, err)
		return time.UTC
	}
	return loc
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "greensalary")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "")

	v.SetDefault("chain.env", "development")
	v.SetDefault("chain.profiles.development.rpc_url", "http://localhost:8545")
	v.SetDefault("chain.profiles.development.chain_id", 1337)
	v.SetDefault("chain.profiles.development.network_id", "5777")
	v.SetDefault("chain.profiles.development.gas_margin_percent", 20)
	v.SetDefault("chain.profiles.development.call_timeout", 2*time.Minute)
	v.SetDefault("chain.profiles.testnet.chain_id", 11155111)
	v.SetDefault("chain.profiles.testnet.network_id", "11155111")
	v.SetDefault("chain.profiles.testnet.gas_margin_percent", 20)
	v.SetDefault("chain.profiles.testnet.call_timeout", 5*time.Minute)

	v.SetDefault("settlement.timezone", "Asia/Seoul")
	v.SetDefault("settlement.review_grace_days", 1)
	v.SetDefault("settlement.settlement_grace", 48*time.Hour)
	v.SetDefault("settlement.payable_statuses", []string{"APPROVED"})
	v.SetDefault("settlement.cron", "0 9 * * *")
	v.SetDefault("settlement.run_on_startup", false)
	v.SetDefault("settlement.schedule_disabled", false)

	v.SetDefault("analysis.timeout", 5*time.Minute)
	v.SetDefault("analysis.probe_timeout", 10*time.Second)
	v.SetDefault("analysis.workers", 8)
	v.SetDefault("analysis.site_url_prefixes", map[string]string{
		"Naver Blog": "https://blog.naver.com/",
	})

	v.SetDefault("lock.mode", "local")
	v.SetDefault("lock.name", "settlement")
	v.SetDefault("lock.lease_ttl", 30*time.Minute)

	v.SetDefault("monitor.enabled", false)
	v.SetDefault("monitor.interval", time.Minute)
	v.SetDefault("monitor.batch_size", 500)
	v.SetDefault("monitor.start_block", 0)
	v.SetDefault("monitor.confirmations", 2)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file", "logs/app.log")
}

// Load reads config.yaml from the standard search paths.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads the given file, or searches the standard paths when file is empty.
func LoadFile(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/greensalary")
	}

	v.SetEnvPrefix("GREENSALARY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if file != "" {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
		logger.Warn("Could not read config file, using defaults: %v", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &cfg, nil
}

// GetLevel implements logger.Options.
func (l LogConfig) GetLevel() string {
	return l.Level
}

// GetOutput implements logger.Options.
func (l LogConfig) GetOutput() string {
	return l.Output
}

// GetFile implements logger.Options.
func (l LogConfig) GetFile() string {
	return l.File
}
