package config

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Mode represents the gateway operating mode.
type Mode string

const (
	ModeProd Mode = "prod"
	ModeDev  Mode = "dev"
)

// ParseMode parses a mode string, returning an error for invalid values.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prod", "":
		return ModeProd, nil
	case "dev":
		return ModeDev, nil
	default:
		return "", fmt.Errorf("invalid mode %q: must be one of prod, dev", s)
	}
}

// LoaderOptions controls how configuration is loaded.
type LoaderOptions struct {
	// ConfigPath is the path to a TOML config file (optional).
	// If provided but file is missing or invalid, loading fails.
	ConfigPath string

	// ModeFlag is the --mode flag value (overrides config file mode).
	ModeFlag string

	// FlagOverrides are CLI flag values that override config file values.
	FlagOverrides FlagOverrides

	// Logger is used for warning messages (e.g., undecoded keys).
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// FlagOverrides holds CLI flag values that override config file values.
type FlagOverrides struct {
	ListenAddr    *string
	DataDir       *string
	TLSMode       *string
	LoggingLevel  *string
	AdminUsername *string
	AdminPassword *string
	CorpID        *string
	Secret        *string
}

// fileConfig mirrors Config but with pointer sections to detect presence.
type fileConfig struct {
	Mode       string `toml:"mode"`
	ListenAddr string `toml:"listen_addr"`
	DataDir    string `toml:"data_dir"`

	WeCom        *WeComConfig        `toml:"wecom"`
	Sync         *syncFileConfig     `toml:"sync"`
	Store        *StoreConfig        `toml:"store"`
	TLS          *TLSConfig          `toml:"tls"`
	OutboundHTTP *OutboundHTTPConfig `toml:"outbound_http"`
	Admin        *AdminConfig        `toml:"admin"`
	Logging      *LoggingConfig      `toml:"logging"`
}

// syncFileConfig holds sync settings from TOML; pointer fields so an
// explicit zero (poll disabled) is distinguishable from absent.
type syncFileConfig struct {
	PollIntervalSeconds  *int `toml:"poll_interval_seconds"`
	PageSize             int  `toml:"page_size"`
	MaxMessageAgeSeconds int  `toml:"max_message_age_seconds"`
	MaxDrainPages        int  `toml:"max_drain_pages"`
	DedupCapacity        int  `toml:"dedup_capacity"`
}

// Load loads configuration with the following precedence:
//  1. Determine effective mode: --mode flag > mode in config file > default (prod)
//  2. Start from mode preset defaults
//  3. Overlay TOML config file values
//  4. Overlay CLI flags
//  5. Validate enum fields and credential material
//
// If ConfigPath is provided but the file is missing, unreadable, or invalid TOML,
// Load returns an error (fail fast). Unknown/undecoded TOML keys produce a warning
// but do not fail the load.
func Load(opts LoaderOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var fc fileConfig

	if opts.ConfigPath != "" {
		data, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigPath, err)
		}
		md, err := toml.Decode(string(data), &fc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.ConfigPath, err)
		}

		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			logger.Warn("config file contains undecoded keys", "path", opts.ConfigPath, "keys", keys)
		}
	}

	modeStr := "prod"
	if fc.Mode != "" {
		modeStr = fc.Mode
	}
	if opts.ModeFlag != "" {
		modeStr = opts.ModeFlag
	}

	mode, err := ParseMode(modeStr)
	if err != nil {
		return nil, err
	}

	cfg := presetForMode(mode)

	if opts.ConfigPath != "" {
		overlayFileConfig(cfg, &fc)
	}

	overlayFlags(cfg, opts.FlagOverrides)

	if err := validateEnums(cfg); err != nil {
		return nil, err
	}

	if err := validateWeCom(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// presetForMode returns the base config for a given mode.
func presetForMode(mode Mode) *Config {
	if mode == ModeDev {
		return DevConfig()
	}
	return ProdConfig()
}

// ProdConfig returns production-safe defaults.
func ProdConfig() *Config {
	return &Config{
		Mode:       string(ModeProd),
		ListenAddr: ":9380",
		DataDir:    ".kfsync",
		WeCom: WeComConfig{
			APIBase: "https://qyapi.weixin.qq.com",
		},
		Sync: SyncConfig{
			PollIntervalSeconds:  60,
			PageSize:             1000,
			MaxMessageAgeSeconds: 600,
			MaxDrainPages:        1000,
			DedupCapacity:        4096,
		},
		Store: StoreConfig{
			Driver: "json",
		},
		TLS: TLSConfig{
			Mode:          "selfsigned",
			SelfSignedDir: ".kfsync/certs",
			HTTPAddr:      ":9381",
			ACME: ACMEConfig{
				Directory:  "https://acme-v02.api.letsencrypt.org/directory",
				StorageDir: ".kfsync/acme",
				UseStaging: false,
			},
		},
		OutboundHTTP: OutboundHTTPConfig{
			TimeoutMS:        10000,
			ConnectTimeoutMS: 2000,
			MaxResponseBytes: 4194304,
		},
		Admin: AdminConfig{
			Username: "admin",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DevConfig returns development mode defaults.
func DevConfig() *Config {
	cfg := ProdConfig()
	cfg.Mode = string(ModeDev)
	cfg.TLS.Mode = "off"
	cfg.TLS.ACME.Directory = "https://acme-staging-v02.api.letsencrypt.org/directory"
	cfg.TLS.ACME.UseStaging = true
	cfg.Logging.Level = "debug"
	return cfg
}

// overlayFileConfig applies TOML file values onto cfg.
func overlayFileConfig(cfg *Config, fc *fileConfig) {
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	if fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
	}

	if fc.WeCom != nil {
		if fc.WeCom.CorpID != "" {
			cfg.WeCom.CorpID = fc.WeCom.CorpID
		}
		if fc.WeCom.Secret != "" {
			cfg.WeCom.Secret = fc.WeCom.Secret
		}
		if fc.WeCom.CallbackToken != "" {
			cfg.WeCom.CallbackToken = fc.WeCom.CallbackToken
		}
		if fc.WeCom.EncodingAESKey != "" {
			cfg.WeCom.EncodingAESKey = fc.WeCom.EncodingAESKey
		}
		if fc.WeCom.APIBase != "" {
			cfg.WeCom.APIBase = fc.WeCom.APIBase
		}
	}

	if fc.Sync != nil {
		if fc.Sync.PollIntervalSeconds != nil {
			cfg.Sync.PollIntervalSeconds = *fc.Sync.PollIntervalSeconds
		}
		if fc.Sync.PageSize != 0 {
			cfg.Sync.PageSize = fc.Sync.PageSize
		}
		if fc.Sync.MaxMessageAgeSeconds != 0 {
			cfg.Sync.MaxMessageAgeSeconds = fc.Sync.MaxMessageAgeSeconds
		}
		if fc.Sync.MaxDrainPages != 0 {
			cfg.Sync.MaxDrainPages = fc.Sync.MaxDrainPages
		}
		if fc.Sync.DedupCapacity != 0 {
			cfg.Sync.DedupCapacity = fc.Sync.DedupCapacity
		}
	}

	if fc.Store != nil {
		if fc.Store.Driver != "" {
			cfg.Store.Driver = fc.Store.Driver
		}
		if len(fc.Store.Drivers) > 0 {
			cfg.Store.Drivers = fc.Store.Drivers
		}
	}

	if fc.TLS != nil {
		if fc.TLS.Mode != "" {
			cfg.TLS.Mode = fc.TLS.Mode
		}
		if fc.TLS.CertFile != "" {
			cfg.TLS.CertFile = fc.TLS.CertFile
		}
		if fc.TLS.KeyFile != "" {
			cfg.TLS.KeyFile = fc.TLS.KeyFile
		}
		if fc.TLS.SelfSignedDir != "" {
			cfg.TLS.SelfSignedDir = fc.TLS.SelfSignedDir
		}
		if fc.TLS.HTTPAddr != "" {
			cfg.TLS.HTTPAddr = fc.TLS.HTTPAddr
		}
		if fc.TLS.ACME.Email != "" {
			cfg.TLS.ACME.Email = fc.TLS.ACME.Email
		}
		if fc.TLS.ACME.Domain != "" {
			cfg.TLS.ACME.Domain = fc.TLS.ACME.Domain
		}
		if fc.TLS.ACME.Directory != "" {
			cfg.TLS.ACME.Directory = fc.TLS.ACME.Directory
		}
		if fc.TLS.ACME.StorageDir != "" {
			cfg.TLS.ACME.StorageDir = fc.TLS.ACME.StorageDir
		}
		// UseStaging is a bool, overlay when the TLS section is present
		cfg.TLS.ACME.UseStaging = fc.TLS.ACME.UseStaging
	}

	if fc.OutboundHTTP != nil {
		if fc.OutboundHTTP.TimeoutMS != 0 {
			cfg.OutboundHTTP.TimeoutMS = fc.OutboundHTTP.TimeoutMS
		}
		if fc.OutboundHTTP.ConnectTimeoutMS != 0 {
			cfg.OutboundHTTP.ConnectTimeoutMS = fc.OutboundHTTP.ConnectTimeoutMS
		}
		if fc.OutboundHTTP.MaxResponseBytes != 0 {
			cfg.OutboundHTTP.MaxResponseBytes = fc.OutboundHTTP.MaxResponseBytes
		}
	}

	if fc.Admin != nil {
		if fc.Admin.Username != "" {
			cfg.Admin.Username = fc.Admin.Username
		}
		if fc.Admin.Password != "" {
			cfg.Admin.Password = fc.Admin.Password
		}
	}

	if fc.Logging != nil {
		if fc.Logging.Level != "" {
			cfg.Logging.Level = fc.Logging.Level
		}
	}
}

// overlayFlags applies CLI flag values onto cfg.
func overlayFlags(cfg *Config, f FlagOverrides) {
	if f.ListenAddr != nil && *f.ListenAddr != "" {
		cfg.ListenAddr = *f.ListenAddr
	}
	if f.DataDir != nil && *f.DataDir != "" {
		cfg.DataDir = *f.DataDir
	}
	if f.TLSMode != nil && *f.TLSMode != "" {
		cfg.TLS.Mode = *f.TLSMode
	}
	if f.LoggingLevel != nil && *f.LoggingLevel != "" {
		cfg.Logging.Level = *f.LoggingLevel
	}
	if f.AdminUsername != nil && *f.AdminUsername != "" {
		cfg.Admin.Username = *f.AdminUsername
	}
	if f.AdminPassword != nil && *f.AdminPassword != "" {
		cfg.Admin.Password = *f.AdminPassword
	}
	if f.CorpID != nil && *f.CorpID != "" {
		cfg.WeCom.CorpID = *f.CorpID
	}
	if f.Secret != nil && *f.Secret != "" {
		cfg.WeCom.Secret = *f.Secret
	}
}

// validateEnums validates enum-like config fields and returns an error for invalid values.
func validateEnums(cfg *Config) error {
	// mode is already validated by ParseMode before we get here

	// tls.mode
	switch cfg.TLS.Mode {
	case "off", "static", "selfsigned", "acme":
		// valid
	default:
		return fmt.Errorf("invalid tls.mode %q: must be one of off, static, selfsigned, acme", cfg.TLS.Mode)
	}

	// store.driver
	switch cfg.Store.Driver {
	case "", "json", "sqlite":
		// valid (empty defaults to json)
	default:
		return fmt.Errorf("invalid store.driver %q: must be one of json, sqlite", cfg.Store.Driver)
	}

	// logging.level
	switch cfg.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("invalid logging.level %q: must be one of trace, debug, info, warn, error", cfg.Logging.Level)
	}

	if cfg.Sync.PollIntervalSeconds < 0 {
		return fmt.Errorf("invalid sync.poll_interval_seconds %d: must be >= 0", cfg.Sync.PollIntervalSeconds)
	}
	if cfg.Sync.PageSize < 1 || cfg.Sync.PageSize > 1000 {
		return fmt.Errorf("invalid sync.page_size %d: must be between 1 and 1000", cfg.Sync.PageSize)
	}
	if cfg.Sync.DedupCapacity < 2 {
		return fmt.Errorf("invalid sync.dedup_capacity %d: must be at least 2", cfg.Sync.DedupCapacity)
	}

	return nil
}

// validateWeCom checks the credential material when set. Missing values are
// allowed at load time (the server refuses callback traffic without them);
// malformed values fail fast.
func validateWeCom(cfg *Config) error {
	if cfg.WeCom.EncodingAESKey != "" {
		if len(cfg.WeCom.EncodingAESKey) != 43 {
			return fmt.Errorf("invalid wecom.encoding_aes_key: must be 43 characters, got %d", len(cfg.WeCom.EncodingAESKey))
		}
		raw, err := base64.StdEncoding.DecodeString(cfg.WeCom.EncodingAESKey + "=")
		if err != nil {
			return fmt.Errorf("invalid wecom.encoding_aes_key: %w", err)
		}
		if len(raw) != 32 {
			return fmt.Errorf("invalid wecom.encoding_aes_key: decodes to %d bytes, want 32", len(raw))
		}
	}

	if cfg.WeCom.APIBase != "" {
		u, err := url.Parse(cfg.WeCom.APIBase)
		if err != nil {
			return fmt.Errorf("invalid wecom.api_base %q: %w", cfg.WeCom.APIBase, err)
		}
		if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("invalid wecom.api_base %q: must be an absolute http(s) URL", cfg.WeCom.APIBase)
		}
		if u.Host == "" {
			return fmt.Errorf("invalid wecom.api_base %q: must include a host", cfg.WeCom.APIBase)
		}
	}

	return nil
}
