// Package config provides configuration loading and validation.
package config

// Config holds the gateway configuration.
type Config struct {
	// Mode is the operating mode: prod or dev.
	Mode string `toml:"mode"`

	// ListenAddr is the address the webhook/admin server listens on.
	// Example: ":9380"
	ListenAddr string `toml:"listen_addr"`

	// DataDir is the root directory for persisted state (cursors, account
	// registry, TLS material). Access tokens are never persisted.
	DataDir string `toml:"data_dir"`

	// WeCom holds the platform credential and callback settings.
	WeCom WeComConfig `toml:"wecom"`

	// Sync holds synchronization engine settings.
	Sync SyncConfig `toml:"sync"`

	// Store holds account-store driver settings.
	Store StoreConfig `toml:"store"`

	// TLS configuration for the public webhook endpoint.
	TLS TLSConfig `toml:"tls"`

	// OutboundHTTP configuration for platform API calls.
	OutboundHTTP OutboundHTTPConfig `toml:"outbound_http"`

	// Admin holds management API credentials.
	Admin AdminConfig `toml:"admin"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging"`
}

// WeComConfig holds the enterprise credential and callback secrets.
// All four values come from the WeCom admin console and are read-only here.
type WeComConfig struct {
	// CorpID is the enterprise id.
	CorpID string `toml:"corp_id"`

	// Secret is the customer-service app secret used to fetch access tokens.
	Secret string `toml:"secret"`

	// CallbackToken is the token used in callback signature computation.
	CallbackToken string `toml:"callback_token"`

	// EncodingAESKey is the 43-character base64 key material for callback
	// payload encryption. Must decode (with '=' padding) to exactly 32 bytes.
	EncodingAESKey string `toml:"encoding_aes_key"`

	// APIBase is the platform API origin.
	// Default: "https://qyapi.weixin.qq.com"
	APIBase string `toml:"api_base"`
}

// SyncConfig holds message synchronization settings.
type SyncConfig struct {
	// PollIntervalSeconds is the cadence of the periodic pull trigger.
	// 0 disables the poller (webhook-only operation).
	PollIntervalSeconds int `toml:"poll_interval_seconds"`

	// PageSize is the per-request message limit (platform max 1000).
	PageSize int `toml:"page_size"`

	// MaxMessageAgeSeconds drops messages older than this before dispatch,
	// guarding against a stale cursor replaying ancient history.
	MaxMessageAgeSeconds int `toml:"max_message_age_seconds"`

	// MaxDrainPages bounds the number of pages a single cold-start drain may
	// fetch before releasing the account lock. 0 means the built-in default.
	MaxDrainPages int `toml:"max_drain_pages"`

	// DedupCapacity is the size of the process-wide recent-message-id window.
	DedupCapacity int `toml:"dedup_capacity"`
}

// StoreConfig holds account-store driver settings.
type StoreConfig struct {
	// Driver is the store driver name: "json" (default) or "sqlite".
	Driver string `toml:"driver"`

	// Drivers holds per-driver configuration maps, decoded by each driver.
	// Example: [store.drivers.sqlite] ...
	Drivers map[string]map[string]any `toml:"drivers"`
}

// TLSConfig holds TLS settings for the listener.
type TLSConfig struct {
	// Mode is one of: off, static, selfsigned, acme.
	Mode string `toml:"mode"`

	// CertFile and KeyFile are used in static mode.
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`

	// SelfSignedDir is where generated development certs are stored.
	SelfSignedDir string `toml:"selfsigned_dir"`

	// HTTPAddr is the plain-HTTP listener used for ACME HTTP-01 challenges.
	HTTPAddr string `toml:"http_addr"`

	// ACME settings (acme mode only).
	ACME ACMEConfig `toml:"acme"`
}

// ACMEConfig holds ACME account and storage settings.
type ACMEConfig struct {
	Email      string `toml:"email"`
	Domain     string `toml:"domain"`
	Directory  string `toml:"directory"`
	StorageDir string `toml:"storage_dir"`
	UseStaging bool   `toml:"use_staging"`
}

// OutboundHTTPConfig bounds outbound platform API calls.
type OutboundHTTPConfig struct {
	TimeoutMS        int   `toml:"timeout_ms"`
	ConnectTimeoutMS int   `toml:"connect_timeout_ms"`
	MaxResponseBytes int64 `toml:"max_response_bytes"`
}

// AdminConfig holds management API credentials.
type AdminConfig struct {
	// Username for basic auth on /api/* endpoints. Default: "admin".
	Username string `toml:"username"`

	// Password in plain text; hashed with bcrypt at startup and never logged.
	// Empty disables the management API.
	Password string `toml:"password"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	// Default: info in prod mode, debug in dev mode.
	Level string `toml:"level"`
}

// Redacted returns a copy of the config safe for logging: credential and
// key material is replaced with a marker, presence is still visible.
func (c *Config) Redacted() Config {
	out := *c
	if out.WeCom.Secret != "" {
		out.WeCom.Secret = "[redacted]"
	}
	if out.WeCom.CallbackToken != "" {
		out.WeCom.CallbackToken = "[redacted]"
	}
	if out.WeCom.EncodingAESKey != "" {
		out.WeCom.EncodingAESKey = "[redacted]"
	}
	if out.Admin.Password != "" {
		out.Admin.Password = "[redacted]"
	}
	return out
}
