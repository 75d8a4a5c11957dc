package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"strings"
	"time"

	"github.com/brizzai/token-relay/internal/auth/constants"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

// Version information - set by GoReleaser during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// GetVersionInfo returns a formatted version string
func GetVersionInfo() string {
	return fmt.Sprintf("token-relay version %s, commit %s, built at %s", version, commit, date)
}

const redacted = "********"

type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	OAuth     OAuthConfig     `mapstructure:"oauth" yaml:"oauth"`
	Session   SessionConfig   `mapstructure:"session" yaml:"session"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" yaml:"port"`
	Host            string        `mapstructure:"host" yaml:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// TrustedProxies lists the addresses or CIDRs allowed to set X-Forwarded-For / X-Real-IP.
	// Empty means forwarding headers are ignored and the connection's peer address is the client.
	TrustedProxies []string `mapstructure:"trusted_proxies" yaml:"trusted_proxies"`
}

// TrustedProxyPrefixes parses TrustedProxies; a bare address is taken as a single-host prefix
func (c *ServerConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, entry := range c.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

type LoggingConfig struct {
	Level             string `mapstructure:"level" yaml:"level"`
	Format            string `mapstructure:"format" yaml:"format"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace" yaml:"disable_stacktrace"`
	OutputPath        string `mapstructure:"output_path" yaml:"output_path"`
	AppendToFile      bool   `mapstructure:"append_to_file" yaml:"append_to_file"`
	DisableConsole    bool   `mapstructure:"disable_console" yaml:"disable_console"`
}

// OAuthConfig describes the Google OAuth client the relay acts as.
type OAuthConfig struct {
	ClientID     string        `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string        `mapstructure:"client_secret" yaml:"client_secret"`
	RedirectURL  string        `mapstructure:"redirect_url" yaml:"redirect_url"`
	Scope        string        `mapstructure:"scope" yaml:"scope"`
	AuthURL      string        `mapstructure:"auth_url" yaml:"auth_url"`
	TokenURL     string        `mapstructure:"token_url" yaml:"token_url"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SessionBackend selects where authorization sessions live between /authorize and the callback.
type SessionBackend string

const (
	SessionBackendMemory SessionBackend = "memory"
	SessionBackendRedis  SessionBackend = "redis"
)

type SessionConfig struct {
	Secret     string         `mapstructure:"secret" yaml:"secret"`
	TTL        time.Duration  `mapstructure:"ttl" yaml:"ttl"`
	CookieName string         `mapstructure:"cookie_name" yaml:"cookie_name"`
	Secure     bool           `mapstructure:"secure" yaml:"secure"`
	Backend    SessionBackend `mapstructure:"backend" yaml:"backend"`
	Redis      RedisConfig    `mapstructure:"redis" yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	TLS      bool   `mapstructure:"tls" yaml:"tls"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
}

// StoreBackend selects the token persistence implementation.
type StoreBackend string

const (
	StoreBackendSupabase StoreBackend = "supabase"
	StoreBackendPostgres StoreBackend = "postgres"
	StoreBackendSQLite   StoreBackend = "sqlite"
)

type StoreConfig struct {
	Backend StoreBackend  `mapstructure:"backend" yaml:"backend"`
	URL     string        `mapstructure:"url" yaml:"url"`
	Key     string        `mapstructure:"key" yaml:"key"`
	Table   string        `mapstructure:"table" yaml:"table"`
	DSN     string        `mapstructure:"dsn" yaml:"dsn"`
	Path    string        `mapstructure:"path" yaml:"path"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int  `mapstructure:"burst" yaml:"burst"`
}

// legacyEnv maps config keys to the bare variable names the relay has always been deployed with.
var legacyEnv = map[string][]string{
	"session.secret":      {"FLASK_SECRET_KEY", "SESSION_SECRET"},
	"oauth.client_id":     {"GOOGLE_CLIENT_ID"},
	"oauth.client_secret": {"GOOGLE_CLIENT_SECRET"},
	"oauth.redirect_url":  {"REDIRECT_URI"},
	"store.url":           {"SUPABASE_URL"},
	"store.key":           {"SUPABASE_KEY"},
}

// InitFlags registers command line flags on fs (without parsing)
func InitFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to a config file (default ./config.yaml or /etc/token-relay/config.yaml)")
	fs.String("env-file", ".env", "Path to a dotenv file loaded before reading the environment")
	fs.Int("port", 0, "HTTP listen port")
	fs.String("log-level", "", "Log level (debug|info|warn|error)")
	fs.String("store", "", "Token store backend (supabase|postgres|sqlite)")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.disable_stacktrace", false)
	v.SetDefault("logging.output_path", "")
	v.SetDefault("logging.append_to_file", true)
	v.SetDefault("logging.disable_console", false)

	v.SetDefault("oauth.client_id", "")
	v.SetDefault("oauth.client_secret", "")
	v.SetDefault("oauth.redirect_url", "")
	v.SetDefault("oauth.scope", constants.DriveFileScope)
	v.SetDefault("oauth.auth_url", constants.GoogleAuthURL)
	v.SetDefault("oauth.token_url", constants.GoogleTokenURL)
	v.SetDefault("oauth.timeout", 15*time.Second)

	v.SetDefault("session.secret", "")
	v.SetDefault("session.ttl", 10*time.Minute)
	v.SetDefault("session.cookie_name", "token_relay_session")
	v.SetDefault("session.secure", false)
	v.SetDefault("session.backend", string(SessionBackendMemory))
	v.SetDefault("session.redis.addr", "localhost:6379")
	v.SetDefault("session.redis.username", "")
	v.SetDefault("session.redis.password", "")
	v.SetDefault("session.redis.db", 0)
	v.SetDefault("session.redis.tls", false)
	v.SetDefault("session.redis.prefix", "token-relay:session")

	v.SetDefault("store.backend", string(StoreBackendSupabase))
	v.SetDefault("store.url", "")
	v.SetDefault("store.key", "")
	v.SetDefault("store.table", "google_tokens")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.path", "token-relay.db")
	v.SetDefault("store.timeout", 10*time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_minute", 30)
	v.SetDefault("rate_limit.burst", 10)
}

// Load reads configuration from defaults, an optional config file, the dotenv file,
// the environment and the given flags, in increasing order of precedence.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	envFile := ".env"
	if flags != nil {
		if f := flags.Lookup("env-file"); f != nil {
			envFile = f.Value.String()
		}
	}
	if envFile != "" {
		// godotenv never overrides variables that are already set
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	v.SetEnvPrefix("TOKEN_RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		envPrefixed := "TOKEN_RELAY_" + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))
		if err := v.BindEnv(append([]string{key, envPrefixed}, names...)...); err != nil {
			return nil, err
		}
	}

	if flags != nil {
		for key, flag := range map[string]string{
			"server.port":   "port",
			"logging.level": "log-level",
			"store.backend": "store",
		} {
			if f := flags.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	configFile := ""
	if flags != nil {
		if f := flags.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/token-relay")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	required := func(value, key, env string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%s is required, please adjust the config or set %s", key, env))
		}
	}

	required(c.Session.Secret, "session.secret", "FLASK_SECRET_KEY")
	required(c.OAuth.ClientID, "oauth.client_id", "GOOGLE_CLIENT_ID")
	required(c.OAuth.ClientSecret, "oauth.client_secret", "GOOGLE_CLIENT_SECRET")
	required(c.OAuth.RedirectURL, "oauth.redirect_url", "REDIRECT_URI")

	switch c.Session.Backend {
	case SessionBackendMemory:
	case SessionBackendRedis:
		required(c.Session.Redis.Addr, "session.redis.addr", "TOKEN_RELAY_SESSION_REDIS_ADDR")
	default:
		errs = append(errs, fmt.Errorf("unsupported session backend: %q", c.Session.Backend))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, fmt.Errorf("session.ttl must be positive, got %s", c.Session.TTL))
	}

	switch c.Store.Backend {
	case StoreBackendSupabase:
		required(c.Store.URL, "store.url", "SUPABASE_URL")
		required(c.Store.Key, "store.key", "SUPABASE_KEY")
	case StoreBackendPostgres:
		required(c.Store.DSN, "store.dsn", "TOKEN_RELAY_STORE_DSN")
	case StoreBackendSQLite:
		required(c.Store.Path, "store.path", "TOKEN_RELAY_STORE_PATH")
	default:
		errs = append(errs, fmt.Errorf("unsupported store backend: %q", c.Store.Backend))
	}
	required(c.Store.Table, "store.table", "TOKEN_RELAY_STORE_TABLE")

	if _, err := c.Server.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, fmt.Errorf("server.trusted_proxies: %w", err))
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit.requests_per_minute must be positive when rate limiting is enabled"))
	}

	return errors.Join(errs...)
}

// Redacted returns a copy with every credential masked, safe for printing.
func (c *Config) Redacted() Config {
	out := *c
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&out.OAuth.ClientSecret)
	mask(&out.Session.Secret)
	mask(&out.Session.Redis.Password)
	mask(&out.Store.Key)
	mask(&out.Store.DSN)
	return out
}

// Module exposes the config sections to the rest of the application
var Module = fx.Module("config",
	fx.Provide(
		func(c *Config) *ServerConfig { return &c.Server },
		func(c *Config) *OAuthConfig { return &c.OAuth },
		func(c *Config) *SessionConfig { return &c.Session },
		func(c *Config) *StoreConfig { return &c.Store },
		func(c *Config) *MetricsConfig { return &c.Metrics },
		func(c *Config) *RateLimitConfig { return &c.RateLimit },
	),
)
