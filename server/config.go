package server

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Hardcoded token lifetime defaults.
const (
	DefaultAccessExpireMinutes   = 5
	DefaultRefreshExpireDays     = 30
	DefaultRotationThresholdDays = 3
)

// Config captures the full application configuration loaded from YAML and
// environment variables.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	JWT      JWTConfig      `yaml:"jwt"`
	Denylist DenylistConfig `yaml:"denylist"`
	Database DatabaseConfig `yaml:"database"`
	OAuth2   OAuth2Config   `yaml:"oauth2"`
}

// ServerConfig controls listener and HTTP concerns.
type ServerConfig struct {
	PublicURL    string `yaml:"public_url"`
	ListenAddr   string `yaml:"listen_addr"`
	CookieDomain string `yaml:"cookie_domain"`
	DevMode      bool   `yaml:"dev_mode"`
}

// JWTConfig holds signing key material and token lifetimes. Keys are ordered:
// the kid of private_keys[i] is "auth-key-<i>" and old entries stay in the
// list for verification after the active index moves.
type JWTConfig struct {
	Issuer    string `yaml:"issuer"`
	Algorithm string `yaml:"algorithm"`

	SigningKid  int      `yaml:"signing_kid"`
	PrivateKeys []string `yaml:"private_keys"`
	PublicKeys  []string `yaml:"public_keys"`

	AccessExpireMinutes   int `yaml:"access_expire_minutes"`
	RefreshExpireDays     int `yaml:"refresh_expire_days"`
	RotationThresholdDays int `yaml:"rotation_threshold_days"`
}

// AccessTTL returns the access token lifetime.
func (c JWTConfig) AccessTTL() time.Duration {
	return time.Duration(c.AccessExpireMinutes) * time.Minute
}

// RefreshTTL returns the refresh token lifetime.
func (c JWTConfig) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshExpireDays) * 24 * time.Hour
}

// RotationThreshold returns the remaining-life bound under which a redeemed
// refresh token is rotated instead of reused.
func (c JWTConfig) RotationThreshold() time.Duration {
	return time.Duration(c.RotationThresholdDays) * 24 * time.Hour
}

// DenylistConfig wires the revocation store.
type DenylistConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Prefix        string `yaml:"prefix"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// DatabaseConfig locates the account store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// OAuth2Config lists upstream provider clients.
type OAuth2Config struct {
	Clients []ProviderClientConfig `yaml:"clients"`
}

// ProviderClientConfig describes one registered (provider, platform) client.
// Either issuer_url (OIDC discovery) or the explicit endpoint URLs must be
// set.
type ProviderClientConfig struct {
	Provider     string   `yaml:"provider"`
	Platform     string   `yaml:"platform"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	IssuerURL    string   `yaml:"issuer_url"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	UserInfoURL  string   `yaml:"userinfo_url"`
	RedirectURI  string   `yaml:"redirect_uri"`
	Scopes       []string `yaml:"scopes"`
}

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}

		decoder := yaml.NewDecoder(bytes.NewReader(b))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:  "http://127.0.0.1:8000",
			ListenAddr: ":8000",
			DevMode:    true,
		},
		JWT: JWTConfig{
			Issuer:                "http://127.0.0.1:8000",
			Algorithm:             "RS256",
			AccessExpireMinutes:   DefaultAccessExpireMinutes,
			RefreshExpireDays:     DefaultRefreshExpireDays,
			RotationThresholdDays: DefaultRotationThresholdDays,
		},
		Denylist: DenylistConfig{
			Enabled: true,
			Prefix:  "jwt-denylist",
		},
		Database: DatabaseConfig{
			Path: "authd.db",
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"AUTHD_SERVER_PUBLIC_URL":    func(v string) { cfg.Server.PublicURL = v },
		"AUTHD_SERVER_LISTEN_ADDR":   func(v string) { cfg.Server.ListenAddr = v },
		"AUTHD_SERVER_COOKIE_DOMAIN": func(v string) { cfg.Server.CookieDomain = v },
		"AUTHD_SERVER_DEV_MODE":      func(v string) { cfg.Server.DevMode = parseBool(v, cfg.Server.DevMode) },
		"AUTHD_JWT_ISSUER":           func(v string) { cfg.JWT.Issuer = v },
		"AUTHD_JWT_SIGNING_KID":      func(v string) { cfg.JWT.SigningKid = parseInt(v, cfg.JWT.SigningKid) },
		"AUTHD_DENYLIST_ENABLED":     func(v string) { cfg.Denylist.Enabled = parseBool(v, cfg.Denylist.Enabled) },
		"AUTHD_DENYLIST_PREFIX":      func(v string) { cfg.Denylist.Prefix = v },
		"AUTHD_REDIS_ADDR":           func(v string) { cfg.Denylist.RedisAddr = v },
		"AUTHD_REDIS_PASSWORD":       func(v string) { cfg.Denylist.RedisPassword = v },
		"AUTHD_DATABASE_PATH":        func(v string) { cfg.Database.Path = v },
	}

	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}

	applyEnvKeyMaterial(cfg)
}

// applyEnvKeyMaterial reads AUTHD_JWT_PRIVATE_KEY_<n> / AUTHD_JWT_PUBLIC_KEY_<n>
// pairs, lowest index first. Key material delivered through the environment
// commonly has literal "\n" sequences in place of newlines, so those are
// unescaped.
func applyEnvKeyMaterial(cfg *Config) {
	var private, public []string
	for i := 0; ; i++ {
		priv, okPriv := os.LookupEnv(fmt.Sprintf("AUTHD_JWT_PRIVATE_KEY_%d", i))
		pub, okPub := os.LookupEnv(fmt.Sprintf("AUTHD_JWT_PUBLIC_KEY_%d", i))
		if !okPriv && !okPub {
			break
		}
		private = append(private, unescapePEM(priv))
		public = append(public, unescapePEM(pub))
	}
	if len(private) > 0 {
		cfg.JWT.PrivateKeys = private
		cfg.JWT.PublicKeys = public
	}
}

func unescapePEM(v string) string {
	return strings.ReplaceAll(v, `\n`, "\n")
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(val string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return fallback
	}
	return n
}

// Validate performs minimal sanity checks on the config.
func (c Config) Validate() error {
	if c.Server.PublicURL == "" {
		return errors.New("server.public_url is required")
	}
	if !strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://") {
		return fmt.Errorf("server.public_url must start with http:// or https://, got: %s", c.Server.PublicURL)
	}

	if c.JWT.Issuer == "" {
		return errors.New("jwt.issuer is required")
	}
	if c.JWT.Algorithm != "RS256" {
		return fmt.Errorf("jwt.algorithm must be RS256, got: %s", c.JWT.Algorithm)
	}
	if len(c.JWT.PrivateKeys) == 0 {
		return errors.New("jwt.private_keys must contain at least one key")
	}
	if len(c.JWT.PublicKeys) != len(c.JWT.PrivateKeys) {
		return fmt.Errorf("jwt.public_keys length %d does not match jwt.private_keys length %d",
			len(c.JWT.PublicKeys), len(c.JWT.PrivateKeys))
	}
	if c.JWT.AccessExpireMinutes <= 0 {
		return errors.New("jwt.access_expire_minutes must be positive")
	}
	if c.JWT.RefreshExpireDays <= 0 {
		return errors.New("jwt.refresh_expire_days must be positive")
	}

	if c.Denylist.Enabled && c.Denylist.Prefix == "" {
		return errors.New("denylist.prefix is required when the denylist is enabled")
	}

	for i, client := range c.OAuth2.Clients {
		if !validProvider(Provider(client.Provider)) {
			return fmt.Errorf("oauth2.clients[%d]: unknown provider %q", i, client.Provider)
		}
		if !validPlatform(Platform(client.Platform)) {
			return fmt.Errorf("oauth2.clients[%d]: unknown platform %q", i, client.Platform)
		}
		if client.ClientID == "" {
			return fmt.Errorf("oauth2.clients[%d] (%s/%s): client_id is required", i, client.Provider, client.Platform)
		}
		if client.IssuerURL == "" && (client.AuthURL == "" || client.TokenURL == "") {
			return fmt.Errorf("oauth2.clients[%d] (%s/%s): either issuer_url or auth_url+token_url is required",
				i, client.Provider, client.Platform)
		}
	}

	return nil
}

func validProvider(p Provider) bool {
	switch p {
	case ProviderGoogle, ProviderFacebook, ProviderApple:
		return true
	}
	return false
}

func validPlatform(p Platform) bool {
	switch p {
	case PlatformWeb, PlatformAndroid, PlatformIOS:
		return true
	}
	return false
}
