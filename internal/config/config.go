package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override, e.g.
// RESILIOCTL_CONSOLE_HOST.
const EnvPrefix = "RESILIOCTL"

// DefaultConfigName is looked up in the working directory and
// $HOME/.resilioctl when no --config flag is given.
const DefaultConfigName = "resilioctl"

// Config is the full runtime configuration of resilioctl.
type Config struct {
	Instance string        `mapstructure:"instance" yaml:"instance"`
	Console  ConsoleConfig `mapstructure:"console" yaml:"console"`
	Storage  StorageConfig `mapstructure:"storage" yaml:"storage"`
	Poll     PollConfig    `mapstructure:"poll" yaml:"poll"`
	Notify   NotifyConfig  `mapstructure:"notify" yaml:"notify"`
	Store    StoreConfig   `mapstructure:"store" yaml:"store"`
	Server   ServerConfig  `mapstructure:"server" yaml:"server"`
	Lock     LockConfig    `mapstructure:"lock" yaml:"lock"`
	Demo     DemoConfig    `mapstructure:"demo" yaml:"demo"`
}

// ConsoleConfig addresses the management console.
type ConsoleConfig struct {
	Host               string        `mapstructure:"host" yaml:"host"`
	Port               int           `mapstructure:"port" yaml:"port"`
	Token              string        `mapstructure:"token" yaml:"token"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// BaseURL returns the https base URL of the console.
func (c ConsoleConfig) BaseURL() string {
	return fmt.Sprintf("https://%s:%d", c.Host, c.Port)
}

// StorageConfig is the cloud storage provisioned before jobs run.
type StorageConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Kind        string `mapstructure:"kind" yaml:"kind"`
	Description string `mapstructure:"description" yaml:"description"`
	AccessKey   string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey   string `mapstructure:"secret_key" yaml:"secret_key"`
	Bucket      string `mapstructure:"bucket" yaml:"bucket"`
	Region      string `mapstructure:"region" yaml:"region"`
}

// PollConfig holds the fixed polling intervals. There is no poll timeout.
type PollConfig struct {
	RunInterval     time.Duration `mapstructure:"run_interval" yaml:"run_interval"`
	AgentInterval   time.Duration `mapstructure:"agent_interval" yaml:"agent_interval"`
	ResolveAttempts uint          `mapstructure:"resolve_attempts" yaml:"resolve_attempts"`
	ResolveDelay    time.Duration `mapstructure:"resolve_delay" yaml:"resolve_delay"`
}

// NotifyConfig configures the SMS notifier. Empty To disables it.
type NotifyConfig struct {
	From       string `mapstructure:"from" yaml:"from"`
	To         string `mapstructure:"to" yaml:"to"`
	AccountSID string `mapstructure:"account_sid" yaml:"account_sid"`
	AuthToken  string `mapstructure:"auth_token" yaml:"auth_token"`
	BaseURL    string `mapstructure:"base_url" yaml:"base_url"`
}

// Enabled reports whether notifications can be sent.
func (n NotifyConfig) Enabled() bool {
	return n.To != "" && n.From != "" && n.AccountSID != "" && n.AuthToken != ""
}

// StoreConfig selects the property store backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // duckdb | memory
	Path   string `mapstructure:"path" yaml:"path"`
}

// ServerConfig configures the read-only status API.
type ServerConfig struct {
	Address        string   `mapstructure:"address" yaml:"address"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// LockConfig places the single-instance lock file.
type LockConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// DemoConfig names the jobs of the end-to-end demo run.
type DemoConfig struct {
	Distribution DemoJob `mapstructure:"distribution" yaml:"distribution"`
	Sync         DemoJob `mapstructure:"sync" yaml:"sync"`
}

// DemoJob is one demo job: the source folder lives on the first agent
// (backed by the storage), the target folder on the second.
type DemoJob struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Description string `mapstructure:"description" yaml:"description"`
	Source      string `mapstructure:"source" yaml:"source"`
	Target      string `mapstructure:"target" yaml:"target"`
}

// SetDefaults registers defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("console.port", 8443)
	v.SetDefault("console.timeout", 30*time.Second)
	v.SetDefault("storage.kind", "s3")
	v.SetDefault("poll.run_interval", 5*time.Second)
	v.SetDefault("poll.agent_interval", 10*time.Second)
	v.SetDefault("poll.resolve_attempts", 5)
	v.SetDefault("poll.resolve_delay", 2*time.Second)
	v.SetDefault("notify.base_url", "https://api.twilio.com")
	v.SetDefault("store.driver", "duckdb")
	v.SetDefault("store.path", "resilioctl.duckdb")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("demo.distribution.name", "Test Distribution Job 1")
	v.SetDefault("demo.distribution.description", "A demo distribution job")
	v.SetDefault("demo.distribution.source", "Project Files")
	v.SetDefault("demo.distribution.target", "/tmp/Project Files")
	v.SetDefault("demo.sync.name", "Test Sync Job 1")
	v.SetDefault("demo.sync.description", "A demo sync job")
	v.SetDefault("demo.sync.source", "Watch Folder 1")
	v.SetDefault("demo.sync.target", "/tmp/Watch Folder 1")
}

// legacyEnv maps config keys to the environment variables the older scripts
// read, so existing shells keep working.
var legacyEnv = map[string]string{
	"console.token":      "RESILIO_AUTH_TOKEN",
	"storage.access_key": "RESILIO_TEST_S3_BUCKET_ACCESS_ID",
	"storage.secret_key": "RESILIO_TEST_S3_BUCKET_SECRET",
	"notify.account_sid": "TWILIOSID",
	"notify.auth_token":  "TWILIOTOKEN",
}

// NewViper returns a viper instance with defaults, env binding and, when
// path is non-empty, the given config file. Without a path the default
// config name is searched in "." and $HOME/.resilioctl.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.resilioctl")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Load decodes v into a Config, decrypting "enc:" secrets with key (which
// may be nil when no secret is encrypted).
func Load(v *viper.Viper, key *SecretKey) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	for _, secret := range []*string{&cfg.Console.Token, &cfg.Storage.SecretKey, &cfg.Notify.AuthToken} {
		if !IsEncrypted(*secret) {
			continue
		}
		if key == nil {
			return nil, errors.New("config holds encrypted secrets but no secret key is available")
		}
		plain, err := key.Decrypt(*secret)
		if err != nil {
			return nil, fmt.Errorf("decrypt secret: %w", err)
		}
		*secret = plain
	}
	return &cfg, nil
}

var secretKeys = []string{"console.token", "storage.secret_key", "notify.auth_token"}

// HasEncryptedSecrets reports whether any secret held by v is "enc:" encoded.
func HasEncryptedSecrets(v *viper.Viper) bool {
	for _, key := range secretKeys {
		if IsEncrypted(v.GetString(key)) {
			return true
		}
	}
	return false
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	var errs []error
	if c.Console.Host == "" {
		errs = append(errs, errors.New("console.host is required"))
	}
	if c.Console.Port <= 0 || c.Console.Port > 65535 {
		errs = append(errs, fmt.Errorf("console.port %d out of range", c.Console.Port))
	}
	if c.Console.Token == "" {
		errs = append(errs, errors.New("console.token is required"))
	}
	if c.Poll.RunInterval <= 0 {
		errs = append(errs, errors.New("poll.run_interval must be positive"))
	}
	if c.Poll.AgentInterval <= 0 {
		errs = append(errs, errors.New("poll.agent_interval must be positive"))
	}
	switch c.Store.Driver {
	case "duckdb", "memory":
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of duckdb, memory", c.Store.Driver))
	}
	return errors.Join(errs...)
}

// Masked returns a copy safe to log.
func (c *Config) Masked() Config {
	cp := *c
	cp.Console.Token = MaskSecret(c.Console.Token)
	cp.Storage.AccessKey = MaskSecret(c.Storage.AccessKey)
	cp.Storage.SecretKey = MaskSecret(c.Storage.SecretKey)
	cp.Notify.AuthToken = MaskSecret(c.Notify.AuthToken)
	return cp
}
