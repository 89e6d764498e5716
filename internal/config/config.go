package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// PhoneSourceType selects where the phone inventory comes from.
type PhoneSourceType string

const (
	PhoneSourceRemote PhoneSourceType = "remote"
	PhoneSourceLocal  PhoneSourceType = "local"
)

// MergePolicy decides how the durable phone cache combines with a fresh fetch.
type MergePolicy string

const (
	// MergePolicyUnion adds every cached number to the pool after the fetch.
	MergePolicyUnion MergePolicy = "union"

	// MergePolicyFallback consults the cache only when the fetch produced nothing.
	MergePolicyFallback MergePolicy = "fallback"
)

// Config represents the top-level configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Captcha      CaptchaConfig      `yaml:"captcha" mapstructure:"captcha"`
	Registration RegistrationConfig `yaml:"registration" mapstructure:"registration"`
	Inventory    InventoryConfig    `yaml:"inventory" mapstructure:"inventory"`
	Worker       WorkerConfig       `yaml:"worker" mapstructure:"worker"`
	Reporter     ReporterConfig     `yaml:"reporter" mapstructure:"reporter"`
	SMS          SMSConfig          `yaml:"sms" mapstructure:"sms"`
	Telemetry    TelemetryConfig    `yaml:"telemetry" mapstructure:"telemetry"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// ServerConfig locates the coordination server and names this client.
type ServerConfig struct {
	Scheme string `yaml:"scheme,omitempty" env:"REG_SERVER_SCHEME" validate:"oneof=http https"`
	Host   string `yaml:"host" env:"REG_SERVER_HOST" validate:"required"`
	Port   int    `yaml:"port,omitempty" env:"REG_SERVER_PORT" validate:"gte=0,lte=65535"`

	// Client is the client name used in every request path.
	Client   string `yaml:"client" env:"REG_CLIENT_NAME" validate:"required"`
	Password string `yaml:"password" env:"REG_CLIENT_PASSWORD" validate:"required"`

	// RequestsPerSecond caps the request rate against the server. Zero means no limit.
	RequestsPerSecond float64       `yaml:"requests_per_second,omitempty" env:"REG_SERVER_RPS" validate:"gte=0"`
	Timeout           time.Duration `yaml:"timeout,omitempty" env:"REG_SERVER_TIMEOUT"`
}

// Address returns host[:port].
func (s ServerConfig) Address() string {
	if s.Port == 0 {
		return s.Host
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// BaseURL returns the scheme-qualified server address. A host that already
// carries a scheme is returned as is.
func (s ServerConfig) BaseURL() string {
	if strings.Contains(s.Host, "://") {
		return strings.TrimRight(s.Host, "/")
	}
	scheme := s.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s", scheme, s.Address())
}

// CaptchaConfig selects the external captcha solver by name.
type CaptchaConfig struct {
	Backend  string                 `yaml:"backend" env:"REG_CAPTCHA_BACKEND" validate:"required"`
	Backends map[string]CaptchaAuth `yaml:"backends,omitempty"`
}

// CaptchaAuth holds the credentials for one captcha backend.
type CaptchaAuth struct {
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
}

// RegistrationConfig holds parameters forwarded to every worker.
type RegistrationConfig struct {
	Region string `yaml:"region,omitempty" env:"REG_REGION"`

	// Random is passed to workers as the -r flag; non-zero asks them to
	// randomize nicknames, passwords, birthdays and areas.
	Random int `yaml:"random,omitempty" env:"REG_RANDOM"`

	Phone     PhoneSourceType `yaml:"phone,omitempty" env:"REG_PHONE_SOURCE" validate:"oneof=remote local"`
	PhoneList []string        `yaml:"phone_list,omitempty" env:"REG_PHONE_LIST" envSeparator:","`
}

// InventoryConfig controls the phone cache and dispatch ledger.
type InventoryConfig struct {
	CacheFile   string      `yaml:"cache_file,omitempty" env:"REG_CACHE_FILE" validate:"required"`
	LedgerFile  string      `yaml:"ledger_file,omitempty" env:"REG_LEDGER_FILE"`
	MergePolicy MergePolicy `yaml:"merge_policy,omitempty" env:"REG_MERGE_POLICY" validate:"oneof=union fallback"`

	// RedispatchConsumed allows numbers dispatched in earlier runs to be handed
	// out again.
	RedispatchConsumed bool `yaml:"redispatch_consumed,omitempty" env:"REG_REDISPATCH_CONSUMED"`

	// SkipFetch starts from the cache without asking the server for numbers.
	SkipFetch bool `yaml:"skip_fetch,omitempty" env:"REG_SKIP_FETCH"`
}

// WorkerConfig describes how worker processes are launched.
type WorkerConfig struct {
	Command string   `yaml:"command" env:"REG_WORKER_COMMAND" validate:"required"`
	Args    []string `yaml:"args,omitempty"`
	Dir     string   `yaml:"dir,omitempty" env:"REG_WORKER_DIR"`
	Env     []string `yaml:"env,omitempty"`

	// ResultDir receives one result file per worker.
	ResultDir string `yaml:"result_dir,omitempty" env:"REG_RESULT_DIR"`

	DispatchInterval time.Duration `yaml:"dispatch_interval,omitempty" env:"REG_DISPATCH_INTERVAL" validate:"gte=0"`

	// Timeout kills a worker that runs longer. Zero waits forever.
	Timeout time.Duration `yaml:"timeout,omitempty" env:"REG_WORKER_TIMEOUT" validate:"gte=0"`

	// MaxConcurrent bounds the number of live workers. Zero means unbounded.
	MaxConcurrent int `yaml:"max_concurrent,omitempty" env:"REG_MAX_CONCURRENT" validate:"gte=0"`

	// SkipOutcomeReports leaves outcome reporting entirely to the workers.
	SkipOutcomeReports bool `yaml:"skip_outcome_reports,omitempty" env:"REG_SKIP_OUTCOME_REPORTS"`
}

// ReporterConfig configures outcome reporting.
type ReporterConfig struct {
	PublicKeyFile string `yaml:"public_key_file,omitempty" env:"REG_PUBLIC_KEY_FILE"`
}

// SMSConfig bounds the SMS code polling loop.
type SMSConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval,omitempty" env:"REG_SMS_INITIAL_INTERVAL"`
	MaxInterval     time.Duration `yaml:"max_interval,omitempty" env:"REG_SMS_MAX_INTERVAL"`
	MaxWait         time.Duration `yaml:"max_wait,omitempty" env:"REG_SMS_MAX_WAIT"`
}

// TelemetryConfig configures the OTLP exporters. An empty endpoint disables export.
type TelemetryConfig struct {
	Endpoint      string  `yaml:"endpoint,omitempty" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure      bool    `yaml:"insecure,omitempty" env:"REG_OTEL_INSECURE"`
	SamplingRatio float64 `yaml:"sampling_ratio,omitempty" env:"OTEL_SAMPLING_RATIO" validate:"gte=0,lte=1"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level string `yaml:"level,omitempty" env:"REG_LOG_LEVEL"`
}

// Default values applied to unset fields.
const (
	DefaultScheme           = "http"
	DefaultCaptchaBackend   = "console"
	DefaultCacheFile        = "avaiphones.txt"
	DefaultLedgerFile       = "dispatch.db"
	DefaultServerTimeout    = 30 * time.Second
	DefaultSMSInitial       = time.Second
	DefaultSMSMaxInterval   = 10 * time.Second
	DefaultSMSMaxWait       = 5 * time.Minute
	DefaultLogLevel         = "info"
	DefaultDispatchInterval = 0
)

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	setString(&c.Server.Scheme, DefaultScheme)
	setDuration(&c.Server.Timeout, DefaultServerTimeout)
	setString(&c.Captcha.Backend, DefaultCaptchaBackend)
	if c.Registration.Phone == "" {
		c.Registration.Phone = PhoneSourceRemote
	}
	setString(&c.Inventory.CacheFile, DefaultCacheFile)
	setString(&c.Inventory.LedgerFile, DefaultLedgerFile)
	if c.Inventory.MergePolicy == "" {
		c.Inventory.MergePolicy = MergePolicyUnion
	}
	setDuration(&c.SMS.InitialInterval, DefaultSMSInitial)
	setDuration(&c.SMS.MaxInterval, DefaultSMSMaxInterval)
	setDuration(&c.SMS.MaxWait, DefaultSMSMaxWait)
	setString(&c.Log.Level, DefaultLogLevel)
}

// CaptchaCredentials returns the credentials of the selected backend, if any.
func (c *Config) CaptchaCredentials() (CaptchaAuth, bool) {
	auth, ok := c.Captcha.Backends[c.Captcha.Backend]
	return auth, ok
}

func setString(field *string, v string) {
	if *field == "" {
		*field = v
	}
}

func setDuration(field *time.Duration, v time.Duration) {
	if *field == 0 {
		*field = v
	}
}
