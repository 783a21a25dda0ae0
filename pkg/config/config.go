// pkg/config/config.go
//
// Layered configuration for horae: defaults < horae.yaml < .env < HORAE_*
// environment < command-line flags.

package config

import (
	"errors"
	"io/fs"
	"sort"
	"time"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/cli"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/horae_err"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/registry"
	cerr "github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvPrefix       = "HORAE"
	ConfigName      = "horae"
	SystemConfigDir = "/etc/horae"
	DotEnvFile      = ".env"
)

type Config struct {
	Environment   string              `mapstructure:"environment" validate:"required"`
	Services      []string            `mapstructure:"services" validate:"dive,required"`
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Docker        DockerConfig        `mapstructure:"docker"`
	Orchestration OrchestrationConfig `mapstructure:"orchestration"`
	Retry         RetryConfig         `mapstructure:"retry"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Log           LogConfig           `mapstructure:"log"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url" validate:"omitempty,url"`
	Password string `mapstructure:"password"`
}

type DockerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Project string `mapstructure:"project" validate:"required_if=Enabled true"`
	// Containers maps a service identifier to its compose service name.
	Containers map[string]string `mapstructure:"containers"`
}

type OrchestrationConfig struct {
	// Zero means the environment default.
	Timeout  time.Duration `mapstructure:"timeout" validate:"gte=0"`
	FailFast bool          `mapstructure:"fail_fast"`
}

type RetryConfig struct {
	// Zero disables the shared retry budget.
	BudgetPerSecond float64 `mapstructure:"budget_per_second" validate:"gte=0"`
	BudgetBurst     int     `mapstructure:"budget_burst" validate:"gte=0"`
}

type HTTPConfig struct {
	Listen string `mapstructure:"listen" validate:"required,hostname_port"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error fatal trace"`
}

type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// SetDefaults registers every key so AutomaticEnv can see it during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("environment", string(registry.EnvironmentDevelopment))
	v.SetDefault("services", []string{})
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("docker.enabled", false)
	v.SetDefault("docker.project", "")
	v.SetDefault("docker.containers", map[string]string{})
	v.SetDefault("orchestration.timeout", time.Duration(0))
	v.SetDefault("orchestration.fail_fast", false)
	v.SetDefault("retry.budget_per_second", 0.0)
	v.SetDefault("retry.budget_burst", 0)
	v.SetDefault("http.listen", "127.0.0.1:8089")
	v.SetDefault("log.level", "info")
	v.SetDefault("telemetry.enabled", false)
}

// Load reads configuration into a validated Config. When file is empty the
// search path is the working directory and then /etc/horae; a missing file is
// not an error unless it was named explicitly.
func Load(v *viper.Viper, file string) (*Config, error) {
	if err := loadDotEnv(DotEnvFile); err != nil {
		return nil, err
	}

	SetDefaults(v)
	cli.SetViperEnvPrefix(v, EnvPrefix)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(SystemConfigDir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, horae_err.NewStructuralError("failed to read configuration", err,
				"Check that the file exists and is valid YAML")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, horae_err.NewStructuralError("failed to decode configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs struct tag validation and then checks every identifier
// against the registry.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return horae_err.NewStructuralError("invalid configuration", horae_err.WrapValidationError(err),
			"Check horae.yaml and HORAE_* environment variables")
	}
	if _, err := c.EnvironmentType(); err != nil {
		return horae_err.NewStructuralError("invalid configuration", err)
	}
	if _, err := c.ServiceTypes(); err != nil {
		return horae_err.NewStructuralError("invalid configuration", err)
	}
	if _, err := c.ContainerNames(); err != nil {
		return horae_err.NewStructuralError("invalid configuration", err)
	}
	return nil
}

func (c *Config) EnvironmentType() (registry.EnvironmentType, error) {
	return registry.ParseEnvironment(c.Environment)
}

// ServiceTypes returns the configured target services. Empty means every
// declared service.
func (c *Config) ServiceTypes() ([]registry.ServiceType, error) {
	return registry.ParseServiceTypes(c.Services)
}

// ContainerNames returns the configured compose service overrides.
func (c *Config) ContainerNames() (map[registry.ServiceType]string, error) {
	out := make(map[registry.ServiceType]string, len(c.Docker.Containers))
	keys := make([]string, 0, len(c.Docker.Containers))
	for k := range c.Docker.Containers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s, err := registry.ParseServiceType(k)
		if err != nil {
			return nil, cerr.Wrapf(err, "docker.containers[%s]", k)
		}
		out[s] = c.Docker.Containers[k]
	}
	return out, nil
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return horae_err.NewStructuralError("failed to load "+path, err)
}
