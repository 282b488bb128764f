package config

import (
	"context"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	_ "github.com/spf13/viper/remote"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	config       = viper.New()
	configHolder atomic.Value
	backend      = "consul"
	backendAddr  = "127.0.0.1:8500"
	backendPath  = "development" // e.g., app/<env>/<service_name>
	configType   = "yaml"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Minio struct {
		Endpoint   string `mapstructure:"ENDPOINT"`
		AccessKey  string `mapstructure:"ACCESS_KEY"`
		SecretKey  string `mapstructure:"SECRET_KEY"`
		Secure     bool   `mapstructure:"SECURE"`
		BucketName string `mapstructure:"BUCKET_NAME"`
	} `mapstructure:"MINIO"`
	Game struct {
		BaseURL       string        `mapstructure:"BASE_URL"`
		SignSecret    string        `mapstructure:"SIGN_SECRET"`
		Timeout       time.Duration `mapstructure:"TIMEOUT"`
		RetryMax      int           `mapstructure:"RETRY_MAX"`
		SolverURL     string        `mapstructure:"SOLVER_URL"`
		SolverTimeout time.Duration `mapstructure:"SOLVER_TIMEOUT"`
	} `mapstructure:"GAME_API"`
	Engine struct {
		TestFID            string        `mapstructure:"TEST_FID"`
		FallbackFID        string        `mapstructure:"FALLBACK_FID"`
		MaxOCRAttempts     int           `mapstructure:"MAX_OCR_ATTEMPTS"`
		MaxRetryCycles     int           `mapstructure:"MAX_RETRY_CYCLES"`
		SolveRetryDelay    time.Duration `mapstructure:"SOLVE_RETRY_DELAY"`
		RateLimitDelay     time.Duration `mapstructure:"RATE_LIMIT_DELAY"`
		TimeoutRetryDelay  time.Duration `mapstructure:"TIMEOUT_RETRY_DELAY"`
		SweepInterval      time.Duration `mapstructure:"SWEEP_INTERVAL"`
		RevalidateCap      int           `mapstructure:"REVALIDATE_CAP"`
		InvalidRetention   time.Duration `mapstructure:"INVALID_RETENTION"`
		CleanupHour        int           `mapstructure:"CLEANUP_HOUR"`
		ArchiveFailedSolve bool          `mapstructure:"ARCHIVE_FAILED_SOLVE"`
	} `mapstructure:"ENGINE"`
}

// applyEngineDefaults fills engine tuning the config file leaves unset.
func (c *Config) applyEngineDefaults() {
	e := &c.Engine
	if e.FallbackFID == "" {
		e.FallbackFID = "244886619"
	}
	if e.MaxOCRAttempts <= 0 {
		e.MaxOCRAttempts = 4
	}
	if e.MaxRetryCycles <= 0 {
		e.MaxRetryCycles = 10
	}
	if e.SolveRetryDelay <= 0 {
		e.SolveRetryDelay = 60 * time.Second
	}
	if e.RateLimitDelay <= 0 {
		e.RateLimitDelay = 5 * time.Minute
	}
	if e.TimeoutRetryDelay <= 0 {
		e.TimeoutRetryDelay = 15 * time.Second
	}
	if e.SweepInterval <= 0 {
		e.SweepInterval = 2 * time.Hour
	}
	if e.RevalidateCap <= 0 {
		e.RevalidateCap = 15
	}
	if e.InvalidRetention <= 0 {
		e.InvalidRetention = 7 * 24 * time.Hour
	}
	if e.CleanupHour <= 0 {
		e.CleanupHour = 1
	}
	if c.Game.RetryMax <= 0 {
		c.Game.RetryMax = 4
	}
	if c.Game.Timeout <= 0 {
		c.Game.Timeout = 30 * time.Second
	}
}

var Module = fx.Module("config", fx.Provide(LoadConfig))
var RemoteModule = fx.Module("remote.config", fx.Provide(LoadRemote))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func LoadConfig(p Params) *Config {

	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	if err := config.ReadInConfig(); err != nil {
		os.Exit(1)
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		os.Exit(1)
	}
	cfg.applyEngineDefaults()
	configHolder.Store(&cfg)

	config.OnConfigChange(func(e fsnotify.Event) {
		var newcfg Config
		if err := config.Unmarshal(&newcfg); err != nil {
			zap.L().Error("failed to reload config", zap.Error(err))
			return
		}
		newcfg.applyEngineDefaults()
		configHolder.Store(&newcfg)
		zap.L().Info("config reloaded", zap.String("file", e.Name))
	})
	config.WatchConfig()

	if p.Vault != nil {
		applyVaultSecrets(p.Vault, &cfg)
	}

	return &cfg
}

// Current returns the most recently loaded config snapshot. Hot-reloaded
// engine tuning should be read through here rather than holding the
// boot-time pointer.
func Current() *Config {
	if v, ok := configHolder.Load().(*Config); ok {
		return v
	}
	return nil
}

func LoadRemote(p Params) *Config {
	if v, ok := os.LookupEnv("REMOTE_CONFIG_PROVIDER"); ok {
		backend = v
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_ADDR"); ok {
		backendAddr = v
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_PATH"); ok {
		backendPath = v
	}

	config.SetConfigType(configType)
	if err := config.AddRemoteProvider(backend, backendAddr, backendPath); err != nil {
		os.Exit(1)
	}

	if err := config.ReadRemoteConfig(); err != nil {
		os.Exit(1)
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		os.Exit(1)
	}
	cfg.applyEngineDefaults()
	configHolder.Store(&cfg)

	go func() {
		for {
			time.Sleep(time.Second * 5) // delay after each request

			if err := config.WatchRemoteConfig(); err != nil {
				zap.L().Error("unable to read remote config", zap.Error(err))
				continue
			}

			var newcfg Config
			config.Unmarshal(&newcfg)
			newcfg.applyEngineDefaults()
			configHolder.Store(&newcfg)
		}
	}()

	if p.Vault != nil {
		applyVaultSecrets(p.Vault, &cfg)
	}

	return &cfg
}

func applyVaultSecrets(client *vault.Client, cfg *Config) {
	ctx := context.Background()

	zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
	secret, err := client.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
	if err != nil {
		zap.L().Error("failed get secret from vault", zap.Error(err))
		os.Exit(1)
	}
	zap.L().Info("Success Get Secret")

	get := func(key string) string {
		if val, ok := secret.Data.Data[key].(string); ok {
			return val
		}
		return ""
	}

	if v := get("database_user"); v != "" {
		cfg.Database.User = v
	}
	if v := get("database_password"); v != "" {
		cfg.Database.Password = v
	}
	if v := get("redis_password"); v != "" {
		cfg.Redis.Password = v
	}
	if v := get("game_sign_secret"); v != "" {
		cfg.Game.SignSecret = v
	}
	if v := get("minio_secret_key"); v != "" {
		cfg.Minio.SecretKey = v
	}
}
