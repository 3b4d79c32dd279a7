package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Database struct {
		Driver string
		Path   string
		DSN    string
	}
	Auth struct {
		SessionSecret     string
		SessionTTLMinutes int
		CookieName        string
		CookieSecure      bool
		Issuer            string
		Password          struct {
			Algorithm  string
			BcryptCost int
		}
	}
	Captcha struct {
		SecretKey       string
		SiteKey         string
		Threshold       float64
		VerifyURL       string
		TimeoutSeconds  int
		CacheTTLSeconds int
		Enforce         struct {
			Register bool
			Login    bool
		}
	}
	OAuth struct {
		Google struct {
			ClientID     string
			ClientSecret string
			RedirectURL  string
		}
	}
	Routes struct {
		Protected []string
		Auth      []string
		LoginPath string
		HomePath  string
	}
	Redis struct {
		Addr     string
		Password string
		DB       int
	}
	Audit struct {
		Bucket       string
		KeyPrefix    string
		Region       string
		Endpoint     string
		FlushSeconds int
	}
	AWS struct {
		Profile string
	}
	Log struct {
		Level  string
		Format string
	}
}

func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.Auth.SessionTTLMinutes) * time.Minute
}

func (c Config) CaptchaTimeout() time.Duration {
	return time.Duration(c.Captcha.TimeoutSeconds) * time.Second
}

func (c Config) CaptchaCacheTTL() time.Duration {
	return time.Duration(c.Captcha.CacheTTLSeconds) * time.Second
}

func (c Config) AuditFlushInterval() time.Duration {
	return time.Duration(c.Audit.FlushSeconds) * time.Second
}

// Validate reports settings that would prevent the server from starting.
func (c Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "sqlite":
		if strings.TrimSpace(c.Database.Path) == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			errs = append(errs, errors.New("database.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported database.driver %q", c.Database.Driver))
	}
	if strings.TrimSpace(c.Auth.SessionSecret) == "" {
		errs = append(errs, errors.New("auth.sessionsecret is required"))
	}
	if c.Captcha.Threshold < 0 || c.Captcha.Threshold > 1 {
		errs = append(errs, fmt.Errorf("captcha.threshold %v is outside [0, 1]", c.Captcha.Threshold))
	}
	return errors.Join(errs...)
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("AUTHPORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/authportal.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("auth.sessionsecret", "")
	v.SetDefault("auth.sessionttlminutes", 1440)
	v.SetDefault("auth.cookiename", "authportal_session")
	v.SetDefault("auth.cookiesecure", false)
	v.SetDefault("auth.issuer", "authportal")
	v.SetDefault("auth.password.algorithm", "bcrypt")
	v.SetDefault("auth.password.bcryptcost", 10)
	v.SetDefault("captcha.secretkey", "")
	v.SetDefault("captcha.sitekey", "")
	v.SetDefault("captcha.threshold", 0.5)
	v.SetDefault("captcha.verifyurl", "https://www.google.com/recaptcha/api/siteverify")
	v.SetDefault("captcha.timeoutseconds", 5)
	v.SetDefault("captcha.cachettlseconds", 120)
	v.SetDefault("captcha.enforce.register", true)
	v.SetDefault("captcha.enforce.login", true)
	v.SetDefault("oauth.google.clientid", "")
	v.SetDefault("oauth.google.clientsecret", "")
	v.SetDefault("oauth.google.redirecturl", "http://localhost:8080/api/auth/google/callback")
	v.SetDefault("routes.protected", []string{"/dashboard", "/video", "/profile"})
	v.SetDefault("routes.auth", []string{"/login", "/register"})
	v.SetDefault("routes.loginpath", "/login")
	v.SetDefault("routes.homepath", "/dashboard")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("audit.bucket", "")
	v.SetDefault("audit.keyprefix", "authportal-audit")
	v.SetDefault("audit.region", "us-east-1")
	v.SetDefault("audit.endpoint", "")
	v.SetDefault("audit.flushseconds", 60)
	v.SetDefault("aws.profile", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// a zero threshold means "use the default", not "accept everything"
	if cfg.Captcha.Threshold == 0 {
		cfg.Captcha.Threshold = 0.5
	}

	return cfg, nil
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
