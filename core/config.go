package core

import (
	"time"
)

// ConfigInput is the postbox section of the configuration file
type ConfigInput struct {
	JWTSecret            string   `yaml:"jwtSecret" env:"POSTBOX_JWT_SECRET,overwrite"`
	TokenTTLHours        int      `yaml:"tokenTTLHours" env:"POSTBOX_TOKEN_TTL_HOURS,overwrite"`
	DisableActiveCheck   bool     `yaml:"disableActiveCheck" env:"POSTBOX_DISABLE_ACTIVE_CHECK,overwrite"`
	HeartbeatSeconds     int      `yaml:"heartbeatSeconds"`
	SendQueueSize        int      `yaml:"sendQueueSize"`
	DispatchIntake       int      `yaml:"dispatchIntake"`
	MaxConnections       int      `yaml:"maxConnections" env:"POSTBOX_MAX_CONNECTIONS,overwrite"`
	MaxFileSizeMB        int      `yaml:"maxFileSizeMB"`
	MaxAttachments       int      `yaml:"maxAttachments"`
	AllowedExtensions    []string `yaml:"allowedExtensions"`
	LoginAttempts        int      `yaml:"loginAttempts"`
	LoginWindowMinutes   int      `yaml:"loginWindowMinutes"`
	ActiveCacheSeconds   int      `yaml:"activeCacheSeconds"`
	PurgeRetentionDays   int      `yaml:"purgeRetentionDays"`
	InboundFramesPerSec  float64  `yaml:"inboundFramesPerSec"`
	CaptchaSecret        string   `yaml:"captchaSecret" env:"POSTBOX_CAPTCHA_SECRET,overwrite"`
	RegistrationDisabled bool     `yaml:"registrationDisabled"`
}

// Config is the resolved runtime configuration shared by services
type Config struct {
	JWTSecret            []byte
	TokenTTL             time.Duration
	DisableActiveCheck   bool
	HeartbeatInterval    time.Duration
	SendQueueSize        int
	DispatchIntake       int
	MaxConnections       int
	MaxFileSize          int64
	MaxAttachments       int
	AllowedExtensions    []string
	LoginAttempts        int
	LoginWindow          time.Duration
	ActiveCacheTTL       time.Duration
	PurgeRetention       time.Duration
	InboundFramesPerSec  float64
	CaptchaSecret        string
	RegistrationDisabled bool
}

var defaultExtensions = []string{".pdf", ".doc", ".docx", ".txt", ".jpg", ".jpeg", ".png", ".gif"}

func orDefault[T int | float64](v, d T) T {
	if v <= 0 {
		return d
	}
	return v
}

// SetupConfig fills defaults. panics when no signing secret is given
func SetupConfig(base ConfigInput) Config {

	if base.JWTSecret == "" {
		panic("jwtSecret is required")
	}

	extensions := base.AllowedExtensions
	if len(extensions) == 0 {
		extensions = defaultExtensions
	}

	return Config{
		JWTSecret:            []byte(base.JWTSecret),
		TokenTTL:             time.Duration(orDefault(base.TokenTTLHours, 24)) * time.Hour,
		DisableActiveCheck:   base.DisableActiveCheck,
		HeartbeatInterval:    time.Duration(orDefault(base.HeartbeatSeconds, 30)) * time.Second,
		SendQueueSize:        orDefault(base.SendQueueSize, 64),
		DispatchIntake:       orDefault(base.DispatchIntake, 1024),
		MaxConnections:       orDefault(base.MaxConnections, 1000),
		MaxFileSize:          int64(orDefault(base.MaxFileSizeMB, 10)) << 20,
		MaxAttachments:       orDefault(base.MaxAttachments, 10),
		AllowedExtensions:    extensions,
		LoginAttempts:        orDefault(base.LoginAttempts, 5),
		LoginWindow:          time.Duration(orDefault(base.LoginWindowMinutes, 15)) * time.Minute,
		ActiveCacheTTL:       time.Duration(orDefault(base.ActiveCacheSeconds, 30)) * time.Second,
		PurgeRetention:       time.Duration(orDefault(base.PurgeRetentionDays, 30)) * 24 * time.Hour,
		InboundFramesPerSec:  orDefault(base.InboundFramesPerSec, 5),
		CaptchaSecret:        base.CaptchaSecret,
		RegistrationDisabled: base.RegistrationDisabled,
	}
}
