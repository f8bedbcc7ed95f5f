package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/breeze-rmm/rfbserver/internal/logging"
	"github.com/breeze-rmm/rfbserver/internal/secmem"
)

var log = logging.L("config")

// Config holds everything needed to stand up an RFB listener: the bind
// address, optional TLS material, the VNC password, the pump rate, and the
// ambient logging knobs. Loaded via viper the way the teacher loads its
// agent config, generalized from a remote-management agent's sprawling
// config surface down to a single-listener RFB daemon's.
type Config struct {
	ListenAddr     string  `mapstructure:"listen_addr"`
	TLSCertFile    string  `mapstructure:"tls_cert_file"`
	TLSKeyFile     string  `mapstructure:"tls_key_file"`
	RequireAuth    bool    `mapstructure:"require_auth"`
	Password       string  `mapstructure:"password"`
	MaxFrameRateHz float64 `mapstructure:"max_frame_rate_hz"`
	MaxSessions    int     `mapstructure:"max_sessions"`
	DesktopName    string  `mapstructure:"desktop_name"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`
}

// SecurePassword wraps Password in a secmem.SecureString so the plaintext
// isn't kept around the process as a bare string any longer than it has to
// be; callers should Zero() the result once the listener is auth-configured.
func (c *Config) SecurePassword() *secmem.SecureString {
	if c.Password == "" {
		return nil
	}
	return secmem.NewSecureString(c.Password)
}

func Default() *Config {
	return &Config{
		ListenAddr:     ":5900",
		RequireAuth:    false,
		MaxFrameRateHz: 30,
		MaxSessions:    16,
		DesktopName:    "breeze-rfbd",
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("breeze-rfbd")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("BREEZE_RFBD")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	// Validate config: fatals block startup, warnings are logged and continue.
	result := cfg.ValidateTiered()
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			log.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("listen_addr", cfg.ListenAddr)
	viper.Set("tls_cert_file", cfg.TLSCertFile)
	viper.Set("tls_key_file", cfg.TLSKeyFile)
	viper.Set("require_auth", cfg.RequireAuth)
	viper.Set("password", cfg.Password)
	viper.Set("max_frame_rate_hz", cfg.MaxFrameRateHz)
	viper.Set("max_sessions", cfg.MaxSessions)
	viper.Set("desktop_name", cfg.DesktopName)
	viper.Set("log_level", cfg.LogLevel)
	viper.Set("log_format", cfg.LogFormat)
	viper.Set("log_file", cfg.LogFile)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "breeze-rfbd.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := viper.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	// Restrict config file to owner-only access: it may carry a VNC password.
	return os.Chmod(cfgPath, 0600)
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Breeze")
	case "darwin":
		return "/Library/Application Support/Breeze"
	default:
		return "/etc/breeze"
	}
}
