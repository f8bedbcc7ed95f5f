package config

import (
	"fmt"
	"net"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ValidationResult separates validation problems that block startup from
// ones that were auto-corrected and merely deserve a log line, the same
// split the teacher's config validation drew between malformed identity
// fields and soft, clampable tuning knobs.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors concatenates fatals and warnings for callers that just want to
// know everything that was wrong, regardless of severity.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

// ValidateTiered checks the config and returns fatal errors separately from
// warnings. Dangerous zero-values that would otherwise make the rate
// limiter or worker pool panic are clamped to safe defaults and reported
// as warnings rather than blocking startup.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	if c.ListenAddr == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("listen_addr must not be empty"))
	} else if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		r.Fatals = append(r.Fatals, fmt.Errorf("listen_addr %q is not a valid host:port: %w", c.ListenAddr, err))
	}

	if c.RequireAuth && c.Password == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("require_auth is set but password is empty"))
	}
	if !c.RequireAuth && c.Password != "" {
		r.Warnings = append(r.Warnings, fmt.Errorf("password is set but require_auth is false; it will be ignored"))
	}

	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		r.Fatals = append(r.Fatals, fmt.Errorf("tls_cert_file and tls_key_file must both be set or both be empty"))
	}

	if c.MaxFrameRateHz <= 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("max_frame_rate_hz %v is below minimum, clamping to 1", c.MaxFrameRateHz))
		c.MaxFrameRateHz = 1
	} else if c.MaxFrameRateHz > 120 {
		r.Warnings = append(r.Warnings, fmt.Errorf("max_frame_rate_hz %v exceeds maximum 120, clamping", c.MaxFrameRateHz))
		c.MaxFrameRateHz = 120
	}

	if c.MaxSessions < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("max_sessions %d is below minimum 1, clamping", c.MaxSessions))
		c.MaxSessions = 1
	} else if c.MaxSessions > 256 {
		r.Warnings = append(r.Warnings, fmt.Errorf("max_sessions %d exceeds maximum 256, clamping", c.MaxSessions))
		c.MaxSessions = 256
	}

	if c.DesktopName == "" {
		r.Warnings = append(r.Warnings, fmt.Errorf("desktop_name is empty, using default"))
		c.DesktopName = "breeze-rfbd"
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	return r
}
