package fints

import (
	"net/url"
	"regexp"
)

var bankCodeRe = regexp.MustCompile(`^[0-9]{8}$`)

// ValidateConfig checks a connection configuration before any network call.
// It returns a *ConfigError naming the offending field.
func ValidateConfig(cfg ConnectionConfig) error {
	if !bankCodeRe.MatchString(cfg.BankCode) {
		return &ConfigError{Field: "bank_code", Msg: "must be exactly 8 digits (BLZ)"}
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return &ConfigError{Field: "url", Msg: "must be a well-formed absolute URL"}
	}
	if cfg.Username == "" {
		return &ConfigError{Field: "username", Msg: "must not be empty"}
	}
	return nil
}

// ValidatePIN checks the secret entered for a sync attempt. The PIN value
// itself must never appear in errors or logs.
func ValidatePIN(pin string) error {
	if pin == "" {
		return &ConfigError{Field: "pin", Msg: "must not be empty"}
	}
	return nil
}
