package auth

import (
	"fmt"

	"github.com/pquerna/otp/totp"

	"github.com/Will-Luck/Preauth-Sentinel/internal/logging"
)

const (
	totpIssuer  = "Preauth-Sentinel"
	totpAccount = "preauth"
	totpSetting = "totp_uri"
)

// SettingsStore persists operator-facing settings outside the bridged pools.
type SettingsStore interface {
	SaveSetting(key, value string) error
	LoadSetting(key string) (string, error)
}

// EnsureTOTPURI returns the provisioning URI to authenticate against. When the
// environment does not configure one, a previously bootstrapped URI is loaded
// from settings, or a fresh key is generated and persisted. The URI is logged
// so the operator can enrol it; this is the one-time bootstrap path, not a
// runtime behavior.
func EnsureTOTPURI(configured string, settings SettingsStore, log *logging.Logger) (string, error) {
	if configured != "" {
		return configured, nil
	}

	uri, err := settings.LoadSetting(totpSetting)
	if err != nil {
		return "", fmt.Errorf("load stored TOTP URI: %w", err)
	}
	if uri == "" {
		key, err := totp.Generate(totp.GenerateOpts{
			Issuer:      totpIssuer,
			AccountName: totpAccount,
		})
		if err != nil {
			return "", fmt.Errorf("generate TOTP key: %w", err)
		}
		uri = key.URL()
		if err := settings.SaveSetting(totpSetting, uri); err != nil {
			return "", fmt.Errorf("store TOTP URI: %w", err)
		}
	}

	log.Warn("PREAUTH_TOTP_URI is not set; using stored provisioning URI, please enrol it and set the variable", "uri", uri)
	return uri, nil
}
