package app

import (
	"fmt"
	"os"

	"chatsync/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services. Keep checks light
// and focused so callers can surface user-friendly errors.
func validateConfig(eff config.EffectiveConfigResult) error {
	if eff.DBPath == "" {
		return fmt.Errorf("database path is empty: set --db flag, CHATSYNC_DB_PATH env, or server.db_path in config")
	}

	cert := eff.Config.Server.TLS.CertFile
	key := eff.Config.Server.TLS.KeyFile
	if (cert != "" && key == "") || (cert == "" && key != "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	if cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(key); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}

	if eff.Config.Retention.Enabled && eff.Config.Retention.Period == "" {
		return fmt.Errorf("retention enabled but no retention.period configured")
	}

	// surface bad size strings before the first upload hits them
	if _, err := eff.Config.Upload.MaxImageBytes(); err != nil {
		return err
	}
	if _, err := eff.Config.Upload.MaxDocumentBytes(); err != nil {
		return err
	}
	if _, err := eff.Config.Upload.MaxArchiveBytes(); err != nil {
		return err
	}
	return nil
}
