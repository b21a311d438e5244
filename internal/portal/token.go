package portal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// LoadToken reads the persisted restore token. A missing file is not an
// error; an unreadable file is removed and treated as absent so a corrupt
// token can never wedge startup.
func LoadToken(path string, log zerolog.Logger) string {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Info().Msg("no restore token, starting fresh")
			return ""
		}
		log.Warn().Err(err).Str("path", path).Msg("restore token unreadable, removing")
		_ = os.Remove(path)
		return ""
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		log.Info().Msg("restore token file is empty, starting fresh")
		return ""
	}
	return token
}

// SaveToken persists the restore token with owner-only permissions. The
// write goes through a temp file and rename so a crash never leaves a torn
// token behind.
func SaveToken(path, token string, log zerolog.Logger) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".restore_token_*")
	if err != nil {
		return fmt.Errorf("creating temp token file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("restricting token permissions: %w", err)
	}
	if _, err := tmp.WriteString(token); err != nil {
		tmp.Close()
		return fmt.Errorf("writing token: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing token file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("committing token file: %w", err)
	}

	log.Info().Str("path", path).Msg("restore token saved")
	return nil
}

// DeleteToken removes a stale token after the compositor rejects it.
func DeleteToken(path string, log zerolog.Logger) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("path", path).Msg("failed to delete stale restore token")
		return
	}
	log.Info().Str("path", path).Msg("stale restore token deleted")
}
