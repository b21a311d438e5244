package portal

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"voxd/internal/config"
)

// writeShortcutDconf seeds GNOME's global-shortcuts schema with the trigger
// so session creation binds it without prompting. Other compositors have no
// dconf, so the write is best effort.
func writeShortcutDconf(ctx context.Context, shortcut config.ShortcutConfig, log zerolog.Logger) {
	path := fmt.Sprintf("/org/gnome/settings-daemon/global-shortcuts/%s/shortcuts", appID)
	value := dconfShortcutValue(shortcut)

	cmd := exec.CommandContext(ctx, "dconf", "write", path, value)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		log.Warn().Err(err).Str("stderr", strings.TrimSpace(stderr.String())).
			Msg("dconf shortcut write failed (non-GNOME compositor?)")
		return
	}
	log.Info().Str("trigger", shortcut.Trigger).Msg("shortcut written to dconf")
}

// dconfShortcutValue renders the shortcut as the GVariant text GNOME's
// schema expects.
func dconfShortcutValue(s config.ShortcutConfig) string {
	return fmt.Sprintf("[('%s', {'shortcuts': <['%s']>, 'description': <'%s'>})]",
		s.ID, s.Trigger, s.Description)
}
