package inject

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Keysym constants for control characters that do not map through the
// Unicode offset rule.
const (
	keyReturn = 0xff0d
	keyTab    = 0xff09

	// Codepoints above Latin-1 map to keysym space at this offset.
	unicodeKeysymOffset = 0x01000000
)

// Keyboard replays a single keysym as a press/release pair. The portal
// session manager implements this over NotifyKeyboardKeysym.
type Keyboard interface {
	TapKeysym(ctx context.Context, keysym uint32) error
}

// Injector types transcript text into the focused window as synthetic key
// events. The whole transcript is mapped before the first event is sent, so
// a failed injection never leaves half-typed text behind a mapping error.
type Injector struct {
	kb    Keyboard
	delay time.Duration
	log   zerolog.Logger
}

func New(kb Keyboard, typingDelay time.Duration, log zerolog.Logger) *Injector {
	return &Injector{
		kb:    kb,
		delay: typingDelay,
		log:   log.With().Str("component", "inject").Logger(),
	}
}

func (i *Injector) Inject(ctx context.Context, text string) error {
	keysyms := make([]uint32, 0, len(text))
	dropped := 0
	for _, r := range text {
		sym := keysymForRune(r)
		if sym == 0 {
			dropped++
			i.log.Debug().Str("rune", fmt.Sprintf("U+%04X", r)).Msg("dropping glyph with no keysym")
			continue
		}
		keysyms = append(keysyms, sym)
	}
	if dropped > 0 {
		i.log.Info().Int("dropped", dropped).Msg("some glyphs could not be mapped")
	}
	if len(keysyms) == 0 {
		return nil
	}

	for _, sym := range keysyms {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("injection interrupted: %w", err)
		}
		if err := i.kb.TapKeysym(ctx, sym); err != nil {
			return fmt.Errorf("replaying keysym 0x%x: %w", sym, err)
		}
		if i.delay > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("injection interrupted: %w", ctx.Err())
			case <-time.After(i.delay):
			}
		}
	}

	i.log.Info().Int("keysyms", len(keysyms)).Msg("text injected")
	return nil
}

// keysymForRune maps a codepoint to its keysym. Latin-1 codepoints are their
// own keysyms; everything else uses the Unicode offset. Control characters
// other than newline and tab have no keysym and are dropped.
func keysymForRune(r rune) uint32 {
	switch r {
	case '\n':
		return keyReturn
	case '\t':
		return keyTab
	case '\r':
		return 0
	}
	if r < 0x20 || r == 0x7f {
		return 0
	}
	if r <= 0xff {
		return uint32(r)
	}
	if r > 0x10ffff {
		return 0
	}
	return uint32(r) | unicodeKeysymOffset
}
