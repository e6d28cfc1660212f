package sync

import (
	"slices"
	"strings"

	"github.com/matheus3301/chatbridge/internal/config"
	"github.com/matheus3301/chatbridge/internal/podio"
)

// Decision is the outcome of the comment forwarding policy.
type Decision struct {
	Send   bool
	Reason string // why the comment was skipped
	Text   string // text to send, command token stripped
}

// DecideForward applies the comment forwarding policy: comments the bridge
// itself authored never go back out, exclude commands always win, send
// commands force delivery, and everything else falls under the auto-send
// flag plus the author role allowlist.
func DecideForward(cfg config.Integration, cm podio.Comment) Decision {
	if cm.OwnComment() {
		return Decision{Reason: "own comment"}
	}

	text := strings.TrimSpace(cm.Value)
	if text == "" {
		return Decision{Reason: "empty"}
	}

	for _, cmd := range cfg.ExcludeCommands {
		if _, ok := stripCommand(text, cmd); ok {
			return Decision{Reason: "exclude command"}
		}
	}
	for _, cmd := range cfg.SendCommands {
		if rest, ok := stripCommand(text, cmd); ok {
			if rest == "" {
				// A bare command token has nothing to deliver; sending the
				// empty string would be rejected by the provider.
				return Decision{Reason: "bare send command"}
			}
			return Decision{Send: true, Text: rest}
		}
	}

	if !cfg.AutoSendComments {
		return Decision{Reason: "auto-send disabled"}
	}
	if len(cfg.AutoSendRoles) > 0 && !slices.Contains(cfg.AutoSendRoles, cm.CreatedBy.Type) {
		return Decision{Reason: "author role not allowed"}
	}
	return Decision{Send: true, Text: text}
}

// stripCommand matches a leading command token case-insensitively and
// returns the remainder of the original text. Slicing the original (never a
// lowercased copy) keeps the remainder intact for any token the config
// carries; a cut landing mid-rune makes EqualFold report a mismatch.
func stripCommand(text, cmd string) (string, bool) {
	if cmd == "" || len(text) < len(cmd) || !strings.EqualFold(text[:len(cmd)], cmd) {
		return "", false
	}
	return strings.TrimSpace(text[len(cmd):]), true
}
