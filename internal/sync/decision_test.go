package sync

import (
	"testing"

	"github.com/matheus3301/chatbridge/internal/config"
	"github.com/matheus3301/chatbridge/internal/podio"
)

func TestDecideForward(t *testing.T) {
	base := config.Default().Integration

	agent := func(text string) podio.Comment {
		return podio.Comment{Value: text, CreatedBy: podio.Author{Type: "user", Name: "Agent"}}
	}

	tests := []struct {
		name     string
		cfg      func(config.Integration) config.Integration
		comment  podio.Comment
		wantSend bool
		wantText string
	}{
		{
			name:     "plain agent comment auto-sends",
			comment:  agent("we will ship tomorrow"),
			wantSend: true,
			wantText: "we will ship tomorrow",
		},
		{
			name: "own forwarded comment never echoes",
			comment: podio.Comment{
				Value:      "Alice: hello",
				ExternalID: podio.ExternalIDPrefix + "m1",
				CreatedBy:  podio.Author{Type: "user"},
			},
			wantSend: false,
		},
		{
			name:     "exclude command wins",
			comment:  agent("@nosend internal note about pricing"),
			wantSend: false,
		},
		{
			name:     "send command strips token",
			comment:  agent("@send your order is ready"),
			wantSend: true,
			wantText: "your order is ready",
		},
		{
			name: "send command works with auto-send disabled",
			cfg: func(c config.Integration) config.Integration {
				c.AutoSendComments = false
				return c
			},
			comment:  agent("@send confirmed"),
			wantSend: true,
			wantText: "confirmed",
		},
		{
			name: "plain comment blocked when auto-send disabled",
			cfg: func(c config.Integration) config.Integration {
				c.AutoSendComments = false
				return c
			},
			comment:  agent("thinking out loud"),
			wantSend: false,
		},
		{
			name: "author role outside allowlist",
			cfg: func(c config.Integration) config.Integration {
				c.AutoSendRoles = []string{"admin"}
				return c
			},
			comment:  agent("hi"),
			wantSend: false,
		},
		{
			name:     "empty comment",
			comment:  agent("   "),
			wantSend: false,
		},
		{
			name:     "bare send command has nothing to deliver",
			comment:  agent("@send   "),
			wantSend: false,
		},
		{
			name:     "send command matches case-insensitively",
			comment:  agent("@SEND On our way"),
			wantSend: true,
			wantText: "On our way",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			if tt.cfg != nil {
				cfg = tt.cfg(base)
			}
			d := DecideForward(cfg, tt.comment)
			if d.Send != tt.wantSend {
				t.Fatalf("Send = %v (%s), want %v", d.Send, d.Reason, tt.wantSend)
			}
			if tt.wantSend && d.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", d.Text, tt.wantText)
			}
		})
	}
}
