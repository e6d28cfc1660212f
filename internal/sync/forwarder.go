// Package sync contains the two halves of the bridge pipeline: the forwarder
// (chat message -> Podio comment) and the reconciler (Podio comment -> chat).
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/chatbridge/internal/bus"
	"github.com/matheus3301/chatbridge/internal/config"
	"github.com/matheus3301/chatbridge/internal/podio"
	"github.com/matheus3301/chatbridge/internal/store"
	"go.uber.org/zap"
)

// WorkItemClient is the slice of the Podio client the sync pipeline needs.
type WorkItemClient interface {
	CreateItem(ctx context.Context, fields map[string]any) (int64, error)
	AddComment(ctx context.Context, itemID int64, text, externalID string) error
	Comments(ctx context.Context, itemID int64) ([]podio.Comment, error)
}

// ChatSender is the slice of the Wazzup client the sync pipeline needs.
type ChatSender interface {
	SendMessage(ctx context.Context, channelID, chatID, chatType, text string) (string, error)
}

// Forwarder mirrors first-sight inbound chat messages into Podio: contact
// resolution, deal resolution per the configured policy, comment append.
type Forwarder struct {
	db     *store.DB
	podio  WorkItemClient
	cfg    *config.Config
	bus    *bus.Bus
	logger *zap.Logger
}

// NewForwarder creates a forwarder.
func NewForwarder(db *store.DB, wi WorkItemClient, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *Forwarder {
	return &Forwarder{db: db, podio: wi, cfg: cfg, bus: b, logger: logger}
}

// ProcessInbound forwards one stored message to Podio. It is called on
// first sight by the webhook path and again by the reconciler for messages
// whose earlier forward failed; MarkForwarded keeps the comment unique
// either way. Echoes and non-inbound statuses are ignored.
func (f *Forwarder) ProcessInbound(ctx context.Context, msg *store.Message) error {
	if !msg.Forwardable() {
		return nil
	}

	contact, err := f.db.GetOrCreateContact(&store.Contact{
		ChatID:    msg.ChatID,
		ChatType:  msg.ChatType,
		Name:      msg.SenderName,
		Phone:     msg.SenderPhone,
		Username:  msg.SenderUser,
		ChannelID: msg.ChannelID,
	})
	if err != nil {
		return fmt.Errorf("resolve contact: %w", err)
	}

	deal, err := f.resolveDeal(ctx, contact)
	if err != nil {
		return fmt.Errorf("resolve deal: %w", err)
	}

	text := f.commentText(msg)
	externalID := podio.ExternalIDPrefix + msg.MessageID
	if err := f.podio.AddComment(ctx, deal.PodioItemID, text, externalID); err != nil {
		return fmt.Errorf("add comment: %w", err)
	}

	won, err := f.db.MarkForwarded(msg.MessageID, deal.PodioItemID)
	if err != nil {
		return fmt.Errorf("mark forwarded: %w", err)
	}
	if !won {
		// Another path forwarded concurrently; the deterministic external id
		// kept Podio from duplicating the comment.
		f.logger.Debug("message already marked forwarded", zap.String("message_id", msg.MessageID))
		return nil
	}

	f.logger.Info("message forwarded",
		zap.String("message_id", msg.MessageID),
		zap.Int64("podio_item_id", deal.PodioItemID))
	f.bus.Publish(bus.Event{
		Kind:      "ingest.forwarded",
		Timestamp: time.Now(),
		Payload: map[string]string{
			"message_id":    msg.MessageID,
			"podio_item_id": fmt.Sprint(deal.PodioItemID),
		},
	})
	return nil
}

// resolveDeal returns the contact's active deal, creating or reopening one
// per the configured policy when none is active.
func (f *Forwarder) resolveDeal(ctx context.Context, contact *store.Contact) (*store.Deal, error) {
	deal, err := f.db.ActiveDeal(contact.ID)
	if err != nil {
		return nil, err
	}
	if deal != nil {
		return deal, nil
	}

	if f.cfg.Integration.DealPolicy == config.DealPolicyReopenClosed {
		closed, err := f.db.LastClosedDeal(contact.ID)
		if err != nil {
			return nil, err
		}
		if closed != nil {
			if err := f.db.ReopenDeal(closed.ID); err != nil {
				// A concurrent creator may have won the active slot.
				if active, aerr := f.db.ActiveDeal(contact.ID); aerr == nil && active != nil {
					return active, nil
				}
				return nil, err
			}
			closed.Status = "active"
			return closed, nil
		}
	}

	itemID, err := f.podio.CreateItem(ctx, map[string]any{
		"title": fmt.Sprintf("%s: %s", chatTypeLabel(contact.ChatType), displayName(contact)),
	})
	if err != nil {
		return nil, err
	}
	return f.db.InsertActiveDeal(contact.ID, itemID)
}

func (f *Forwarder) commentText(msg *store.Message) string {
	text := msg.Body
	if msg.MessageType != "text" && msg.ContentURI != "" {
		text = fmt.Sprintf("[%s] %s", msg.MessageType, msg.ContentURI)
	}
	sender := msg.SenderName
	if sender == "" {
		sender = msg.ChatID
	}
	return truncate(fmt.Sprintf("%s: %s", sender, text), f.cfg.Integration.MaxMessageLength)
}

func displayName(c *store.Contact) string {
	if c.Name != "" {
		return c.Name
	}
	return c.ChatID
}

func chatTypeLabel(chatType string) string {
	switch chatType {
	case "whatsapp":
		return "WhatsApp"
	case "telegram":
		return "Telegram"
	default:
		return chatType
	}
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
