package sync

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/matheus3301/chatbridge/internal/bus"
	"github.com/matheus3301/chatbridge/internal/config"
	"github.com/matheus3301/chatbridge/internal/podio"
	"github.com/matheus3301/chatbridge/internal/status"
	"github.com/matheus3301/chatbridge/internal/store"
	"github.com/matheus3301/chatbridge/internal/upstream"
	"go.uber.org/zap"
)

// Reconciler is the polling loop that mirrors agent comments from Podio back
// to the chat, and retries inbound messages whose forward previously failed.
// Exactly one instance runs per database (enforced by the process lock).
type Reconciler struct {
	db      *store.DB
	fwd     *Forwarder
	podio   WorkItemClient
	chat    ChatSender
	cfg     *config.Config
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewReconciler creates a reconciler.
func NewReconciler(db *store.DB, fwd *Forwarder, wi WorkItemClient, chat ChatSender,
	cfg *config.Config, m *status.Machine, b *bus.Bus, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		db:      db,
		fwd:     fwd,
		podio:   wi,
		chat:    chat,
		cfg:     cfg,
		machine: m,
		bus:     b,
		logger:  logger,
	}
}

// Start launches the loop. The first cycle runs immediately.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.loop(ctx)
}

// Stop cancels the loop and waits for the in-flight cycle step to finish,
// so no cursor is left mid-update.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

func (r *Reconciler) loop(ctx context.Context) {
	defer close(r.done)
	for {
		sleep := r.cfg.PollingInterval()
		if err := r.runCycle(ctx); err != nil {
			if ctx.Err() != nil {
				_ = r.machine.Transition(status.Stopped)
				return
			}
			// The loop is infrastructure: log and retry sooner, never die.
			r.logger.Error("reconcile cycle failed", zap.Error(err))
			sleep = r.cfg.ErrorBackoff()
			_ = r.machine.Transition(status.Error)
		}
		_ = r.machine.Transition(status.Sleeping)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			_ = r.machine.Transition(status.Stopped)
			return
		case <-timer.C:
		}
	}
}

// runCycle performs one scan/dispatch pass. Per-deal failures are contained:
// they freeze that deal's cursor and surface as a cycle error (shorter sleep)
// without blocking the other deals.
func (r *Reconciler) runCycle(ctx context.Context) error {
	_ = r.machine.Transition(status.Scanning)

	var firstErr error
	record := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	// Inbound messages whose forward failed earlier.
	pending, err := r.db.UnforwardedInbound(100)
	if err != nil {
		return fmt.Errorf("list unforwarded: %w", err)
	}
	for i := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.fwd.ProcessInbound(ctx, &pending[i]); err != nil {
			r.logger.Warn("forward retry failed",
				zap.String("message_id", pending[i].MessageID), zap.Error(err))
			record(err)
		}
	}

	routes, err := r.db.ActiveDeals()
	if err != nil {
		return fmt.Errorf("list active deals: %w", err)
	}
	if len(routes) > 0 {
		_ = r.machine.Transition(status.Dispatching)
	}
	for _, route := range routes {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.syncDeal(ctx, route); err != nil {
			r.logger.Warn("deal sync failed",
				zap.Int64("podio_item_id", route.Deal.PodioItemID), zap.Error(err))
			record(err)
		}
	}
	return firstErr
}

// syncDeal mirrors new agent comments on one deal to its chat. The cursor
// only advances past a comment once it has been sent, deliberately skipped,
// or definitively rejected: a retryable send failure leaves it frozen so
// the comment is retried next cycle. A cursor write failing after a
// successful send means a possible duplicate next cycle, which is the safe
// direction.
func (r *Reconciler) syncDeal(ctx context.Context, route store.ActiveDealRoute) error {
	key := cursorKey(route.Deal.PodioItemID)
	pos, err := r.db.Cursor(key)
	if err != nil {
		return fmt.Errorf("read cursor: %w", err)
	}
	last := podio.ParseCommentID(pos)

	comments, err := r.podio.Comments(ctx, route.Deal.PodioItemID)
	if err != nil {
		return fmt.Errorf("fetch comments: %w", err)
	}
	// The cursor logic needs ascending ids; enforce it rather than trust
	// upstream response ordering.
	slices.SortFunc(comments, func(a, b podio.Comment) int {
		return cmp.Compare(a.CommentID, b.CommentID)
	})

	for _, cm := range comments {
		if cm.CommentID <= last {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		decision := DecideForward(r.cfg.Integration, cm)
		if decision.Send {
			text := truncate(decision.Text, r.cfg.Integration.MaxMessageLength)
			msgID, err := r.chat.SendMessage(ctx,
				route.Contact.ChannelID, route.Contact.ChatID, route.Contact.ChatType, text)
			if err != nil {
				r.bus.Publish(bus.Event{
					Kind:      "reply.send_failed",
					Timestamp: time.Now(),
					Payload: map[string]string{
						"comment_id": strconv.FormatInt(cm.CommentID, 10),
						"error":      err.Error(),
					},
				})
				// Only a definitive provider rejection (a non-retryable HTTP
				// status) is skipped: retrying cannot change it, and a frozen
				// cursor would wedge every later comment on this deal. All
				// other failures, including auth outages, freeze the cursor.
				var rejection *upstream.Error
				if upstream.IsRetryable(err) || !errors.As(err, &rejection) {
					return fmt.Errorf("send comment %d: %w", cm.CommentID, err)
				}
				r.logger.Error("reply rejected permanently, comment dropped",
					zap.Int64("comment_id", cm.CommentID),
					zap.Int("status", rejection.StatusCode),
					zap.Error(err))
			} else {
				r.logger.Info("reply sent",
					zap.Int64("comment_id", cm.CommentID),
					zap.String("chat_id", route.Contact.ChatID),
					zap.String("wazzup_message_id", msgID))
				r.bus.Publish(bus.Event{
					Kind:      "reply.sent",
					Timestamp: time.Now(),
					Payload: map[string]string{
						"comment_id":        strconv.FormatInt(cm.CommentID, 10),
						"wazzup_message_id": msgID,
					},
				})
			}
		} else {
			r.logger.Debug("comment skipped",
				zap.Int64("comment_id", cm.CommentID),
				zap.String("reason", decision.Reason))
		}

		if err := r.db.SetCursor(key, strconv.FormatInt(cm.CommentID, 10)); err != nil {
			// Already sent; worst case the comment goes out twice next cycle.
			return fmt.Errorf("advance cursor: %w", err)
		}
		last = cm.CommentID
	}
	return nil
}

func cursorKey(podioItemID int64) string {
	return fmt.Sprintf("podio:comments:%d", podioItemID)
}
