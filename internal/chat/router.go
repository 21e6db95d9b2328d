package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"chat-service/internal/ident"
	"chat-service/internal/metrics"
	"chat-service/internal/models"
	"chat-service/internal/repository"
)

const historyLimit = 50

var (
	ErrEmptySender    = errors.New("sender is required")
	ErrEmptyBody      = errors.New("message body is required")
	ErrEmptyRecipient = errors.New("recipient is required")
	ErrNotOwner       = errors.New("only the sender may delete this message")
)

// Relay is the publish side of the durable pub/sub bridge. The router only
// ever publishes while Connected; everything else degrades to direct fan-out.
type Relay interface {
	Connected() bool
	Publish(ctx context.Context, m *models.Message) error
}

// Router turns client commands into finalized messages: it assigns identity
// and timestamp, persists, and hands off to the dispatcher either directly or
// through the relay. It holds no mutable state of its own and is safe for
// concurrent use from every connection goroutine.
type Router struct {
	repo  repository.MessageRepo
	hub   *Hub
	relay Relay

	// requireOwner gates deletes on sender identity. Off by default; open
	// deletes are the historical behavior and every delete is audit-logged.
	requireOwner bool
}

// now is swapped out by tests that need deterministic timestamps.
var now = time.Now

func NewRouter(repo repository.MessageRepo, hub *Hub, relay Relay, requireOwner bool) *Router {
	return &Router{
		repo:         repo,
		hub:          hub,
		relay:        relay,
		requireOwner: requireOwner,
	}
}

// SendPublic finalizes and distributes a room-wide message. Persistence
// failure is tolerated: public chat has no offline-delivery promise, so a
// visible-but-unsaved message beats a saved-but-invisible one.
func (r *Router) SendPublic(ctx context.Context, sender, body, room string) error {
	sender = strings.TrimSpace(sender)
	body = strings.TrimSpace(body)
	if sender == "" {
		return ErrEmptySender
	}
	if body == "" {
		return ErrEmptyBody
	}
	if room == "" {
		room = models.DefaultRoom
	}

	m := r.finalize(sender, body, room, models.VisibilityPublic, "")

	if err := r.repo.Save(ctx, m); err != nil {
		metrics.StoreFailures.Inc()
		log.Printf("[ROUTER] Save failed for public message %s, broadcasting anyway: %v", m.ID, err)
		r.dispatch(ctx, m)
		return nil
	}

	r.dispatch(ctx, m)
	return nil
}

// SendPrivate finalizes and distributes a two-party message. The write is
// synchronous with the caller and failure propagates: an offline recipient
// can only ever see this message through a history query, so losing the
// stored record is data loss, not a display glitch.
func (r *Router) SendPrivate(ctx context.Context, sender, recipient, body string) (*models.Message, error) {
	sender = strings.TrimSpace(sender)
	recipient = strings.TrimSpace(recipient)
	body = strings.TrimSpace(body)
	if sender == "" {
		return nil, ErrEmptySender
	}
	if recipient == "" {
		return nil, ErrEmptyRecipient
	}
	if body == "" {
		return nil, ErrEmptyBody
	}

	m := r.finalize(sender, body, models.PrivateRoom, models.VisibilityPrivate, recipient)

	if err := r.repo.Save(ctx, m); err != nil {
		metrics.StoreFailures.Inc()
		log.Printf("[ROUTER] CRITICAL: Private message %s from %s lost to store failure: %v", m.ID, sender, err)
		return nil, fmt.Errorf("private message not stored: %w", err)
	}

	r.dispatch(ctx, m)
	return m, nil
}

// DeleteMessage removes a message by id. Unknown ids are a silent no-op.
// Public deletions are announced to everyone; private deletions only to the
// two participants.
func (r *Router) DeleteMessage(ctx context.Context, id, requester string) error {
	if strings.TrimSpace(id) == "" {
		return nil
	}

	if r.requireOwner {
		// The store has no separate lookup; the delete returns the record
		// and a denied request re-saves it.
		deleted, err := r.repo.DeleteByID(ctx, id)
		if err != nil {
			return err
		}
		if deleted == nil {
			return nil
		}
		if deleted.Sender != requester {
			// Undo is not possible; re-save the record instead.
			if err := r.repo.Save(ctx, deleted); err != nil {
				log.Printf("[ROUTER] Failed to restore message %s after denied delete: %v", id, err)
			}
			log.Printf("[ROUTER] AUDIT: delete of %s by %s denied (sender %s)", id, requester, deleted.Sender)
			return ErrNotOwner
		}
		r.announceDeletion(deleted, requester)
		return nil
	}

	deleted, err := r.repo.DeleteByID(ctx, id)
	if err != nil {
		return err
	}
	if deleted == nil {
		return nil
	}
	r.announceDeletion(deleted, requester)
	return nil
}

func (r *Router) announceDeletion(deleted *models.Message, requester string) {
	log.Printf("[ROUTER] AUDIT: message %s deleted by %s (sender %s, %s)",
		deleted.ID, requester, deleted.Sender, deleted.Visibility)

	ev := &Event{Type: EvtMessageDeleted, ID: deleted.ID}
	if deleted.IsPrivate() {
		sender, recipient := deleted.Participants()
		r.hub.SendTo(ev, sender, recipient)
		return
	}
	r.hub.BroadcastAll(ev)
}

// ClearAll wipes the entire board and tells every connection.
func (r *Router) ClearAll(ctx context.Context) error {
	if err := r.repo.DeleteAll(ctx); err != nil {
		return err
	}
	r.hub.BroadcastAll(&Event{Type: EvtAllCleared})
	return nil
}

// HandleRelayed is the consume-loop entry point: persist idempotently (the
// publishing instance already stored it; other instances have not), then fan
// out. Direct and relayed paths converge on the same dispatcher.
func (r *Router) HandleRelayed(ctx context.Context, m *models.Message) {
	if err := r.repo.Save(ctx, m); err != nil {
		metrics.StoreFailures.Inc()
		log.Printf("[ROUTER] Save failed for relayed message %s, delivering anyway: %v", m.ID, err)
	}
	metrics.MessagesRouted.WithLabelValues(string(m.Visibility), "relay").Inc()
	r.hub.DeliverMessage(m)
}

// PublicHistory returns the join-time snapshot of the public board.
func (r *Router) PublicHistory(ctx context.Context) ([]*models.Message, error) {
	return r.repo.FindPublic(ctx, historyLimit)
}

// PrivateHistoryFor returns every private message the user participates in.
func (r *Router) PrivateHistoryFor(ctx context.Context, username string) ([]*models.Message, error) {
	return r.repo.FindPrivateFor(ctx, username)
}

func (r *Router) finalize(sender, body, room string, vis models.Visibility, recipient string) *models.Message {
	return &models.Message{
		ID:         ident.New(),
		Sender:     sender,
		Body:       body,
		Room:       room,
		Visibility: vis,
		Recipient:  recipient,
		CreatedAt:  now(),
	}
}

// dispatch forwards a finalized, locally-originated message. While the relay
// is healthy it is the sole path to the fan-out stage, so every subscribed
// instance (this one included) sees one consistent stream; otherwise, or when
// a publish fails in flight, delivery degrades to the direct path.
func (r *Router) dispatch(ctx context.Context, m *models.Message) {
	if r.relay != nil && r.relay.Connected() {
		err := r.relay.Publish(ctx, m)
		if err == nil {
			// Fan-out happens when the message comes back through the
			// consume loop, counted there under the relay path.
			return
		}
		metrics.RelayPublishErrors.Inc()
		log.Printf("[ROUTER] Relay publish failed for %s, falling back to direct fan-out: %v", m.ID, err)
	}
	metrics.MessagesRouted.WithLabelValues(string(m.Visibility), "direct").Inc()
	r.hub.DeliverMessage(m)
}
