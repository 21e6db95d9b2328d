package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chat-service/internal/models"
)

// fakeRepo is an in-memory MessageRepo for router tests.
type fakeRepo struct {
	mu       sync.Mutex
	messages map[string]*models.Message
	order    []string
	failSave bool
	saves    int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{messages: make(map[string]*models.Message)}
}

func (f *fakeRepo) Save(ctx context.Context, m *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.failSave {
		return errors.New("store unavailable")
	}
	if _, exists := f.messages[m.ID]; exists {
		return nil // idempotent on id
	}
	f.messages[m.ID] = m
	f.order = append(f.order, m.ID)
	return nil
}

func (f *fakeRepo) DeleteByID(ctx context.Context, id string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return nil, nil
	}
	delete(f.messages, id)
	return m, nil
}

func (f *fakeRepo) DeleteAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = make(map[string]*models.Message)
	f.order = nil
	return nil
}

func (f *fakeRepo) FindPublic(ctx context.Context, limit int) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Message
	for _, id := range f.order {
		if m, ok := f.messages[id]; ok && !m.IsPrivate() {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeRepo) FindPrivateFor(ctx context.Context, username string) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Message
	for _, id := range f.order {
		m, ok := f.messages[id]
		if ok && m.IsPrivate() && (m.Sender == username || m.Recipient == username) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeRepo) FindPrivateBetween(ctx context.Context, userA, userB string) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Message
	for _, id := range f.order {
		m, ok := f.messages[id]
		if !ok || !m.IsPrivate() {
			continue
		}
		if (m.Sender == userA && m.Recipient == userB) || (m.Sender == userB && m.Recipient == userA) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeRepo) Conversations(ctx context.Context, username string) ([]*models.ConversationSummary, error) {
	return nil, nil
}

func (f *fakeRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *fakeRepo) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.messages[id]
	return ok
}

// fakeRelay records publishes and can simulate an unhealthy broker.
type fakeRelay struct {
	mu        sync.Mutex
	connected bool
	failNext  bool
	published []*models.Message
}

func (f *fakeRelay) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeRelay) Publish(ctx context.Context, m *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("broker write failed")
	}
	f.published = append(f.published, m)
	return nil
}

func (f *fakeRelay) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func TestSendPublicValidation(t *testing.T) {
	hub := startHub(t)
	repo := newFakeRepo()
	router := NewRouter(repo, hub, nil, false)

	if err := router.SendPublic(context.Background(), "", "hello", ""); !errors.Is(err, ErrEmptySender) {
		t.Fatalf("expected ErrEmptySender, got %v", err)
	}
	if err := router.SendPublic(context.Background(), "alice", "   ", ""); !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("expected ErrEmptyBody, got %v", err)
	}
	if repo.count() != 0 {
		t.Fatal("rejected commands must not mutate the store")
	}
}

func TestSendPublicPersistsAndBroadcasts(t *testing.T) {
	hub := startHub(t)
	repo := newFakeRepo()
	router := NewRouter(repo, hub, nil, false)

	alice := join(t, hub, "alice")
	bob := join(t, hub, "bob")
	recvUntil(t, alice, EvtUserJoined)
	recvUntil(t, bob, EvtRosterChanged)

	if err := router.SendPublic(context.Background(), "alice", "hi all", ""); err != nil {
		t.Fatalf("SendPublic failed: %v", err)
	}

	for _, c := range []*Client{alice, bob} {
		ev := recvUntil(t, c, EvtPublicMessage)
		if ev.Message.Body != "hi all" {
			t.Fatalf("unexpected body %q", ev.Message.Body)
		}
		if ev.Message.Room != models.DefaultRoom {
			t.Fatalf("expected default room, got %q", ev.Message.Room)
		}
		if ev.Message.ID == "" || ev.Message.CreatedAt.IsZero() {
			t.Fatal("router must assign identity and timestamp")
		}
	}
	if repo.count() != 1 {
		t.Fatalf("expected 1 stored message, got %d", repo.count())
	}
}

func TestSendPublicSurvivesStoreFailure(t *testing.T) {
	hub := startHub(t)
	repo := newFakeRepo()
	repo.failSave = true
	router := NewRouter(repo, hub, nil, false)

	alice := join(t, hub, "alice")
	recvUntil(t, alice, EvtRosterChanged)

	// Public chat favors availability: the save fails but the broadcast
	// still goes out and the caller sees success.
	if err := router.SendPublic(context.Background(), "alice", "unsaved", ""); err != nil {
		t.Fatalf("SendPublic must tolerate store failure, got %v", err)
	}
	ev := recvUntil(t, alice, EvtPublicMessage)
	if ev.Message.Body != "unsaved" {
		t.Fatalf("unexpected body %q", ev.Message.Body)
	}
}

func TestSendPrivatePropagatesStoreFailure(t *testing.T) {
	hub := startHub(t)
	repo := newFakeRepo()
	repo.failSave = true
	router := NewRouter(repo, hub, nil, false)

	alice := join(t, hub, "alice")
	recvUntil(t, alice, EvtRosterChanged)

	// A private message without a stored record is data loss, so the
	// failure must reach the caller and nothing may be delivered.
	if _, err := router.SendPrivate(context.Background(), "alice", "bob", "secret"); err == nil {
		t.Fatal("SendPrivate must propagate store failure")
	}
	expectQuiet(t, alice, 50*time.Millisecond)
}

func TestSendPrivateEchoAndRecipientPush(t *testing.T) {
	hub := startHub(t)
	repo := newFakeRepo()
	router := NewRouter(repo, hub, nil, false)

	alice := join(t, hub, "alice")
	bob := join(t, hub, "bob")
	carol := join(t, hub, "carol")
	recvUntil(t, alice, EvtRosterChanged)
	recvUntil(t, bob, EvtRosterChanged)
	recvUntil(t, carol, EvtRosterChanged)

	m, err := router.SendPrivate(context.Background(), "bob", "alice", "secret")
	if err != nil {
		t.Fatalf("SendPrivate failed: %v", err)
	}
	if m.Room != models.PrivateRoom {
		t.Fatalf("expected private room sentinel, got %q", m.Room)
	}

	recvUntil(t, alice, EvtPrivateMessage)
	recvUntil(t, bob, EvtPrivateMessage)
	expectQuiet(t, carol, 50*time.Millisecond)
}

func TestSendPrivateOfflineRecipientStoredOnly(t *testing.T) {
	hub := startHub(t)
	repo := newFakeRepo()
	router := NewRouter(repo, hub, nil, false)

	alice := join(t, hub, "alice")
	recvUntil(t, alice, EvtRosterChanged)

	m, err := router.SendPrivate(context.Background(), "alice", "bob", "for later")
	if err != nil {
		t.Fatalf("SendPrivate failed: %v", err)
	}

	// Sender echo arrives; the record is retrievable as bob's history.
	recvUntil(t, alice, EvtPrivateMessage)
	history, err := router.PrivateHistoryFor(context.Background(), "bob")
	if err != nil {
		t.Fatalf("PrivateHistoryFor failed: %v", err)
	}
	if len(history) != 1 || history[0].ID != m.ID {
		t.Fatalf("offline recipient must find the message in history, got %v", history)
	}

	// A third user's history stays empty.
	other, _ := router.PrivateHistoryFor(context.Background(), "carol")
	if len(other) != 0 {
		t.Fatalf("third party must not see private history, got %v", other)
	}
}

func TestDeleteUnknownIDIsSilentNoop(t *testing.T) {
	hub := startHub(t)
	repo := newFakeRepo()
	router := NewRouter(repo, hub, nil, false)

	alice := join(t, hub, "alice")
	recvUntil(t, alice, EvtRosterChanged)

	if err := router.DeleteMessage(context.Background(), "no-such-id", "alice"); err != nil {
		t.Fatalf("unknown id must be a no-op, got %v", err)
	}
	expectQuiet(t, alice, 50*time.Millisecond)
}

func TestDeletePublicNotifiesEveryone(t *testing.T) {
	hub := startHub(t)
	repo := newFakeRepo()
	router := NewRouter(repo, hub, nil, false)

	alice := join(t, hub, "alice")
	bob := join(t, hub, "bob")
	recvUntil(t, alice, EvtUserJoined)
	recvUntil(t, bob, EvtRosterChanged)

	if err := router.SendPublic(context.Background(), "alice", "to delete", ""); err != nil {
		t.Fatal(err)
	}
	ev := recvUntil(t, alice, EvtPublicMessage)
	recvUntil(t, bob, EvtPublicMessage)

	if err := router.DeleteMessage(context.Background(), ev.Message.ID, "bob"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	for _, c := range []*Client{alice, bob} {
		del := recvUntil(t, c, EvtMessageDeleted)
		if del.ID != ev.Message.ID {
			t.Fatalf("unexpected deleted id %q", del.ID)
		}
	}
	if repo.has(ev.Message.ID) {
		t.Fatal("message must be gone from the store")
	}
}

func TestDeletePrivateNotifiesParticipantsOnly(t *testing.T) {
	hub := startHub(t)
	repo := newFakeRepo()
	router := NewRouter(repo, hub, nil, false)

	alice := join(t, hub, "alice")
	bob := join(t, hub, "bob")
	carol := join(t, hub, "carol")
	recvUntil(t, alice, EvtRosterChanged)
	recvUntil(t, bob, EvtRosterChanged)
	recvUntil(t, carol, EvtRosterChanged)

	m, err := router.SendPrivate(context.Background(), "alice", "bob", "delete me")
	if err != nil {
		t.Fatal(err)
	}
	recvUntil(t, alice, EvtPrivateMessage)
	recvUntil(t, bob, EvtPrivateMessage)

	if err := router.DeleteMessage(context.Background(), m.ID, "alice"); err != nil {
		t.Fatal(err)
	}

	recvUntil(t, alice, EvtMessageDeleted)
	recvUntil(t, bob, EvtMessageDeleted)
	expectQuiet(t, carol, 50*time.Millisecond)
}

func TestDeleteOwnerEnforcement(t *testing.T) {
	hub := startHub(t)
	repo := newFakeRepo()
	router := NewRouter(repo, hub, nil, true)

	alice := join(t, hub, "alice")
	recvUntil(t, alice, EvtRosterChanged)

	if err := router.SendPublic(context.Background(), "alice", "mine", ""); err != nil {
		t.Fatal(err)
	}
	ev := recvUntil(t, alice, EvtPublicMessage)

	if err := router.DeleteMessage(context.Background(), ev.Message.ID, "mallory"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if !repo.has(ev.Message.ID) {
		t.Fatal("denied delete must leave the message stored")
	}

	if err := router.DeleteMessage(context.Background(), ev.Message.ID, "alice"); err != nil {
		t.Fatalf("owner delete failed: %v", err)
	}
}

func TestClearAllEmptiesStoreAndNotifies(t *testing.T) {
	hub := startHub(t)
	repo := newFakeRepo()
	router := NewRouter(repo, hub, nil, false)

	alice := join(t, hub, "alice")
	recvUntil(t, alice, EvtRosterChanged)

	if err := router.SendPublic(context.Background(), "alice", "one", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := router.SendPrivate(context.Background(), "alice", "bob", "two"); err != nil {
		t.Fatal(err)
	}
	recvUntil(t, alice, EvtPublicMessage)
	recvUntil(t, alice, EvtPrivateMessage)

	if err := router.ClearAll(context.Background()); err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}
	recvUntil(t, alice, EvtAllCleared)

	if repo.count() != 0 {
		t.Fatalf("store must be empty after clear, got %d", repo.count())
	}
	history, _ := router.PublicHistory(context.Background())
	if len(history) != 0 {
		t.Fatalf("history must be empty after clear, got %v", history)
	}
}

func TestRelayPathWhenConnected(t *testing.T) {
	hub := startHub(t)
	repo := newFakeRepo()
	relay := &fakeRelay{connected: true}
	router := NewRouter(repo, hub, relay, false)

	alice := join(t, hub, "alice")
	recvUntil(t, alice, EvtRosterChanged)

	if err := router.SendPublic(context.Background(), "alice", "via relay", ""); err != nil {
		t.Fatal(err)
	}

	// With a healthy relay the message is published, not delivered directly;
	// fan-out happens only when the consume loop hands it back.
	if relay.publishedCount() != 1 {
		t.Fatalf("expected 1 publish, got %d", relay.publishedCount())
	}
	expectQuiet(t, alice, 50*time.Millisecond)

	router.HandleRelayed(context.Background(), relay.published[0])
	ev := recvUntil(t, alice, EvtPublicMessage)
	if ev.Message.Body != "via relay" {
		t.Fatalf("unexpected body %q", ev.Message.Body)
	}
}

func TestRelayedRedeliveryIsIdempotent(t *testing.T) {
	hub := startHub(t)
	repo := newFakeRepo()
	relay := &fakeRelay{connected: true}
	router := NewRouter(repo, hub, relay, false)

	alice := join(t, hub, "alice")
	recvUntil(t, alice, EvtRosterChanged)

	if err := router.SendPublic(context.Background(), "alice", "once", ""); err != nil {
		t.Fatal(err)
	}
	m := relay.published[0]

	// The publisher already saved the record; the consume loop saving again
	// must not duplicate it.
	router.HandleRelayed(context.Background(), m)
	if repo.count() != 1 {
		t.Fatalf("expected a single stored copy, got %d", repo.count())
	}
}

func TestRelayDisconnectFallsBackToDirect(t *testing.T) {
	hub := startHub(t)
	repo := newFakeRepo()
	relay := &fakeRelay{connected: true}
	router := NewRouter(repo, hub, relay, false)

	alice := join(t, hub, "alice")
	recvUntil(t, alice, EvtRosterChanged)

	// Relay drops mid-run: the next send must reach clients directly, and
	// nothing is enqueued on the broker to come back a second time.
	relay.mu.Lock()
	relay.connected = false
	relay.mu.Unlock()

	if err := router.SendPublic(context.Background(), "alice", "degraded", ""); err != nil {
		t.Fatal(err)
	}
	ev := recvUntil(t, alice, EvtPublicMessage)
	if ev.Message.Body != "degraded" {
		t.Fatalf("unexpected body %q", ev.Message.Body)
	}
	if relay.publishedCount() != 0 {
		t.Fatal("nothing may be published while disconnected")
	}
	expectQuiet(t, alice, 50*time.Millisecond)
}

func TestRelayPublishErrorDegradesInline(t *testing.T) {
	hub := startHub(t)
	repo := newFakeRepo()
	relay := &fakeRelay{connected: true, failNext: true}
	router := NewRouter(repo, hub, relay, false)

	alice := join(t, hub, "alice")
	recvUntil(t, alice, EvtRosterChanged)

	if err := router.SendPublic(context.Background(), "alice", "rescued", ""); err != nil {
		t.Fatal(err)
	}
	ev := recvUntil(t, alice, EvtPublicMessage)
	if ev.Message.Body != "rescued" {
		t.Fatalf("unexpected body %q", ev.Message.Body)
	}
}
