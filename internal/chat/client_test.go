package chat

import (
	"context"
	"testing"
	"time"

	"chat-service/internal/middleware"
)

func newCommandClient(t *testing.T, hub *Hub, router *Router) *Client {
	t.Helper()
	return NewClient(hub, router, nil, middleware.NewRatelimiter(100, time.Millisecond))
}

func waitResolve(t *testing.T, hub *Hub, username string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !hub.Resolve(username) {
		if time.Now().After(deadline) {
			t.Fatalf("%s never appeared in the registry", username)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestJoinCommandRegistersAndSnapshots(t *testing.T) {
	hub := startHub(t)
	repo := newFakeRepo()
	router := NewRouter(repo, hub, nil, false)

	if err := router.SendPublic(context.Background(), "earlier", "old news", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := router.SendPrivate(context.Background(), "earlier", "alice", "psst"); err != nil {
		t.Fatal(err)
	}

	c := newCommandClient(t, hub, router)
	c.handle(&Command{Type: CmdJoin, Username: " alice "})

	waitResolve(t, hub, "alice")

	// The roster broadcast races the snapshot pushes, so collect by type.
	got := map[EventType]*Event{}
	for len(got) < 3 {
		ev := recvEvent(t, c)
		got[ev.Type] = ev
	}

	roster, ok := got[EvtRosterChanged]
	if !ok || len(roster.Users) != 1 || roster.Users[0] != "alice" {
		t.Fatalf("unexpected roster event: %+v", roster)
	}

	history, ok := got[EvtHistory]
	if !ok || len(history.Messages) != 1 || history.Messages[0].Body != "old news" {
		t.Fatalf("unexpected public snapshot: %+v", history)
	}

	private, ok := got[EvtPrivateHistory]
	if !ok || len(private.Messages) != 1 || private.Messages[0].Body != "psst" {
		t.Fatalf("unexpected private snapshot: %+v", private)
	}
}

func TestJoinCommandRejectsEmptyUsername(t *testing.T) {
	hub := startHub(t)
	router := NewRouter(newFakeRepo(), hub, nil, false)

	c := newCommandClient(t, hub, router)
	c.handle(&Command{Type: CmdJoin, Username: "   "})

	ev := recvUntil(t, c, EvtError)
	if ev.Error == "" {
		t.Fatal("expected an error payload")
	}
	if c.joined {
		t.Fatal("client must not be marked joined")
	}
}

func TestSendBeforeJoinIsRejected(t *testing.T) {
	hub := startHub(t)
	repo := newFakeRepo()
	router := NewRouter(repo, hub, nil, false)

	c := newCommandClient(t, hub, router)
	c.handle(&Command{Type: CmdSendPublic, Body: "too eager"})

	recvUntil(t, c, EvtError)
	if repo.count() != 0 {
		t.Fatal("commands before join must not reach the store")
	}
}

func TestUnknownCommandProducesError(t *testing.T) {
	hub := startHub(t)
	router := NewRouter(newFakeRepo(), hub, nil, false)

	c := newCommandClient(t, hub, router)
	c.handle(&Command{Type: "dance"})

	recvUntil(t, c, EvtError)
}

func TestTicketPinsJoinUsername(t *testing.T) {
	hub := startHub(t)
	router := NewRouter(newFakeRepo(), hub, nil, false)

	c := newCommandClient(t, hub, router)
	c.ticketUser = "alice"
	c.handle(&Command{Type: CmdJoin, Username: "mallory"})

	recvUntil(t, c, EvtError)
	if hub.Resolve("mallory") {
		t.Fatal("a ticketed connection must not join under another name")
	}

	c.handle(&Command{Type: CmdJoin, Username: "alice"})
	waitResolve(t, hub, "alice")
}
