package chat

import (
	"encoding/json"
	"log"
	"sync"

	"chat-service/internal/metrics"
	"chat-service/internal/models"
)

// delivery is one fan-out unit. An empty target set means every live
// connection; otherwise only the named usernames receive the event.
// exclude skips one username on a full broadcast (join/leave notices).
type delivery struct {
	event   *Event
	only    []string
	exclude string
}

// Hub owns the presence registry: the one username -> live connection map
// shared by every goroutine in the process. All mutations happen inside Run,
// so a joining user is never observed half-registered; reads from other
// goroutines go through the RWMutex.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	Register   chan *Client
	Unregister chan *Client
	deliveries chan delivery
	Quit       chan struct{}
}

func NewHub() *Hub {
	log.Println("[HUB] Initializing new Hub instance...")
	return &Hub{
		clients:    make(map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		deliveries: make(chan delivery, 256),
		Quit:       make(chan struct{}),
	}
}

// Roster returns the usernames currently reachable. Order carries no meaning.
func (h *Hub) Roster() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	users := make([]string, 0, len(h.clients))
	for name := range h.clients {
		users = append(users, name)
	}
	return users
}

// Resolve reports whether username has a live connection right now.
func (h *Hub) Resolve(username string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[username]
	return ok
}

// DeliverMessage is the single fan-out entry point: public messages go to
// every live connection, private messages to sender and recipient only.
// Both the router's direct path and the relay consume loop land here.
func (h *Hub) DeliverMessage(m *models.Message) {
	d := delivery{event: messageEvent(m)}
	if m.IsPrivate() {
		sender, recipient := m.Participants()
		d.only = []string{sender}
		if recipient != sender {
			d.only = append(d.only, recipient)
		}
	}
	h.enqueue(d)
}

// BroadcastAll pushes an event to every live connection.
func (h *Hub) BroadcastAll(ev *Event) {
	h.enqueue(delivery{event: ev})
}

// BroadcastExcept pushes an event to everyone but the named user.
func (h *Hub) BroadcastExcept(ev *Event, username string) {
	h.enqueue(delivery{event: ev, exclude: username})
}

// SendTo pushes an event to the named users only; offline names are skipped.
func (h *Hub) SendTo(ev *Event, usernames ...string) {
	h.enqueue(delivery{event: ev, only: usernames})
}

func (h *Hub) enqueue(d delivery) {
	select {
	case h.deliveries <- d:
	case <-h.Quit:
	}
}

func (h *Hub) Run() {
	log.Println("[HUB] Main loop started. Listening for events...")
	for {
		select {
		case <-h.Quit:
			log.Println("[HUB] Quit signal received. Shutting down all client connections...")
			h.mu.Lock()
			for name, client := range h.clients {
				delete(h.clients, name)
				client.close()
			}
			h.mu.Unlock()
			metrics.ConnectedClients.Set(0)
			return

		case client := <-h.Register:
			log.Printf("[HUB] Registration request: %s", client.username)
			h.mu.Lock()
			old, replaced := h.clients[client.username]
			h.clients[client.username] = client
			total := len(h.clients)
			h.mu.Unlock()

			if replaced && old != client {
				// The newer session owns the name from here on. The old
				// connection is not closed; it just stops being addressable
				// and will unregister itself whenever it drops.
				log.Printf("[HUB] Session for %s replaced by a newer connection", client.username)
			}

			metrics.ConnectedClients.Set(float64(total))
			log.Printf("[HUB] Successfully registered %s. Total active: %d", client.username, total)

			h.fanout(delivery{event: &Event{Type: EvtRosterChanged, Users: h.Roster()}})
			h.fanout(delivery{
				event:   &Event{Type: EvtUserJoined, Username: client.username},
				exclude: client.username,
			})

		case client := <-h.Unregister:
			h.mu.Lock()
			owner := client.username != "" && h.clients[client.username] == client
			if owner {
				delete(h.clients, client.username)
			}
			total := len(h.clients)
			h.mu.Unlock()

			client.close()

			if !owner {
				// Stale disconnect: a newer session already took the slot,
				// or the client never joined. Nothing to announce.
				continue
			}

			metrics.ConnectedClients.Set(float64(total))
			log.Printf("[HUB] Unregistered %s. Active clients remaining: %d", client.username, total)

			h.fanout(delivery{event: &Event{Type: EvtRosterChanged, Users: h.Roster()}})
			h.fanout(delivery{
				event:   &Event{Type: EvtUserLeft, Username: client.username},
				exclude: client.username,
			})

		case d := <-h.deliveries:
			h.fanout(d)
		}
	}
}

// fanout runs on the hub goroutine only.
func (h *Hub) fanout(d delivery) {
	payload, err := json.Marshal(d.event)
	if err != nil {
		log.Printf("[HUB] Failed to encode %s event: %v", d.event.Type, err)
		return
	}

	if len(d.only) > 0 {
		for _, name := range d.only {
			if client, ok := h.clients[name]; ok {
				h.push(client, payload)
			}
		}
		return
	}

	for name, client := range h.clients {
		if d.exclude != "" && name == d.exclude {
			continue
		}
		h.push(client, payload)
	}
}

func (h *Hub) push(c *Client, payload []byte) {
	if !c.trySend(payload) {
		log.Printf("[HUB] WARNING: Client %s buffer full. Evicting slow consumer.", c.username)
		go func() {
			select {
			case h.Unregister <- c:
			case <-h.Quit:
			}
		}()
	}
}
