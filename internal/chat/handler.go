package chat

import (
	"log"
	"net/http"
	"time"

	"chat-service/internal/auth"
	"chat-service/internal/middleware"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  512,
	WriteBufferSize: 512,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades the connection and starts the client pumps. The client is
// not registered with the hub until its join command arrives; until then it
// is reachable only by its own goroutines.
//
// When requireTicket is set the upgrade demands a valid chat ticket in the
// "ticket" query parameter; the join command must then match the ticket's
// username.
func ServeWS(hub *Hub, router *Router, requireTicket bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ticketUser string
		if requireTicket {
			claims, err := auth.ValidateTicket(r.URL.Query().Get("ticket"))
			if err != nil {
				log.Printf("[WS] Rejected upgrade from %s: %v", r.RemoteAddr, err)
				http.Error(w, "valid ticket required", http.StatusUnauthorized)
				return
			}
			ticketUser = claims.Username
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[WS] Upgrade error: %v", err)
			return
		}

		limiter := middleware.NewRatelimiter(5, 500*time.Millisecond)
		client := NewClient(hub, router, conn, limiter)
		client.ticketUser = ticketUser

		go client.WritePump()
		go client.ReadPump()
	}
}
