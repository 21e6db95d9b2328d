package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-service/internal/api"
	"chat-service/internal/auth"
	"chat-service/internal/chat"
	"chat-service/internal/config"
	"chat-service/internal/db"
	"chat-service/internal/relay"
	"chat-service/internal/repository"
	"chat-service/internal/tasks"

	"github.com/google/uuid"
)

func main() {

	cfg := config.Load()
	auth.Init(cfg.AuthKey)

	serverID := cfg.ServerID
	if serverID == "" {
		serverID = uuid.NewString()
	}
	log.Printf("[MAIN] Server instance id: %s", serverID)

	pool, err := db.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
		return
	}
	defer pool.Close()

	repo := repository.NewMessagesRepo(pool)

	h := chat.NewHub()
	go h.Run()

	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()

	// The relay is a soft dependency: without REDIS_URL (or with the broker
	// down) the router falls back to direct fan-out and the server stays up.
	var rl *relay.Relay
	var routerRelay chat.Relay
	var healthRelay api.RelayStatus
	if cfg.RedisURL != "" {
		rl, err = relay.New(cfg.RedisURL, cfg.RelayChannel, serverID, cfg.RelayMaxRetries, cfg.RelayRetryBase)
		if err != nil {
			log.Printf("[MAIN] Relay misconfigured, continuing without it: %v", err)
		} else {
			routerRelay = rl
			healthRelay = rl
		}
	}

	router := chat.NewRouter(repo, h, routerRelay, cfg.DeleteRequireOwner)

	if rl != nil {
		rl.SetHandler(router.HandleRelayed)
		rl.Start(relayCtx)
		defer rl.Close()
	}

	sweeper := tasks.NewRetentionSweeper(repo, cfg.RetentionDays)
	sweeper.Start()

	restServer := api.NewServer(repo, h, router, healthRelay)
	routes := restServer.Routes(chat.ServeWS(h, router, cfg.AuthRequired))

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           routes,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Printf("🚀 Chat service starting on :%s...\n", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	<-stop

	fmt.Println("\nShutdown signal received. Cleaning up...")
	stopRelay()
	close(h.Quit)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}

	fmt.Println("Graceful shutdown complete. Goodnight!")
}
