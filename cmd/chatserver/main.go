package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/casacultural/livechat/internal/api"
	"github.com/casacultural/livechat/internal/config"
	"github.com/casacultural/livechat/internal/hub"
	"github.com/casacultural/livechat/internal/messaging"
	"github.com/casacultural/livechat/internal/protocol"
	"github.com/casacultural/livechat/internal/ratelimit"
	"github.com/casacultural/livechat/internal/role"
	"github.com/casacultural/livechat/internal/service"
	"github.com/casacultural/livechat/internal/store"
	"github.com/casacultural/livechat/internal/ws"
)

func main() {
	cfg := config.MustLoad()

	// --- Storage ---
	var messages store.MessageStore = store.NewMemoryStore()
	var moderators role.ModeratorStore = role.NewMemoryModerators()
	var db *sqlx.DB
	if cfg.Postgres.URL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		var err error
		db, err = store.Open(ctx, cfg.Postgres.URL)
		cancel()
		if err != nil {
			log.Fatalf("failed to connect to Postgres: %v", err)
		}
		if err := store.Migrate(db.DB); err != nil {
			log.Fatalf("failed to migrate: %v", err)
		}
		messages = store.NewPostgresStore(db)
		moderators = role.NewPostgresModerators(db)
	}

	// --- Hub / NATS ---
	h := hub.New(cfg.Hub())
	var natsClient *messaging.NATSClient
	if cfg.NATS.URL != "" {
		var err error
		natsClient, err = messaging.NewNATSClient(cfg.NATSClient())
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		if err := h.UseRelay(natsClient); err != nil {
			log.Fatalf("failed to subscribe to stream events: %v", err)
		}
	}

	svc := service.NewChat(messages, role.NewResolver(moderators), h)

	dispatcher := ws.NewMessageDispatcher()
	dispatcher.Register(protocol.TypePresenceQuery, func(conn *ws.Connection, _ []byte) {
		resp, err := protocol.NewEvent(protocol.TypePresence, protocol.PresenceData{
			StreamID: conn.StreamID,
			Viewers:  h.Viewers(conn.StreamID),
		})
		if err != nil {
			return
		}
		if err := conn.WriteMessage(resp); err != nil {
			log.Printf("[presence] send to sink=%s failed: %v", conn.ID(), err)
		}
	})

	server := ws.NewServer(cfg.WS(), h, dispatcher.Dispatch)

	// --- Redis ---
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		limiter := ratelimit.NewLimiter(rdb)
		svc.SetLimiter(limiter, cfg.MessageRule())
		server.SetLimiter(limiter)
	}

	server.SetHandler(api.NewRouter(api.New(svc, cfg.Server.AdminToken), server))

	log.Printf("Live chat server starting")
	log.Printf("  listen_addr:     %s", cfg.Server.ListenAddr)
	log.Printf("  worker_pool:     %d", cfg.Server.WorkerPoolSize)
	log.Printf("  max_connections: %d", cfg.Server.MaxConnections)
	log.Printf("  postgres:        %v", db != nil)
	log.Printf("  redis:           %v", rdb != nil)
	log.Printf("  nats:            %v", natsClient != nil)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if natsClient != nil {
			natsClient.Close()
		}
		if rdb != nil {
			rdb.Close()
		}
		if db != nil {
			db.Close()
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
