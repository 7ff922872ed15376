package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tracklink/decoder/internal/cache"
	"tracklink/decoder/internal/config"
	"tracklink/decoder/internal/protocol"
	"tracklink/decoder/internal/protocol/gt06"
	"tracklink/decoder/internal/protocol/h02"
	"tracklink/decoder/internal/publisher"
	"tracklink/decoder/internal/server"
)

func main() {
	log.Println("[app] starting tracklink decoder")

	cfg := config.Load()
	log.Printf("[app] configuration loaded: node=%s h02=:%d gt06=:%d", cfg.NodeID, cfg.PortH02, cfg.PortGT06)

	store, err := cache.New(cfg.RedisURL, cfg.NodeID)
	if err != nil {
		log.Fatalf("[app] redis: %v", err)
	}
	if store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := store.Ping(ctx); err != nil {
			log.Printf("[redis] unreachable, continuing without session registry: %v", err)
		} else {
			log.Println("[redis] connected")
		}
		cancel()
		defer store.Close()
	}

	pub, err := publisher.Connect(cfg.NATSURL, cfg.PublishMaxAttempts, cfg.PublishBackoffBase, cfg.BrokerStartupFatal)
	if err != nil {
		log.Fatalf("[app] broker: %v", err)
	}
	defer pub.Close()

	registry := protocol.NewRegistry()
	for port, dec := range map[int]protocol.Decoder{
		cfg.PortH02:  h02.New(),
		cfg.PortGT06: gt06.New(),
	} {
		if port == 0 {
			continue
		}
		if err := registry.Register(port, dec); err != nil {
			log.Fatalf("[app] registry: %v", err)
		}
	}

	sup := server.New(cfg, registry, pub, store)
	if err := sup.Start(); err != nil {
		log.Fatalf("[app] startup failed: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Printf("[app] received signal %s, shutting down", sig)

	sup.Stop()
	log.Println("[app] decoder stopped")
}
