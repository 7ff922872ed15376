package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// serveHTTP runs the ops endpoints until shutdown: /health for probes and
// /sessions for a live view of tracker connections on this node.
func (s *Supervisor) serveHTTP(ctx context.Context) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)
	router.GET("/sessions", s.handleSessions)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.HTTPPort),
		Handler: router,
	}

	go func() {
		log.Printf("[web] listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[web] server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

func (s *Supervisor) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":  "ok",
		"node_id": s.cfg.NodeID,
	}
	if c.Query("debug") == "true" {
		body["commit"] = s.cfg.CommitHash
	}
	c.JSON(http.StatusOK, body)
}

func (s *Supervisor) handleSessions(c *gin.Context) {
	c.JSON(http.StatusOK, s.SessionInfos())
}
