package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"siembridge/internal/scheduler"
)

const alertsWriteTimeout = 5 * time.Second

var alertsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

// handleAlertsWS streams the alert feed: the current payload on connect, then
// a push per refresh interval. The client's table stays live without polling.
func (s *Server) handleAlertsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := alertsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.serveAlertsConnection(conn)
}

func (s *Server) serveAlertsConnection(conn *websocket.Conn) {
	defer conn.Close()

	if err := s.pushAlerts(conn); err != nil {
		return
	}

	ticker := time.NewTicker(s.pushInterval)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ticker.C:
			if err := s.pushAlerts(conn); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) pushAlerts(conn *websocket.Conn) error {
	ctx, cancel := context.WithTimeout(context.Background(), alertsWriteTimeout)
	defer cancel()

	payload, err := s.alertsPayload(ctx)
	if err != nil {
		// Keep the connection; the next tick may find a repopulated cache.
		s.logger.Warn("alert stream push skipped", "error", err)
		return nil
	}

	_ = conn.SetWriteDeadline(time.Now().Add(alertsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Server) alertsPayload(ctx context.Context) ([]byte, error) {
	job := s.jobs["alerts"]
	entry, ok, err := s.store.Get(ctx, job.CacheKey)
	if err == nil && ok {
		return entry.Value, nil
	}
	return scheduler.Materialize(ctx, s.store, s.logger, job)
}
