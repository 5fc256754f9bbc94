package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.io/infrasutra/postbox/internal/auth"
	"github.io/infrasutra/postbox/internal/badge"
	"github.io/infrasutra/postbox/internal/metrics"
	"github.io/infrasutra/postbox/internal/sse"
)

const pingInterval = 20 * time.Second

func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := badge.FetchCounts(r.Context(), s.mailbox, ownerFrom(r.Context()))
	if err != nil {
		s.fail(w, r, "fetch counts", err)
		return
	}
	respondJSON(w, http.StatusOK, counts)
}

// handleStream runs a badge synchronizer for the session and pushes a counts
// event whenever a counter changes. Change notifications for the owner are
// forwarded and trigger an extra pass. The stream ends when the client goes
// away or the session stops resolving.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	owner := ownerFrom(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	changes, unsubscribe := s.hub.Subscribe(owner)
	defer unsubscribe()

	badges := badge.NewStore()
	updates, stopUpdates := badges.Subscribe()
	defer stopUpdates()

	identity := func() auth.Identity { return s.resolve(r) }
	syncer := badge.NewSynchronizer(s.mailbox, identity, badges, s.logger, badge.WithInterval(s.cfg.SyncInterval))

	ctx, cancel := context.WithCancel(r.Context())
	syncDone := make(chan error, 1)
	go func() { syncDone <- syncer.Run(ctx) }()
	var syncErr error
	finished := false
	defer func() {
		cancel()
		if !finished {
			<-syncDone
		}
	}()

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	write := func(event sse.Event) bool {
		if _, err := w.Write(event.Format()); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !write(sse.Event{Name: sse.EventReady}) {
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case syncErr = <-syncDone:
			finished = true
			if errors.Is(syncErr, auth.ErrSignedOut) {
				s.logger.Info("stream closed", "owner", owner, "reason", syncErr)
			} else if syncErr != nil {
				s.logger.Warn("badge sync stopped", "owner", owner, "error", syncErr)
			}
			return
		case counts, ok := <-updates:
			if !ok {
				return
			}
			event, err := sse.NewEvent(sse.EventCounts, counts)
			if err != nil {
				s.logger.Warn("encode counts", "error", err)
				continue
			}
			if !write(event) {
				return
			}
		case event, ok := <-changes:
			if !ok {
				return
			}
			syncer.Trigger()
			if !write(event) {
				return
			}
		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
