package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.io/infrasutra/postbox/internal/mailbox"
	"github.io/infrasutra/postbox/internal/metrics"
	"github.io/infrasutra/postbox/internal/pagination"
	"github.io/infrasutra/postbox/internal/store"
)

type listResponse struct {
	Messages   []store.Message `json:"messages"`
	NextCursor string          `json:"nextCursor"`
	HasMore    bool            `json:"hasMore"`
}

// handleListMessages serves one forward page. One extra row is read to know
// whether another page exists.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())
	params, err := s.parseParams(r)
	if err != nil {
		s.fail(w, r, "list messages", err)
		return
	}
	after, err := store.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		s.fail(w, r, "list messages", err)
		return
	}

	rows, err := s.mailbox.FetchPage(r.Context(), store.Query{
		Filter: params.Filter(owner),
		Limit:  params.PageSize + 1,
		After:  after,
	})
	if err != nil {
		s.fail(w, r, "list messages", err)
		return
	}

	response := listResponse{Messages: rows}
	if len(rows) > params.PageSize {
		response.Messages = rows[:params.PageSize]
		response.HasMore = true
		response.NextCursor = store.CursorFor(response.Messages[params.PageSize-1]).Encode()
	}
	if response.Messages == nil {
		response.Messages = []store.Message{}
	}
	respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleCountMessages(w http.ResponseWriter, r *http.Request) {
	params, err := s.parseParams(r)
	if err != nil {
		s.fail(w, r, "count messages", err)
		return
	}
	count, err := s.mailbox.FetchCount(r.Context(), params.Filter(ownerFrom(r.Context())))
	if err != nil {
		s.fail(w, r, "count messages", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (s *Server) parseParams(r *http.Request) (*pagination.Params, error) {
	return pagination.ParseParams(r.URL.Query(), pagination.WithDefaultPageSize(s.cfg.PageSize))
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	message, err := s.mailbox.Get(r.Context(), ownerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, "get message", err)
		return
	}
	respondJSON(w, http.StatusOK, message)
}

func (s *Server) handleRawMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	raw, err := s.mailbox.ExportRFC822(r.Context(), ownerFrom(r.Context()), id)
	if err != nil {
		s.fail(w, r, "export message", err)
		return
	}
	w.Header().Set("Content-Type", "message/rfc822")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=message-%s.eml", id))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := s.mailbox.MarkRead(r.Context(), ownerFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, "mark read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStar sets the flag when the body names a value and toggles it
// otherwise.
func (s *Server) handleStar(w http.ResponseWriter, r *http.Request) {
	owner, id := ownerFrom(r.Context()), chi.URLParam(r, "id")
	var payload struct {
		Starred *bool `json:"starred"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	if payload.Starred == nil {
		starred, err := s.mailbox.ToggleStar(r.Context(), owner, id)
		if err != nil {
			s.fail(w, r, "toggle star", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]bool{"starred": starred})
		return
	}
	if err := s.mailbox.SetStarred(r.Context(), owner, id, *payload.Starred); err != nil {
		s.fail(w, r, "set star", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"starred": *payload.Starred})
}

func (s *Server) handleTrash(w http.ResponseWriter, r *http.Request) {
	if err := s.mailbox.MoveToTrash(r.Context(), ownerFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, "move to trash", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	folder, err := s.mailbox.Restore(r.Context(), ownerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, "restore", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]store.Folder{"folder": folder})
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := s.mailbox.DeletePermanently(r.Context(), ownerFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, "delete message", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteMany(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	deleted, err := s.mailbox.DeleteMany(r.Context(), ownerFrom(r.Context()), payload.IDs)
	if err != nil {
		s.fail(w, r, "delete messages", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (s *Server) handleClearTrash(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.mailbox.ClearTrash(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		s.fail(w, r, "clear trash", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (s *Server) handleClearStarred(w http.ResponseWriter, r *http.Request) {
	updated, err := s.mailbox.ClearStarred(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		s.fail(w, r, "clear starred", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

type sendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Content string `json:"content"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var payload sendRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	sent, err := s.mailbox.Send(r.Context(), ownerFrom(r.Context()), mailbox.Draft{
		To:      strings.TrimSpace(payload.To),
		Subject: payload.Subject,
		Content: payload.Content,
	})
	if err != nil {
		if !mailbox.IsValidation(err) {
			metrics.SendFailures.Inc()
		}
		s.fail(w, r, "send message", err)
		return
	}
	metrics.MessagesSent.WithLabelValues("api").Inc()
	respondJSON(w, http.StatusCreated, sent.Outbox)
}
