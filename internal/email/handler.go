// Package email is the outgoing-mail endpoint the notification worker calls.
// Nothing is relayed over SMTP; accepted messages are logged and kept in a
// bounded mailbox for inspection.
package email

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"time"
)

const defaultMailboxSize = 100

type Message struct {
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

type Handler struct {
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	mailbox []Message
	limit   int
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{
		logger: logger,
		now:    time.Now,
		limit:  defaultMailboxSize,
	}
}

func (h *Handler) Register(mux *http.ServeMux, wrap func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("POST /send", wrap(h.HandleSend))
	mux.HandleFunc("GET /emails", wrap(h.HandleList))
}

type sendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	addr, err := mail.ParseAddress(req.To)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid recipient")
		return
	}
	if strings.TrimSpace(req.Subject) == "" {
		h.writeError(w, http.StatusBadRequest, "missing subject")
		return
	}

	msg := Message{To: addr.Address, Subject: req.Subject, Body: req.Body, SentAt: h.now().UTC()}
	h.store(msg)

	h.logger.Info("email sent", "to", msg.To, "subject", msg.Subject, "body_bytes", len(msg.Body))
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// HandleList returns the mailbox, newest first, optionally filtered by ?to=.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	to := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("to")))

	h.mu.Lock()
	out := make([]Message, 0, len(h.mailbox))
	for i := len(h.mailbox) - 1; i >= 0; i-- {
		if to == "" || strings.ToLower(h.mailbox[i].To) == to {
			out = append(out, h.mailbox[i])
		}
	}
	h.mu.Unlock()

	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) store(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.mailbox) == h.limit {
		copy(h.mailbox, h.mailbox[1:])
		h.mailbox = h.mailbox[:len(h.mailbox)-1]
	}
	h.mailbox = append(h.mailbox, msg)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
