package server

import (
	"errors"
	"net/http"
)

// HandleHealthz is the liveness check; the process answering is enough.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz runs the readiness checks for the configured components.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	type check struct {
		name string
		fn   func() error
	}
	var checks []check
	if h.deps.Tokens != nil {
		checks = append(checks, check{"database", func() error { return h.deps.Tokens.Ping(r.Context()) }})
	}
	if h.deps.Chat != nil {
		checks = append(checks, check{"chat", func() error {
			if !h.deps.Chat.Connected() {
				return errors.New("not connected to twitch chat")
			}
			return nil
		}})
	}

	for _, c := range checks {
		if err := c.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": c.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type channelStatus struct {
	Name         string `json:"name"`
	Cooldown     string `json:"cooldown"`
	Rules        int    `json:"rules"`
	TrackedUsers int    `json:"tracked_users"`
}

// HandleStatus summarizes every channel engine.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	channels := make([]channelStatus, 0)
	for _, name := range h.deps.Router.Channels() {
		e, _ := h.deps.Router.Engine(name)
		channels = append(channels, channelStatus{
			Name:         e.Name(),
			Cooldown:     e.Cooldown().String(),
			Rules:        len(e.Actions()),
			TrackedUsers: e.CooldownSize(),
		})
	}
	out := map[string]any{
		"channels":  channels,
		"providers": len(h.deps.Providers),
	}
	if h.deps.Chat != nil {
		out["chat_connected"] = h.deps.Chat.Connected()
	}
	writeJSON(w, http.StatusOK, out)
}
