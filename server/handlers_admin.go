package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/onnwee/hatbot/rules"
	"github.com/onnwee/hatbot/telemetry"
)

const maxRuleBody = 16 << 10

// HandleListRules returns a channel's actions in evaluation order.
func (h *Handlers) HandleListRules(w http.ResponseWriter, r *http.Request) {
	e, ok := h.deps.Router.Engine(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown channel")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channel":  e.Name(),
		"cooldown": e.Cooldown().String(),
		"actions":  e.Actions(),
	})
}

// HandleAddRule appends one action to a channel at the lowest priority. The
// body is an action in the rules document's JSON form.
func (h *Handlers) HandleAddRule(w http.ResponseWriter, r *http.Request) {
	e, ok := h.deps.Router.Engine(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown channel")
		return
	}
	var a rules.Action
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRuleBody))
	if err := dec.Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid action JSON: "+err.Error())
		return
	}
	if err := e.AddAction(a); err != nil {
		var pe *rules.PatternCompileError
		if errors.As(err, &pe) {
			writeError(w, http.StatusBadRequest, pe.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("rule added via admin api",
		slog.String("channel", e.Name()), slog.String("trigger", a.Trigger.String()))
	writeJSON(w, http.StatusCreated, map[string]any{
		"channel": e.Name(),
		"action":  a,
		"rules":   len(e.Actions()),
	})
}

// HandleSaveConfig writes the live rule set back to the rules document.
func (h *Handlers) HandleSaveConfig(w http.ResponseWriter, r *http.Request) {
	if h.deps.RulesPath == "" {
		writeError(w, http.StatusServiceUnavailable, "no rules path configured")
		return
	}
	h.saveMu.Lock()
	defer h.saveMu.Unlock()

	cfg := h.deps.Router.Config(h.deps.Providers)
	if err := rules.Save(h.deps.RulesPath, cfg); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("save rules failed", slog.String("path", h.deps.RulesPath), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("rules saved", slog.String("path", h.deps.RulesPath), slog.Int("channels", len(cfg.Channels)))
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "path": h.deps.RulesPath, "channels": len(cfg.Channels)})
}
