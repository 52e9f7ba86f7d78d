package http

import (
	"net/http"
	"time"

	"cadence/internal/core"
	applog "cadence/internal/log"
)

type materializeResponse struct {
	Created int    `json:"created"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

type transactionsResponse struct {
	Transactions []core.Transaction `json:"transactions"`
}

type ruleResponse struct {
	Rule *core.RecurrenceRule `json:"rule"`
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, applog.OpCreate, err)
		return
	}
	rule, err := req.toRule()
	if err != nil {
		writeError(w, r, applog.OpCreate, err)
		return
	}
	created, err := s.svc.CreateRule(r.Context(), rule)
	if err != nil {
		writeError(w, r, applog.OpCreate, err)
		return
	}
	w.Header().Set("Location", "/rules/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.svc.GetRule(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeactivateRule(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeactivateRule(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, applog.OpDeactivate, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMaterialize(w http.ResponseWriter, r *http.Request) {
	win, err := ParseWindowParams(r.URL.Query())
	if err != nil {
		writeError(w, r, applog.OpMaterialize, err)
		return
	}
	created, err := s.svc.MaterializeForRange(r.Context(), win.Start, win.End)
	if err != nil {
		writeError(w, r, applog.OpMaterialize, err)
		return
	}
	writeJSON(w, http.StatusOK, materializeResponse{
		Created: created,
		Start:   win.Start.String(),
		End:     win.End.String(),
	})
}

// handleListTransactions materializes the window before reading it, so the
// response always includes due recurring rows.
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	win, err := ParseWindowParams(r.URL.Query())
	if err != nil {
		writeError(w, r, applog.OpList, err)
		return
	}
	txs, err := s.svc.ListTransactions(r.Context(), win.Start, win.End)
	if err != nil {
		writeError(w, r, applog.OpList, err)
		return
	}
	if txs == nil {
		txs = []core.Transaction{}
	}
	writeJSON(w, http.StatusOK, transactionsResponse{Transactions: txs})
}

func (s *Server) handleRuleForTransaction(w http.ResponseWriter, r *http.Request) {
	rule, err := s.svc.GetRuleForTransaction(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, ruleResponse{Rule: rule})
}

// handleUpdateRecurring applies a scoped edit. The scope comes from the
// query string and decides which payload fields are accepted.
func (s *Server) handleUpdateRecurring(w http.ResponseWriter, r *http.Request) {
	scope, err := core.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		writeError(w, r, applog.OpUpdate, err)
		return
	}
	var payload core.EditPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, applog.OpUpdate, err)
		return
	}
	edit, err := core.DecodeEdit(scope, payload)
	if err != nil {
		writeError(w, r, applog.OpUpdate, err)
		return
	}
	if err := s.svc.UpdateRecurringTransaction(r.Context(), r.PathValue("id"), edit); err != nil {
		writeError(w, r, applog.OpUpdate, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.SkipOccurrence(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, applog.OpSkip, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
