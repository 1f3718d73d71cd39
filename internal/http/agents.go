package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/rishsane/humuter-sub000/internal/store"
	"github.com/rishsane/humuter-sub000/internal/usage"
)

type agentView struct {
	ID       string              `json:"id"`
	Key      string              `json:"key"`
	Name     string              `json:"name"`
	Plan     string              `json:"plan"`
	Status   string              `json:"status"`
	Usage    store.Usage         `json:"usage"`
	Limits   limitsView          `json:"limits"`
	Routes   map[string][]string `json:"routes,omitempty"`
	FAQCount int                 `json:"faq_count"`
}

type limitsView struct {
	TokenCeiling  int64 `json:"token_ceiling"`
	MessageCap    int64 `json:"message_cap"`
	DailyGroupCap int64 `json:"daily_group_cap"`
}

func newAgentView(a *store.AgentData) agentView {
	p := usage.PlanFor(a.Plan)
	return agentView{
		ID:       a.ID.String(),
		Key:      a.Key,
		Name:     a.Name,
		Plan:     a.Plan,
		Status:   a.Status,
		Usage:    a.Usage,
		Limits:   limitsView{TokenCeiling: p.TokenCeiling, MessageCap: p.MessageCap, DailyGroupCap: p.DailyGroupCap},
		Routes:   a.Routes,
		FAQCount: len(a.TrainingData.FAQ),
	}
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.agents.List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	out := make([]agentView, 0, len(agents))
	for i := range agents {
		out = append(out, newAgentView(&agents[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": out})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.agents.GetByKey(r.Context(), r.PathValue("key"))
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, newAgentView(a))
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (s *Server) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.EscalationListOpts{Status: q.Get("status"), Limit: defaultListLimit}

	switch opts.Status {
	case "", store.EscalationStatusPending, store.EscalationStatusResolved, store.EscalationStatusExpired:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status"})
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		opts.Limit = min(n, maxListLimit)
	}
	if key := q.Get("agent"); key != "" {
		a, err := s.agents.GetByKey(r.Context(), key)
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
			return
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		opts.AgentID = &a.ID
	}

	recs, err := s.escal.List(r.Context(), opts)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if recs == nil {
		recs = []store.EscalationData{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"escalations": recs})
}
