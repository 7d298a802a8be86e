package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/cost"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/errdefs"
)

// handleCostQuery returns per-day spend rows for one dimension. Admin
// only; the aggregates cross tenant boundaries.
func (s *Server) handleCostQuery(w http.ResponseWriter, r *http.Request) {
	if !principalFrom(r.Context()).Admin {
		writeError(w, errdefs.New(errdefs.KindForbidden, "cost reports are admin only"))
		return
	}
	if s.tracker == nil {
		writeError(w, errdefs.New(errdefs.KindNotFound, "cost tracking is disabled"))
		return
	}

	q := r.URL.Query()
	dim := cost.Dimension(q.Get("dim"))
	if dim == "" {
		dim = cost.DimTenant
	}

	now := time.Now().UTC()
	from, to := now.AddDate(0, 0, -30), now
	if v := q.Get("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, errdefs.Wrap(errdefs.KindValidation, "invalid from date", err))
			return
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, errdefs.Wrap(errdefs.KindValidation, "invalid to date", err))
			return
		}
		to = t
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"dimension": dim,
		"rows":      s.tracker.Query(dim, from, to),
	})
}

type emergencyStopRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	if !p.Admin {
		writeError(w, errdefs.New(errdefs.KindForbidden, "emergency stop is admin only"))
		return
	}
	if s.controller == nil {
		writeError(w, errdefs.New(errdefs.KindNotFound, "cost control is disabled"))
		return
	}

	var req emergencyStopRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "manual stop"
	}

	actor := p.UserID
	if actor == "" {
		actor = "admin"
	}
	s.controller.EmergencyStop(actor, req.Reason)
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": true})
}

func (s *Server) handleEmergencyResume(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	if !p.Admin {
		writeError(w, errdefs.New(errdefs.KindForbidden, "emergency resume is admin only"))
		return
	}
	if s.controller == nil {
		writeError(w, errdefs.New(errdefs.KindNotFound, "cost control is disabled"))
		return
	}

	actor := p.UserID
	if actor == "" {
		actor = "admin"
	}
	s.controller.EmergencyResume(actor)
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": false})
}
