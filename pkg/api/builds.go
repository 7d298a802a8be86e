package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/errdefs"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/orchestrator"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/types"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type createBuildRequest struct {
	ProjectID string          `json:"projectId"`
	Spec      json.RawMessage `json:"spec"`

	// TenantID and UserID are honored for admin principals only;
	// everyone else is pinned to their token.
	TenantID string `json:"tenantId,omitempty"`
	UserID   string `json:"userId,omitempty"`
}

func (s *Server) handleCreateBuild(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())

	var req createBuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errdefs.Wrap(errdefs.KindValidation, "invalid request body", err))
		return
	}

	tenantID, userID := p.TenantID, p.UserID
	if p.Admin {
		if req.TenantID != "" {
			tenantID = req.TenantID
		}
		if req.UserID != "" {
			userID = req.UserID
		}
	}
	if tenantID == "" {
		tenantID = "local"
	}
	if userID == "" {
		userID = "local"
	}

	b, err := s.orch.Submit(orchestrator.SubmitRequest{
		TenantID:  tenantID,
		ProjectID: req.ProjectID,
		UserID:    userID,
		Spec:      req.Spec,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, b)
}

// loadBuild fetches a build and enforces the tenant boundary.
func (s *Server) loadBuild(r *http.Request) (*types.Build, error) {
	b, err := s.orch.Get(chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if !principalFrom(r.Context()).canAccess(b.TenantID) {
		return nil, errdefs.New(errdefs.KindForbidden, "build belongs to another tenant")
	}
	return b, nil
}

func (s *Server) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	b, err := s.loadBuild(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	q := r.URL.Query()

	tenant := p.TenantID
	if p.Admin {
		tenant = q.Get("tenant")
	}

	builds, err := s.orch.List(tenant)
	if err != nil {
		writeError(w, err)
		return
	}

	if status := q.Get("status"); status != "" {
		filtered := builds[:0]
		for _, b := range builds {
			if string(b.Status) == status {
				filtered = append(filtered, b)
			}
		}
		builds = filtered
	}
	if user := q.Get("user"); user != "" {
		filtered := builds[:0]
		for _, b := range builds {
			if b.UserID == user {
				filtered = append(filtered, b)
			}
		}
		builds = filtered
	}

	// Newest first unless the caller asks for oldest.
	if q.Get("sort") == "oldest" {
		sort.SliceStable(builds, func(i, j int) bool {
			return builds[i].CreatedAt.Before(builds[j].CreatedAt)
		})
	}

	total := len(builds)
	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"builds": builds[offset:end],
		"total":  total,
		"offset": offset,
		"limit":  limit,
	})
}

func (s *Server) handleCancelBuild(w http.ResponseWriter, r *http.Request) {
	b, err := s.loadBuild(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.orch.Cancel(b.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": b.ID, "status": "cancelling"})
}

func (s *Server) handleRetryBuild(w http.ResponseWriter, r *http.Request) {
	b, err := s.loadBuild(r)
	if err != nil {
		writeError(w, err)
		return
	}
	clone, err := s.orch.Retry(b.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, clone)
}

func (s *Server) handleRetryStage(w http.ResponseWriter, r *http.Request) {
	b, err := s.loadBuild(r)
	if err != nil {
		writeError(w, err)
		return
	}
	key, err := types.ParseStageKey(chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, errdefs.Wrap(errdefs.KindValidation, "invalid stage key", err))
		return
	}
	resumed, err := s.orch.RetryStage(b.ID, key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resumed)
}
