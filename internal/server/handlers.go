package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/incidentops/incident-agent/internal/agent"
	"github.com/incidentops/incident-agent/internal/engine"
)

const defaultOrgID = "default"

// createInvestigationRequest is the alert intake payload, shaped like a
// monitoring webhook.
type createInvestigationRequest struct {
	OrgID     string   `json:"org_id"`
	AlertName string   `json:"alert_name"`
	Service   string   `json:"service"`
	Severity  string   `json:"severity"`
	Message   string   `json:"message"`
	MonitorID string   `json:"monitor_id"`
	Tags      []string `json:"tags"`
}

type createInvestigationResponse struct {
	InvestigationID string `json:"investigation_id"`
	Status          string `json:"status"`
	StreamURL       string `json:"stream_url"`
}

// handleInvestigationCreate accepts an alert and starts an investigation
// asynchronously. The response carries the ID and the WebSocket stream URL.
func (s *Server) handleInvestigationCreate(w http.ResponseWriter, r *http.Request) {
	var req createInvestigationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.AlertName == "" || req.Service == "" {
		s.writeError(w, http.StatusBadRequest, "alert_name and service are required")
		return
	}
	if req.OrgID == "" {
		req.OrgID = defaultOrgID
	}
	if req.Severity == "" {
		req.Severity = "unknown"
	}

	id := s.engine.Start(req.OrgID, agent.AlertContext{
		AlertName: req.AlertName,
		Service:   req.Service,
		Severity:  req.Severity,
		Message:   req.Message,
		MonitorID: req.MonitorID,
		Tags:      req.Tags,
	})

	s.logger.Info("investigation accepted",
		zap.String("investigation_id", id),
		zap.String("service", req.Service),
		zap.String("severity", req.Severity),
	)

	s.writeJSON(w, http.StatusAccepted, createInvestigationResponse{
		InvestigationID: id,
		Status:          engine.StatusRunning,
		StreamURL:       fmt.Sprintf("/api/v1/investigations/%s/stream", id),
	})
}

// handleInvestigationList lists recent investigations for an organization.
func (s *Server) handleInvestigationList(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		orgID = defaultOrgID
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	records, err := s.engine.List(r.Context(), orgID, limit, offset)
	if err != nil {
		s.logger.Error("list investigations failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list investigations")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"investigations": records,
		"count":          len(records),
	})
}

// handleInvestigationGet returns one investigation record.
func (s *Server) handleInvestigationGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		orgID = defaultOrgID
	}

	rec, err := s.engine.Get(r.Context(), orgID, id)
	if err != nil {
		s.logger.Error("get investigation failed", zap.String("investigation_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load investigation")
		return
	}
	if rec == nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("investigation not found: %s", id))
		return
	}

	s.writeJSON(w, http.StatusOK, rec)
}

// handleInvestigationCancel aborts a running investigation.
func (s *Server) handleInvestigationCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.engine.Cancel(id) {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("investigation not running: %s", id))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"investigation_id": id,
		"status":           "cancelling",
	})
}

type feedbackRequest struct {
	OrgID string `json:"org_id"`
	// Rating: 1 = helpful, -1 = not helpful, 0 clears feedback.
	Rating int `json:"rating"`
}

// handleInvestigationFeedback records a thumbs-up/down rating, which the
// memory tools surface as a confidence signal on similar incidents.
func (s *Server) handleInvestigationFeedback(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Rating < -1 || req.Rating > 1 {
		s.writeError(w, http.StatusBadRequest, "rating must be -1, 0, or 1")
		return
	}
	if req.OrgID == "" {
		req.OrgID = defaultOrgID
	}

	if err := s.engine.SetFeedback(r.Context(), req.OrgID, id, req.Rating); err != nil {
		s.logger.Error("set feedback failed", zap.String("investigation_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to record feedback")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"investigation_id": id,
		"rating":           req.Rating,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
