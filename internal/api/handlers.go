package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/zapline/zapline/internal/crm"
	"github.com/zapline/zapline/internal/scheduler"
	"github.com/zapline/zapline/internal/store"
)

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status    string       `json:"status"`
	Version   string       `json:"version"`
	Uptime    string       `json:"uptime"`
	Connected bool         `json:"channel_connected"`
	Positions *store.Stats `json:"positions"`
}

// RetryResponse is the response for the retry control endpoints
type RetryResponse struct {
	Requeued int `json:"requeued"`
}

// EnrollRequest is the request body for POST /positions
type EnrollRequest struct {
	LeadID     string `json:"lead_id"`
	CampaignID string `json:"campaign_id"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, _ := s.store.Stats(r.Context())

	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   "0.1.0",
		Uptime:    time.Since(s.startTime).String(),
		Connected: s.channel.Connected(),
		Positions: stats,
	})
}

// handleCreateCampaign handles POST /api/v1/campaigns
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var camp crm.Campaign
	if err := json.NewDecoder(r.Body).Decode(&camp); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if camp.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name is required")
		return
	}
	if camp.MessageTemplate == "" {
		s.sendError(w, http.StatusBadRequest, "message_template is required")
		return
	}

	if camp.ID == "" {
		camp.ID = uuid.New().String()
	}
	camp.CreatedAt = time.Now()

	if err := s.store.PutCampaign(r.Context(), &camp); err != nil {
		s.logger.Error("failed to store campaign", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to store campaign")
		return
	}

	s.logger.Info("campaign created", "id", camp.ID, "name", camp.Name)
	s.sendJSON(w, http.StatusCreated, camp)
}

// handleListCampaigns handles GET /api/v1/campaigns
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := s.store.ListCampaigns(r.Context())
	if err != nil {
		s.logger.Error("failed to list campaigns", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list campaigns")
		return
	}
	s.sendJSON(w, http.StatusOK, campaigns)
}

// handleGetCampaign handles GET /api/v1/campaigns/{id}
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	camp, err := s.store.GetCampaign(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Error("failed to get campaign", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get campaign")
		return
	}
	if camp == nil {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}
	s.sendJSON(w, http.StatusOK, camp)
}

// handleUpdateCampaign handles PUT /api/v1/campaigns/{id}
func (s *Server) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := s.store.GetCampaign(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get campaign", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get campaign")
		return
	}
	if existing == nil {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}

	var camp crm.Campaign
	if err := json.NewDecoder(r.Body).Decode(&camp); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	camp.ID = id
	camp.CreatedAt = existing.CreatedAt

	if err := s.store.PutCampaign(r.Context(), &camp); err != nil {
		s.logger.Error("failed to update campaign", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to update campaign")
		return
	}
	s.sendJSON(w, http.StatusOK, camp)
}

// handleCreateLead handles POST /api/v1/leads
func (s *Server) handleCreateLead(w http.ResponseWriter, r *http.Request) {
	var lead crm.Lead
	if err := json.NewDecoder(r.Body).Decode(&lead); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if lead.Phone == "" {
		s.sendError(w, http.StatusBadRequest, "phone is required")
		return
	}

	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	lead.CreatedAt = time.Now()

	if err := s.store.PutLead(r.Context(), &lead); err != nil {
		s.logger.Error("failed to store lead", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to store lead")
		return
	}
	s.sendJSON(w, http.StatusCreated, lead)
}

// handleGetLead handles GET /api/v1/leads/{id}
func (s *Server) handleGetLead(w http.ResponseWriter, r *http.Request) {
	lead, err := s.store.GetLead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Error("failed to get lead", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get lead")
		return
	}
	if lead == nil {
		s.sendError(w, http.StatusNotFound, "Lead not found")
		return
	}
	s.sendJSON(w, http.StatusOK, lead)
}

// handleEnroll handles POST /api/v1/positions: enrolls a lead into a
// campaign. Enrolling twice returns the existing position unchanged.
func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.LeadID == "" || req.CampaignID == "" {
		s.sendError(w, http.StatusBadRequest, "lead_id and campaign_id are required")
		return
	}

	lead, err := s.store.GetLead(r.Context(), req.LeadID)
	if err == nil && lead == nil {
		s.sendError(w, http.StatusNotFound, "Lead not found")
		return
	}
	camp, err2 := s.store.GetCampaign(r.Context(), req.CampaignID)
	if err2 == nil && camp == nil {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}
	if err != nil || err2 != nil {
		s.logger.Error("failed to resolve enrollment", "lead_error", err, "campaign_error", err2)
		s.sendError(w, http.StatusInternalServerError, "Failed to enroll lead")
		return
	}

	existing, err := s.store.PositionFor(r.Context(), req.LeadID, req.CampaignID)
	if err != nil {
		s.logger.Error("failed to check enrollment", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to enroll lead")
		return
	}
	if existing != nil {
		s.sendJSON(w, http.StatusOK, existing)
		return
	}

	pos := &crm.Position{
		ID:         uuid.New().String(),
		LeadID:     req.LeadID,
		CampaignID: req.CampaignID,
		Status:     crm.StatusPending,
		CreatedAt:  time.Now(),
	}
	if err := s.store.PutPosition(r.Context(), pos); err != nil {
		s.logger.Error("failed to store position", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to enroll lead")
		return
	}

	s.logger.Info("lead enrolled", "position_id", pos.ID, "lead_id", req.LeadID, "campaign_id", req.CampaignID)
	s.sendJSON(w, http.StatusCreated, pos)
}

// handleListPositions handles GET /api/v1/positions
func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	filter := store.ListFilter{
		CampaignID: r.URL.Query().Get("campaign_id"),
		Status:     crm.PositionStatus(r.URL.Query().Get("status")),
		Limit:      100,
	}

	positions, err := s.store.ListPositions(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list positions", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list positions")
		return
	}
	s.sendJSON(w, http.StatusOK, positions)
}

// handleGetPosition handles GET /api/v1/positions/{id}
func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := s.store.GetPosition(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Error("failed to get position", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get position")
		return
	}
	if pos == nil {
		s.sendError(w, http.StatusNotFound, "Position not found")
		return
	}
	s.sendJSON(w, http.StatusOK, pos)
}

// handleDeletePosition handles DELETE /api/v1/positions/{id}
func (s *Server) handleDeletePosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeletePosition(r.Context(), id); err != nil {
		s.logger.Error("failed to delete position", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to delete position")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRetryPosition handles POST /api/v1/positions/{id}/retry
func (s *Server) handleRetryPosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var opts scheduler.RetryOptions
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			s.sendError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	err := s.retry.RetryOne(r.Context(), id, opts)
	switch {
	case errors.Is(err, scheduler.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "Position not found")
	case errors.Is(err, scheduler.ErrNotRetryable):
		s.sendError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.logger.Error("failed to retry position", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to retry position")
	default:
		s.sendJSON(w, http.StatusOK, RetryResponse{Requeued: 1})
	}
}

// handleRetryCampaign handles POST /api/v1/campaigns/{id}/retry
func (s *Server) handleRetryCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	n, err := s.retry.RetryCampaign(r.Context(), id)
	switch {
	case errors.Is(err, scheduler.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "Campaign not found")
	case err != nil:
		s.logger.Error("failed to retry campaign", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to retry campaign")
	default:
		s.sendJSON(w, http.StatusOK, RetryResponse{Requeued: n})
	}
}

// handleRetryAll handles POST /api/v1/retry-all
func (s *Server) handleRetryAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.retry.RetryAll(r.Context())
	if err != nil {
		s.logger.Error("failed to retry all", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to retry positions")
		return
	}
	s.sendJSON(w, http.StatusOK, RetryResponse{Requeued: n})
}

// handleGetSettings handles GET /api/v1/settings
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.LoadSettings(r.Context())
	if err != nil {
		s.logger.Error("failed to load settings", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to load settings")
		return
	}
	if settings == nil {
		s.sendError(w, http.StatusNotFound, "Settings not configured")
		return
	}
	s.sendJSON(w, http.StatusOK, settings)
}

// handlePutSettings handles PUT /api/v1/settings
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var settings crm.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if settings.Timezone != "" {
		if _, err := time.LoadLocation(settings.Timezone); err != nil {
			s.sendError(w, http.StatusBadRequest, "Invalid timezone")
			return
		}
	}
	if settings.SendOnlyBusinessHours && settings.BusinessHourStart >= settings.BusinessHourEnd {
		s.sendError(w, http.StatusBadRequest, "business_hour_start must be before business_hour_end")
		return
	}

	if err := s.store.SaveSettings(r.Context(), &settings); err != nil {
		s.logger.Error("failed to save settings", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to save settings")
		return
	}
	s.sendJSON(w, http.StatusOK, settings)
}

// handleStats handles GET /api/v1/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to get stats", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get stats")
		return
	}
	s.sendJSON(w, http.StatusOK, stats)
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
