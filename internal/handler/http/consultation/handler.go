package consultation

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"teleclinic-backend/internal/domain"
	"teleclinic-backend/internal/middleware"
	consultationsvc "teleclinic-backend/internal/service/consultation"
	"teleclinic-backend/internal/service/token"
	"teleclinic-backend/pkg/metrics"
	"teleclinic-backend/pkg/pagination"
	"teleclinic-backend/pkg/response"
)

// Handler handles consultation HTTP requests
type Handler struct {
	consultations *consultationsvc.Service
	tokens        *token.Service
	metrics       *metrics.Metrics
}

// NewHandler creates a new consultation handler
func NewHandler(consultations *consultationsvc.Service, tokens *token.Service, m *metrics.Metrics) *Handler {
	return &Handler{
		consultations: consultations,
		tokens:        tokens,
		metrics:       m,
	}
}

// CreateRequest represents consultation creation request
type CreateRequest struct {
	DoctorID     string    `json:"doctor_id" binding:"required,uuid"`
	PatientID    string    `json:"patient_id" binding:"required,uuid"`
	ScheduledAt  time.Time `json:"scheduled_at" binding:"required"`
	DurationMins int       `json:"duration_mins" binding:"omitempty,min=1,max=480"`
}

// Create schedules a new consultation
// POST /videocall/create
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	role, ok := middleware.GetRole(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		response.ValidationError(c, "Invalid doctor ID")
		return
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		response.ValidationError(c, "Invalid patient ID")
		return
	}

	// The scheduler must be one of the two parties
	if (role == domain.RoleDoctor && doctorID != userID) ||
		(role == domain.RolePatient && patientID != userID) {
		response.Forbidden(c, "You can only schedule your own consultations")
		return
	}

	consultation, err := h.consultations.Schedule(c.Request.Context(), &consultationsvc.ScheduleInput{
		DoctorID:     doctorID,
		PatientID:    patientID,
		ScheduledAt:  req.ScheduledAt,
		DurationMins: req.DurationMins,
		ScheduledBy:  role,
	})
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, consultation)
}

// List returns the authenticated party's consultations
// GET /videocall/list?userId=&role=&page=&limit=
//
// userId and role are optional explicit selectors; when present they must
// match the authenticated caller. A caller can never list someone else's
// consultations by naming them.
func (h *Handler) List(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	role, ok := middleware.GetRole(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	if q := c.Query("userId"); q != "" {
		requested, err := uuid.Parse(q)
		if err != nil {
			response.ValidationError(c, "Invalid userId")
			return
		}
		if requested != userID {
			response.Forbidden(c, "You can only list your own consultations")
			return
		}
	}
	if q := c.Query("role"); q != "" && !strings.EqualFold(q, string(role)) {
		response.Forbidden(c, "Role does not match the authenticated user")
		return
	}

	params, err := pagination.Parse(c.Query("page"), c.Query("limit"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	consultations, err := h.consultations.List(c.Request.Context(), userID, role, params.Limit, params.Offset)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"consultations": consultations,
		"page":          params.Page,
		"limit":         params.Limit,
	})
}

// Get returns one consultation with its live-room occupancy
// GET /videocall/:id
func (h *Handler) Get(c *gin.Context) {
	consultation, _, ok := h.loadOwnConsultation(c)
	if !ok {
		return
	}

	active, err := h.consultations.ActiveParties(c.Request.Context(), consultation.ID)
	if err != nil {
		// Presence is advisory; the record still renders without it
		active = nil
	}

	response.Success(c, http.StatusOK, gin.H{
		"consultation":   consultation,
		"active_parties": active,
		"live":           len(active) > 0,
	})
}

// UpdateStatusRequest represents a status transition request
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateStatus requests a status transition
// PUT /videocall/status/:id
func (h *Handler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	consultation, userID, ok := h.loadOwnConsultation(c)
	if !ok {
		return
	}

	target := domain.ConsultationStatus(strings.ToUpper(req.Status))

	updated, err := h.consultations.Transition(c.Request.Context(), consultation.ID, target, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, updated)
}

// TokenRequest represents a room grant request
type TokenRequest struct {
	Identity string `json:"identity" binding:"required"`
	RoomName string `json:"room_name" binding:"required"`
}

// IssueToken mints a room grant for the caller's own identity.
// POST /videocall/token
//
// The grant is scoped to exactly the requested identity/room pair; the
// identity must match the authenticated user, and the room must belong to a
// consultation the user is party to and that has not reached a terminal
// state. A cancelled consultation therefore never yields a token.
func (h *Handler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	role, ok := middleware.GetRole(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	if req.Identity != domain.ParticipantIdentity(role, userID) {
		response.Forbidden(c, "Identity does not match the authenticated user")
		return
	}

	consultationID, err := domain.ConsultationIDFromRoomName(req.RoomName)
	if err != nil {
		response.ValidationError(c, "Unknown room name format")
		return
	}

	consultation, err := h.consultations.Get(c.Request.Context(), consultationID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	if !consultationsvc.IsParty(consultation, userID) {
		response.Forbidden(c, "You are not a party to this consultation")
		return
	}
	if consultation.Status.IsTerminal() {
		response.Conflict(c, "This consultation has already ended")
		return
	}
	if domain.RoomName(consultation) != req.RoomName {
		response.ValidationError(c, "Room name does not match the consultation")
		return
	}

	grant, err := h.tokens.IssueRoomToken(req.Identity, req.RoomName)
	if err != nil {
		response.AppError(c, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordRoomTokenIssued(string(role))
	}

	response.Success(c, http.StatusOK, gin.H{"token": grant})
}

// loadOwnConsultation resolves the :id parameter and enforces that the
// authenticated user is one of its parties
func (h *Handler) loadOwnConsultation(c *gin.Context) (*domain.Consultation, uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid consultation ID")
		return nil, uuid.Nil, false
	}

	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return nil, uuid.Nil, false
	}

	consultation, err := h.consultations.Get(c.Request.Context(), id)
	if err != nil {
		response.AppError(c, err)
		return nil, uuid.Nil, false
	}

	if !consultationsvc.IsParty(consultation, userID) {
		response.Forbidden(c, "You are not a party to this consultation")
		return nil, uuid.Nil, false
	}

	return consultation, userID, true
}
