package rbac

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/buildflow-erp/buildflow-erp/internal/platform/httpx"
)

// Handler wires membership endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers membership routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/memberships", h.handleList)
	r.Post("/memberships", h.handleAssign)
	r.Delete("/memberships", h.handleRemove)
}

var errorMappings = []httpx.ErrorMapping{
	{Is: ErrNotFound, Status: http.StatusNotFound, Code: httpx.CodeNotFound},
	{Is: ErrValidation, Status: http.StatusBadRequest, Code: httpx.CodeValidation},
}

type membershipRequest struct {
	UserID    int64  `json:"user_id" validate:"required"`
	CompanyID int64  `json:"company_id" validate:"required"`
	Role      string `json:"role" validate:"required,oneof=admin requester site_manager management warehouse supplier"`
}

type membershipResponse struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	CompanyID int64  `json:"company_id"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toMembershipResponse(m Membership) membershipResponse {
	return membershipResponse{
		ID:        m.ID,
		UserID:    m.UserID,
		CompanyID: m.CompanyID,
		Role:      m.Role,
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: m.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	userID, _ := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if userID == 0 {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, "user_id required")
		return
	}
	memberships, err := h.service.ListMemberships(r.Context(), userID)
	if err != nil {
		h.logger.Error("list memberships", slog.Any("error", err))
		httpx.RespondError(w, err, errorMappings)
		return
	}
	out := make([]membershipResponse, 0, len(memberships))
	for _, m := range memberships {
		out = append(out, toMembershipResponse(m))
	}
	httpx.OK(w, http.StatusOK, map[string]any{"memberships": out})
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req membershipRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, err.Error())
		return
	}
	m, err := h.service.AssignRole(r.Context(), req.UserID, req.CompanyID, req.Role)
	if err != nil {
		h.logger.Error("assign role", slog.Any("error", err))
		httpx.RespondError(w, err, errorMappings)
		return
	}
	httpx.OK(w, http.StatusOK, toMembershipResponse(m))
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	userID, _ := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	companyID, _ := strconv.ParseInt(r.URL.Query().Get("company_id"), 10, 64)
	if userID == 0 || companyID == 0 {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, "user_id and company_id required")
		return
	}
	if err := h.service.RemoveRole(r.Context(), userID, companyID); err != nil {
		httpx.RespondError(w, err, errorMappings)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"removed": true})
}
