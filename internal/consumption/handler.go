package consumption

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/buildflow-erp/buildflow-erp/internal/platform/httpx"
)

// Handler wires consumption plan endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers consumption routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/consumption/plans", h.handleList)
	r.Post("/consumption/plans", h.handleCreate)
	r.Get("/consumption/plans/{id}", h.handleGet)
	r.Put("/consumption/plans/{id}", h.handleUpdate)
	r.Delete("/consumption/plans/{id}", h.handleDelete)
	r.Get("/consumption/plans/{id}/alert", h.handleAlert)
	r.Get("/consumption/summary", h.handleSummary)
}

var errorMappings = []httpx.ErrorMapping{
	{Is: ErrNotFound, Status: http.StatusNotFound, Code: httpx.CodeNotFound},
	{Is: ErrValidation, Status: http.StatusBadRequest, Code: httpx.CodeValidation},
}

type planRequest struct {
	CompanyID      int64   `json:"company_id" validate:"required"`
	ProductID      int64   `json:"product_id"`
	Name           string  `json:"name"`
	OrgUnitID      *int64  `json:"org_unit_id"`
	ProjectID      *int64  `json:"project_id"`
	PlannedQty     float64 `json:"planned_qty" validate:"required,gt=0"`
	Period         string  `json:"period" validate:"required,oneof=daily weekly monthly quarterly yearly"`
	AlertThreshold float64 `json:"alert_threshold" validate:"required,gt=0,lte=100"`
}

type planResponse struct {
	ID              int64   `json:"id"`
	CompanyID       int64   `json:"company_id"`
	ProductID       int64   `json:"product_id,omitempty"`
	Name            string  `json:"name,omitempty"`
	DestinationKind string  `json:"destination_kind"`
	DestinationID   int64   `json:"destination_id"`
	PlannedQty      float64 `json:"planned_qty"`
	Period          string  `json:"period"`
	AlertThreshold  float64 `json:"alert_threshold"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

func toPlanResponse(plan Plan) planResponse {
	return planResponse{
		ID:              plan.ID,
		CompanyID:       plan.CompanyID,
		ProductID:       plan.ProductID,
		Name:            plan.Name,
		DestinationKind: string(plan.DestinationKind),
		DestinationID:   plan.DestinationID,
		PlannedQty:      plan.PlannedQty,
		Period:          string(plan.Period),
		AlertThreshold:  plan.AlertThreshold,
		CreatedAt:       plan.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       plan.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	companyID, _ := strconv.ParseInt(r.URL.Query().Get("company_id"), 10, 64)
	plans, err := h.service.List(r.Context(), companyID, Period(r.URL.Query().Get("period")))
	if err != nil {
		h.logger.Error("list consumption plans", slog.Any("error", err))
		httpx.RespondError(w, err, errorMappings)
		return
	}
	out := make([]planResponse, 0, len(plans))
	for _, plan := range plans {
		out = append(out, toPlanResponse(plan))
	}
	httpx.OK(w, http.StatusOK, map[string]any{"plans": out})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeInput(w, r)
	if !ok {
		return
	}
	plan, err := h.service.Create(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err, errorMappings)
		return
	}
	httpx.OK(w, http.StatusCreated, toPlanResponse(plan))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, "invalid plan id")
		return
	}
	companyID, _ := strconv.ParseInt(r.URL.Query().Get("company_id"), 10, 64)
	plan, err := h.service.Get(r.Context(), companyID, id)
	if err != nil {
		httpx.RespondError(w, err, errorMappings)
		return
	}
	httpx.OK(w, http.StatusOK, toPlanResponse(plan))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, "invalid plan id")
		return
	}
	input, ok := h.decodeInput(w, r)
	if !ok {
		return
	}
	plan, err := h.service.Update(r.Context(), id, input)
	if err != nil {
		httpx.RespondError(w, err, errorMappings)
		return
	}
	httpx.OK(w, http.StatusOK, toPlanResponse(plan))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, "invalid plan id")
		return
	}
	companyID, _ := strconv.ParseInt(r.URL.Query().Get("company_id"), 10, 64)
	if err := h.service.Delete(r.Context(), companyID, id); err != nil {
		httpx.RespondError(w, err, errorMappings)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"deleted": id})
}

func (h *Handler) handleAlert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, "invalid plan id")
		return
	}
	companyID, _ := strconv.ParseInt(r.URL.Query().Get("company_id"), 10, 64)
	alert, err := h.service.CheckAlert(r.Context(), companyID, id)
	if err != nil {
		httpx.RespondError(w, err, errorMappings)
		return
	}
	httpx.OK(w, http.StatusOK, alert)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	companyID, _ := strconv.ParseInt(r.URL.Query().Get("company_id"), 10, 64)
	summaries, err := h.service.Summary(r.Context(), companyID, Period(r.URL.Query().Get("period")))
	if err != nil {
		httpx.RespondError(w, err, errorMappings)
		return
	}
	type summaryResponse struct {
		Plan  planResponse `json:"plan"`
		Alert Alert        `json:"alert"`
	}
	out := make([]summaryResponse, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, summaryResponse{Plan: toPlanResponse(s.Plan), Alert: s.Alert})
	}
	httpx.OK(w, http.StatusOK, map[string]any{"summary": out})
}

func (h *Handler) decodeInput(w http.ResponseWriter, r *http.Request) (Input, bool) {
	var req planRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, "malformed request body")
		return Input{}, false
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, err.Error())
		return Input{}, false
	}
	return Input{
		CompanyID:      req.CompanyID,
		ProductID:      req.ProductID,
		Name:           req.Name,
		OrgUnitID:      req.OrgUnitID,
		ProjectID:      req.ProjectID,
		PlannedQty:     req.PlannedQty,
		Period:         Period(req.Period),
		AlertThreshold: req.AlertThreshold,
	}, true
}
