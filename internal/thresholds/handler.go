package thresholds

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/buildflow-erp/buildflow-erp/internal/platform/httpx"
)

// Handler wires threshold endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers threshold routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/thresholds", h.handleList)
	r.Post("/thresholds", h.handleCreate)
	r.Get("/thresholds/{id}", h.handleGet)
	r.Put("/thresholds/{id}", h.handleUpdate)
	r.Delete("/thresholds/{id}", h.handleDelete)
	r.Post("/thresholds/check", h.handleCheck)
}

var errorMappings = []httpx.ErrorMapping{
	{Is: ErrNotFound, Status: http.StatusNotFound, Code: httpx.CodeNotFound},
	{Is: ErrValidation, Status: http.StatusBadRequest, Code: httpx.CodeValidation},
}

type thresholdRequest struct {
	CompanyID int64  `json:"company_id" validate:"required"`
	OrgUnitID *int64 `json:"org_unit_id"`
	Amount    string `json:"amount" validate:"required"`
	Currency  string `json:"currency"`
	Level     string `json:"level" validate:"required,oneof=MANAGEMENT DIRECTION"`
}

type checkThresholdRequest struct {
	CompanyID int64  `json:"company_id" validate:"required"`
	OrgUnitID *int64 `json:"org_unit_id"`
	Total     string `json:"total" validate:"required"`
}

type thresholdResponse struct {
	ID        int64  `json:"id"`
	CompanyID int64  `json:"company_id"`
	OrgUnitID *int64 `json:"org_unit_id,omitempty"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Level     string `json:"level"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toThresholdResponse(t Threshold) thresholdResponse {
	return thresholdResponse{
		ID:        t.ID,
		CompanyID: t.CompanyID,
		OrgUnitID: t.OrgUnitID,
		Amount:    t.Amount.StringFixed(2),
		Currency:  t.Currency,
		Level:     t.Level,
		CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: t.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	companyID, _ := strconv.ParseInt(r.URL.Query().Get("company_id"), 10, 64)
	items, err := h.service.List(r.Context(), companyID)
	if err != nil {
		h.logger.Error("list thresholds", slog.Any("error", err))
		httpx.RespondError(w, err, errorMappings)
		return
	}
	out := make([]thresholdResponse, 0, len(items))
	for _, t := range items {
		out = append(out, toThresholdResponse(t))
	}
	httpx.OK(w, http.StatusOK, map[string]any{"thresholds": out})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeInput(w, r)
	if !ok {
		return
	}
	created, err := h.service.Create(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err, errorMappings)
		return
	}
	httpx.OK(w, http.StatusCreated, toThresholdResponse(created))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, "invalid threshold id")
		return
	}
	companyID, _ := strconv.ParseInt(r.URL.Query().Get("company_id"), 10, 64)
	t, err := h.service.Get(r.Context(), companyID, id)
	if err != nil {
		httpx.RespondError(w, err, errorMappings)
		return
	}
	httpx.OK(w, http.StatusOK, toThresholdResponse(t))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, "invalid threshold id")
		return
	}
	input, ok := h.decodeInput(w, r)
	if !ok {
		return
	}
	updated, err := h.service.Update(r.Context(), id, input)
	if err != nil {
		httpx.RespondError(w, err, errorMappings)
		return
	}
	httpx.OK(w, http.StatusOK, toThresholdResponse(updated))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, "invalid threshold id")
		return
	}
	companyID, _ := strconv.ParseInt(r.URL.Query().Get("company_id"), 10, 64)
	if err := h.service.Delete(r.Context(), companyID, id); err != nil {
		httpx.RespondError(w, err, errorMappings)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"deleted": id})
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkThresholdRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, err.Error())
		return
	}
	total, err := decimal.NewFromString(req.Total)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, "invalid total")
		return
	}
	threshold, err := h.service.CheckExceeded(r.Context(), req.CompanyID, req.OrgUnitID, total)
	if err != nil {
		httpx.RespondError(w, err, errorMappings)
		return
	}
	resp := map[string]any{"exceeded": threshold != nil}
	if threshold != nil {
		resp["threshold"] = toThresholdResponse(*threshold)
		resp["required_level"] = threshold.Level
	}
	httpx.OK(w, http.StatusOK, resp)
}

func (h *Handler) decodeInput(w http.ResponseWriter, r *http.Request) (Input, bool) {
	var req thresholdRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, "malformed request body")
		return Input{}, false
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, err.Error())
		return Input{}, false
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, "invalid amount")
		return Input{}, false
	}
	return Input{
		CompanyID: req.CompanyID,
		OrgUnitID: req.OrgUnitID,
		Amount:    amount,
		Currency:  req.Currency,
		Level:     req.Level,
	}, true
}
