package inventory

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/buildflow-erp/buildflow-erp/internal/platform/httpx"
	"github.com/buildflow-erp/buildflow-erp/internal/shared"
)

// Handler wires inventory endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers inventory routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/inventory", h.handleList)
	r.Get("/inventory/low-stock", h.handleLowStock)
	r.Get("/inventory/{id}", h.handleGet)
	r.Get("/inventory/{id}/transactions", h.handleTransactions)
	r.Post("/inventory/entries", h.handleAdd)
	r.Post("/inventory/exits", h.handleRemove)
	r.Post("/inventory/adjustments", h.handleAdjust)
	r.Post("/inventory/transfers", h.handleTransfer)
	r.Post("/inventory/check", h.handleCheck)
}

var errorMappings = []httpx.ErrorMapping{
	{Is: ErrRecordNotFound, Status: http.StatusNotFound, Code: httpx.CodeNotFound},
	{Is: ErrInsufficientStock, Status: http.StatusConflict, Code: httpx.CodeInsufficientStock},
	{Is: ErrInvalidQuantity, Status: http.StatusBadRequest, Code: httpx.CodeValidation},
	{Is: ErrValidation, Status: http.StatusBadRequest, Code: httpx.CodeValidation},
	{Is: ErrEmptyFulfillment, Status: http.StatusUnprocessableEntity, Code: httpx.CodeEmptyOrder},
}

type recordResponse struct {
	ID          int64   `json:"id"`
	CompanyID   int64   `json:"company_id"`
	ProductID   int64   `json:"product_id,omitempty"`
	Name        string  `json:"name,omitempty"`
	Unit        string  `json:"unit,omitempty"`
	Location    string  `json:"location"`
	Qty         float64 `json:"qty"`
	MinQty      float64 `json:"min_qty,omitempty"`
	BelowMin    bool    `json:"below_minimum"`
	LastCountAt string  `json:"last_count_at,omitempty"`
	UpdatedAt   string  `json:"updated_at"`
}

func toRecordResponse(rec Record) recordResponse {
	resp := recordResponse{
		ID:        rec.ID,
		CompanyID: rec.CompanyID,
		ProductID: rec.ProductID,
		Name:      rec.Name,
		Unit:      rec.Unit,
		Location:  rec.Location,
		Qty:       rec.Qty,
		MinQty:    rec.MinQty,
		BelowMin:  rec.BelowMinimum(),
		UpdatedAt: rec.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if !rec.LastCountAt.IsZero() {
		resp.LastCountAt = rec.LastCountAt.UTC().Format(time.RFC3339)
	}
	return resp
}

type addRequest struct {
	CompanyID int64   `json:"company_id" validate:"required"`
	ProductID int64   `json:"product_id"`
	Name      string  `json:"name"`
	Qty       float64 `json:"qty" validate:"required,gt=0"`
	Unit      string  `json:"unit"`
	Location  string  `json:"location"`
	MinQty    float64 `json:"min_qty" validate:"gte=0"`
	RefType   string  `json:"ref_type"`
	RefID     string  `json:"ref_id"`
}

type removeRequest struct {
	CompanyID int64   `json:"company_id" validate:"required"`
	RecordID  int64   `json:"record_id" validate:"required"`
	Qty       float64 `json:"qty" validate:"required,gt=0"`
	RefType   string  `json:"ref_type"`
	RefID     string  `json:"ref_id"`
}

type adjustRequest struct {
	CompanyID int64   `json:"company_id" validate:"required"`
	RecordID  int64   `json:"record_id" validate:"required"`
	NewQty    float64 `json:"new_qty" validate:"gte=0"`
	Reason    string  `json:"reason" validate:"required"`
}

type transferRequest struct {
	CompanyID  int64   `json:"company_id" validate:"required"`
	RecordID   int64   `json:"record_id" validate:"required"`
	Qty        float64 `json:"qty" validate:"required,gt=0"`
	ToLocation string  `json:"to_location" validate:"required"`
	Notes      string  `json:"notes"`
}

type checkRequest struct {
	CompanyID int64       `json:"company_id" validate:"required"`
	Location  string      `json:"location"`
	Items     []CheckItem `json:"items" validate:"required,min=1"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	companyID, _ := strconv.ParseInt(r.URL.Query().Get("company_id"), 10, 64)
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage <= 0 {
		perPage = 20
	}
	records, total, err := h.service.ListRecords(r.Context(), ListFilter{
		CompanyID: companyID,
		Location:  r.URL.Query().Get("location"),
		Search:    r.URL.Query().Get("search"),
		Limit:     perPage,
		Offset:    (page - 1) * perPage,
	})
	if err != nil {
		h.logger.Error("list inventory", slog.Any("error", err))
		httpx.RespondError(w, err, errorMappings)
		return
	}
	out := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toRecordResponse(rec))
	}
	httpx.OK(w, http.StatusOK, map[string]any{"records": out, "pagination": shared.NewPagination(page, perPage, total)})
}

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	companyID, _ := strconv.ParseInt(r.URL.Query().Get("company_id"), 10, 64)
	records, err := h.service.ListBelowMinimum(r.Context(), companyID)
	if err != nil {
		h.logger.Error("list low stock", slog.Any("error", err))
		httpx.RespondError(w, err, errorMappings)
		return
	}
	out := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toRecordResponse(rec))
	}
	httpx.OK(w, http.StatusOK, map[string]any{"records": out})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, "invalid record id")
		return
	}
	companyID, _ := strconv.ParseInt(r.URL.Query().Get("company_id"), 10, 64)
	rec, err := h.service.GetRecord(r.Context(), companyID, id)
	if err != nil {
		httpx.RespondError(w, err, errorMappings)
		return
	}
	httpx.OK(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) handleTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, "invalid record id")
		return
	}
	companyID, _ := strconv.ParseInt(r.URL.Query().Get("company_id"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	txs, err := h.service.ListTransactions(r.Context(), companyID, id, limit)
	if err != nil {
		httpx.RespondError(w, err, errorMappings)
		return
	}
	type txResponse struct {
		ID           int64   `json:"id"`
		Type         string  `json:"type"`
		Qty          float64 `json:"qty"`
		RefType      string  `json:"ref_type,omitempty"`
		RefID        string  `json:"ref_id,omitempty"`
		FromLocation string  `json:"from_location,omitempty"`
		ToLocation   string  `json:"to_location,omitempty"`
		ActorID      int64   `json:"actor_id,omitempty"`
		At           string  `json:"at"`
	}
	out := make([]txResponse, 0, len(txs))
	for _, t := range txs {
		out = append(out, txResponse{
			ID:           t.ID,
			Type:         string(t.Type),
			Qty:          t.Qty,
			RefType:      t.RefType,
			RefID:        t.RefID,
			FromLocation: t.FromLocation,
			ToLocation:   t.ToLocation,
			ActorID:      t.ActorID,
			At:           t.At.UTC().Format(time.RFC3339),
		})
	}
	httpx.OK(w, http.StatusOK, map[string]any{"transactions": out})
}

func (h *Handler) handleAdd(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Fail(w, http.StatusUnauthorized, httpx.CodeForbidden, "actor identity required")
		return
	}
	var req addRequest
	if err := h.decode(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, err.Error())
		return
	}
	rec, err := h.service.AddStock(r.Context(), AddInput{
		CompanyID: req.CompanyID,
		ProductID: req.ProductID,
		Name:      req.Name,
		Qty:       req.Qty,
		Unit:      req.Unit,
		Location:  req.Location,
		MinQty:    req.MinQty,
		RefType:   req.RefType,
		RefID:     req.RefID,
		ActorID:   identity.UserID,
	})
	if err != nil {
		h.logger.Error("add stock", slog.Any("error", err))
		httpx.RespondError(w, err, errorMappings)
		return
	}
	httpx.OK(w, http.StatusCreated, toRecordResponse(rec))
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Fail(w, http.StatusUnauthorized, httpx.CodeForbidden, "actor identity required")
		return
	}
	var req removeRequest
	if err := h.decode(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, err.Error())
		return
	}
	rec, err := h.service.RemoveStock(r.Context(), RemoveInput{
		CompanyID: req.CompanyID,
		RecordID:  req.RecordID,
		Qty:       req.Qty,
		RefType:   req.RefType,
		RefID:     req.RefID,
		ActorID:   identity.UserID,
	})
	if err != nil {
		h.logger.Warn("remove stock rejected", slog.Int64("record_id", req.RecordID), slog.Any("error", err))
		httpx.RespondError(w, err, errorMappings)
		return
	}
	httpx.OK(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Fail(w, http.StatusUnauthorized, httpx.CodeForbidden, "actor identity required")
		return
	}
	var req adjustRequest
	if err := h.decode(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, err.Error())
		return
	}
	rec, err := h.service.AdjustStock(r.Context(), AdjustInput{
		CompanyID: req.CompanyID,
		RecordID:  req.RecordID,
		NewQty:    req.NewQty,
		Reason:    req.Reason,
		ActorID:   identity.UserID,
	})
	if err != nil {
		httpx.RespondError(w, err, errorMappings)
		return
	}
	httpx.OK(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Fail(w, http.StatusUnauthorized, httpx.CodeForbidden, "actor identity required")
		return
	}
	var req transferRequest
	if err := h.decode(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, err.Error())
		return
	}
	src, dst, err := h.service.TransferStock(r.Context(), TransferInput{
		CompanyID:  req.CompanyID,
		RecordID:   req.RecordID,
		Qty:        req.Qty,
		ToLocation: req.ToLocation,
		Notes:      req.Notes,
		ActorID:    identity.UserID,
	})
	if err != nil {
		h.logger.Warn("transfer rejected", slog.Int64("record_id", req.RecordID), slog.Any("error", err))
		httpx.RespondError(w, err, errorMappings)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"source": toRecordResponse(src), "destination": toRecordResponse(dst)})
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := h.decode(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, err.Error())
		return
	}
	result, err := h.service.CheckAvailability(r.Context(), req.CompanyID, req.Location, req.Items)
	if err != nil {
		httpx.RespondError(w, err, errorMappings)
		return
	}
	httpx.OK(w, http.StatusOK, result)
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return err
	}
	return h.validator.Struct(target)
}
