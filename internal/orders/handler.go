package orders

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/buildflow-erp/buildflow-erp/internal/inventory"
	"github.com/buildflow-erp/buildflow-erp/internal/platform/httpx"
	"github.com/buildflow-erp/buildflow-erp/internal/shared"
)

// Handler wires order workflow endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers order routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/orders", h.handleCreate)
	r.Get("/orders", h.handleList)
	r.Get("/orders/{id}", h.handleGet)
	r.Get("/orders/{id}/history", h.handleHistory)
	r.Get("/orders/{id}/actions", h.handleActions)
	r.Get("/orders/{id}/can", h.handleCan)
	r.Post("/orders/{id}/transition", h.handleTransition)
	r.Post("/orders/{id}/check-stock", h.handleCheckStock)
	r.Post("/orders/{id}/fulfill", h.handleFulfill)
}

var errorMappings = []httpx.ErrorMapping{
	{Is: ErrNotFound, Status: http.StatusNotFound, Code: httpx.CodeNotFound},
	{Is: ErrInvalidTransition, Status: http.StatusConflict, Code: httpx.CodeInvalidTransition},
	{Is: ErrForbidden, Status: http.StatusForbidden, Code: httpx.CodeForbidden},
	{Is: ErrEmptyOrder, Status: http.StatusUnprocessableEntity, Code: httpx.CodeEmptyOrder},
	{Is: ErrValidation, Status: http.StatusBadRequest, Code: httpx.CodeValidation},
	{Is: inventory.ErrInsufficientStock, Status: http.StatusConflict, Code: httpx.CodeInsufficientStock},
	{Is: shared.ErrIdempotencyConflict, Status: http.StatusConflict, Code: httpx.CodeConflict},
}

type lineRequest struct {
	ProductID int64   `json:"product_id"`
	Name      string  `json:"name"`
	Qty       float64 `json:"qty" validate:"required,gt=0"`
	Unit      string  `json:"unit"`
	UnitPrice string  `json:"unit_price" validate:"required"`
}

type createRequest struct {
	CompanyID  int64         `json:"company_id" validate:"required"`
	SupplierID int64         `json:"supplier_id"`
	OrgUnitID  *int64        `json:"org_unit_id"`
	ProjectID  *int64        `json:"project_id"`
	Notes      string        `json:"notes"`
	Lines      []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type transitionRequest struct {
	TargetStatus string `json:"target_status" validate:"required"`
	Notes        string `json:"notes"`
}

type orderResponse struct {
	ID                   int64             `json:"id"`
	Number               string            `json:"number"`
	CompanyID            int64             `json:"company_id"`
	SupplierID           int64             `json:"supplier_id,omitempty"`
	DestinationKind      string            `json:"destination_kind"`
	DestinationID        int64             `json:"destination_id"`
	CreatedBy            int64             `json:"created_by"`
	SiteManagerID        int64             `json:"site_manager_id,omitempty"`
	ManagementApproverID int64             `json:"management_approver_id,omitempty"`
	Status               string            `json:"status"`
	Reason               string            `json:"reason,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
	StatusAt             map[string]string `json:"status_at,omitempty"`
}

type lineResponse struct {
	ID        int64   `json:"id"`
	ProductID int64   `json:"product_id,omitempty"`
	Name      string  `json:"name,omitempty"`
	Qty       float64 `json:"qty"`
	Unit      string  `json:"unit,omitempty"`
	UnitPrice string  `json:"unit_price"`
	Total     string  `json:"total"`
}

type detailResponse struct {
	orderResponse
	Lines []lineResponse `json:"lines"`
	Total string         `json:"total"`
}

func toOrderResponse(order Order) orderResponse {
	resp := orderResponse{
		ID:                   order.ID,
		Number:               order.Number,
		CompanyID:            order.CompanyID,
		SupplierID:           order.SupplierID,
		DestinationKind:      string(order.Destination.Kind),
		DestinationID:        order.Destination.ID,
		CreatedBy:            order.CreatedBy,
		SiteManagerID:        order.SiteManagerID,
		ManagementApproverID: order.ManagementApproverID,
		Status:               string(order.Status),
		Reason:               order.Reason,
		CreatedAt:            order.CreatedAt,
		UpdatedAt:            order.UpdatedAt,
	}
	if len(order.StatusAt) > 0 {
		resp.StatusAt = make(map[string]string, len(order.StatusAt))
		for status, at := range order.StatusAt {
			resp.StatusAt[string(status)] = at.UTC().Format(time.RFC3339)
		}
	}
	return resp
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Fail(w, http.StatusUnauthorized, httpx.CodeForbidden, "actor identity required")
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, err.Error())
		return
	}
	lines := make([]LineInput, 0, len(req.Lines))
	for _, line := range req.Lines {
		price, err := decimal.NewFromString(line.UnitPrice)
		if err != nil {
			httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, "invalid unit_price")
			return
		}
		lines = append(lines, LineInput{ProductID: line.ProductID, Name: line.Name, Qty: line.Qty, Unit: line.Unit, UnitPrice: price})
	}
	order, err := h.service.CreateOrder(r.Context(), CreateInput{
		CompanyID:  req.CompanyID,
		SupplierID: req.SupplierID,
		OrgUnitID:  req.OrgUnitID,
		ProjectID:  req.ProjectID,
		Notes:      req.Notes,
		Lines:      lines,
	}, Actor{UserID: identity.UserID, CompanyID: identity.CompanyID})
	if err != nil {
		h.logger.Error("create order", slog.Any("error", err))
		httpx.RespondError(w, err, errorMappings)
		return
	}
	httpx.OK(w, http.StatusCreated, toOrderResponse(order))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage <= 0 {
		perPage = 20
	}
	companyID, _ := strconv.ParseInt(r.URL.Query().Get("company_id"), 10, 64)
	supplierID, _ := strconv.ParseInt(r.URL.Query().Get("supplier_id"), 10, 64)
	filters := ListFilters{
		CompanyID:       companyID,
		Status:          r.URL.Query().Get("status"),
		SupplierID:      supplierID,
		DestinationKind: r.URL.Query().Get("destination_kind"),
		Search:          r.URL.Query().Get("search"),
	}
	items, total, err := h.service.ListOrders(r.Context(), perPage, (page-1)*perPage, filters)
	if err != nil {
		h.logger.Error("list orders", slog.Any("error", err))
		httpx.RespondError(w, err, errorMappings)
		return
	}
	out := make([]orderResponse, 0, len(items))
	for _, order := range items {
		out = append(out, toOrderResponse(order))
	}
	httpx.OK(w, http.StatusOK, map[string]any{"orders": out, "pagination": shared.NewPagination(page, perPage, total)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, "invalid order id")
		return
	}
	detail, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err, errorMappings)
		return
	}
	resp := detailResponse{orderResponse: toOrderResponse(detail.Order), Total: detail.Total.StringFixed(2), Lines: make([]lineResponse, 0, len(detail.Lines))}
	for _, line := range detail.Lines {
		resp.Lines = append(resp.Lines, lineResponse{
			ID:        line.ID,
			ProductID: line.ProductID,
			Name:      line.Name,
			Qty:       line.Qty,
			Unit:      line.Unit,
			UnitPrice: line.UnitPrice.StringFixed(2),
			Total:     line.Total().StringFixed(2),
		})
	}
	httpx.OK(w, http.StatusOK, resp)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, "invalid order id")
		return
	}
	entries, err := h.service.History(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err, errorMappings)
		return
	}
	type historyResponse struct {
		FromStatus string    `json:"from_status"`
		ToStatus   string    `json:"to_status"`
		ActorID    int64     `json:"actor_id,omitempty"`
		Action     string    `json:"action"`
		Notes      string    `json:"notes,omitempty"`
		At         time.Time `json:"at"`
	}
	out := make([]historyResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyResponse{
			FromStatus: string(e.FromStatus),
			ToStatus:   string(e.ToStatus),
			ActorID:    e.ActorID,
			Action:     string(e.Action),
			Notes:      e.Notes,
			At:         e.At,
		})
	}
	httpx.OK(w, http.StatusOK, map[string]any{"history": out})
}

func (h *Handler) handleActions(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Fail(w, http.StatusUnauthorized, httpx.CodeForbidden, "actor identity required")
		return
	}
	id, err := parseID(r)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, "invalid order id")
		return
	}
	actions, err := h.service.AvailableActions(r.Context(), id, Actor{UserID: identity.UserID, CompanyID: identity.CompanyID})
	if err != nil {
		httpx.RespondError(w, err, errorMappings)
		return
	}
	out := make([]string, 0, len(actions))
	for _, action := range actions {
		out = append(out, string(action))
	}
	httpx.OK(w, http.StatusOK, map[string]any{"actions": out})
}

func (h *Handler) handleCan(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Fail(w, http.StatusUnauthorized, httpx.CodeForbidden, "actor identity required")
		return
	}
	id, err := parseID(r)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, "invalid order id")
		return
	}
	action := r.URL.Query().Get("action")
	if action == "" {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, "action query parameter required")
		return
	}
	allowed, err := h.service.CanPerform(r.Context(), Actor{UserID: identity.UserID, CompanyID: identity.CompanyID}, id, Action(action))
	if err != nil {
		httpx.RespondError(w, err, errorMappings)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"action": action, "allowed": allowed})
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Fail(w, http.StatusUnauthorized, httpx.CodeForbidden, "actor identity required")
		return
	}
	id, err := parseID(r)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, "invalid order id")
		return
	}
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, err.Error())
		return
	}
	order, err := h.service.Transition(r.Context(), id, Status(req.TargetStatus),
		Actor{UserID: identity.UserID, CompanyID: identity.CompanyID},
		TransitionOptions{Notes: req.Notes})
	if err != nil {
		h.logger.Warn("transition rejected", slog.Int64("order_id", id), slog.String("target", req.TargetStatus), slog.Any("error", err))
		httpx.RespondError(w, err, errorMappings)
		return
	}
	httpx.OK(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) handleCheckStock(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, "invalid order id")
		return
	}
	result, err := h.service.CheckStock(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err, errorMappings)
		return
	}
	httpx.OK(w, http.StatusOK, result)
}

func (h *Handler) handleFulfill(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Fail(w, http.StatusUnauthorized, httpx.CodeForbidden, "actor identity required")
		return
	}
	id, err := parseID(r)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, httpx.CodeValidation, "invalid order id")
		return
	}
	order, err := h.service.FulfillFromStock(r.Context(), id, Actor{UserID: identity.UserID, CompanyID: identity.CompanyID})
	if err != nil {
		h.logger.Warn("fulfillment rejected", slog.Int64("order_id", id), slog.Any("error", err))
		httpx.RespondError(w, err, errorMappings)
		return
	}
	httpx.OK(w, http.StatusOK, toOrderResponse(order))
}

func parseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
