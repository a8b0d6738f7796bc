package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shivaydv/vyomtics-sub001/internal/platform/auth"
	"github.com/shivaydv/vyomtics-sub001/internal/platform/httpx"
	"github.com/shivaydv/vyomtics-sub001/internal/platform/pagination"
	"github.com/shivaydv/vyomtics-sub001/internal/services"
)

const (
	defaultStalePageSize = 50
	maxStalePageSize     = 200
)

// InternalHandlers serves scheduler-facing operational endpoints.
type InternalHandlers struct {
	orders services.OrderQueryService
}

// NewInternalHandlers constructs internal handlers. Authentication is applied by the router group.
func NewInternalHandlers(orders services.OrderQueryService) *InternalHandlers {
	return &InternalHandlers{orders: orders}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/orders/stale", h.listStale)
}

type staleOrderPayload struct {
	ID               string `json:"id"`
	OrderNumber      string `json:"orderNumber"`
	UserID           string `json:"userId"`
	ProcessorOrderID string `json:"processorOrderId,omitempty"`
	Total            int64  `json:"total"`
	Currency         string `json:"currency"`
	CreatedAt        string `json:"createdAt"`
}

type staleOrdersResponse struct {
	Items         []staleOrderPayload `json:"items"`
	NextPageToken string              `json:"nextPageToken,omitempty"`
	Caller        string              `json:"caller,omitempty"`
}

func (h *InternalHandlers) listStale(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultStalePageSize,
		MaxPageSize:     maxStalePageSize,
	})
	if err != nil {
		message := "invalid pagination parameters"
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			message = "pageToken is invalid"
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", message, http.StatusBadRequest))
		return
	}

	var olderThan time.Duration
	if raw := strings.TrimSpace(r.URL.Query().Get("olderThan")); raw != "" {
		olderThan, err = time.ParseDuration(raw)
		if err != nil || olderThan <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "olderThan must be a positive duration such as 30m", http.StatusBadRequest))
			return
		}
	}

	page, err := h.orders.ListStalePending(ctx, services.StaleOrdersQuery{
		OlderThan: olderThan,
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	resp := staleOrdersResponse{
		Items:         make([]staleOrderPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	if caller, ok := auth.ServiceIdentityFromContext(ctx); ok && caller != nil {
		resp.Caller = caller.Email
	}
	for _, order := range page.Items {
		resp.Items = append(resp.Items, staleOrderPayload{
			ID:               order.ID,
			OrderNumber:      order.OrderNumber,
			UserID:           order.UserID,
			ProcessorOrderID: order.ProcessorOrderID,
			Total:            order.Totals.Total,
			Currency:         order.Currency,
			CreatedAt:        formatTime(order.CreatedAt),
		})
	}
	writeJSONResponse(w, http.StatusOK, resp)
}
