package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/shivaydv/vyomtics-sub001/internal/domain"
	"github.com/shivaydv/vyomtics-sub001/internal/platform/auth"
	"github.com/shivaydv/vyomtics-sub001/internal/platform/httpx"
	"github.com/shivaydv/vyomtics-sub001/internal/services"
)

// OrderHandlers exposes the read-only order view for authenticated users.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderQueryService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderQueryService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/{orderID}", h.getOrder)
}

type orderItemPayload struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Variant     string `json:"variant"`
	UnitPrice   int64  `json:"unitPrice"`
	Quantity    int    `json:"quantity"`
	LineTotal   int64  `json:"lineTotal"`
}

type orderTotalsPayload struct {
	Subtotal int64 `json:"subtotal"`
	Discount int64 `json:"discount"`
	Shipping int64 `json:"shipping"`
	Total    int64 `json:"total"`
}

type orderPayload struct {
	ID                 string             `json:"id"`
	OrderNumber        string             `json:"orderNumber"`
	Status             string             `json:"status"`
	PaymentStatus      string             `json:"paymentStatus"`
	Currency           string             `json:"currency"`
	Totals             orderTotalsPayload `json:"totals"`
	CouponCode         string             `json:"couponCode,omitempty"`
	Items              []orderItemPayload `json:"items"`
	ProcessorOrderID   string             `json:"processorOrderId,omitempty"`
	ProcessorPaymentID string             `json:"processorPaymentId,omitempty"`
	PaymentMethod      string             `json:"paymentMethod,omitempty"`
	CreatedAt          string             `json:"createdAt"`
	UpdatedAt          string             `json:"updatedAt"`
	PaidAt             string             `json:"paidAt,omitempty"`
	FailedAt           string             `json:"failedAt,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, identity.UID, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

// buildOrderPayload renders the customer-facing view. Payment metadata stays internal.
func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Variant:     item.Variant,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			LineTotal:   item.LineTotal(),
		})
	}
	return orderPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Currency:      order.Currency,
		Totals: orderTotalsPayload{
			Subtotal: order.Totals.Subtotal,
			Discount: order.Totals.Discount,
			Shipping: order.Totals.Shipping,
			Total:    order.Totals.Total,
		},
		CouponCode:         derefString(order.CouponCode),
		Items:              items,
		ProcessorOrderID:   order.ProcessorOrderID,
		ProcessorPaymentID: derefString(order.ProcessorPaymentID),
		PaymentMethod:      derefString(order.PaymentMethod),
		CreatedAt:          formatTime(order.CreatedAt),
		UpdatedAt:          formatTime(order.UpdatedAt),
		PaidAt:             formatTimePtr(order.PaidAt),
		FailedAt:           formatTimePtr(order.FailedAt),
	}
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

// writeOrderError maps service sentinels onto HTTP responses shared by every order endpoint.
func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		stockErr  *services.InsufficientStockError
		priceErr  *services.PriceMismatchError
		couponErr *services.CouponInvalidError
		stateErr  *services.NotAbandonableError
	)
	switch {
	case errors.As(err, &stockErr):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "insufficient stock for the requested quantity", http.StatusConflict).
			WithDetails(map[string]any{
				"productId": stockErr.ProductID,
				"requested": stockErr.Requested,
				"available": stockErr.Available,
			}))
	case errors.As(err, &priceErr):
		httpx.WriteError(ctx, w, httpx.NewError("price_mismatch", "submitted price does not match the catalog", http.StatusConflict).
			WithDetails(map[string]any{
				"productId":     priceErr.ProductID,
				"variant":       priceErr.Variant,
				"expectedPrice": priceErr.Expected,
			}))
	case errors.As(err, &couponErr):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_invalid", couponErr.Reason, http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"reason": couponErr.Code}))
	case errors.As(err, &stateErr):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_abandonable", "order can no longer be abandoned", http.StatusConflict).
			WithDetails(map[string]any{
				"status":        string(stateErr.Status),
				"paymentStatus": string(stateErr.PaymentStatus),
			}))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_unavailable", "order service unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
