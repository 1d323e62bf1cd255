package ordering

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

// OpsStore backs the operational endpoints.
type OpsStore interface {
	ListAnomalies(ctx context.Context, orderID string, limit int) ([]SagaAnomaly, error)
	Ping(ctx context.Context) error
}

type Handler struct {
	svc *Service
	ops OpsStore
	log zerolog.Logger
}

func NewHandler(svc *Service, ops OpsStore, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, ops: ops, log: logger.With().Str("component", "http").Logger()}
}

// NewRouter exposes the order API. allowedOrigins feeds the CORS policy.
func NewRouter(h *Handler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(h.log))
	r.Use(cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler)

	r.Get("/health", h.Health)
	r.Route("/api", func(r chi.Router) {
		r.Post("/orders", h.CreateOrder)
		r.Get("/orders/{orderId}", h.GetOrder)
		r.Get("/saga/anomalies", h.ListAnomalies)
	})
	return r
}

type acceptedResponse struct {
	OrderID    string    `json:"orderId"`
	Status     State     `json:"status"`
	TotalPrice jsonMoney `json:"totalPrice"`
}

type orderLineView struct {
	MenuItemID string    `json:"menuItemId"`
	Quantity   int       `json:"quantity"`
	UnitPrice  jsonMoney `json:"unitPrice"`
}

type orderView struct {
	OrderID      string          `json:"orderId"`
	RestaurantID string          `json:"restaurantId"`
	Status       State           `json:"status"`
	Version      int             `json:"version"`
	Items        []orderLineView `json:"items"`
	Subtotal     jsonMoney       `json:"subtotal"`
	DeliveryFee  jsonMoney       `json:"deliveryFee"`
	Discount     jsonMoney       `json:"discount"`
	TotalPrice   jsonMoney       `json:"totalPrice"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// jsonMoney renders as a JSON number with two decimals.
type jsonMoney decimal.Decimal

func (m jsonMoney) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(m).StringFixed(2)), nil
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	acc, err := h.svc.AcceptOrder(r.Context(), req)
	if err != nil {
		var rej *Rejection
		if !errors.As(err, &rej) {
			h.log.Error().Err(err).Msg("unclassified acceptance error")
			writeMessage(w, http.StatusServiceUnavailable, "service unavailable")
			return
		}
		status := http.StatusServiceUnavailable
		if rej.Kind == RejectClient {
			status = http.StatusBadRequest
		}
		writeMessage(w, status, rej.Message)
		return
	}

	writeJSON(w, http.StatusAccepted, acceptedResponse{
		OrderID:    acc.OrderID,
		Status:     acc.State,
		TotalPrice: jsonMoney(acc.Total),
	})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orderId")
	if _, err := uuid.Parse(id); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid order id")
		return
	}
	o, err := h.svc.GetOrder(r.Context(), id)
	if errors.Is(err, ErrOrderNotFound) {
		writeMessage(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("order_id", id).Msg("get order")
		writeMessage(w, http.StatusServiceUnavailable, "order store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, toOrderView(o))
}

func (h *Handler) ListAnomalies(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.ops.ListAnomalies(r.Context(), r.URL.Query().Get("orderId"), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("list anomalies")
		writeMessage(w, http.StatusServiceUnavailable, "order store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.ops.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "service": "ordering"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "ordering"})
}

func toOrderView(o *Order) orderView {
	v := orderView{
		OrderID:      o.ID,
		RestaurantID: o.RestaurantID,
		Status:       o.State,
		Version:      o.Version,
		Items:        make([]orderLineView, 0, len(o.Lines)),
		Subtotal:     jsonMoney(o.Pricing.Subtotal),
		DeliveryFee:  jsonMoney(o.Pricing.DeliveryFee),
		Discount:     jsonMoney(o.Pricing.Discount),
		TotalPrice:   jsonMoney(o.Pricing.Total),
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
	for _, l := range o.Lines {
		v.Items = append(v.Items, orderLineView{MenuItemID: l.ItemID, Quantity: l.Quantity, UnitPrice: jsonMoney(l.UnitPrice)})
	}
	return v
}

// RequestLogger logs one line per request with zerolog.
func RequestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
