package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/codeexpert/order-saga/order-service/application"
	"github.com/codeexpert/order-saga/order-service/domain"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

// OrderHandlers contains the order ingress HTTP handlers
type OrderHandlers struct {
	startOrder *application.StartOrder
	getOrder   *application.GetOrder
}

// NewOrderHandlers creates new order handlers
func NewOrderHandlers(startOrder *application.StartOrder, getOrder *application.GetOrder) *OrderHandlers {
	return &OrderHandlers{
		startOrder: startOrder,
		getOrder:   getOrder,
	}
}

// CreateOrder accepts an order and starts its saga. The response is 202: the
// saga completes asynchronously and is observable via GetOrder.
func (h *OrderHandlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var cmd application.StartOrderCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	response, err := h.startOrder.Execute(r.Context(), &cmd)
	if err != nil {
		status := http.StatusInternalServerError
		if strings.Contains(err.Error(), "invalid command") {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(response)
}

// GetOrder returns the current saga snapshot for an order.
func (h *OrderHandlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		http.Error(w, "Order ID is required", http.StatusBadRequest)
		return
	}

	response, err := h.getOrder.Execute(r.Context(), &application.GetOrderQuery{OrderID: orderID})
	if err != nil {
		if errors.Is(err, domain.ErrSagaNotFound) {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// RegisterRoutes registers order routes
func (h *OrderHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/{id}", h.GetOrder)
	})
}
