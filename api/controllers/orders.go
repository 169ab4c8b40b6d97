package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/ordersync/api/responses"
	"github.com/angelmondragon/ordersync/api/validators"
	internalorders "github.com/angelmondragon/ordersync/internal/orders"
	"github.com/angelmondragon/ordersync/pkg/enums"
	pkgerrors "github.com/angelmondragon/ordersync/pkg/errors"
	"github.com/angelmondragon/ordersync/pkg/logger"
)

// Engine is the view surface the controllers expose over HTTP.
type Engine interface {
	View() []internalorders.OrderRecord
	StreamState() enums.StreamState
	CancelOrder(ctx context.Context, key, reason string) error
	DeleteOrder(ctx context.Context, key string) error
	RemoveItem(ctx context.Context, key, productID string) error
}

// OrderList returns the current reconciled order view.
func OrderList(engine Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "engine unavailable"))
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"orders": engine.View(),
		})
	}
}

// StreamState reports the push connection lifecycle state.
func StreamState(engine Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "engine unavailable"))
			return
		}
		state := engine.StreamState()
		responses.WriteSuccess(w, map[string]any{
			"state": state,
			"live":  state.Live(),
		})
	}
}

type cancelOrderRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

// CancelOrder flips the order to cancelled locally and mirrors the change.
// The body is optional; when present it carries a cancellation reason.
func CancelOrder(engine Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := parseOrderKey(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body cancelOrderRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &body); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		if err := engine.CancelOrder(r.Context(), key, strings.TrimSpace(body.Reason)); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "cancelled"})
	}
}

// DeleteOrder removes the order from the local view permanently.
func DeleteOrder(engine Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := parseOrderKey(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := engine.DeleteOrder(r.Context(), key); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "deleted"})
	}
}

// RemoveItem drops one product from the order.
func RemoveItem(engine Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := parseOrderKey(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		productID := strings.TrimSpace(chi.URLParam(r, "productId"))
		if productID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "product id is required"))
			return
		}
		if err := engine.RemoveItem(r.Context(), key, productID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "item removed"})
	}
}

func parseOrderKey(r *http.Request) (string, error) {
	key := strings.TrimSpace(chi.URLParam(r, "orderKey"))
	if key == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "order key is required")
	}
	return key, nil
}
