package webapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leotyps/jkt48connect/pkg/checkout"
)

type ownerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	CustomID string `json:"custom_id"`
	APIKey   string `json:"api_key"`
}

type checkoutRequest struct {
	Kind     string       `json:"kind"`
	Amount   int64        `json:"amount"`
	Quantity int64        `json:"quantity"`
	Owner    ownerRequest `json:"owner"`
}

type failurePayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type fulfillmentPayload struct {
	Reference string         `json:"reference,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

type sessionPayload struct {
	ID               string              `json:"id"`
	Kind             string              `json:"kind"`
	Status           string              `json:"status"`
	Amount           int64               `json:"amount"`
	Fee              int64               `json:"fee"`
	Total            int64               `json:"total"`
	Quantity         int64               `json:"quantity"`
	OwnerName        string              `json:"owner_name,omitempty"`
	OwnerEmail       string              `json:"owner_email,omitempty"`
	QRImageURL       string              `json:"qr_image_url,omitempty"`
	PaymentReference string              `json:"payment_reference,omitempty"`
	Remaining        int                 `json:"remaining_seconds"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
	Failure          *failurePayload     `json:"failure,omitempty"`
	Fulfillment      *fulfillmentPayload `json:"fulfillment,omitempty"`
}

func (request checkoutRequest) order() (checkout.Order, error) {
	kind, err := checkout.ParseKind(request.Kind)
	if err != nil {
		return checkout.Order{}, err
	}
	amount, err := checkout.NewAmount(request.Amount)
	if err != nil {
		return checkout.Order{}, err
	}
	owner, err := checkout.NewOwner(kind, request.Owner.Name, request.Owner.Email, request.Owner.CustomID, request.Owner.APIKey)
	if err != nil {
		return checkout.Order{}, err
	}
	return checkout.NewOrder(kind, amount, request.Quantity, owner)
}

func (handler *httpHandler) handleCreateCheckout(ctx *gin.Context) {
	var request checkoutRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	order, err := request.order()
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(orderErrorCode(err), err.Error()))
		return
	}
	session, err := handler.checkouts.Start(ctx.Request.Context(), order)
	if err != nil {
		handler.logger.Error("checkout start failed", zap.String("session_id", session.ID), zap.Error(err))
		switch {
		case errors.Is(err, checkout.ErrTotalUnavailable):
			ctx.JSON(http.StatusServiceUnavailable, errorResponse("total_unavailable", "no payment slot available, try again"))
		case session.Status == checkout.StatusFailed:
			response := errorResponse("payment_create_failed", "payment could not be created")
			response["checkout"] = newSessionPayload(session)
			ctx.JSON(http.StatusBadGateway, response)
		default:
			ctx.JSON(http.StatusInternalServerError, errorResponse("checkout_error", "checkout could not be started"))
		}
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"checkout": newSessionPayload(session)})
}

func (handler *httpHandler) handleGetCheckout(ctx *gin.Context) {
	sessionID := ctx.Param("id")
	if session, ok := handler.checkouts.Get(sessionID); ok {
		ctx.JSON(http.StatusOK, gin.H{"checkout": newSessionPayload(session)})
		return
	}
	if handler.sessions == nil {
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", "checkout not found"))
		return
	}
	session, err := handler.sessions.GetSession(ctx.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, checkout.ErrSessionNotFound) {
			ctx.JSON(http.StatusNotFound, errorResponse("not_found", "checkout not found"))
			return
		}
		handler.logger.Error("session lookup failed", zap.String("session_id", sessionID), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("store_error", "checkout unavailable"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"checkout": newSessionPayload(session)})
}

func (handler *httpHandler) handleCancelCheckout(ctx *gin.Context) {
	session, err := handler.checkouts.Cancel(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, checkout.ErrSessionNotFound):
			ctx.JSON(http.StatusNotFound, errorResponse("not_found", "checkout not found"))
		case errors.Is(err, checkout.ErrNotCancellable):
			response := errorResponse("not_cancellable", err.Error())
			response["checkout"] = newSessionPayload(session)
			ctx.JSON(http.StatusConflict, response)
		default:
			handler.logger.Error("checkout cancel failed", zap.Error(err))
			ctx.JSON(http.StatusInternalServerError, errorResponse("checkout_error", "checkout could not be cancelled"))
		}
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"checkout": newSessionPayload(session)})
}

func orderErrorCode(err error) string {
	switch {
	case errors.Is(err, checkout.ErrInvalidKind):
		return "invalid_kind"
	case errors.Is(err, checkout.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, checkout.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, checkout.ErrInvalidEmail):
		return "invalid_email"
	default:
		return "invalid_owner"
	}
}

func newSessionPayload(session checkout.Session) sessionPayload {
	payload := sessionPayload{
		ID:               session.ID,
		Kind:             session.Kind.String(),
		Status:           session.Status.String(),
		Amount:           session.Amount.Int64(),
		Fee:              session.Fee.Int64(),
		Total:            session.Total.Int64(),
		Quantity:         session.Quantity,
		OwnerName:        session.Owner.Name,
		OwnerEmail:       session.Owner.Email,
		QRImageURL:       session.QRImageURL,
		PaymentReference: session.PaymentReference,
		Remaining:        session.Remaining,
		CreatedAt:        session.CreatedAt,
		UpdatedAt:        session.UpdatedAt,
	}
	if session.Failure != nil {
		payload.Failure = &failurePayload{Kind: string(session.Failure.Kind), Message: session.Failure.Message}
	}
	if session.Fulfillment != nil {
		payload.Fulfillment = &fulfillmentPayload{Reference: session.Fulfillment.Reference, Details: session.Fulfillment.Details}
	}
	return payload
}
