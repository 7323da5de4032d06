package handler

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-ticket-sales/internal/domain/ticket"
	"github.com/sanosuguru/go-ticket-sales/internal/pkg/logger"
)

// WebhookHandler は決済ゲートウェイからのWebhookを受け付けるハンドラー
type WebhookHandler struct {
	purchaseService PurchaseServiceInterface
	secret          string
}

func NewWebhookHandler(purchaseService PurchaseServiceInterface, secret string) *WebhookHandler {
	return &WebhookHandler{purchaseService: purchaseService, secret: secret}
}

type PaymentWebhookRequest struct {
	TicketID  string `json:"ticket_id" validate:"required" example:"550e8400-e29b-41d4-a716-446655440000"`
	PaymentID string `json:"payment_id" validate:"required" example:"pi_3MtwBwLkdIwHu7ix"`
	Status    string `json:"status" validate:"required" example:"succeeded"`
}

// HandlePayment godoc
// @Summary 決済Webhookを受信
// @Description 決済結果が未確定のまま予約中のチケットについて、ゲートウェイからの通知で購入を確定します
// @Tags webhooks
// @Accept json
// @Produce json
// @Param X-Webhook-Token header string true "共有シークレット"
// @Param request body PaymentWebhookRequest true "決済結果"
// @Success 200 {object} TicketResponse
// @Failure 401 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /webhooks/payment [post]
func (h *WebhookHandler) HandlePayment(c echo.Context) error {
	token := c.Request().Header.Get("X-Webhook-Token")
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) != 1 {
		return echo.NewHTTPError(http.StatusUnauthorized, "Webhookトークンが不正です")
	}

	var req PaymentWebhookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "無効なリクエスト")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	// 失敗通知は予約を空席に戻す（スイーパーのTTLを待たない）
	if req.Status != "succeeded" {
		logger.Info("決済失敗のWebhookを受信",
			zap.String("ticket_id", req.TicketID),
			zap.String("payment_id", req.PaymentID),
			zap.String("status", req.Status),
		)
		if err := h.purchaseService.ReleaseReservation(c.Request().Context(), req.TicketID); err != nil {
			if errors.Is(err, ticket.ErrTicketNotFound) {
				return echo.NewHTTPError(http.StatusNotFound, err.Error())
			}
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "released"})
	}

	t, err := h.purchaseService.ConfirmPurchase(c.Request().Context(), req.TicketID, req.PaymentID)
	if err != nil {
		switch {
		case errors.Is(err, ticket.ErrTicketNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, ticket.ErrTicketNotReserved),
			errors.Is(err, ticket.ErrPaymentIDMismatch):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, toTicketResponse(t))
}
