package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-ticket-sales/internal/application"
	"github.com/sanosuguru/go-ticket-sales/internal/domain/event"
	"github.com/sanosuguru/go-ticket-sales/internal/domain/payment"
	"github.com/sanosuguru/go-ticket-sales/internal/domain/ticket"
)

type PurchaseHandler struct {
	purchaseService PurchaseServiceInterface
}

func NewPurchaseHandler(purchaseService PurchaseServiceInterface) *PurchaseHandler {
	return &PurchaseHandler{purchaseService: purchaseService}
}

// Purchase godoc
// @Summary チケットを購入
// @Description チケットを予約し、決済を実行して購入を確定します
// @Tags purchases
// @Produce json
// @Param X-User-ID header string true "ユーザーID"
// @Param id path string true "チケットID"
// @Success 200 {object} TicketResponse
// @Failure 401 {object} map[string]string
// @Failure 402 {object} map[string]string "決済拒否"
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string "チケットが購入できない状態"
// @Failure 429 {object} map[string]string "同時保持予約数の上限"
// @Failure 202 {object} TicketResponse "決済結果が未確定。予約は保持される"
// @Router /tickets/{id}/purchase [post]
func (h *PurchaseHandler) Purchase(c echo.Context) error {
	userID := c.Request().Header.Get("X-User-ID")
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "ユーザーIDが必要です")
	}
	ticketID := c.Param("id")

	t, err := h.purchaseService.PurchaseTicket(c.Request().Context(), application.PurchaseInput{
		TicketID: ticketID,
		UserID:   userID,
	})
	if err != nil {
		switch {
		case errors.Is(err, ticket.ErrTicketNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, ticket.ErrTicketUnavailable),
			errors.Is(err, event.ErrEventNotSellable):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.Is(err, ticket.ErrTooManyActiveHolds):
			return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
		case errors.Is(err, application.ErrPaymentOutcomeUnknown):
			// 予約は保持されたまま。Webhookかスイーパーが後続処理を行う
			return c.JSON(http.StatusAccepted, map[string]string{
				"status":    "pending",
				"ticket_id": ticketID,
				"message":   err.Error(),
			})
		case payment.IsPermanent(err):
			return echo.NewHTTPError(http.StatusPaymentRequired, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, toTicketResponse(t))
}

// Cancel godoc
// @Summary チケットを取消
// @Description 空席または予約中のチケットを取消し、販売済みのチケットは返金します
// @Tags purchases
// @Produce json
// @Param id path string true "チケットID"
// @Success 200 {object} TicketResponse
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 502 {object} map[string]string "返金に失敗"
// @Router /tickets/{id}/cancel [post]
func (h *PurchaseHandler) Cancel(c echo.Context) error {
	ticketID := c.Param("id")
	t, err := h.purchaseService.CancelTicket(c.Request().Context(), ticketID)
	if err != nil {
		switch {
		case errors.Is(err, ticket.ErrTicketNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, ticket.ErrInvalidStatusTransition):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		default:
			// 返金の失敗はチケットを販売済みのまま残す
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
	}
	return c.JSON(http.StatusOK, toTicketResponse(t))
}
