package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-ticket-sales/internal/application"
	"github.com/sanosuguru/go-ticket-sales/internal/domain/event"
	"github.com/sanosuguru/go-ticket-sales/internal/domain/ticket"
)

type TicketHandler struct {
	poolService TicketPoolServiceInterface
}

func NewTicketHandler(poolService TicketPoolServiceInterface) *TicketHandler {
	return &TicketHandler{poolService: poolService}
}

type CreateBatchRequest struct {
	TypeName      string `json:"type_name" validate:"required" example:"一般"`
	Quantity      int    `json:"quantity" validate:"required,gt=0" example:"100"`
	PriceOverride *int   `json:"price_override,omitempty" example:"4500"`
}

type CreateBatchResponse struct {
	BatchID string `json:"batch_id" example:"550e8400-e29b-41d4-a716-446655440000"`
	Created int    `json:"created" example:"100"`
}

type TicketResponse struct {
	ID              string  `json:"id" example:"550e8400-e29b-41d4-a716-446655440000"`
	EventID         string  `json:"event_id" example:"550e8400-e29b-41d4-a716-446655440000"`
	TypeName        string  `json:"type_name" example:"一般"`
	Status          string  `json:"status" example:"available"`
	Price           int     `json:"price" example:"5000"`
	ReservingUserID *string `json:"reserving_user_id,omitempty" example:"user-123"`
	PaymentID       *string `json:"payment_id,omitempty" example:"pi_3MtwBwLkdIwHu7ix"`
	ReservedAt      *string `json:"reserved_at,omitempty"`
	PurchasedAt     *string `json:"purchased_at,omitempty"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

func toTicketResponse(t *ticket.Ticket) *TicketResponse {
	resp := &TicketResponse{
		ID:              t.ID,
		EventID:         t.EventID,
		TypeName:        t.TypeName,
		Status:          string(t.Status),
		Price:           t.Price,
		ReservingUserID: t.ReservingUserID,
		PaymentID:       t.PaymentID,
		CreatedAt:       t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       t.UpdatedAt.Format(time.RFC3339),
	}
	if t.ReservedAt != nil {
		s := t.ReservedAt.Format(time.RFC3339)
		resp.ReservedAt = &s
	}
	if t.PurchasedAt != nil {
		s := t.PurchasedAt.Format(time.RFC3339)
		resp.PurchasedAt = &s
	}
	return resp
}

// CreateBatch godoc
// @Summary チケットを一括作成
// @Description イベントのチケット在庫を一括で作成します
// @Tags tickets
// @Accept json
// @Produce json
// @Param id path string true "イベントID"
// @Param request body CreateBatchRequest true "作成内容"
// @Success 201 {object} CreateBatchResponse
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string "キャパシティ超過または在庫操作の競合"
// @Router /events/{id}/tickets [post]
func (h *TicketHandler) CreateBatch(c echo.Context) error {
	eventID := c.Param("id")
	var req CreateBatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "無効なリクエスト")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	result, err := h.poolService.CreateBatch(c.Request().Context(), application.CreateBatchInput{
		EventID:       eventID,
		TypeName:      req.TypeName,
		Quantity:      req.Quantity,
		PriceOverride: req.PriceOverride,
	})
	if err != nil {
		switch {
		case errors.Is(err, event.ErrEventNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, event.ErrCapacityExceeded),
			errors.Is(err, application.ErrPoolBusy):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.Is(err, application.ErrInvalidQuantity),
			errors.Is(err, application.ErrTicketTypeNotFound):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusCreated, CreateBatchResponse{BatchID: result.BatchID, Created: result.Created})
}

// GetByID godoc
// @Summary チケットを取得
// @Description 指定IDのチケットを取得します
// @Tags tickets
// @Produce json
// @Param id path string true "チケットID"
// @Success 200 {object} TicketResponse
// @Failure 404 {object} map[string]string
// @Router /tickets/{id} [get]
func (h *TicketHandler) GetByID(c echo.Context) error {
	id := c.Param("id")
	t, err := h.poolService.GetTicket(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ticket.ErrTicketNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, toTicketResponse(t))
}

// ListByEvent godoc
// @Summary イベントのチケット一覧を取得
// @Description イベントのチケット一覧を状態で絞り込んで取得します
// @Tags tickets
// @Produce json
// @Param id path string true "イベントID"
// @Param status query string false "チケット状態" Enums(available,reserved,sold,cancelled,refunded)
// @Success 200 {array} TicketResponse
// @Failure 400 {object} map[string]string
// @Router /events/{id}/tickets [get]
func (h *TicketHandler) ListByEvent(c echo.Context) error {
	eventID := c.Param("id")
	status := ticket.Status(c.QueryParam("status"))
	if status != "" && !status.IsValid() {
		return echo.NewHTTPError(http.StatusBadRequest, "無効なチケット状態です")
	}

	tickets, err := h.poolService.ListTickets(c.Request().Context(), eventID, status)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	responses := make([]*TicketResponse, len(tickets))
	for i, t := range tickets {
		responses[i] = toTicketResponse(t)
	}
	return c.JSON(http.StatusOK, responses)
}

type ChangePriceRequest struct {
	Price int `json:"price" validate:"gte=0" example:"4500"`
}

// ChangePrice godoc
// @Summary チケットの価格を変更
// @Description 空席状態のチケットの価格を変更します
// @Tags tickets
// @Accept json
// @Produce json
// @Param id path string true "チケットID"
// @Param request body ChangePriceRequest true "新しい価格"
// @Success 200 {object} TicketResponse
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string "販売中または販売済みのため変更不可"
// @Router /tickets/{id}/price [put]
func (h *TicketHandler) ChangePrice(c echo.Context) error {
	id := c.Param("id")
	var req ChangePriceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "無効なリクエスト")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	t, err := h.poolService.ChangeTicketPrice(c.Request().Context(), id, req.Price)
	if err != nil {
		switch {
		case errors.Is(err, ticket.ErrTicketNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, ticket.ErrPriceLocked):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.Is(err, ticket.ErrInvalidPrice):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, toTicketResponse(t))
}
