package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-ticket-sales/internal/application"
	"github.com/sanosuguru/go-ticket-sales/internal/domain/event"
	"github.com/sanosuguru/go-ticket-sales/internal/domain/ticket"
)

type EventHandler struct {
	eventService EventServiceInterface
	statsService StatsServiceInterface
}

func NewEventHandler(eventService EventServiceInterface, statsService StatsServiceInterface) *EventHandler {
	return &EventHandler{eventService: eventService, statsService: statsService}
}

type TicketTypeRequest struct {
	Name     string `json:"name" validate:"required" example:"一般"`
	Price    int    `json:"price" validate:"gte=0" example:"5000"`
	Quantity int    `json:"quantity" validate:"required,gt=0" example:"100"`
}

type CreateEventRequest struct {
	Name        string              `json:"name" validate:"required" example:"東京ドームコンサート2026"`
	Description string              `json:"description" example:"年末スペシャルコンサート"`
	Venue       string              `json:"venue" example:"東京ドーム"`
	StartAt     string              `json:"start_at" validate:"required" example:"2026-12-31T18:00:00+09:00"`
	EndAt       string              `json:"end_at" validate:"required" example:"2026-12-31T21:00:00+09:00"`
	Capacity    int                 `json:"capacity" validate:"required,gt=0" example:"50000"`
	TicketTypes []TicketTypeRequest `json:"ticket_types" validate:"dive"`
}

type TicketTypeResponse struct {
	Name     string `json:"name" example:"一般"`
	Price    int    `json:"price" example:"5000"`
	Quantity int    `json:"quantity" example:"100"`
}

type EventResponse struct {
	ID          string               `json:"id" example:"550e8400-e29b-41d4-a716-446655440000"`
	Name        string               `json:"name" example:"東京ドームコンサート2026"`
	Description string               `json:"description" example:"年末スペシャルコンサート"`
	Venue       string               `json:"venue" example:"東京ドーム"`
	StartAt     string               `json:"start_at" example:"2026-12-31T18:00:00+09:00"`
	EndAt       string               `json:"end_at" example:"2026-12-31T21:00:00+09:00"`
	Capacity    int                  `json:"capacity" example:"50000"`
	Status      string               `json:"status" example:"published"`
	TicketTypes []TicketTypeResponse `json:"ticket_types"`
	CreatedAt   string               `json:"created_at" example:"2026-08-01T10:00:00+09:00"`
	UpdatedAt   string               `json:"updated_at" example:"2026-08-01T10:00:00+09:00"`
}

func toEventResponse(e *event.Event) *EventResponse {
	types := make([]TicketTypeResponse, len(e.TicketTypes))
	for i, tt := range e.TicketTypes {
		types[i] = TicketTypeResponse{Name: tt.Name, Price: tt.Price, Quantity: tt.Quantity}
	}
	return &EventResponse{
		ID:          e.ID,
		Name:        e.Name,
		Description: e.Description,
		Venue:       e.Venue,
		StartAt:     e.StartAt.Format(time.RFC3339),
		EndAt:       e.EndAt.Format(time.RFC3339),
		Capacity:    e.Capacity,
		Status:      string(e.Status),
		TicketTypes: types,
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   e.UpdatedAt.Format(time.RFC3339),
	}
}

// Create godoc
// @Summary イベントを作成
// @Description 新しいイベントをドラフト状態で作成します
// @Tags events
// @Accept json
// @Produce json
// @Param request body CreateEventRequest true "イベント情報"
// @Success 201 {object} EventResponse
// @Failure 400 {object} map[string]string
// @Router /events [post]
func (h *EventHandler) Create(c echo.Context) error {
	var req CreateEventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "無効なリクエスト")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	startAt, err := time.Parse(time.RFC3339, req.StartAt)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "開始時刻の形式が不正です")
	}
	endAt, err := time.Parse(time.RFC3339, req.EndAt)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "終了時刻の形式が不正です")
	}

	types := make([]application.TicketTypeInput, len(req.TicketTypes))
	for i, tt := range req.TicketTypes {
		types[i] = application.TicketTypeInput{Name: tt.Name, Price: tt.Price, Quantity: tt.Quantity}
	}

	ev := event.NewEvent(req.Name, req.Description, req.Venue, startAt, endAt, req.Capacity)
	created, err := h.eventService.CreateEvent(c.Request().Context(), ev, types)
	if err != nil {
		if errors.Is(err, event.ErrCapacityExceeded) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, toEventResponse(created))
}

// GetByID godoc
// @Summary イベントを取得
// @Description 指定IDのイベントを取得します
// @Tags events
// @Produce json
// @Param id path string true "イベントID"
// @Success 200 {object} EventResponse
// @Failure 404 {object} map[string]string
// @Router /events/{id} [get]
func (h *EventHandler) GetByID(c echo.Context) error {
	id := c.Param("id")
	e, err := h.eventService.GetEvent(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, event.ErrEventNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, toEventResponse(e))
}

// List godoc
// @Summary イベント一覧を取得
// @Description イベントの一覧を取得します
// @Tags events
// @Produce json
// @Param limit query int false "取得件数" default(20)
// @Param offset query int false "オフセット" default(0)
// @Success 200 {array} EventResponse
// @Router /events [get]
func (h *EventHandler) List(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	events, err := h.eventService.ListEvents(c.Request().Context(), limit, offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	responses := make([]*EventResponse, len(events))
	for i, e := range events {
		responses[i] = toEventResponse(e)
	}
	return c.JSON(http.StatusOK, responses)
}

// AddTicketType godoc
// @Summary チケット種別を追加
// @Description ドラフト状態のイベントにチケット種別を追加します
// @Tags events
// @Accept json
// @Produce json
// @Param id path string true "イベントID"
// @Param request body TicketTypeRequest true "チケット種別"
// @Success 200 {object} EventResponse
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string "キャパシティ超過"
// @Router /events/{id}/ticket-types [post]
func (h *EventHandler) AddTicketType(c echo.Context) error {
	id := c.Param("id")
	var req TicketTypeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "無効なリクエスト")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	e, err := h.eventService.AddTicketType(c.Request().Context(), id, application.TicketTypeInput{
		Name: req.Name, Price: req.Price, Quantity: req.Quantity,
	})
	if err != nil {
		switch {
		case errors.Is(err, event.ErrEventNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, event.ErrCapacityExceeded):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		default:
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	return c.JSON(http.StatusOK, toEventResponse(e))
}

// Publish godoc
// @Summary イベントを公開
// @Description ドラフト状態のイベントを販売受付中にします
// @Tags events
// @Produce json
// @Param id path string true "イベントID"
// @Success 200 {object} EventResponse
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /events/{id}/publish [post]
func (h *EventHandler) Publish(c echo.Context) error {
	id := c.Param("id")
	e, err := h.eventService.PublishEvent(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, event.ErrEventNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, toEventResponse(e))
}

// Complete godoc
// @Summary イベントを終了
// @Description 公開中のイベントを終了状態にします
// @Tags events
// @Produce json
// @Param id path string true "イベントID"
// @Success 200 {object} EventResponse
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /events/{id}/complete [post]
func (h *EventHandler) Complete(c echo.Context) error {
	id := c.Param("id")
	e, err := h.eventService.CompleteEvent(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, event.ErrEventNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, toEventResponse(e))
}

type RefundFailureResponse struct {
	TicketID string `json:"ticket_id" example:"550e8400-e29b-41d4-a716-446655440000"`
	Reason   string `json:"reason" example:"payment gateway timeout"`
}

type CancelEventResponse struct {
	Event            *EventResponse          `json:"event"`
	CancelledTickets int64                   `json:"cancelled_tickets" example:"120"`
	Refunded         int                     `json:"refunded" example:"30"`
	Failures         []RefundFailureResponse `json:"failures,omitempty"`
}

// Cancel godoc
// @Summary イベントを中止
// @Description イベントを中止し、未販売チケットの取消と販売済みチケットの返金を行います
// @Tags events
// @Produce json
// @Param id path string true "イベントID"
// @Success 200 {object} CancelEventResponse
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 502 {object} CancelEventResponse "一部の返金に失敗"
// @Router /events/{id}/cancel [post]
func (h *EventHandler) Cancel(c echo.Context) error {
	id := c.Param("id")
	result, err := h.eventService.CancelEvent(c.Request().Context(), id)
	if err != nil && !errors.Is(err, application.ErrRefundPartialFailure) {
		if errors.Is(err, event.ErrEventNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	resp := CancelEventResponse{
		Event:            toEventResponse(result.Event),
		CancelledTickets: result.CancelledTickets,
		Refunded:         result.Refunded,
	}
	for _, f := range result.Failures {
		resp.Failures = append(resp.Failures, RefundFailureResponse{TicketID: f.TicketID, Reason: f.Reason})
	}

	// 返金の一部失敗はイベント中止自体を巻き戻さず、失敗分を明示して返す
	if err != nil {
		return c.JSON(http.StatusBadGateway, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

type StatsResponse struct {
	EventID      string  `json:"event_id" example:"550e8400-e29b-41d4-a716-446655440000"`
	Total        int     `json:"total" example:"100"`
	Available    int     `json:"available" example:"40"`
	Reserved     int     `json:"reserved" example:"10"`
	Sold         int     `json:"sold" example:"50"`
	Cancelled    int     `json:"cancelled" example:"0"`
	Refunded     int     `json:"refunded" example:"0"`
	Revenue      int     `json:"revenue" example:"250000"`
	AveragePrice float64 `json:"average_price" example:"5000"`
}

func toStatsResponse(eventID string, s *ticket.Stats) *StatsResponse {
	return &StatsResponse{
		EventID:      eventID,
		Total:        s.Total,
		Available:    s.Available,
		Reserved:     s.Reserved,
		Sold:         s.Sold,
		Cancelled:    s.Cancelled,
		Refunded:     s.Refunded,
		Revenue:      s.Revenue,
		AveragePrice: s.AveragePrice,
	}
}

// Stats godoc
// @Summary イベントの販売統計を取得
// @Description チケットの状態別枚数と売上の集計を取得します
// @Tags events
// @Produce json
// @Param id path string true "イベントID"
// @Success 200 {object} StatsResponse
// @Router /events/{id}/stats [get]
func (h *EventHandler) Stats(c echo.Context) error {
	id := c.Param("id")
	stats, err := h.statsService.GetEventStats(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, toStatsResponse(id, stats))
}
