package handler

import (
	"context"

	"github.com/sanosuguru/go-ticket-sales/internal/application"
	"github.com/sanosuguru/go-ticket-sales/internal/domain/event"
	"github.com/sanosuguru/go-ticket-sales/internal/domain/ticket"
)

// EventServiceInterface はイベントサービスのインターフェース
type EventServiceInterface interface {
	CreateEvent(ctx context.Context, e *event.Event, types []application.TicketTypeInput) (*event.Event, error)
	GetEvent(ctx context.Context, id string) (*event.Event, error)
	ListEvents(ctx context.Context, limit, offset int) ([]*event.Event, error)
	AddTicketType(ctx context.Context, eventID string, input application.TicketTypeInput) (*event.Event, error)
	PublishEvent(ctx context.Context, id string) (*event.Event, error)
	CompleteEvent(ctx context.Context, id string) (*event.Event, error)
	CancelEvent(ctx context.Context, id string) (*application.CancelEventResult, error)
}

// TicketPoolServiceInterface はチケット在庫サービスのインターフェース
type TicketPoolServiceInterface interface {
	CreateBatch(ctx context.Context, input application.CreateBatchInput) (*application.CreateBatchResult, error)
	GetTicket(ctx context.Context, id string) (*ticket.Ticket, error)
	ListTickets(ctx context.Context, eventID string, status ticket.Status) ([]*ticket.Ticket, error)
	ChangeTicketPrice(ctx context.Context, ticketID string, price int) (*ticket.Ticket, error)
}

// PurchaseServiceInterface は購入サービスのインターフェース
type PurchaseServiceInterface interface {
	PurchaseTicket(ctx context.Context, input application.PurchaseInput) (*ticket.Ticket, error)
	ConfirmPurchase(ctx context.Context, ticketID, paymentID string) (*ticket.Ticket, error)
	ReleaseReservation(ctx context.Context, ticketID string) error
	CancelTicket(ctx context.Context, ticketID string) (*ticket.Ticket, error)
}

// StatsServiceInterface は統計サービスのインターフェース
type StatsServiceInterface interface {
	GetEventStats(ctx context.Context, eventID string) (*ticket.Stats, error)
}
