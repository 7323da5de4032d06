package application

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sanosuguru/go-ticket-sales/internal/domain/event"
	"github.com/sanosuguru/go-ticket-sales/internal/domain/ticket"
	redisinfra "github.com/sanosuguru/go-ticket-sales/internal/infrastructure/redis"
	"github.com/sanosuguru/go-ticket-sales/internal/notification"
	"github.com/sanosuguru/go-ticket-sales/internal/pkg/logger"
)

// refundConcurrency はイベント中止時の返金の同時実行数
const refundConcurrency = 8

// TicketRefunder は販売済みチケットの返金を行うインターフェース
// PurchaseService が実装する
type TicketRefunder interface {
	RefundTicket(ctx context.Context, ticketID string) error
}

// EventService はイベントのライフサイクルを管理する
type EventService struct {
	eventRepo  event.Repository
	ticketRepo ticket.Repository
	refunder   TicketRefunder
	statsCache redisinfra.StatsCacheInterface
	notifier   notification.Notifier
}

func NewEventService(
	er event.Repository,
	tr ticket.Repository,
	refunder TicketRefunder,
	sc redisinfra.StatsCacheInterface,
	n notification.Notifier,
) *EventService {
	if n == nil {
		n = notification.NopNotifier{}
	}
	return &EventService{
		eventRepo:  er,
		ticketRepo: tr,
		refunder:   refunder,
		statsCache: sc,
		notifier:   n,
	}
}

type TicketTypeInput struct {
	Name     string
	Price    int
	Quantity int
}

// CreateEvent は新しいイベントをドラフト状態で作成する
func (s *EventService) CreateEvent(ctx context.Context, e *event.Event, types []TicketTypeInput) (*event.Event, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	for _, tt := range types {
		if err := e.AddTicketType(tt.Name, tt.Price, tt.Quantity); err != nil {
			return nil, err
		}
	}
	if err := s.eventRepo.Create(ctx, e); err != nil {
		return nil, err
	}
	logger.Info("イベントを作成しました", zap.String("event_id", e.ID), zap.String("name", e.Name))
	return e, nil
}

// GetEvent はイベントを取得する
func (s *EventService) GetEvent(ctx context.Context, id string) (*event.Event, error) {
	return s.eventRepo.GetByID(ctx, id)
}

// ListEvents はイベント一覧を取得する
func (s *EventService) ListEvents(ctx context.Context, limit, offset int) ([]*event.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.eventRepo.List(ctx, limit, offset)
}

// AddTicketType はドラフト中のイベントにチケット種別を追加する
func (s *EventService) AddTicketType(ctx context.Context, eventID string, input TicketTypeInput) (*event.Event, error) {
	ev, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := ev.AddTicketType(input.Name, input.Price, input.Quantity); err != nil {
		return nil, err
	}
	if err := s.eventRepo.Update(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// PublishEvent はイベントを公開し、チケット販売を開始する
func (s *EventService) PublishEvent(ctx context.Context, id string) (*event.Event, error) {
	ev, err := s.eventRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ev.Publish(); err != nil {
		return nil, err
	}
	if err := s.eventRepo.Update(ctx, ev); err != nil {
		return nil, err
	}
	logger.Info("イベントを公開しました", zap.String("event_id", ev.ID))
	return ev, nil
}

// CompleteEvent はイベントを終了状態にする
func (s *EventService) CompleteEvent(ctx context.Context, id string) (*event.Event, error) {
	ev, err := s.eventRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ev.Complete(); err != nil {
		return nil, err
	}
	if err := s.eventRepo.Update(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// RefundFailure は返金ファンアウト中の個別失敗を表す
type RefundFailure struct {
	TicketID string
	Reason   string
}

// CancelEventResult はイベント中止の処理結果を表す
type CancelEventResult struct {
	Event            *event.Event
	CancelledTickets int64
	Refunded         int
	Failures         []RefundFailure
}

// CancelEvent はイベントを中止する
//
// 状態遷移を先に確定させてから未販売チケットの一括キャンセルと販売済み
// チケットの返金ファンアウトを行う。返金が一部失敗してもイベントは
// cancelled のまま。失敗分は結果に含めて返し、再実行で返金し直せる
func (s *EventService) CancelEvent(ctx context.Context, id string) (*CancelEventResult, error) {
	ev, err := s.eventRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ev.Cancel(); err != nil {
		return nil, err
	}
	if err := s.eventRepo.Update(ctx, ev); err != nil {
		return nil, err
	}

	cancelled, err := s.ticketRepo.CancelOpenByEventID(ctx, id)
	if err != nil {
		logger.Error("未販売チケットの一括キャンセルに失敗",
			zap.String("event_id", id), zap.Error(err))
	}

	refunded, failures := s.refundSoldTickets(ctx, id)

	s.invalidateStats(ctx, id)
	s.notifier.Notify(ctx, notification.Event{
		Type:    notification.TypeEventCancelled,
		EventID: id,
	})

	logger.Info("イベントを中止しました",
		zap.String("event_id", id),
		zap.Int64("cancelled_tickets", cancelled),
		zap.Int("refunded", refunded),
		zap.Int("refund_failures", len(failures)))

	result := &CancelEventResult{
		Event:            ev,
		CancelledTickets: cancelled,
		Refunded:         refunded,
		Failures:         failures,
	}
	if len(failures) > 0 {
		return result, fmt.Errorf("%w: %d件", ErrRefundPartialFailure, len(failures))
	}
	return result, nil
}

// refundSoldTickets は販売済みチケットを並行に返金し、失敗分を収集する
func (s *EventService) refundSoldTickets(ctx context.Context, eventID string) (int, []RefundFailure) {
	sold, err := s.ticketRepo.ListByEventIDAndStatus(ctx, eventID, ticket.StatusSold)
	if err != nil {
		logger.Error("販売済みチケットの取得に失敗",
			zap.String("event_id", eventID), zap.Error(err))
		return 0, []RefundFailure{{TicketID: "", Reason: err.Error()}}
	}
	if len(sold) == 0 {
		return 0, nil
	}

	var (
		mu       sync.Mutex
		refunded int
		failures []RefundFailure
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refundConcurrency)
	for _, t := range sold {
		t := t
		g.Go(func() error {
			if err := s.refunder.RefundTicket(gctx, t.ID); err != nil {
				mu.Lock()
				failures = append(failures, RefundFailure{TicketID: t.ID, Reason: err.Error()})
				mu.Unlock()
				return nil
			}
			mu.Lock()
			refunded++
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return refunded, failures
}

func (s *EventService) invalidateStats(ctx context.Context, eventID string) {
	if s.statsCache == nil {
		return
	}
	if err := s.statsCache.Invalidate(ctx, eventID); err != nil {
		logger.Warn("統計キャッシュの無効化に失敗",
			zap.String("event_id", eventID), zap.Error(err))
	}
}
