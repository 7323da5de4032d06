package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-ticket-sales/internal/domain/event"
	"github.com/sanosuguru/go-ticket-sales/internal/domain/ticket"
	"github.com/sanosuguru/go-ticket-sales/internal/domain/transaction"
	redisinfra "github.com/sanosuguru/go-ticket-sales/internal/infrastructure/redis"
	"github.com/sanosuguru/go-ticket-sales/internal/pkg/logger"
	"github.com/sanosuguru/go-ticket-sales/internal/pkg/metrics"
)

// createBatchChunkSize は一括作成の1トランザクションあたりの挿入枚数
const createBatchChunkSize = 100

// TicketPoolService はチケット在庫の管理を担う
// 一括作成はイベント単位の分散ロックで直列化し、キャパシティ超過を防ぐ
type TicketPoolService struct {
	txManager   transaction.Manager
	ticketRepo  ticket.Repository
	eventRepo   event.Repository
	lockManager redisinfra.LockManagerInterface
	statsCache  redisinfra.StatsCacheInterface
	metrics     *metrics.Metrics
}

func NewTicketPoolService(
	txm transaction.Manager,
	tr ticket.Repository,
	er event.Repository,
	lm redisinfra.LockManagerInterface,
	sc redisinfra.StatsCacheInterface,
	m *metrics.Metrics,
) *TicketPoolService {
	return &TicketPoolService{
		txManager:   txm,
		ticketRepo:  tr,
		eventRepo:   er,
		lockManager: lm,
		statsCache:  sc,
		metrics:     m,
	}
}

type CreateBatchInput struct {
	EventID  string
	TypeName string
	Quantity int

	// PriceOverride を指定するとチケット種別の価格の代わりに使用する
	PriceOverride *int
}

type CreateBatchResult struct {
	BatchID string
	Created int
}

// CreateBatch はチケットを一括作成する
// キャパシティ確認と挿入は分散ロック下で行い、同一イベントへの並行作成による
// 超過を防ぐ。チャンク挿入が途中で失敗した場合は同一バッチの作成分を削除する
func (s *TicketPoolService) CreateBatch(ctx context.Context, input CreateBatchInput) (*CreateBatchResult, error) {
	if input.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	lockKey := fmt.Sprintf("tickets:create:%s", input.EventID)
	lock, err := s.lockManager.AcquireLockWithRetry(ctx, lockKey, 30*time.Second, 3, 100*time.Millisecond)
	if err != nil {
		if errors.Is(err, redisinfra.ErrLockNotAcquired) {
			return nil, ErrPoolBusy
		}
		return nil, fmt.Errorf("ロック取得に失敗: %w", err)
	}
	defer lock.Release(ctx)

	ev, err := s.eventRepo.GetByID(ctx, input.EventID)
	if err != nil {
		return nil, err
	}
	if ev.Status == event.StatusCancelled || ev.Status == event.StatusCompleted {
		return nil, event.ErrInvalidStatusTransition
	}

	price, err := resolvePrice(ev, input)
	if err != nil {
		return nil, err
	}

	// キャパシティ確認（ロック下なので並行作成と競合しない）
	committed, err := s.ticketRepo.CountCommittedByEventID(ctx, input.EventID)
	if err != nil {
		return nil, err
	}
	if committed+input.Quantity > ev.Capacity {
		return nil, event.ErrCapacityExceeded
	}

	batchID := uuid.New().String()
	tickets := make([]*ticket.Ticket, input.Quantity)
	for i := range tickets {
		t := ticket.NewTicket(input.EventID, input.TypeName, price, batchID)
		if err := t.Validate(); err != nil {
			return nil, err
		}
		tickets[i] = t
	}

	if err := s.insertChunked(ctx, batchID, tickets); err != nil {
		return nil, err
	}

	s.invalidateStats(ctx, input.EventID)

	logger.Info("チケットを一括作成しました",
		zap.String("event_id", input.EventID),
		zap.String("batch_id", batchID),
		zap.Int("created", input.Quantity))

	return &CreateBatchResult{BatchID: batchID, Created: input.Quantity}, nil
}

func resolvePrice(ev *event.Event, input CreateBatchInput) (int, error) {
	if input.PriceOverride != nil {
		if *input.PriceOverride < 0 {
			return 0, ticket.ErrInvalidPrice
		}
		return *input.PriceOverride, nil
	}
	for _, tt := range ev.TicketTypes {
		if tt.Name == input.TypeName {
			return tt.Price, nil
		}
	}
	return 0, ErrTicketTypeNotFound
}

// insertChunked はチャンク単位のトランザクションでチケットを挿入する
// 途中で失敗した場合、作成済みチャンクをバッチIDで削除して補償する
func (s *TicketPoolService) insertChunked(ctx context.Context, batchID string, tickets []*ticket.Ticket) error {
	for i := 0; i < len(tickets); i += createBatchChunkSize {
		end := i + createBatchChunkSize
		if end > len(tickets) {
			end = len(tickets)
		}

		if err := s.insertChunk(ctx, tickets[i:end]); err != nil {
			deleted, delErr := s.ticketRepo.DeleteByBatchID(ctx, batchID)
			if delErr != nil {
				logger.Error("バッチ作成の補償削除に失敗",
					zap.String("batch_id", batchID), zap.Error(delErr))
			} else {
				logger.Warn("バッチ作成に失敗したため作成分を削除しました",
					zap.String("batch_id", batchID), zap.Int64("deleted", deleted))
			}
			return fmt.Errorf("チケット一括作成に失敗: %w", err)
		}
	}
	return nil
}

func (s *TicketPoolService) insertChunk(ctx context.Context, chunk []*ticket.Ticket) error {
	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	if err := s.ticketRepo.InsertBatch(ctx, tx, chunk); err != nil {
		return err
	}
	return tx.Commit()
}

// GetTicket はチケットを取得する
func (s *TicketPoolService) GetTicket(ctx context.Context, id string) (*ticket.Ticket, error) {
	return s.ticketRepo.GetByID(ctx, id)
}

// ListTickets はイベントのチケット一覧を取得する。status が空なら全件
func (s *TicketPoolService) ListTickets(ctx context.Context, eventID string, status ticket.Status) ([]*ticket.Ticket, error) {
	if status == "" {
		return s.ticketRepo.GetByEventID(ctx, eventID)
	}
	return s.ticketRepo.ListByEventIDAndStatus(ctx, eventID, status)
}

// ChangeTicketPrice は販売前のチケットの価格を変更する
func (s *TicketPoolService) ChangeTicketPrice(ctx context.Context, ticketID string, price int) (*ticket.Ticket, error) {
	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	t, err := s.ticketRepo.GetByIDForUpdate(ctx, tx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := t.ChangePrice(price); err != nil {
		return nil, err
	}
	if err := s.ticketRepo.Update(ctx, tx, t); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("コミットに失敗: %w", err)
	}
	return t, nil
}

// SweepExpiredReservations は期限切れの予約を空席に戻す
// CAS方式の解放なので、予約が確定・解放済みに変わっていた場合は何もしない
func (s *TicketPoolService) SweepExpiredReservations(ctx context.Context, ttl time.Duration) (int, error) {
	expired, err := s.ticketRepo.ListExpiredReserved(ctx, ttl)
	if err != nil {
		return 0, fmt.Errorf("期限切れ予約の取得に失敗: %w", err)
	}

	released := 0
	touchedEvents := make(map[string]struct{})
	for _, t := range expired {
		if t.ReservedAt == nil {
			continue
		}
		ok, err := s.ticketRepo.ReleaseExpired(ctx, t.ID, *t.ReservedAt)
		if err != nil {
			logger.Error("期限切れ予約の解放に失敗",
				zap.String("ticket_id", t.ID), zap.Error(err))
			continue
		}
		if ok {
			released++
			touchedEvents[t.EventID] = struct{}{}
		}
	}

	for eventID := range touchedEvents {
		s.invalidateStats(ctx, eventID)
	}

	if released > 0 {
		if s.metrics != nil {
			s.metrics.SweptReservationsTotal.Add(float64(released))
		}
		logger.Info("期限切れ予約を解放しました", zap.Int("released", released))
	}
	return released, nil
}

func (s *TicketPoolService) invalidateStats(ctx context.Context, eventID string) {
	if s.statsCache == nil {
		return
	}
	if err := s.statsCache.Invalidate(ctx, eventID); err != nil {
		logger.Warn("統計キャッシュの無効化に失敗",
			zap.String("event_id", eventID), zap.Error(err))
	}
}
