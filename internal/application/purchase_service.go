package application

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-ticket-sales/internal/domain/event"
	"github.com/sanosuguru/go-ticket-sales/internal/domain/payment"
	"github.com/sanosuguru/go-ticket-sales/internal/domain/ticket"
	"github.com/sanosuguru/go-ticket-sales/internal/domain/transaction"
	redisinfra "github.com/sanosuguru/go-ticket-sales/internal/infrastructure/redis"
	"github.com/sanosuguru/go-ticket-sales/internal/notification"
	"github.com/sanosuguru/go-ticket-sales/internal/pkg/logger"
	"github.com/sanosuguru/go-ticket-sales/internal/pkg/metrics"
)

// PurchaseService はチケット購入のライフサイクルを調整する
//
// 購入は3つの独立したステップで進む:
//  1. 行ロック付きの短いトランザクションで available -> reserved に遷移
//  2. ロックを保持せずに決済ゲートウェイを呼び出す
//  3. 再び短いトランザクションで reserved -> sold に遷移
//
// 決済が permanent / transient（再試行枯渇）で失敗した場合は予約を解放する。
// ambiguous な失敗では予約を保持し、Webhookかスイーパーが後続処理を行う
type PurchaseService struct {
	txManager        transaction.Manager
	ticketRepo       ticket.Repository
	eventRepo        event.Repository
	gateway          payment.Gateway
	retryPolicy      payment.RetryPolicy
	maxActivePerUser int
	currency         string
	statsCache       redisinfra.StatsCacheInterface
	notifier         notification.Notifier
	metrics          *metrics.Metrics
}

func NewPurchaseService(
	txm transaction.Manager,
	tr ticket.Repository,
	er event.Repository,
	gw payment.Gateway,
	policy payment.RetryPolicy,
	maxActivePerUser int,
	currency string,
	sc redisinfra.StatsCacheInterface,
	n notification.Notifier,
	m *metrics.Metrics,
) *PurchaseService {
	if n == nil {
		n = notification.NopNotifier{}
	}
	return &PurchaseService{
		txManager:        txm,
		ticketRepo:       tr,
		eventRepo:        er,
		gateway:          gw,
		retryPolicy:      policy,
		maxActivePerUser: maxActivePerUser,
		currency:         currency,
		statsCache:       sc,
		notifier:         n,
		metrics:          m,
	}
}

type PurchaseInput struct {
	TicketID string
	UserID   string
}

// PurchaseTicket はチケットを購入する
func (s *PurchaseService) PurchaseTicket(ctx context.Context, input PurchaseInput) (*ticket.Ticket, error) {
	t, err := s.reserve(ctx, input)
	if err != nil {
		return nil, err
	}

	intent, err := s.executePayment(ctx, t)
	if err != nil {
		return nil, s.handlePaymentFailure(ctx, t, err)
	}

	sold, err := s.markSold(ctx, t.ID, intent.ID)
	if err != nil {
		// 決済は成立しているが予約が失われている（スイーパーによる解放など）。
		// 二重請求を避けるため返金して失敗を返す
		s.refundBestEffort(ctx, t.ID, intent.ID)
		s.countPurchase("error")
		return nil, err
	}

	s.invalidateStats(ctx, sold.EventID)
	s.notifier.Notify(ctx, notification.Event{
		Type:      notification.TypeTicketSold,
		TicketID:  sold.ID,
		EventID:   sold.EventID,
		UserID:    input.UserID,
		PaymentID: intent.ID,
	})
	s.countPurchase("sold")

	logger.Info("チケットを販売しました",
		zap.String("ticket_id", sold.ID),
		zap.String("user_id", input.UserID),
		zap.String("payment_id", intent.ID))
	return sold, nil
}

// reserve は行ロック付きの短いトランザクションでチケットを予約する
func (s *PurchaseService) reserve(ctx context.Context, input PurchaseInput) (*ticket.Ticket, error) {
	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	t, err := s.ticketRepo.GetByIDForUpdate(ctx, tx, input.TicketID)
	if err != nil {
		return nil, err
	}

	ev, err := s.eventRepo.GetByID(ctx, t.EventID)
	if err != nil {
		return nil, err
	}
	if !ev.IsSellable() {
		return nil, event.ErrEventNotSellable
	}

	active, err := s.ticketRepo.CountActiveReservedByUser(ctx, tx, input.UserID)
	if err != nil {
		return nil, err
	}
	if active >= s.maxActivePerUser {
		return nil, ticket.ErrTooManyActiveHolds
	}

	if err := t.Reserve(input.UserID); err != nil {
		s.countPurchase("conflict")
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

// executePayment はロックを保持せずに決済ゲートウェイを呼び出す
func (s *PurchaseService) executePayment(ctx context.Context, t *ticket.Ticket) (*payment.Intent, error) {
	idemKey := payment.IdempotencyKey(t.ID, *t.ReservedAt)

	var intent *payment.Intent
	err := s.retryPolicy.Do(ctx, func() error {
		var e error
		intent, e = s.gateway.CreatePaymentIntent(ctx, payment.CreateIntentInput{
			TicketID:       t.ID,
			Amount:         t.Price,
			Currency:       s.currency,
			IdempotencyKey: idemKey,
		})
		return e
	})
	if err != nil {
		return nil, err
	}

	err = s.retryPolicy.Do(ctx, func() error {
		var e error
		intent, e = s.gateway.ConfirmPayment(ctx, intent.ID)
		return e
	})
	if err != nil {
		return nil, err
	}
	return intent, nil
}

// handlePaymentFailure は決済失敗の種類に応じて予約を処理する
func (s *PurchaseService) handlePaymentFailure(ctx context.Context, t *ticket.Ticket, payErr error) error {
	if payment.IsAmbiguous(payErr) {
		// 決済が成立したか不明。予約を保持して後続の確認に委ねる
		s.countPurchase("ambiguous")
		logger.Warn("決済結果が不明のため予約を保持します",
			zap.String("ticket_id", t.ID), zap.Error(payErr))
		return fmt.Errorf("%w: %v", ErrPaymentOutcomeUnknown, payErr)
	}

	if err := s.release(ctx, t.ID); err != nil {
		logger.Error("決済失敗後の予約解放に失敗",
			zap.String("ticket_id", t.ID), zap.Error(err))
	}
	s.countPurchase("reverted")
	return fmt.Errorf("決済に失敗しました: %w", payErr)
}

// release は予約中のチケットを空席に戻す
func (s *PurchaseService) release(ctx context.Context, ticketID string) error {
	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	t, err := s.ticketRepo.GetByIDForUpdate(ctx, tx, ticketID)
	if err != nil {
		return err
	}
	if err := t.Release(); err != nil {
		return err
	}
	if err := s.ticketRepo.Update(ctx, tx, t); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("コミットに失敗: %w", err)
	}
	s.invalidateStats(ctx, t.EventID)
	return nil
}

// markSold は予約中のチケットを販売済みにする
func (s *PurchaseService) markSold(ctx context.Context, ticketID, paymentID string) (*ticket.Ticket, error) {
	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	t, err := s.ticketRepo.GetByIDForUpdate(ctx, tx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := t.MarkSold(paymentID); err != nil {
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

// ConfirmPurchase はWebhook経由で決済成立を確定させる
// ambiguous な失敗で予約中のまま残ったチケットの救済経路。冪等
func (s *PurchaseService) ConfirmPurchase(ctx context.Context, ticketID, paymentID string) (*ticket.Ticket, error) {
	t, err := s.markSold(ctx, ticketID, paymentID)
	if err != nil {
		return nil, err
	}

	s.invalidateStats(ctx, t.EventID)
	userID := ""
	if t.ReservingUserID != nil {
		userID = *t.ReservingUserID
	}
	s.notifier.Notify(ctx, notification.Event{
		Type:      notification.TypeTicketSold,
		TicketID:  t.ID,
		EventID:   t.EventID,
		UserID:    userID,
		PaymentID: paymentID,
	})

	logger.Info("Webhook経由で購入を確定しました",
		zap.String("ticket_id", t.ID), zap.String("payment_id", paymentID))
	return t, nil
}

// ReleaseReservation は決済不成立が確定した予約を空席に戻す
// Webhookで失敗通知を受けた場合に使用する。既に予約中でなければ何もしない
func (s *PurchaseService) ReleaseReservation(ctx context.Context, ticketID string) error {
	err := s.release(ctx, ticketID)
	if errors.Is(err, ticket.ErrTicketNotReserved) {
		return nil
	}
	if err == nil {
		s.countPurchase("reverted")
	}
	return err
}

// CancelTicket はチケットをキャンセルする
// 販売済みの場合は決済を返金してから refunded に遷移する
func (s *PurchaseService) CancelTicket(ctx context.Context, ticketID string) (*ticket.Ticket, error) {
	t, err := s.ticketRepo.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	switch t.Status {
	case ticket.StatusSold:
		return s.refundSold(ctx, t)
	case ticket.StatusAvailable, ticket.StatusReserved:
		return s.cancelOpen(ctx, ticketID)
	default:
		return nil, ticket.ErrInvalidStatusTransition
	}
}

// RefundTicket は販売済みチケットを返金する。イベント中止の一括返金から使用する
func (s *PurchaseService) RefundTicket(ctx context.Context, ticketID string) error {
	t, err := s.ticketRepo.GetByID(ctx, ticketID)
	if err != nil {
		return err
	}
	if t.Status != ticket.StatusSold {
		// 並行して返金済みになっている場合は何もしない
		return nil
	}
	_, err = s.refundSold(ctx, t)
	return err
}

// refundSold はゲートウェイへの返金後にチケットを refunded に遷移させる
// 返金は決済IDから導出した冪等キーで行うため、途中失敗後の再実行でも
// 返金はちょうど1回に収まる
func (s *PurchaseService) refundSold(ctx context.Context, t *ticket.Ticket) (*ticket.Ticket, error) {
	if t.PaymentID == nil {
		return nil, ticket.ErrPaymentIDMismatch
	}
	refundKey := fmt.Sprintf("refund-%s-%s", t.ID, *t.PaymentID)

	err := s.retryPolicy.Do(ctx, func() error {
		_, e := s.gateway.Refund(ctx, *t.PaymentID, refundKey)
		return e
	})
	if err != nil {
		s.countRefund("failed")
		return nil, fmt.Errorf("返金に失敗しました: %w", err)
	}

	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	locked, err := s.ticketRepo.GetByIDForUpdate(ctx, tx, t.ID)
	if err != nil {
		return nil, err
	}
	if locked.Status != ticket.StatusRefunded {
		if err := locked.Refund(); err != nil {
			return nil, err
		}
		if err := s.ticketRepo.Update(ctx, tx, locked); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("コミットに失敗: %w", err)
	}

	s.countRefund("success")
	s.invalidateStats(ctx, locked.EventID)
	s.notifier.Notify(ctx, notification.Event{
		Type:      notification.TypeTicketRefunded,
		TicketID:  locked.ID,
		EventID:   locked.EventID,
		PaymentID: *t.PaymentID,
	})

	logger.Info("チケットを返金しました",
		zap.String("ticket_id", locked.ID), zap.String("payment_id", *t.PaymentID))
	return locked, nil
}

func (s *PurchaseService) cancelOpen(ctx context.Context, ticketID string) (*ticket.Ticket, error) {
	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	t, err := s.ticketRepo.GetByIDForUpdate(ctx, tx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := t.Cancel(); err != nil {
		return nil, err
	}
	if err := s.ticketRepo.Update(ctx, tx, t); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("コミットに失敗: %w", err)
	}

	s.invalidateStats(ctx, t.EventID)
	s.notifier.Notify(ctx, notification.Event{
		Type:     notification.TypeTicketCancelled,
		TicketID: t.ID,
		EventID:  t.EventID,
	})
	return t, nil
}

func (s *PurchaseService) refundBestEffort(ctx context.Context, ticketID, paymentID string) {
	refundKey := fmt.Sprintf("refund-%s-%s", ticketID, paymentID)
	err := s.retryPolicy.Do(ctx, func() error {
		_, e := s.gateway.Refund(ctx, paymentID, refundKey)
		return e
	})
	if err != nil {
		s.countRefund("failed")
		logger.Error("予約喪失後の返金に失敗しました。手動対応が必要です",
			zap.String("ticket_id", ticketID),
			zap.String("payment_id", paymentID),
			zap.Error(err))
		return
	}
	s.countRefund("success")
}

func (s *PurchaseService) invalidateStats(ctx context.Context, eventID string) {
	if s.statsCache == nil {
		return
	}
	if err := s.statsCache.Invalidate(ctx, eventID); err != nil {
		logger.Warn("統計キャッシュの無効化に失敗",
			zap.String("event_id", eventID), zap.Error(err))
	}
}

func (s *PurchaseService) countPurchase(status string) {
	if s.metrics != nil {
		s.metrics.PurchasesTotal.WithLabelValues(status).Inc()
	}
}

func (s *PurchaseService) countRefund(status string) {
	if s.metrics != nil {
		s.metrics.RefundsTotal.WithLabelValues(status).Inc()
	}
}
