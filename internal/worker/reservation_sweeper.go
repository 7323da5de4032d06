package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-ticket-sales/internal/pkg/logger"
)

// ReservationSweepService は期限切れ予約を解放するインターフェース
type ReservationSweepService interface {
	SweepExpiredReservations(ctx context.Context, ttl time.Duration) (int, error)
}

// ReservationSweeper は期限切れ予約を定期的に空席へ戻すワーカー
type ReservationSweeper struct {
	sweepService ReservationSweepService
	interval     time.Duration
	ttl          time.Duration
	stopCh       chan struct{}
	doneCh       chan struct{}
}

// NewReservationSweeper は新しいスイーパーを作成
func NewReservationSweeper(
	ss ReservationSweepService,
	interval time.Duration,
	ttl time.Duration,
) *ReservationSweeper {
	return &ReservationSweeper{
		sweepService: ss,
		interval:     interval,
		ttl:          ttl,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start はスイーパーを開始
func (s *ReservationSweeper) Start(ctx context.Context) {
	logger.Info("予約スイーパー開始",
		zap.Duration("interval", s.interval),
		zap.Duration("ttl", s.ttl),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.doneCh)

	for {
		select {
		case <-ctx.Done():
			logger.Info("予約スイーパー停止（コンテキストキャンセル）")
			return
		case <-s.stopCh:
			logger.Info("予約スイーパー停止（シグナル受信）")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Stop はスイーパーを停止
func (s *ReservationSweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// sweep は期限切れ予約を解放
func (s *ReservationSweeper) sweep(ctx context.Context) {
	log := logger.Get()
	log.Debug("期限切れ予約のスイープ開始")

	count, err := s.sweepService.SweepExpiredReservations(ctx, s.ttl)
	if err != nil {
		log.Error("期限切れ予約のスイープ失敗", zap.Error(err))
		return
	}

	if count > 0 {
		log.Info("期限切れ予約を解放", zap.Int("count", count))
	} else {
		log.Debug("期限切れ予約なし")
	}
}
