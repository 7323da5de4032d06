package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-ticket-sales/internal/domain/ticket"
	redisinfra "github.com/sanosuguru/go-ticket-sales/internal/infrastructure/redis"
	"github.com/sanosuguru/go-ticket-sales/internal/pkg/logger"
	"github.com/sanosuguru/go-ticket-sales/internal/pkg/metrics"
)

// StatsService はイベント統計をキャッシュ付きで提供する
// cache-aside 方式。書き込み側の各サービスが明示的に無効化する
type StatsService struct {
	ticketRepo ticket.Repository
	statsCache redisinfra.StatsCacheInterface
	cacheTTL   time.Duration
	metrics    *metrics.Metrics
}

func NewStatsService(
	tr ticket.Repository,
	sc redisinfra.StatsCacheInterface,
	cacheTTL time.Duration,
	m *metrics.Metrics,
) *StatsService {
	return &StatsService{
		ticketRepo: tr,
		statsCache: sc,
		cacheTTL:   cacheTTL,
		metrics:    m,
	}
}

// GetEventStats はイベントのチケット統計を返す
func (s *StatsService) GetEventStats(ctx context.Context, eventID string) (*ticket.Stats, error) {
	if s.statsCache != nil {
		cached, err := s.statsCache.Get(ctx, eventID)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, redisinfra.ErrCacheMiss) {
			// キャッシュ障害時はDBへフォールバック
			logger.Warn("統計キャッシュの取得に失敗",
				zap.String("event_id", eventID), zap.Error(err))
		}
	}

	stats, err := s.ticketRepo.StatsByEventID(ctx, eventID)
	if err != nil {
		return nil, err
	}

	if s.statsCache != nil {
		if err := s.statsCache.Set(ctx, eventID, stats, s.cacheTTL); err != nil {
			logger.Warn("統計キャッシュの保存に失敗",
				zap.String("event_id", eventID), zap.Error(err))
		}
	}

	s.updateGauges(stats)
	return stats, nil
}

func (s *StatsService) updateGauges(stats *ticket.Stats) {
	if s.metrics == nil {
		return
	}
	s.metrics.TicketsByStatus.WithLabelValues(string(ticket.StatusAvailable)).Set(float64(stats.Available))
	s.metrics.TicketsByStatus.WithLabelValues(string(ticket.StatusReserved)).Set(float64(stats.Reserved))
	s.metrics.TicketsByStatus.WithLabelValues(string(ticket.StatusSold)).Set(float64(stats.Sold))
	s.metrics.TicketsByStatus.WithLabelValues(string(ticket.StatusCancelled)).Set(float64(stats.Cancelled))
	s.metrics.TicketsByStatus.WithLabelValues(string(ticket.StatusRefunded)).Set(float64(stats.Refunded))
}
