package ticket

import (
	"context"
	"time"

	"github.com/sanosuguru/go-ticket-sales/internal/domain/transaction"
)

// Stats はイベント単位のチケット集計を表す
type Stats struct {
	Total        int
	Available    int
	Reserved     int
	Sold         int
	Cancelled    int
	Refunded     int
	Revenue      int
	AveragePrice float64
}

// Repository はチケットリポジトリのインターフェース
type Repository interface {
	// InsertBatch はチケットをトランザクション内で一括作成する
	InsertBatch(ctx context.Context, tx transaction.Tx, tickets []*Ticket) error

	// DeleteByBatchID は一括作成の補償として同一バッチのチケットを削除する
	DeleteByBatchID(ctx context.Context, batchID string) (int64, error)

	// GetByID はIDからチケットを取得する
	GetByID(ctx context.Context, id string) (*Ticket, error)

	// GetByIDForUpdate は行ロック付きでチケットを取得する（SELECT ... FOR UPDATE）
	GetByIDForUpdate(ctx context.Context, tx transaction.Tx, id string) (*Ticket, error)

	// GetByEventID はイベントの全チケットを取得する
	GetByEventID(ctx context.Context, eventID string) ([]*Ticket, error)

	// ListByEventIDAndStatus は状態を指定してイベントのチケットを取得する
	ListByEventIDAndStatus(ctx context.Context, eventID string, status Status) ([]*Ticket, error)

	// CountCommittedByEventID はキャパシティ計算の対象となるチケット数を返す
	// （available + reserved + sold。cancelled / refunded は枠を解放済み）
	CountCommittedByEventID(ctx context.Context, eventID string) (int, error)

	// CountActiveReservedByUser はユーザーが保持中の予約数を返す
	CountActiveReservedByUser(ctx context.Context, tx transaction.Tx, userID string) (int, error)

	// Update はチケットの状態をトランザクション内で更新する
	Update(ctx context.Context, tx transaction.Tx, t *Ticket) error

	// CancelOpenByEventID はイベントの空席・予約中チケットを一括でキャンセルする
	// イベント中止時に使用する。販売済みチケットは対象外
	CancelOpenByEventID(ctx context.Context, eventID string) (int64, error)

	// ListExpiredReserved は予約から指定時間が経過したチケットを取得する
	ListExpiredReserved(ctx context.Context, olderThan time.Duration) ([]*Ticket, error)

	// ReleaseExpired は期限切れ予約をCAS方式で空席に戻す
	// status が reserved のまま、かつ reserved_at が一致する場合のみ更新する
	ReleaseExpired(ctx context.Context, id string, reservedAt time.Time) (bool, error)

	// StatsByEventID はイベントのチケット集計を返す
	StatsByEventID(ctx context.Context, eventID string) (*Stats, error)
}
