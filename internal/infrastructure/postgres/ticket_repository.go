package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sanosuguru/go-ticket-sales/internal/domain/ticket"
	"github.com/sanosuguru/go-ticket-sales/internal/domain/transaction"
)

type ticketRow struct {
	ID              string     `db:"id"`
	EventID         string     `db:"event_id"`
	TypeName        string     `db:"type_name"`
	Status          string     `db:"status"`
	Price           int        `db:"price"`
	ReservingUserID *string    `db:"reserving_user_id"`
	PaymentID       *string    `db:"payment_id"`
	ReservedAt      *time.Time `db:"reserved_at"`
	PurchasedAt     *time.Time `db:"purchased_at"`
	BatchID         string     `db:"batch_id"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
	Version         int        `db:"version"`
}

func (r *ticketRow) toEntity() *ticket.Ticket {
	return &ticket.Ticket{
		ID: r.ID, EventID: r.EventID, TypeName: r.TypeName,
		Status: ticket.Status(r.Status), Price: r.Price,
		ReservingUserID: r.ReservingUserID, PaymentID: r.PaymentID,
		ReservedAt: r.ReservedAt, PurchasedAt: r.PurchasedAt,
		BatchID: r.BatchID, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
		Version: r.Version,
	}
}

const ticketColumns = `id, event_id, type_name, status, price, reserving_user_id, payment_id, reserved_at, purchased_at, batch_id, created_at, updated_at, version`

// TicketRepository はチケットリポジトリのPostgreSQL実装
type TicketRepository struct {
	db *sqlx.DB
}

// NewTicketRepository はTicketRepositoryを作成する
func NewTicketRepository(db *sqlx.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

// InsertBatch はチケットをトランザクション内で一括作成する
func (r *TicketRepository) InsertBatch(ctx context.Context, tx transaction.Tx, tickets []*ticket.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	sqlxTx := UnwrapTx(tx)
	if sqlxTx == nil {
		return errors.New("不正なトランザクション型です")
	}

	// マルチバリューINSERTを構築
	query := `INSERT INTO tickets (event_id, type_name, status, price, batch_id, created_at, updated_at, version) VALUES `
	args := make([]interface{}, 0, len(tickets)*8)
	placeholders := make([]string, 0, len(tickets))

	for i, t := range tickets {
		base := i * 8
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8))
		args = append(args, t.EventID, t.TypeName, string(t.Status), t.Price, t.BatchID, t.CreatedAt, t.UpdatedAt, t.Version)
	}

	query += strings.Join(placeholders, ", ")
	if _, err := sqlxTx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("チケット一括作成に失敗: %w", err)
	}
	return nil
}

// DeleteByBatchID は一括作成の補償として同一バッチのチケットを削除する
// 作成直後のチケットのみが対象なので、空席以外は削除しない
func (r *TicketRepository) DeleteByBatchID(ctx context.Context, batchID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM tickets WHERE batch_id = $1 AND status = 'available'`, batchID)
	if err != nil {
		return 0, fmt.Errorf("バッチ削除に失敗: %w", err)
	}
	return result.RowsAffected()
}

// GetByID はIDからチケットを取得する
func (r *TicketRepository) GetByID(ctx context.Context, id string) (*ticket.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id = $1`
	var row ticketRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ticket.ErrTicketNotFound
		}
		return nil, fmt.Errorf("チケット取得に失敗: %w", err)
	}
	return row.toEntity(), nil
}

// GetByIDForUpdate は行ロック付きでチケットを取得する
// 購入フローの予約遷移を直列化するために使用する
func (r *TicketRepository) GetByIDForUpdate(ctx context.Context, tx transaction.Tx, id string) (*ticket.Ticket, error) {
	sqlxTx := UnwrapTx(tx)
	if sqlxTx == nil {
		return nil, errors.New("不正なトランザクション型です")
	}

	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id = $1 FOR UPDATE`
	var row ticketRow
	if err := sqlxTx.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ticket.ErrTicketNotFound
		}
		return nil, fmt.Errorf("チケット取得に失敗: %w", err)
	}
	return row.toEntity(), nil
}

// GetByEventID はイベントの全チケットを取得する
func (r *TicketRepository) GetByEventID(ctx context.Context, eventID string) ([]*ticket.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE event_id = $1 ORDER BY created_at, id`
	var rows []ticketRow
	if err := r.db.SelectContext(ctx, &rows, query, eventID); err != nil {
		return nil, fmt.Errorf("チケット一覧取得に失敗: %w", err)
	}
	return toEntities(rows), nil
}

// ListByEventIDAndStatus は状態を指定してイベントのチケットを取得する
func (r *TicketRepository) ListByEventIDAndStatus(ctx context.Context, eventID string, status ticket.Status) ([]*ticket.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE event_id = $1 AND status = $2 ORDER BY created_at, id`
	var rows []ticketRow
	if err := r.db.SelectContext(ctx, &rows, query, eventID, string(status)); err != nil {
		return nil, fmt.Errorf("チケット一覧取得に失敗: %w", err)
	}
	return toEntities(rows), nil
}

func toEntities(rows []ticketRow) []*ticket.Ticket {
	tickets := make([]*ticket.Ticket, len(rows))
	for i, row := range rows {
		tickets[i] = row.toEntity()
	}
	return tickets
}

// CountCommittedByEventID はキャパシティ計算の対象となるチケット数を返す
func (r *TicketRepository) CountCommittedByEventID(ctx context.Context, eventID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM tickets WHERE event_id = $1 AND status IN ('available', 'reserved', 'sold')`, eventID)
	if err != nil {
		return 0, fmt.Errorf("チケット数取得に失敗: %w", err)
	}
	return count, nil
}

// CountActiveReservedByUser はユーザーが保持中の予約数を返す
func (r *TicketRepository) CountActiveReservedByUser(ctx context.Context, tx transaction.Tx, userID string) (int, error) {
	sqlxTx := UnwrapTx(tx)
	if sqlxTx == nil {
		return 0, errors.New("不正なトランザクション型です")
	}

	var count int
	err := sqlxTx.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM tickets WHERE reserving_user_id = $1 AND status = 'reserved'`, userID)
	if err != nil {
		return 0, fmt.Errorf("予約数取得に失敗: %w", err)
	}
	return count, nil
}

// Update はチケットの状態をトランザクション内で更新する（楽観的ロック）
func (r *TicketRepository) Update(ctx context.Context, tx transaction.Tx, t *ticket.Ticket) error {
	sqlxTx := UnwrapTx(tx)
	if sqlxTx == nil {
		return errors.New("不正なトランザクション型です")
	}

	query := `
		UPDATE tickets
		SET status = $1, price = $2, reserving_user_id = $3, payment_id = $4,
		    reserved_at = $5, purchased_at = $6, updated_at = $7, version = version + 1
		WHERE id = $8 AND version = $9
	`
	result, err := sqlxTx.ExecContext(ctx, query,
		string(t.Status), t.Price, t.ReservingUserID, t.PaymentID,
		t.ReservedAt, t.PurchasedAt, time.Now(), t.ID, t.Version,
	)
	if err != nil {
		return fmt.Errorf("チケット更新に失敗: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の確認に失敗: %w", err)
	}
	if rowsAffected == 0 {
		return ticket.ErrTicketNotFound
	}

	t.Version++
	return nil
}

// CancelOpenByEventID はイベントの空席・予約中チケットを一括でキャンセルする
func (r *TicketRepository) CancelOpenByEventID(ctx context.Context, eventID string) (int64, error) {
	query := `
		UPDATE tickets
		SET status = 'cancelled', reserving_user_id = NULL, payment_id = NULL,
		    reserved_at = NULL, updated_at = NOW(), version = version + 1
		WHERE event_id = $1 AND status IN ('available', 'reserved')
	`
	result, err := r.db.ExecContext(ctx, query, eventID)
	if err != nil {
		return 0, fmt.Errorf("チケット一括キャンセルに失敗: %w", err)
	}
	return result.RowsAffected()
}

// ListExpiredReserved は予約から指定時間が経過したチケットを取得する
func (r *TicketRepository) ListExpiredReserved(ctx context.Context, olderThan time.Duration) ([]*ticket.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE status = 'reserved' AND reserved_at < $1 ORDER BY reserved_at`
	var rows []ticketRow
	if err := r.db.SelectContext(ctx, &rows, query, time.Now().Add(-olderThan)); err != nil {
		return nil, fmt.Errorf("期限切れ予約の取得に失敗: %w", err)
	}
	return toEntities(rows), nil
}

// ReleaseExpired は期限切れ予約をCAS方式で空席に戻す
// reserved_at が一致しない場合は別の予約に置き換わっているため何もしない
func (r *TicketRepository) ReleaseExpired(ctx context.Context, id string, reservedAt time.Time) (bool, error) {
	query := `
		UPDATE tickets
		SET status = 'available', reserving_user_id = NULL, payment_id = NULL,
		    reserved_at = NULL, updated_at = NOW(), version = version + 1
		WHERE id = $1 AND status = 'reserved' AND reserved_at = $2
	`
	result, err := r.db.ExecContext(ctx, query, id, reservedAt)
	if err != nil {
		return false, fmt.Errorf("期限切れ予約の解放に失敗: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("解放結果の確認に失敗: %w", err)
	}
	return rowsAffected > 0, nil
}

// StatsByEventID はイベントのチケット集計を返す
func (r *TicketRepository) StatsByEventID(ctx context.Context, eventID string) (*ticket.Stats, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'available') AS available,
			COUNT(*) FILTER (WHERE status = 'reserved') AS reserved,
			COUNT(*) FILTER (WHERE status = 'sold') AS sold,
			COUNT(*) FILTER (WHERE status = 'cancelled') AS cancelled,
			COUNT(*) FILTER (WHERE status = 'refunded') AS refunded,
			COALESCE(SUM(price) FILTER (WHERE status = 'sold'), 0) AS revenue,
			COALESCE(AVG(price) FILTER (WHERE status = 'sold'), 0) AS average_price
		FROM tickets
		WHERE event_id = $1
	`
	var row struct {
		Total        int     `db:"total"`
		Available    int     `db:"available"`
		Reserved     int     `db:"reserved"`
		Sold         int     `db:"sold"`
		Cancelled    int     `db:"cancelled"`
		Refunded     int     `db:"refunded"`
		Revenue      int     `db:"revenue"`
		AveragePrice float64 `db:"average_price"`
	}
	if err := r.db.GetContext(ctx, &row, query, eventID); err != nil {
		return nil, fmt.Errorf("チケット集計に失敗: %w", err)
	}
	return &ticket.Stats{
		Total: row.Total, Available: row.Available, Reserved: row.Reserved,
		Sold: row.Sold, Cancelled: row.Cancelled, Refunded: row.Refunded,
		Revenue: row.Revenue, AveragePrice: row.AveragePrice,
	}, nil
}

var _ ticket.Repository = (*TicketRepository)(nil)
