package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sanosuguru/go-ticket-sales/internal/domain/event"
)

// eventRow はDBの行を表す構造体
type eventRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Description *string   `db:"description"`
	Venue       *string   `db:"venue"`
	StartAt     time.Time `db:"start_at"`
	EndAt       time.Time `db:"end_at"`
	Capacity    int       `db:"capacity"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
	Version     int       `db:"version"`
}

type ticketTypeRow struct {
	EventID  string `db:"event_id"`
	Name     string `db:"name"`
	Price    int    `db:"price"`
	Quantity int    `db:"quantity"`
}

// toEntity はeventRowをEventエンティティに変換する
func (r *eventRow) toEntity() *event.Event {
	var desc, venue string
	if r.Description != nil {
		desc = *r.Description
	}
	if r.Venue != nil {
		venue = *r.Venue
	}
	return &event.Event{
		ID:          r.ID,
		Name:        r.Name,
		Description: desc,
		Venue:       venue,
		StartAt:     r.StartAt,
		EndAt:       r.EndAt,
		Capacity:    r.Capacity,
		Status:      event.Status(r.Status),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		Version:     r.Version,
	}
}

// EventRepository はイベントリポジトリのPostgreSQL実装
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository はEventRepositoryを作成する
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create は新しいイベントをチケット種別とともに作成する
func (r *EventRepository) Create(ctx context.Context, e *event.Event) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO events (name, description, venue, start_at, end_at, capacity, status, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	var desc, venue *string
	if e.Description != "" {
		desc = &e.Description
	}
	if e.Venue != "" {
		venue = &e.Venue
	}

	err = tx.QueryRowContext(ctx, query,
		e.Name, desc, venue, e.StartAt, e.EndAt, e.Capacity, string(e.Status), e.CreatedAt, e.UpdatedAt, e.Version,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("イベント作成に失敗しました: %w", err)
	}

	if err := insertTicketTypes(ctx, tx, e.ID, e.TicketTypes); err != nil {
		return err
	}

	return tx.Commit()
}

func insertTicketTypes(ctx context.Context, tx *sqlx.Tx, eventID string, types []event.TicketType) error {
	for _, tt := range types {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO event_ticket_types (event_id, name, price, quantity) VALUES ($1, $2, $3, $4)`,
			eventID, tt.Name, tt.Price, tt.Quantity,
		)
		if err != nil {
			return fmt.Errorf("チケット種別作成に失敗しました: %w", err)
		}
	}
	return nil
}

// GetByID はIDからイベントを取得する（チケット種別を含む）
func (r *EventRepository) GetByID(ctx context.Context, id string) (*event.Event, error) {
	query := `SELECT id, name, description, venue, start_at, end_at, capacity, status, created_at, updated_at, version FROM events WHERE id = $1`

	var row eventRow
	err := r.db.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, event.ErrEventNotFound
		}
		return nil, fmt.Errorf("イベント取得に失敗しました: %w", err)
	}

	e := row.toEntity()
	if err := r.loadTicketTypes(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (r *EventRepository) loadTicketTypes(ctx context.Context, e *event.Event) error {
	var rows []ticketTypeRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT event_id, name, price, quantity FROM event_ticket_types WHERE event_id = $1 ORDER BY name`, e.ID)
	if err != nil {
		return fmt.Errorf("チケット種別取得に失敗しました: %w", err)
	}
	e.TicketTypes = make([]event.TicketType, len(rows))
	for i, row := range rows {
		e.TicketTypes[i] = event.TicketType{Name: row.Name, Price: row.Price, Quantity: row.Quantity}
	}
	return nil
}

// List はイベント一覧を取得する
func (r *EventRepository) List(ctx context.Context, limit, offset int) ([]*event.Event, error) {
	query := `
		SELECT id, name, description, venue, start_at, end_at, capacity, status, created_at, updated_at, version
		FROM events
		ORDER BY start_at DESC
		LIMIT $1 OFFSET $2
	`

	var rows []eventRow
	err := r.db.SelectContext(ctx, &rows, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("イベント一覧取得に失敗しました: %w", err)
	}

	events := make([]*event.Event, len(rows))
	for i, row := range rows {
		events[i] = row.toEntity()
	}
	return events, nil
}

// Update はイベントを更新する（楽観的ロック）
// チケット種別はドラフト中のみ変わるため、全削除のうえ再挿入する
func (r *EventRepository) Update(ctx context.Context, e *event.Event) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE events
		SET name = $1, description = $2, venue = $3, start_at = $4, end_at = $5,
		    capacity = $6, status = $7, updated_at = $8, version = version + 1
		WHERE id = $9 AND version = $10
	`

	var desc, venue *string
	if e.Description != "" {
		desc = &e.Description
	}
	if e.Venue != "" {
		venue = &e.Venue
	}

	result, err := tx.ExecContext(ctx, query,
		e.Name, desc, venue, e.StartAt, e.EndAt, e.Capacity, string(e.Status), time.Now(), e.ID, e.Version,
	)
	if err != nil {
		return fmt.Errorf("イベント更新に失敗しました: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の確認に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		// 行が存在しないのか、バージョンが進んでいるのかを区別する
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM events WHERE id = $1)`, e.ID); err != nil {
			return fmt.Errorf("更新結果の確認に失敗しました: %w", err)
		}
		if exists {
			return event.ErrOptimisticLockConflict
		}
		return event.ErrEventNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM event_ticket_types WHERE event_id = $1`, e.ID); err != nil {
		return fmt.Errorf("チケット種別更新に失敗しました: %w", err)
	}
	if err := insertTicketTypes(ctx, tx, e.ID, e.TicketTypes); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	e.Version++
	return nil
}

// Delete はイベントを削除する（チケットはFK経由でカスケード削除）
func (r *EventRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("イベント削除に失敗しました: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除結果の確認に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return event.ErrEventNotFound
	}
	return nil
}

// インターフェースを満たしているか確認
var _ event.Repository = (*EventRepository)(nil)
