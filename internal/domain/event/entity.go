package event

import "time"

// Status はイベントの公開状態を表す
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// TicketType はイベントに設定されたチケット種別を表す
type TicketType struct {
	Name     string
	Price    int
	Quantity int
}

// Event はイベントエンティティを表す
// Capacity は予約済み・販売済みチケット数の上限（オーバーセル防止の基準値）
type Event struct {
	ID          string
	Name        string
	Description string
	Venue       string
	StartAt     time.Time
	EndAt       time.Time
	Capacity    int
	Status      Status
	TicketTypes []TicketType
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Version     int // 楽観的ロック用
}

// NewEvent は新しいイベントをドラフト状態で作成する
func NewEvent(name, description, venue string, startAt, endAt time.Time, capacity int) *Event {
	now := time.Now()
	return &Event{
		Name:        name,
		Description: description,
		Venue:       venue,
		StartAt:     startAt,
		EndAt:       endAt,
		Capacity:    capacity,
		Status:      StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     0,
	}
}

// Validate はイベントの検証を行う
func (e *Event) Validate() error {
	if e.Name == "" {
		return ErrEventNameRequired
	}
	if e.Capacity <= 0 {
		return ErrInvalidCapacity
	}
	if e.EndAt.Before(e.StartAt) {
		return ErrInvalidEventTime
	}
	return nil
}

// IsSellable はチケット販売を受け付けられる状態かを返す
func (e *Event) IsSellable() bool {
	return e.Status == StatusPublished && time.Now().Before(e.StartAt)
}

// AddTicketType はチケット種別を追加する（ドラフト中のみ）
func (e *Event) AddTicketType(name string, price, quantity int) error {
	if e.Status != StatusDraft {
		return ErrEventNotDraft
	}
	if name == "" {
		return ErrTicketTypeNameRequired
	}
	if price < 0 {
		return ErrInvalidTicketTypePrice
	}
	if quantity <= 0 {
		return ErrInvalidTicketTypeQuantity
	}
	total := quantity
	for _, tt := range e.TicketTypes {
		if tt.Name == name {
			return ErrTicketTypeAlreadyExists
		}
		total += tt.Quantity
	}
	if total > e.Capacity {
		return ErrCapacityExceeded
	}
	e.TicketTypes = append(e.TicketTypes, TicketType{Name: name, Price: price, Quantity: quantity})
	e.UpdatedAt = time.Now()
	return nil
}

// Publish はイベントを公開する
// チケット種別が1つ以上設定され、開始時刻が未来であることが条件
func (e *Event) Publish() error {
	if e.Status != StatusDraft {
		return ErrInvalidStatusTransition
	}
	if len(e.TicketTypes) == 0 {
		return ErrNoTicketTypes
	}
	if !e.StartAt.After(time.Now()) {
		return ErrStartAtNotFuture
	}
	e.Status = StatusPublished
	e.UpdatedAt = time.Now()
	return nil
}

// Cancel はイベントを中止する（ドラフトまたは公開中から遷移可能）
func (e *Event) Cancel() error {
	if e.Status != StatusDraft && e.Status != StatusPublished {
		return ErrInvalidStatusTransition
	}
	e.Status = StatusCancelled
	e.UpdatedAt = time.Now()
	return nil
}

// Complete はイベントを終了状態にする
func (e *Event) Complete() error {
	if e.Status != StatusPublished {
		return ErrInvalidStatusTransition
	}
	e.Status = StatusCompleted
	e.UpdatedAt = time.Now()
	return nil
}
