package event

import "errors"

// Event ドメインのエラー定義
var (
	ErrEventNotFound             = errors.New("イベントが見つかりません")
	ErrEventNameRequired         = errors.New("イベント名は必須です")
	ErrInvalidCapacity           = errors.New("キャパシティは1以上である必要があります")
	ErrInvalidEventTime          = errors.New("終了時刻は開始時刻より後である必要があります")
	ErrEventNotDraft             = errors.New("ドラフト状態のイベントのみ変更できます")
	ErrEventNotSellable          = errors.New("イベントは販売受付期間外です")
	ErrInvalidStatusTransition   = errors.New("許可されていない状態遷移です")
	ErrNoTicketTypes             = errors.New("チケット種別が設定されていません")
	ErrStartAtNotFuture          = errors.New("開始時刻が未来のイベントのみ公開できます")
	ErrTicketTypeNameRequired    = errors.New("チケット種別名は必須です")
	ErrTicketTypeAlreadyExists   = errors.New("同名のチケット種別が既に存在します")
	ErrInvalidTicketTypePrice    = errors.New("価格は0以上である必要があります")
	ErrInvalidTicketTypeQuantity = errors.New("枚数は1以上である必要があります")
	ErrCapacityExceeded          = errors.New("イベントのキャパシティを超過します")
	ErrOptimisticLockConflict    = errors.New("楽観的ロックの競合が発生しました")
)
