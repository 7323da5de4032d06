package payment

import (
	"context"
	"time"
)

// RetryPolicy はゲートウェイ呼び出しの再試行方針を表す値オブジェクト
type RetryPolicy struct {
	MaxRetries int           // 初回試行を除いた再試行回数
	Interval   time.Duration // 初回再試行までの待機時間
	Multiplier float64       // 待機時間の倍率（1.0 なら固定間隔）
}

// DefaultRetryPolicy は既定の再試行方針を返す
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, Interval: 200 * time.Millisecond, Multiplier: 2.0}
}

// Backoff は attempt 回目（0始まり）の再試行前の待機時間を返す
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.Interval
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
	}
	return d
}

// Do は fn を実行し、transient エラーの場合のみ方針に従って再試行する
// permanent / ambiguous なエラー、またはコンテキストのキャンセルで即座に打ち切る
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) || attempt >= p.MaxRetries {
			return err
		}
		select {
		case <-time.After(p.Backoff(attempt)):
		case <-ctx.Done():
			return err
		}
	}
}
