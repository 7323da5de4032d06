package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockSweepService はReservationSweepServiceのモック
type MockSweepService struct {
	mock.Mock
}

func (m *MockSweepService) SweepExpiredReservations(ctx context.Context, ttl time.Duration) (int, error) {
	args := m.Called(ctx, ttl)
	return args.Int(0), args.Error(1)
}

func TestNewReservationSweeper(t *testing.T) {
	mockService := new(MockSweepService)
	interval := 1 * time.Minute
	ttl := 15 * time.Minute

	sweeper := NewReservationSweeper(mockService, interval, ttl)

	assert.NotNil(t, sweeper)
	assert.Equal(t, interval, sweeper.interval)
	assert.Equal(t, ttl, sweeper.ttl)
	assert.NotNil(t, sweeper.stopCh)
	assert.NotNil(t, sweeper.doneCh)
}

func TestReservationSweeper_Sweep(t *testing.T) {
	t.Run("正常にスイープが実行される", func(t *testing.T) {
		mockService := new(MockSweepService)
		mockService.On("SweepExpiredReservations", mock.Anything, 15*time.Minute).Return(5, nil)

		sweeper := NewReservationSweeper(mockService, time.Minute, 15*time.Minute)
		sweeper.sweep(context.Background())

		mockService.AssertExpectations(t)
	})

	t.Run("スイープの失敗はワーカーを止めない", func(t *testing.T) {
		mockService := new(MockSweepService)
		mockService.On("SweepExpiredReservations", mock.Anything, 15*time.Minute).Return(0, assert.AnError)

		sweeper := NewReservationSweeper(mockService, time.Minute, 15*time.Minute)
		sweeper.sweep(context.Background())

		mockService.AssertExpectations(t)
	})
}

func TestReservationSweeper_StartStop(t *testing.T) {
	mockService := new(MockSweepService)
	mockService.On("SweepExpiredReservations", mock.Anything, 15*time.Minute).Return(0, nil).Maybe()

	sweeper := NewReservationSweeper(mockService, 10*time.Millisecond, 15*time.Minute)

	go sweeper.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	sweeper.Stop()

	// Stop 後は doneCh が閉じている
	select {
	case <-sweeper.doneCh:
	case <-time.After(time.Second):
		t.Fatal("doneCh should be closed after Stop")
	}
}

func TestReservationSweeper_ContextCancel(t *testing.T) {
	mockService := new(MockSweepService)
	mockService.On("SweepExpiredReservations", mock.Anything, 15*time.Minute).Return(0, nil).Maybe()

	sweeper := NewReservationSweeper(mockService, 10*time.Millisecond, 15*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go sweeper.Start(ctx)
	cancel()

	select {
	case <-sweeper.doneCh:
	case <-time.After(time.Second):
		t.Fatal("doneCh should be closed after context cancel")
	}
}
