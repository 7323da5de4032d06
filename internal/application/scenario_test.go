package application

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sanosuguru/go-ticket-sales/internal/domain/payment"
	"github.com/sanosuguru/go-ticket-sales/internal/domain/ticket"
	"github.com/sanosuguru/go-ticket-sales/internal/domain/transaction"
)

// === In-memory fakes ===
//
// 行ロック付きSELECTの直列化を1つのミューテックスで模したインメモリ実装。
// FOR UPDATE で取得した行のロックはコミット/ロールバックまで保持される

type fakeStore struct {
	mu      sync.Mutex
	tickets map[string]ticket.Ticket
}

type fakeTx struct {
	store  *fakeStore
	locked bool
	done   bool
}

func (tx *fakeTx) Commit() error {
	tx.release()
	return nil
}

func (tx *fakeTx) Rollback() error {
	tx.release()
	return nil
}

func (tx *fakeTx) release() {
	if tx.done {
		return
	}
	tx.done = true
	if tx.locked {
		tx.store.mu.Unlock()
	}
}

type fakeTxManager struct {
	store *fakeStore
}

func (m *fakeTxManager) Begin(ctx context.Context) (transaction.Tx, error) {
	return &fakeTx{store: m.store}, nil
}

type fakeTicketRepo struct {
	store *fakeStore
}

func (r *fakeTicketRepo) lockRow(tx transaction.Tx) *fakeTx {
	ftx := tx.(*fakeTx)
	if !ftx.locked {
		r.store.mu.Lock()
		ftx.locked = true
	}
	return ftx
}

func (r *fakeTicketRepo) GetByIDForUpdate(ctx context.Context, tx transaction.Tx, id string) (*ticket.Ticket, error) {
	r.lockRow(tx)
	t, ok := r.store.tickets[id]
	if !ok {
		return nil, ticket.ErrTicketNotFound
	}
	copied := t
	return &copied, nil
}

func (r *fakeTicketRepo) CountActiveReservedByUser(ctx context.Context, tx transaction.Tx, userID string) (int, error) {
	count := 0
	for _, t := range r.store.tickets {
		if t.Status == ticket.StatusReserved && t.ReservingUserID != nil && *t.ReservingUserID == userID {
			count++
		}
	}
	return count, nil
}

func (r *fakeTicketRepo) Update(ctx context.Context, tx transaction.Tx, t *ticket.Ticket) error {
	r.store.tickets[t.ID] = *t
	return nil
}

func (r *fakeTicketRepo) GetByID(ctx context.Context, id string) (*ticket.Ticket, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	t, ok := r.store.tickets[id]
	if !ok {
		return nil, ticket.ErrTicketNotFound
	}
	copied := t
	return &copied, nil
}

func (r *fakeTicketRepo) InsertBatch(ctx context.Context, tx transaction.Tx, tickets []*ticket.Ticket) error {
	panic("not used in scenario")
}
func (r *fakeTicketRepo) DeleteByBatchID(ctx context.Context, batchID string) (int64, error) {
	panic("not used in scenario")
}
func (r *fakeTicketRepo) GetByEventID(ctx context.Context, eventID string) ([]*ticket.Ticket, error) {
	panic("not used in scenario")
}
func (r *fakeTicketRepo) ListByEventIDAndStatus(ctx context.Context, eventID string, status ticket.Status) ([]*ticket.Ticket, error) {
	panic("not used in scenario")
}
func (r *fakeTicketRepo) CountCommittedByEventID(ctx context.Context, eventID string) (int, error) {
	panic("not used in scenario")
}
func (r *fakeTicketRepo) CancelOpenByEventID(ctx context.Context, eventID string) (int64, error) {
	panic("not used in scenario")
}
func (r *fakeTicketRepo) ListExpiredReserved(ctx context.Context, olderThan time.Duration) ([]*ticket.Ticket, error) {
	panic("not used in scenario")
}
func (r *fakeTicketRepo) ReleaseExpired(ctx context.Context, id string, reservedAt time.Time) (bool, error) {
	panic("not used in scenario")
}
func (r *fakeTicketRepo) StatsByEventID(ctx context.Context, eventID string) (*ticket.Stats, error) {
	panic("not used in scenario")
}

// fakeGateway は常に成功する決済ゲートウェイ
type fakeGateway struct {
	intents int64
	refunds int64
}

func (g *fakeGateway) CreatePaymentIntent(ctx context.Context, in payment.CreateIntentInput) (*payment.Intent, error) {
	n := atomic.AddInt64(&g.intents, 1)
	return &payment.Intent{
		ID:       fmt.Sprintf("pi_%d", n),
		Status:   payment.IntentStatusPending,
		Amount:   in.Amount,
		Currency: in.Currency,
	}, nil
}

func (g *fakeGateway) ConfirmPayment(ctx context.Context, intentID string) (*payment.Intent, error) {
	return &payment.Intent{ID: intentID, Status: payment.IntentStatusSucceeded}, nil
}

func (g *fakeGateway) Refund(ctx context.Context, paymentID, idempotencyKey string) (string, error) {
	atomic.AddInt64(&g.refunds, 1)
	return "re_1", nil
}

var _ ticket.Repository = (*fakeTicketRepo)(nil)

// === Scenario tests ===

// 同じチケットへの並行購入ではちょうど1人だけが成功する
func TestScenario_ConcurrentPurchase_ExactlyOneWinner(t *testing.T) {
	store := &fakeStore{tickets: make(map[string]ticket.Ticket)}
	tk := availableTicket("ticket-1", "event-1")
	store.tickets[tk.ID] = *tk

	ticketRepo := &fakeTicketRepo{store: store}
	txManager := &fakeTxManager{store: store}
	gateway := &fakeGateway{}

	eventRepo := new(MockEventRepository)
	eventRepo.On("GetByID", mock.Anything, "event-1").Return(sellableEvent("event-1"), nil)

	policy := payment.RetryPolicy{MaxRetries: 0, Interval: time.Millisecond, Multiplier: 1.0}
	service := NewPurchaseService(txManager, ticketRepo, eventRepo, gateway, policy, 5, "JPY", nil, nil, nil)

	const buyers = 8
	errs := make([]error, buyers)
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = service.PurchaseTicket(context.Background(), PurchaseInput{
				TicketID: "ticket-1",
				UserID:   fmt.Sprintf("user-%d", i),
			})
		}()
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ticket.ErrTicketUnavailable)
		}
	}
	assert.Equal(t, 1, winners, "購入成功はちょうど1人")

	final, err := ticketRepo.GetByID(context.Background(), "ticket-1")
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusSold, final.Status)
	assert.NotNil(t, final.PaymentID)

	// 決済はちょうど1回、返金は発生しない
	assert.Equal(t, int64(1), atomic.LoadInt64(&gateway.intents))
	assert.Equal(t, int64(0), atomic.LoadInt64(&gateway.refunds))
}

// 同一ユーザーの並行購入は保持上限を超えない
func TestScenario_PerUserHoldLimit(t *testing.T) {
	store := &fakeStore{tickets: make(map[string]ticket.Ticket)}
	const tickets = 6
	for i := 0; i < tickets; i++ {
		tk := availableTicket(fmt.Sprintf("ticket-%d", i), "event-1")
		store.tickets[tk.ID] = *tk
	}

	ticketRepo := &fakeTicketRepo{store: store}
	txManager := &fakeTxManager{store: store}

	eventRepo := new(MockEventRepository)
	eventRepo.On("GetByID", mock.Anything, "event-1").Return(sellableEvent("event-1"), nil)

	// 決済を常にambiguousで失敗させ、予約が保持されたままになる状況を作る
	gateway := new(MockGateway)
	gateway.On("CreatePaymentIntent", mock.Anything, mock.Anything).
		Return(nil, payment.NewGatewayError(payment.KindAmbiguous, "create_intent", fmt.Errorf("timeout")))

	policy := payment.RetryPolicy{MaxRetries: 0, Interval: time.Millisecond, Multiplier: 1.0}
	service := NewPurchaseService(txManager, ticketRepo, eventRepo, gateway, policy, 3, "JPY", nil, nil, nil)

	for i := 0; i < tickets; i++ {
		service.PurchaseTicket(context.Background(), PurchaseInput{
			TicketID: fmt.Sprintf("ticket-%d", i),
			UserID:   "user-1",
		})
	}

	held := 0
	for _, t2 := range store.tickets {
		if t2.Status == ticket.StatusReserved {
			held++
		}
	}
	assert.Equal(t, 3, held, "保持数は上限の3で頭打ちになる")
}
