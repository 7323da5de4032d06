package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sanosuguru/go-ticket-sales/internal/domain/ticket"
)

const testWebhookSecret = "whsec_test"

func newWebhookContext(e *echo.Echo, body, token string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set("X-Webhook-Token", token)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestWebhookHandler_HandlePayment(t *testing.T) {
	e := NewTestEcho()
	validBody := `{"ticket_id": "ticket-1", "payment_id": "pi_123", "status": "succeeded"}`

	t.Run("決済成功の通知で購入が確定する", func(t *testing.T) {
		mockService := new(MockPurchaseService)
		mockService.On("ConfirmPurchase", mock.Anything, "ticket-1", "pi_123").
			Return(soldTestTicket("ticket-1", "event-123"), nil)

		handler := NewWebhookHandler(mockService, testWebhookSecret)
		c, rec := newWebhookContext(e, validBody, testWebhookSecret)

		err := handler.HandlePayment(c)

		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp TicketResponse
		err = json.Unmarshal(rec.Body.Bytes(), &resp)
		require.NoError(t, err)
		assert.Equal(t, "sold", resp.Status)

		mockService.AssertExpectations(t)
	})

	t.Run("トークン不一致は401", func(t *testing.T) {
		mockService := new(MockPurchaseService)
		handler := NewWebhookHandler(mockService, testWebhookSecret)
		c, _ := newWebhookContext(e, validBody, "wrong-token")

		err := handler.HandlePayment(c)

		require.Error(t, err)
		he, ok := err.(*echo.HTTPError)
		require.True(t, ok)
		assert.Equal(t, http.StatusUnauthorized, he.Code)
		mockService.AssertNotCalled(t, "ConfirmPurchase", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("シークレット未設定は常に401", func(t *testing.T) {
		mockService := new(MockPurchaseService)
		handler := NewWebhookHandler(mockService, "")
		c, _ := newWebhookContext(e, validBody, "")

		err := handler.HandlePayment(c)

		require.Error(t, err)
		he, ok := err.(*echo.HTTPError)
		require.True(t, ok)
		assert.Equal(t, http.StatusUnauthorized, he.Code)
	})

	t.Run("決済失敗の通知は予約を解放する", func(t *testing.T) {
		mockService := new(MockPurchaseService)
		mockService.On("ReleaseReservation", mock.Anything, "ticket-1").Return(nil)
		handler := NewWebhookHandler(mockService, testWebhookSecret)

		body := `{"ticket_id": "ticket-1", "payment_id": "pi_123", "status": "failed"}`
		c, rec := newWebhookContext(e, body, testWebhookSecret)

		err := handler.HandlePayment(c)

		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "released")
		mockService.AssertNotCalled(t, "ConfirmPurchase", mock.Anything, mock.Anything, mock.Anything)
		mockService.AssertExpectations(t)
	})

	t.Run("予約されていないチケットへの通知は409", func(t *testing.T) {
		mockService := new(MockPurchaseService)
		mockService.On("ConfirmPurchase", mock.Anything, "ticket-1", "pi_123").
			Return(nil, ticket.ErrTicketNotReserved)

		handler := NewWebhookHandler(mockService, testWebhookSecret)
		c, _ := newWebhookContext(e, validBody, testWebhookSecret)

		err := handler.HandlePayment(c)

		require.Error(t, err)
		he, ok := err.(*echo.HTTPError)
		require.True(t, ok)
		assert.Equal(t, http.StatusConflict, he.Code)
	})

	t.Run("存在しないチケットへの通知は404", func(t *testing.T) {
		mockService := new(MockPurchaseService)
		mockService.On("ConfirmPurchase", mock.Anything, "ticket-1", "pi_123").
			Return(nil, ticket.ErrTicketNotFound)

		handler := NewWebhookHandler(mockService, testWebhookSecret)
		c, _ := newWebhookContext(e, validBody, testWebhookSecret)

		err := handler.HandlePayment(c)

		require.Error(t, err)
		he, ok := err.(*echo.HTTPError)
		require.True(t, ok)
		assert.Equal(t, http.StatusNotFound, he.Code)
	})
}
