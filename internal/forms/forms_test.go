package forms

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faidahq/faida-offline/internal/connectivity"
	"github.com/faidahq/faida-offline/internal/db"
	apperrors "github.com/faidahq/faida-offline/internal/errors"
	"github.com/faidahq/faida-offline/internal/models"
	"github.com/faidahq/faida-offline/internal/status"
	"github.com/faidahq/faida-offline/internal/sync/queue"
)

func newTestInterceptor(t *testing.T) (*Interceptor, *queue.Queue, *connectivity.Monitor, *status.Surface) {
	t.Helper()

	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.NewMigrator(database.DB).Up())

	q := queue.New(database)
	classifier := connectivity.NewClassifier("/auth/login")
	monitor := connectivity.NewMonitor(connectivity.NewHTTPClient(time.Second), classifier, "http://localhost:1/api/v1/sync/status", time.Hour)
	surface := status.NewSurface(time.Minute)

	return NewInterceptor(q, monitor, surface), q, monitor, surface
}

func validSale() *models.SalePayload {
	return &models.SalePayload{
		ClientChoice:  "new",
		NewClientName: "Maman Kavira",
		SaleItems: []models.SaleItem{
			{Network: models.NetworkAirtel, Quantity: 10},
			{Network: models.NetworkOrange, Quantity: 4},
		},
		CashPaid: decimal.NewFromInt(500),
	}
}

func TestShouldInterceptPerState(t *testing.T) {
	i, _, monitor, _ := newTestInterceptor(t)

	monitor.Report(connectivity.StateUnreachable)
	assert.True(t, i.ShouldIntercept())

	// Rejected means a direct submission would bounce off the login
	// redirect, so it is captured too.
	monitor.Report(connectivity.StateRejected)
	assert.True(t, i.ShouldIntercept())

	monitor.Report(connectivity.StateReachable)
	assert.False(t, i.ShouldIntercept())
}

func TestSubmitSaleEnqueuesPending(t *testing.T) {
	i, q, _, surface := newTestInterceptor(t)

	op, err := i.SubmitSale(validSale())
	require.NoError(t, err)
	assert.Equal(t, models.KindSale, op.Kind)
	assert.Equal(t, models.StatusPending, op.Status)
	assert.NotEmpty(t, op.LocalID)

	pending, err := q.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 1)

	decoded, err := models.DecodePayload(models.KindSale, pending[0].Payload)
	require.NoError(t, err)
	sale := decoded.(*models.SalePayload)
	assert.Len(t, sale.SaleItems, 2)
	assert.True(t, sale.CashPaid.Equal(decimal.NewFromInt(500)))

	assert.Equal(t, 1, surface.Current().Pending)
}

func TestSubmitSaleValidationFailures(t *testing.T) {
	i, q, _, _ := newTestInterceptor(t)

	cases := []struct {
		name   string
		mutate func(*models.SalePayload)
	}{
		{"no items", func(p *models.SalePayload) { p.SaleItems = nil }},
		{"bad network", func(p *models.SalePayload) { p.SaleItems[0].Network = "tigo" }},
		{"zero quantity", func(p *models.SalePayload) { p.SaleItems[0].Quantity = 0 }},
		{"bad client choice", func(p *models.SalePayload) { p.ClientChoice = "maybe" }},
		{"existing without id", func(p *models.SalePayload) {
			p.ClientChoice = "existing"
			p.ExistingClientID = ""
		}},
		{"negative cash", func(p *models.SalePayload) { p.CashPaid = decimal.NewFromInt(-5) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validSale()
			tc.mutate(p)
			_, err := i.SubmitSale(p)
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
		})
	}

	pending, err := q.ListPending()
	require.NoError(t, err)
	assert.Empty(t, pending, "rejected submissions must never be enqueued")
}

func TestSubmitStockPurchase(t *testing.T) {
	i, _, _, _ := newTestInterceptor(t)

	p := &models.StockPurchasePayload{
		Network:                    models.NetworkVodacom,
		AmountPurchased:            100,
		BuyingPriceChoice:          "26",
		IntendedSellingPriceChoice: "30",
	}
	op, err := i.SubmitStockPurchase(p)
	require.NoError(t, err)
	assert.Equal(t, models.KindStockPurchase, op.Kind)
}

func TestSubmitStockPurchaseCustomPrice(t *testing.T) {
	i, _, _, _ := newTestInterceptor(t)

	custom := decimal.NewFromFloat(27.5)
	p := &models.StockPurchasePayload{
		Network:                    models.NetworkAfricel,
		AmountPurchased:            50,
		BuyingPriceChoice:          "custom",
		CustomBuyingPrice:          &custom,
		IntendedSellingPriceChoice: "30",
	}
	_, err := i.SubmitStockPurchase(p)
	require.NoError(t, err)

	// custom without the explicit price is rejected.
	p.CustomBuyingPrice = nil
	_, err = i.SubmitStockPurchase(p)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestSubmitCashOutflow(t *testing.T) {
	i, _, _, _ := newTestInterceptor(t)

	op, err := i.SubmitCashOutflow(&models.CashOutflowPayload{
		Amount:      decimal.NewFromInt(2000),
		Category:    models.CategorySalary,
		Description: "Salaire vendeur",
	})
	require.NoError(t, err)
	assert.Equal(t, models.KindCashOutflow, op.Kind)

	_, err = i.SubmitCashOutflow(&models.CashOutflowPayload{
		Amount:   decimal.NewFromInt(0),
		Category: models.CategorySalary,
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	_, err = i.SubmitCashOutflow(&models.CashOutflowPayload{
		Amount:   decimal.NewFromInt(100),
		Category: "GIFTS",
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestNilSurfaceIsAllowed(t *testing.T) {
	i, _, _, _ := newTestInterceptor(t)
	i.surface = nil

	_, err := i.SubmitSale(validSale())
	require.NoError(t, err)
}
