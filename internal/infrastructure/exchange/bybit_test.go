package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/signal_trader/internal/domain"
	"go.uber.org/zap"
)

func newTestBybit(srv *httptest.Server) *BybitAdapter {
	b := NewBybitAdapter("key", "secret", srv.URL, time.Second, zap.NewNop())
	b.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return b
}

func TestBybit_SignsQueryForGet(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.handle("/v5/market/tickers", 200, `{"retCode":0,"result":{"list":[{"symbol":"BTCUSDT","lastPrice":"43000.5"}]}}`)
	b := newTestBybit(srv)

	price, err := b.GetPrice(context.Background(), "btcusdt")
	require.NoError(t, err)
	assert.Equal(t, "43000.5", price.String())

	req := api.last()
	assert.Equal(t, "category=linear&symbol=BTCUSDT", req.Query)
	assert.Equal(t, "key", req.Header.Get("X-BAPI-API-KEY"))
	assert.Equal(t, "5000", req.Header.Get("X-BAPI-RECV-WINDOW"))
	assert.Equal(t, b.sign(req.Query, 1700000000000, 5000), req.Header.Get("X-BAPI-SIGN"))
}

func TestBybit_GetPriceMissingSymbol(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.handle("/v5/market/tickers", 200, `{"retCode":0,"result":{"list":[]}}`)
	b := newTestBybit(srv)

	_, err := b.GetPrice(context.Background(), "NOPE")
	assert.True(t, domain.IsKind(err, domain.KindInvalidPrice))
}

func TestBybit_GetPosition(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.handle("/v5/position/list", 200, `{"retCode":0,"result":{"list":[{"symbol":"X","side":"Sell","size":"2","avgPrice":"10","leverage":"3"}]}}`)
	b := newTestBybit(srv)

	pos, err := b.GetPosition(context.Background(), "X")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, domain.SideShort, pos.Side)
	assert.Equal(t, "2", pos.Size.String())
	assert.True(t, pos.Available.Equal(pos.Size))
	assert.Equal(t, 3, pos.Leverage)
}

func TestBybit_GetPositionFlat(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.handle("/v5/position/list", 200, `{"retCode":0,"result":{"list":[{"symbol":"X","side":"","size":"0"}]}}`)
	b := newTestBybit(srv)

	pos, err := b.GetPosition(context.Background(), "X")
	require.NoError(t, err)
	assert.True(t, pos.IsFlat())
}

func TestBybit_SubmitOrder(t *testing.T) {
	tests := []struct {
		side       domain.OrderSide
		wantSide   string
		reduceOnly bool
	}{
		{domain.OpenLong, "Buy", false},
		{domain.OpenShort, "Sell", false},
		{domain.CloseLong, "Sell", true},
		{domain.CloseShort, "Buy", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.side), func(t *testing.T) {
			api, srv := newFakeAPI(t)
			api.handle("/v5/order/create", 200, `{"retCode":0,"result":{"orderId":"abc","orderLinkId":"c-1"}}`)
			b := newTestBybit(srv)

			res, err := b.SubmitOrder(context.Background(), domain.OrderRequest{
				Instrument: "X",
				Side:       tt.side,
				Quantity:   decimal.RequireFromString("0.25"),
				ClientID:   "c-1",
			})
			require.NoError(t, err)
			assert.Equal(t, domain.OrderResult{Accepted: true, OrderID: "abc"}, res)

			req := api.last()
			assert.Equal(t, tt.wantSide, req.Body["side"])
			assert.Equal(t, "0.25", req.Body["qty"])
			assert.Equal(t, "Market", req.Body["orderType"])
			assert.Equal(t, "c-1", req.Body["orderLinkId"])
			if tt.reduceOnly {
				assert.Equal(t, true, req.Body["reduceOnly"])
			} else {
				assert.NotContains(t, req.Body, "reduceOnly")
			}
		})
	}
}

func TestBybit_SubmitOrderRejected(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.handle("/v5/order/create", 200, `{"retCode":110007,"retMsg":"ab not enough for new order"}`)
	b := newTestBybit(srv)

	_, err := b.SubmitOrder(context.Background(), domain.OrderRequest{Instrument: "X", Side: domain.OpenLong, Quantity: decimal.NewFromInt(1)})
	assert.True(t, domain.IsKind(err, domain.KindRejected))
	assert.Contains(t, err.Error(), "110007")
}

func TestBybit_SetLeverageAlreadySet(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.handle("/v5/position/set-leverage", 200, `{"retCode":110043,"retMsg":"leverage not modified"}`)
	b := newTestBybit(srv)

	assert.NoError(t, b.SetLeverage(context.Background(), "X", 3))
	assert.Equal(t, "3", api.last().Body["buyLeverage"])

	api.handle("/v5/position/set-leverage", 200, `{"retCode":10001,"retMsg":"params error"}`)
	assert.Error(t, b.SetLeverage(context.Background(), "X", 3))
}

func TestBybit_GetAvailableBalance(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.handle("/v5/account/wallet-balance", 200, `{"retCode":0,"result":{"list":[{"coin":[{"coin":"USDT","walletBalance":"100","availableToWithdraw":"80.5"}]}]}}`)
	b := newTestBybit(srv)

	bal, err := b.GetAvailableBalance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.Equal(t, "80.5", bal.String())
	assert.Equal(t, "accountType=UNIFIED&coin=USDT", api.last().Query)
}

func TestRESTClient_RetriesGetOnceOnConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	b := NewBybitAdapter("key", "secret", url, time.Second, zap.NewNop())
	_, err := b.GetPosition(context.Background(), "X")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindUnavailable))
	assert.True(t, isConnectionError(err))
}
