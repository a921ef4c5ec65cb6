package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/signal_trader/internal/domain"
	"go.uber.org/zap"
)

const (
	BybitBaseURL = "https://api.bybit.com"

	bybitRecvWindow = 5000

	// bybitLeverageNotModified is returned when the requested leverage is already set.
	bybitLeverageNotModified = 110043
)

// BybitAdapter talks to the Bybit v5 linear (USDT perpetual) REST API in
// one-way position mode.
type BybitAdapter struct {
	apiKey    string
	apiSecret string
	rest      *restClient
	now       func() time.Time
}

func NewBybitAdapter(apiKey, apiSecret, baseURL string, timeout time.Duration, logger *zap.Logger) *BybitAdapter {
	if baseURL == "" {
		baseURL = BybitBaseURL
	}
	b := &BybitAdapter{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		now:       time.Now,
	}
	b.rest = newRESTClient("bybit", baseURL, timeout, b.signRequest, logger)
	return b
}

func (b *BybitAdapter) Name() string { return "bybit" }

// sign returns hex(HMAC-SHA256(timestamp + apiKey + recvWindow + params)).
func (b *BybitAdapter) sign(params string, timestamp int64, recvWindow int) string {
	toSign := fmt.Sprintf("%d%s%d%s", timestamp, b.apiKey, recvWindow, params)
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}

func (b *BybitAdapter) signRequest(req *http.Request, query, body string) {
	timestamp := b.now().UnixMilli()
	params := body
	if req.Method == http.MethodGet {
		params = query
	}
	req.Header.Set("X-BAPI-API-KEY", b.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-BAPI-SIGN", b.sign(params, timestamp, bybitRecvWindow))
	req.Header.Set("X-BAPI-RECV-WINDOW", strconv.Itoa(bybitRecvWindow))
}

type bybitResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// call performs the request and decodes result into out. A non-zero retCode
// is returned as a *bybitAPIError of failKind.
func (b *BybitAdapter) call(ctx context.Context, method, path string, query url.Values, payload any, failKind domain.Kind, out any) error {
	op := "bybit " + path
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return domain.NewError(domain.KindInvalid, op, err)
		}
	}
	raw, status, err := b.rest.do(ctx, method, path, query.Encode(), body)
	if err != nil {
		return err
	}

	var resp bybitResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return domain.Errorf(domain.KindUnavailable, op, "http %d: decode response: %v", status, err)
	}
	if resp.RetCode != 0 {
		return domain.NewError(failKind, op, &bybitAPIError{Code: resp.RetCode, Msg: resp.RetMsg})
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return domain.Errorf(domain.KindUnavailable, op, "decode result: %v", err)
		}
	}
	return nil
}

type bybitAPIError struct {
	Code int
	Msg  string
}

func (e *bybitAPIError) Error() string {
	return fmt.Sprintf("retCode %d: %s", e.Code, e.Msg)
}

func linearQuery(instrument string) url.Values {
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", strings.ToUpper(instrument))
	return q
}

func (b *BybitAdapter) GetPrice(ctx context.Context, instrument string) (decimal.Decimal, error) {
	var result struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
			MarkPrice string `json:"markPrice"`
		} `json:"list"`
	}
	if err := b.call(ctx, http.MethodGet, "/v5/market/tickers", linearQuery(instrument), nil, domain.KindUnavailable, &result); err != nil {
		return decimal.Zero, err
	}
	if len(result.List) == 0 {
		return decimal.Zero, domain.Errorf(domain.KindInvalidPrice, "bybit tickers", "symbol %s not found", instrument)
	}
	raw := result.List[0].LastPrice
	if raw == "" {
		raw = result.List[0].MarkPrice
	}
	return parsePrice("bybit tickers", raw)
}

func (b *BybitAdapter) GetPosition(ctx context.Context, instrument string) (*domain.Position, error) {
	var result struct {
		List []struct {
			Symbol   string `json:"symbol"`
			Side     string `json:"side"`
			Size     string `json:"size"`
			AvgPrice string `json:"avgPrice"`
			Leverage string `json:"leverage"`
		} `json:"list"`
	}
	if err := b.call(ctx, http.MethodGet, "/v5/position/list", linearQuery(instrument), nil, domain.KindUnavailable, &result); err != nil {
		return nil, err
	}

	legs := make([]domain.Position, 0, len(result.List))
	for _, raw := range result.List {
		size, err := parseQuantity(raw.Size)
		if err != nil {
			return nil, domain.NewError(domain.KindUnavailable, "bybit position", err)
		}
		entry, _ := decimal.NewFromString(raw.AvgPrice)
		lev, _ := strconv.Atoi(raw.Leverage)

		side := domain.SideUnknown
		switch raw.Side {
		case "Buy":
			side = domain.SideLong
		case "Sell":
			side = domain.SideShort
		}
		// Bybit does not report a closable quantity separately.
		legs = append(legs, domain.Position{
			Exchange:   b.Name(),
			Instrument: instrument,
			Side:       side,
			Size:       size,
			Available:  size,
			EntryPrice: entry,
			Leverage:   lev,
		})
	}
	return domain.MergeLegs(legs), nil
}

func (b *BybitAdapter) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	side := "Sell"
	if req.Side.Buy() {
		side = "Buy"
	}
	payload := map[string]any{
		"category":    "linear",
		"symbol":      strings.ToUpper(req.Instrument),
		"side":        side,
		"orderType":   "Market",
		"qty":         req.Quantity.String(),
		"timeInForce": "IOC",
		"positionIdx": 0,
		"orderLinkId": req.ClientID,
	}
	if req.Side.IsClose() {
		payload["reduceOnly"] = true
	}

	var result struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := b.call(ctx, http.MethodPost, "/v5/order/create", nil, payload, domain.KindRejected, &result); err != nil {
		return domain.OrderResult{}, err
	}
	return domain.OrderResult{Accepted: true, OrderID: result.OrderID}, nil
}

func (b *BybitAdapter) SetLeverage(ctx context.Context, instrument string, leverage int) error {
	payload := map[string]any{
		"category":     "linear",
		"symbol":       strings.ToUpper(instrument),
		"buyLeverage":  strconv.Itoa(leverage),
		"sellLeverage": strconv.Itoa(leverage),
	}
	err := b.call(ctx, http.MethodPost, "/v5/position/set-leverage", nil, payload, domain.KindRejected, nil)
	if apiErr := asBybitAPIError(err); apiErr != nil && apiErr.Code == bybitLeverageNotModified {
		return nil
	}
	return err
}

func (b *BybitAdapter) GetAvailableBalance(ctx context.Context, coin string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("accountType", "UNIFIED")
	q.Set("coin", strings.ToUpper(coin))

	var result struct {
		List []struct {
			Coin []struct {
				Coin                string `json:"coin"`
				WalletBalance       string `json:"walletBalance"`
				AvailableToWithdraw string `json:"availableToWithdraw"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := b.call(ctx, http.MethodGet, "/v5/account/wallet-balance", q, nil, domain.KindUnavailable, &result); err != nil {
		return decimal.Zero, err
	}
	for _, acc := range result.List {
		for _, c := range acc.Coin {
			if !strings.EqualFold(c.Coin, coin) {
				continue
			}
			raw := c.AvailableToWithdraw
			if raw == "" {
				raw = c.WalletBalance
			}
			v, err := decimal.NewFromString(raw)
			if err != nil {
				return decimal.Zero, domain.Errorf(domain.KindUnavailable, "bybit wallet-balance", "balance %q: %v", raw, err)
			}
			return v, nil
		}
	}
	return decimal.Zero, domain.Errorf(domain.KindInvalid, "bybit wallet-balance", "no balance for coin %s", coin)
}

func asBybitAPIError(err error) *bybitAPIError {
	var apiErr *bybitAPIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}
