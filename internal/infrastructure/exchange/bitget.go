package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
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
	BitgetBaseURL = "https://api.bitget.com"

	bitgetSuccess     = "00000"
	bitgetProductType = "USDT-FUTURES"
	bitgetMarginMode  = "crossed"
)

type PositionMode string

const (
	PositionModeHedge  PositionMode = "hedge"
	PositionModeOneWay PositionMode = "one_way"
)

type BitgetOptions struct {
	APIKey       string
	APISecret    string
	Passphrase   string
	BaseURL      string
	MarginCoin   string
	PositionMode PositionMode
	Timeout      time.Duration
}

// BitgetAdapter talks to the Bitget v2 mix (USDT futures) REST API.
type BitgetAdapter struct {
	opts BitgetOptions
	rest *restClient
	now  func() time.Time
}

func NewBitgetAdapter(opts BitgetOptions, logger *zap.Logger) *BitgetAdapter {
	if opts.BaseURL == "" {
		opts.BaseURL = BitgetBaseURL
	}
	if opts.MarginCoin == "" {
		opts.MarginCoin = "USDT"
	}
	if opts.PositionMode == "" {
		opts.PositionMode = PositionModeHedge
	}
	b := &BitgetAdapter{opts: opts, now: time.Now}
	b.rest = newRESTClient("bitget", opts.BaseURL, opts.Timeout, b.signRequest, logger)
	return b
}

func (b *BitgetAdapter) Name() string { return "bitget" }

// sign returns base64(HMAC-SHA256(timestamp + METHOD + path[?query] + body)).
func (b *BitgetAdapter) sign(timestamp, method, path, query, body string) string {
	msg := timestamp + strings.ToUpper(method) + path
	if query != "" {
		msg += "?" + query
	}
	msg += body
	h := hmac.New(sha256.New, []byte(b.opts.APISecret))
	h.Write([]byte(msg))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func (b *BitgetAdapter) signRequest(req *http.Request, query, body string) {
	ts := strconv.FormatInt(b.now().UnixMilli(), 10)
	req.Header.Set("ACCESS-KEY", b.opts.APIKey)
	req.Header.Set("ACCESS-SIGN", b.sign(ts, req.Method, req.URL.Path, query, body))
	req.Header.Set("ACCESS-TIMESTAMP", ts)
	req.Header.Set("ACCESS-PASSPHRASE", b.opts.Passphrase)
	req.Header.Set("locale", "en-US")
}

type bitgetResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// call performs the request and decodes data into out. A non-success code
// is returned as failKind.
func (b *BitgetAdapter) call(ctx context.Context, method, path string, query url.Values, payload any, failKind domain.Kind, out any) error {
	op := "bitget " + path
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

	var resp bitgetResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return domain.Errorf(domain.KindUnavailable, op, "http %d: decode response: %v", status, err)
	}
	if resp.Code != bitgetSuccess {
		return domain.Errorf(failKind, op, "code %s: %s", resp.Code, resp.Msg)
	}
	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return domain.Errorf(domain.KindUnavailable, op, "decode data: %v", err)
		}
	}
	return nil
}

// NormalizeBitgetSymbol strips the v1 product suffix TradingView alerts often
// carry ("SUIUSDT_UMCBL" -> "SUIUSDT").
func NormalizeBitgetSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.IndexByte(symbol, '_'); i > 0 {
		symbol = symbol[:i]
	}
	return symbol
}

func (b *BitgetAdapter) productQuery(instrument string) url.Values {
	q := url.Values{}
	q.Set("symbol", NormalizeBitgetSymbol(instrument))
	q.Set("productType", bitgetProductType)
	return q
}

func (b *BitgetAdapter) GetPrice(ctx context.Context, instrument string) (decimal.Decimal, error) {
	var data []struct {
		Symbol    string `json:"symbol"`
		LastPr    string `json:"lastPr"`
		MarkPrice string `json:"markPrice"`
	}
	if err := b.call(ctx, http.MethodGet, "/api/v2/mix/market/ticker", b.productQuery(instrument), nil, domain.KindUnavailable, &data); err != nil {
		return decimal.Zero, err
	}
	if len(data) == 0 {
		return decimal.Zero, domain.Errorf(domain.KindInvalidPrice, "bitget ticker", "no ticker for %s", instrument)
	}
	raw := data[0].LastPr
	if raw == "" {
		raw = data[0].MarkPrice
	}
	return parsePrice("bitget ticker", raw)
}

func (b *BitgetAdapter) GetPosition(ctx context.Context, instrument string) (*domain.Position, error) {
	q := b.productQuery(instrument)
	q.Set("marginCoin", b.opts.MarginCoin)

	var data []struct {
		Symbol       string `json:"symbol"`
		HoldSide     string `json:"holdSide"`
		Total        string `json:"total"`
		Available    string `json:"available"`
		OpenPriceAvg string `json:"openPriceAvg"`
		Leverage     string `json:"leverage"`
	}
	if err := b.call(ctx, http.MethodGet, "/api/v2/mix/position/single-position", q, nil, domain.KindUnavailable, &data); err != nil {
		return nil, err
	}

	legs := make([]domain.Position, 0, len(data))
	for _, raw := range data {
		size, err := parseQuantity(raw.Total)
		if err != nil {
			return nil, domain.NewError(domain.KindUnavailable, "bitget position", err)
		}
		avail, err := parseQuantity(raw.Available)
		if err != nil {
			return nil, domain.NewError(domain.KindUnavailable, "bitget position", err)
		}
		entry, _ := decimal.NewFromString(raw.OpenPriceAvg)
		lev, _ := strconv.Atoi(raw.Leverage)

		side := domain.SideUnknown
		switch strings.ToLower(raw.HoldSide) {
		case "long":
			side = domain.SideLong
		case "short":
			side = domain.SideShort
		}
		legs = append(legs, domain.Position{
			Exchange:   b.Name(),
			Instrument: instrument,
			Side:       side,
			Size:       size,
			Available:  avail,
			EntryPrice: entry,
			Leverage:   lev,
		})
	}
	return domain.MergeLegs(legs), nil
}

func (b *BitgetAdapter) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	payload := map[string]string{
		"symbol":      NormalizeBitgetSymbol(req.Instrument),
		"productType": bitgetProductType,
		"marginMode":  bitgetMarginMode,
		"marginCoin":  b.opts.MarginCoin,
		"size":        req.Quantity.String(),
		"orderType":   "market",
		"clientOid":   req.ClientID,
	}
	if b.opts.PositionMode == PositionModeOneWay {
		payload["side"] = bookSide(req.Side)
		if req.Side.IsClose() {
			payload["reduceOnly"] = "YES"
		}
	} else {
		// In hedge mode side names the position direction, tradeSide the action.
		payload["side"] = "sell"
		if req.Side.Direction() == domain.Long {
			payload["side"] = "buy"
		}
		payload["tradeSide"] = "open"
		if req.Side.IsClose() {
			payload["tradeSide"] = "close"
		}
	}

	var data struct {
		OrderID   string `json:"orderId"`
		ClientOid string `json:"clientOid"`
	}
	if err := b.call(ctx, http.MethodPost, "/api/v2/mix/order/place-order", nil, payload, domain.KindRejected, &data); err != nil {
		return domain.OrderResult{}, err
	}
	return domain.OrderResult{Accepted: true, OrderID: data.OrderID}, nil
}

func (b *BitgetAdapter) SetLeverage(ctx context.Context, instrument string, leverage int) error {
	payload := map[string]string{
		"symbol":      NormalizeBitgetSymbol(instrument),
		"productType": bitgetProductType,
		"marginCoin":  b.opts.MarginCoin,
		"leverage":    strconv.Itoa(leverage),
	}
	return b.call(ctx, http.MethodPost, "/api/v2/mix/account/set-leverage", nil, payload, domain.KindRejected, nil)
}

func (b *BitgetAdapter) GetAvailableBalance(ctx context.Context, coin string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("productType", bitgetProductType)

	var data []struct {
		MarginCoin string `json:"marginCoin"`
		Available  string `json:"available"`
	}
	if err := b.call(ctx, http.MethodGet, "/api/v2/mix/account/accounts", q, nil, domain.KindUnavailable, &data); err != nil {
		return decimal.Zero, err
	}
	for _, acc := range data {
		if strings.EqualFold(acc.MarginCoin, coin) {
			v, err := decimal.NewFromString(acc.Available)
			if err != nil {
				return decimal.Zero, domain.Errorf(domain.KindUnavailable, "bitget accounts", "available %q: %v", acc.Available, err)
			}
			return v, nil
		}
	}
	return decimal.Zero, domain.Errorf(domain.KindInvalid, "bitget accounts", "no account for margin coin %s", coin)
}

func bookSide(s domain.OrderSide) string {
	if s.Buy() {
		return "buy"
	}
	return "sell"
}

func parsePrice(op, raw string) (decimal.Decimal, error) {
	p, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, domain.Errorf(domain.KindInvalidPrice, op, "price %q: %v", raw, err)
	}
	if !p.IsPositive() {
		return decimal.Zero, domain.Errorf(domain.KindInvalidPrice, op, "price %s is not positive", p)
	}
	return p, nil
}

// parseQuantity treats an empty field as zero.
func parseQuantity(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("quantity %q: %w", raw, err)
	}
	return v, nil
}
