package mexc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/jcorwin/helmsman/pkg/models"
)

// Futures order side codes.
const (
	sideOpenLong   = 1
	sideCloseShort = 2
	sideOpenShort  = 3
	sideCloseLong  = 4
)

// Futures order/position encoding.
const (
	orderTypeMarket  = 5
	openTypeIsolated = 1
	positionLong     = 1
	positionShort    = 2
	fixedOrderVolume = 1
)

// Futures order states.
const (
	stateUncompleted = 2
	stateCompleted   = 3
	stateCancelled   = 4
)

// wireFloat accepts both JSON numbers and numeric strings; the spot
// API sends balances as strings while the futures API sends numbers.
type wireFloat float64

func (w *wireFloat) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" || s == "null" {
		*w = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*w = wireFloat(f)
	return nil
}

// GetTicker fetches the public 24h snapshot for a symbol. Unsigned;
// the only failure mode surfaced is "market unreachable".
func (c *Client) GetTicker(ctx context.Context, symbol string, fwd Forwarding) (*models.Ticker, error) {
	target := c.spotURL + "/api/v3/ticker/24hr?symbol=" + symbol
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fwd.Wrap(target), nil)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("market unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("market unreachable: HTTP %d: %s", resp.StatusCode, truncate(string(body), maxErrorBody))
	}

	var raw struct {
		Symbol             string    `json:"symbol"`
		LastPrice          wireFloat `json:"lastPrice"`
		PriceChangePercent wireFloat `json:"priceChangePercent"`
		Volume             wireFloat `json:"volume"`
		CloseTime          int64     `json:"closeTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, &DecodeError{Err: err}
	}

	return &models.Ticker{
		Symbol:        raw.Symbol,
		LastPrice:     float64(raw.LastPrice),
		ChangePercent: float64(raw.PriceChangePercent),
		Volume24h:     float64(raw.Volume),
		Timestamp:     time.UnixMilli(raw.CloseTime),
	}, nil
}

// GetSpotBalances lists non-zero spot account balances.
func (c *Client) GetSpotBalances(ctx context.Context, auth Auth) ([]models.Balance, error) {
	payload, err := c.PrivateRequest(ctx, http.MethodGet, c.spotURL+"/api/v3/account", auth, nil)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Balances []struct {
			Asset  string    `json:"asset"`
			Free   wireFloat `json:"free"`
			Locked wireFloat `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &DecodeError{Err: err}
	}

	balances := make([]models.Balance, 0, len(raw.Balances))
	for _, b := range raw.Balances {
		if b.Free == 0 && b.Locked == 0 {
			continue
		}
		balances = append(balances, models.Balance{
			Asset:  b.Asset,
			Free:   float64(b.Free),
			Locked: float64(b.Locked),
		})
	}
	return balances, nil
}

// GetFuturesAssets lists futures account asset balances.
func (c *Client) GetFuturesAssets(ctx context.Context, auth Auth) ([]models.Balance, error) {
	payload, err := c.PrivateRequest(ctx, http.MethodGet, c.futuresURL+"/api/v1/private/account/assets", auth, nil)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Currency         string    `json:"currency"`
		Equity           wireFloat `json:"equity"`
		AvailableBalance wireFloat `json:"availableBalance"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &DecodeError{Err: err}
	}

	assets := make([]models.Balance, 0, len(raw))
	for _, a := range raw {
		assets = append(assets, models.Balance{
			Asset:     a.Currency,
			Equity:    float64(a.Equity),
			Available: float64(a.AvailableBalance),
		})
	}
	return assets, nil
}

// GetOpenPositions lists open futures positions for a symbol.
func (c *Client) GetOpenPositions(ctx context.Context, auth Auth, symbol string) ([]models.Position, error) {
	params := Params{}.With("symbol", symbol)
	payload, err := c.PrivateRequest(ctx, http.MethodGet, c.futuresURL+"/api/v1/private/position/open_positions", auth, params)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		PositionID     int64     `json:"positionId"`
		Symbol         string    `json:"symbol"`
		PositionType   int       `json:"positionType"`
		HoldAvgPrice   wireFloat `json:"holdAvgPrice"`
		MarkPrice      wireFloat `json:"markPrice"`
		Leverage       int       `json:"leverage"`
		IM             wireFloat `json:"im"`
		UnrealizedPnl  wireFloat `json:"unrealised"`
		LiquidatePrice wireFloat `json:"liquidatePrice"`
		UpdateTime     int64     `json:"updateTime"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &DecodeError{Err: err}
	}

	positions := make([]models.Position, 0, len(raw))
	for _, p := range raw {
		side := models.SideLong
		if p.PositionType == positionShort {
			side = models.SideShort
		}
		id := strconv.FormatInt(p.PositionID, 10)
		if p.PositionID == 0 {
			id = models.SyntheticOrderID()
		}
		positions = append(positions, models.Position{
			ID:               id,
			Symbol:           p.Symbol,
			Side:             side,
			EntryPrice:       float64(p.HoldAvgPrice),
			CurrentPrice:     float64(p.MarkPrice),
			Leverage:         p.Leverage,
			UnrealizedPnl:    float64(p.UnrealizedPnl),
			PnlPercent:       models.PnlPercentOf(float64(p.UnrealizedPnl), float64(p.IM)),
			Margin:           float64(p.IM),
			LiquidationPrice: float64(p.LiquidatePrice),
			UpdatedAt:        time.UnixMilli(p.UpdateTime),
		})
	}
	return positions, nil
}

type wireOrder struct {
	OrderID      json.Number `json:"orderId"`
	Symbol       string      `json:"symbol"`
	Side         int         `json:"side"`
	Price        wireFloat   `json:"price"`
	Vol          wireFloat   `json:"vol"`
	DealAvgPrice wireFloat   `json:"dealAvgPrice"`
	State        int         `json:"state"`
	Leverage     int         `json:"leverage"`
	CreateTime   int64       `json:"createTime"`
}

func (w wireOrder) toOrder() models.Order {
	id := w.OrderID.String()
	if id == "" || id == "0" {
		id = models.SyntheticOrderID()
	}
	side := models.SideLong
	if w.Side == sideOpenShort || w.Side == sideCloseLong {
		side = models.SideShort
	}
	status := models.OrderStatusRejected
	switch w.State {
	case stateUncompleted:
		status = models.OrderStatusOpen
	case stateCompleted:
		status = models.OrderStatusFilled
	case stateCancelled:
		status = models.OrderStatusCancelled
	}
	return models.Order{
		OrderID:   id,
		Symbol:    w.Symbol,
		Side:      side,
		Type:      models.OrderTypeMarket,
		Price:     float64(w.Price),
		Volume:    float64(w.Vol),
		DealPrice: float64(w.DealAvgPrice),
		Status:    status,
		Leverage:  w.Leverage,
		CreatedAt: time.UnixMilli(w.CreateTime),
	}
}

// GetOpenOrders lists outstanding futures orders for a symbol.
func (c *Client) GetOpenOrders(ctx context.Context, auth Auth, symbol string) ([]models.Order, error) {
	params := Params{}.With("symbol", symbol)
	payload, err := c.PrivateRequest(ctx, http.MethodGet, c.futuresURL+"/api/v1/private/order/list/open_orders", auth, params)
	if err != nil {
		return nil, err
	}
	return decodeOrders(payload, nil)
}

// GetOrderHistory lists past futures orders, filtered to terminal
// filled/cancelled states.
func (c *Client) GetOrderHistory(ctx context.Context, auth Auth, symbol string) ([]models.Order, error) {
	params := Params{}.
		With("symbol", symbol).
		With("page_num", "1").
		With("page_size", "50")
	payload, err := c.PrivateRequest(ctx, http.MethodGet, c.futuresURL+"/api/v1/private/order/list/history_orders", auth, params)
	if err != nil {
		return nil, err
	}
	return decodeOrders(payload, func(o models.Order) bool {
		return o.Status == models.OrderStatusFilled || o.Status == models.OrderStatusCancelled
	})
}

func decodeOrders(payload json.RawMessage, keep func(models.Order) bool) ([]models.Order, error) {
	var raw []wireOrder
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &DecodeError{Err: err}
	}
	orders := make([]models.Order, 0, len(raw))
	for _, w := range raw {
		o := w.toOrder()
		if keep == nil || keep(o) {
			orders = append(orders, o)
		}
	}
	return orders, nil
}

// GetDepositHistory lists recent spot deposits. Deposits are
// best-effort telemetry, not decision-critical, so every failure is
// absorbed into an empty result.
func (c *Client) GetDepositHistory(ctx context.Context, auth Auth) []models.Transfer {
	payload, err := c.PrivateRequest(ctx, http.MethodGet, c.spotURL+"/api/v3/capital/deposit/hisrec", auth, nil)
	if err != nil {
		c.logger.WithError(err).Debug("Deposit history unavailable")
		return []models.Transfer{}
	}

	var raw []struct {
		TxID       string    `json:"txId"`
		Coin       string    `json:"coin"`
		Amount     wireFloat `json:"amount"`
		Status     int       `json:"status"`
		InsertTime int64     `json:"insertTime"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		c.logger.WithError(err).Debug("Deposit history unreadable")
		return []models.Transfer{}
	}

	transfers := make([]models.Transfer, 0, len(raw))
	for _, t := range raw {
		id := t.TxID
		if id == "" {
			id = models.SyntheticOrderID()
		}
		transfers = append(transfers, models.Transfer{
			ID:        id,
			Asset:     t.Coin,
			Amount:    float64(t.Amount),
			Direction: models.TransferDeposit,
			Status:    strconv.Itoa(t.Status),
			Timestamp: time.UnixMilli(t.InsertTime),
		})
	}
	return transfers
}

// TradeRequest is everything ExecuteTrade needs from the configuration
// snapshot and account state of the current cycle.
type TradeRequest struct {
	Symbol      string
	Action      models.Action
	Leverage    int
	CurrentSide models.Side
	MarketPrice float64
	Live        bool
}

// ExecuteTrade routes a non-hold decision to the exchange. In
// simulation mode it fabricates a filled position locally and never
// touches the network; the Simulated flag keeps it from ever being
// confused with a real fill.
func (c *Client) ExecuteTrade(ctx context.Context, auth Auth, req TradeRequest) (*models.Position, error) {
	if !req.Live {
		return simulatedFill(req), nil
	}

	side, err := orderSide(req.Action, req.CurrentSide)
	if err != nil {
		return nil, err
	}

	params := Params{}.
		With("symbol", req.Symbol).
		With("price", strconv.FormatFloat(req.MarketPrice, 'f', -1, 64)).
		With("vol", strconv.Itoa(fixedOrderVolume)).
		With("side", strconv.Itoa(side)).
		With("type", strconv.Itoa(orderTypeMarket)).
		With("openType", strconv.Itoa(openTypeIsolated)).
		With("leverage", strconv.Itoa(req.Leverage))

	payload, err := c.PrivateRequest(ctx, http.MethodPost, c.futuresURL+"/api/v1/private/order/submit", auth, params)
	if err != nil {
		return nil, err
	}

	var orderID json.Number
	if err := json.Unmarshal(payload, &orderID); err != nil {
		// Some gateways wrap the new order id in an object.
		var obj struct {
			OrderID json.Number `json:"orderId"`
		}
		if err := json.Unmarshal(payload, &obj); err != nil {
			return nil, &DecodeError{Err: err}
		}
		orderID = obj.OrderID
	}

	id := orderID.String()
	if id == "" || id == "0" {
		id = models.SyntheticOrderID()
	}

	pos := fillFor(req)
	pos.ID = id
	return pos, nil
}

func orderSide(action models.Action, current models.Side) (int, error) {
	switch action {
	case models.ActionLong:
		return sideOpenLong, nil
	case models.ActionShort:
		return sideOpenShort, nil
	case models.ActionClose:
		if current == models.SideShort {
			return sideCloseShort, nil
		}
		return sideCloseLong, nil
	}
	return 0, fmt.Errorf("action %q is not executable", action)
}

func simulatedFill(req TradeRequest) *models.Position {
	pos := fillFor(req)
	pos.ID = models.SyntheticOrderID()
	pos.Simulated = true
	return pos
}

func fillFor(req TradeRequest) *models.Position {
	side := models.SideLong
	if req.Action == models.ActionShort {
		side = models.SideShort
	}
	if req.Action == models.ActionClose {
		side = models.SideNone
	}
	return &models.Position{
		Symbol:       req.Symbol,
		Side:         side,
		EntryPrice:   req.MarketPrice,
		CurrentPrice: req.MarketPrice,
		Leverage:     req.Leverage,
		UpdatedAt:    time.Now(),
	}
}
