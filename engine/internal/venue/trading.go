package venue

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"venue-execution-engine/engine/internal/events"
	"venue-execution-engine/engine/internal/metrics"
	"venue-execution-engine/engine/internal/models"
)

// ExecuteTrade buys a binary contract. Parameters are checked locally first;
// once the buy request is on the wire it is awaited for the full request
// timeout even if ctx is cancelled.
func (c *Client) ExecuteTrade(ctx context.Context, params models.ExecutionParams) (*models.Contract, error) {
	if !c.IsReady() {
		return nil, &TransportError{Venue: c.id, Op: "execute", Err: ErrNotReady}
	}
	if err := c.checkTrade(params); err != nil {
		return nil, err
	}

	unit := params.DurationUnit
	if unit == "" {
		unit = "t"
	}
	payload := map[string]any{
		"buy":   1,
		"price": params.Amount,
		"parameters": map[string]any{
			"contract_type": string(params.Direction),
			"symbol":        params.Asset,
			"duration":      params.Duration,
			"duration_unit": unit,
			"basis":         "stake",
			"amount":        params.Amount,
			"currency":      c.Currency(),
		},
	}

	ctx = context.WithoutCancel(ctx)
	resp, err := c.SendRequest(ctx, payload)
	if err != nil {
		metrics.TradesExecuted.WithLabelValues(c.id, metrics.OutcomeFailure).Inc()
		c.log.Warnf("Venue %s buy %s %s %.2f failed: %v", c.id, params.Direction, params.Asset, params.Amount, err)
		return nil, err
	}

	var buy buyResponse
	if err := resp.Decode(&buy); err != nil {
		return nil, fmt.Errorf("venue %s: decode buy: %w", c.id, err)
	}
	if buy.Buy.ContractID == "" {
		return nil, fmt.Errorf("venue %s: buy response without contract id", c.id)
	}

	entry := c.now()
	if buy.Buy.StartTime > 0 {
		entry = time.Unix(buy.Buy.StartTime, 0)
	}
	amount := params.Amount
	if buy.Buy.BuyPrice > 0 {
		amount = buy.Buy.BuyPrice
	}
	contract := &models.Contract{
		ID:         string(buy.Buy.ContractID),
		TradeID:    params.TradeID,
		Venue:      c.id,
		Asset:      params.Asset,
		Direction:  params.Direction,
		Amount:     amount,
		EntryPrice: buy.Buy.StartSpot,
		EntryTime:  entry,
		ExpiryTime: entry.Add(models.DurationOf(params.Duration, unit)),
		Status:     models.ContractActive,
		Payout:     buy.Buy.Payout,
	}
	out := *contract

	c.contractsMu.Lock()
	c.contracts[contract.ID] = contract
	c.contractsMu.Unlock()

	if buy.Buy.BalanceAfter != nil {
		c.setBalance(*buy.Buy.BalanceAfter, "")
	}

	metrics.TradesExecuted.WithLabelValues(c.id, metrics.OutcomeSuccess).Inc()
	c.log.Infof("Venue %s opened contract %s: %s %s stake %.2f payout %.2f",
		c.id, out.ID, out.Direction, out.Asset, out.Amount, out.Payout)
	c.bus.Publish(events.TradeExecuted{Contract: out, Timestamp: c.now()})

	if err := c.SubscribeContract(ctx, out.ID); err != nil {
		c.log.Warnf("Venue %s could not subscribe to contract %s: %v", c.id, out.ID, err)
	}
	return &out, nil
}

func (c *Client) checkTrade(p models.ExecutionParams) error {
	if !p.Direction.Valid() {
		return fmt.Errorf("%w: direction %q", ErrInvalidTrade, p.Direction)
	}
	if len(c.opts.AllowedAssets) > 0 && !slices.Contains(c.opts.AllowedAssets, p.Asset) {
		return fmt.Errorf("%w: asset %s not offered by venue %s", ErrInvalidTrade, p.Asset, c.id)
	}
	if p.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidTrade)
	}
	if p.Amount <= 0 || (c.opts.MinStake > 0 && p.Amount < c.opts.MinStake) {
		return fmt.Errorf("%w: stake %.2f below minimum %.2f", ErrInvalidTrade, p.Amount, c.opts.MinStake)
	}
	if c.opts.MaxStake > 0 && p.Amount > c.opts.MaxStake {
		return fmt.Errorf("%w: stake %.2f above maximum %.2f", ErrInvalidTrade, p.Amount, c.opts.MaxStake)
	}
	if balance := c.Balance(); p.Amount > balance {
		return fmt.Errorf("%w: stake %.2f exceeds balance %.2f", ErrInvalidTrade, p.Amount, balance)
	}
	return nil
}

// CloseContract sells an open contract at market and returns the sale price.
// Settlement itself still arrives as a contract update.
func (c *Client) CloseContract(ctx context.Context, contractID string) (float64, error) {
	if !c.IsReady() {
		return 0, &TransportError{Venue: c.id, Op: "sell", Err: ErrNotReady}
	}
	c.contractsMu.RLock()
	_, ok := c.contracts[contractID]
	c.contractsMu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("venue %s: %w: %s", c.id, ErrUnknownContract, contractID)
	}

	resp, err := c.SendRequest(ctx, map[string]any{"sell": wireID(contractID), "price": 0})
	if err != nil {
		return 0, err
	}
	var sell sellResponse
	if err := resp.Decode(&sell); err != nil {
		return 0, fmt.Errorf("venue %s: decode sell: %w", c.id, err)
	}
	if sell.Sell.BalanceAfter != nil {
		c.setBalance(*sell.Sell.BalanceAfter, "")
	}
	c.log.Infof("Venue %s sold contract %s for %.2f", c.id, contractID, sell.Sell.SoldFor)
	return sell.Sell.SoldFor, nil
}

// SubscribeBalance starts the balance stream; the first reply carries the current balance
func (c *Client) SubscribeBalance(ctx context.Context) error {
	resp, err := c.SendRequest(ctx, map[string]any{"balance": 1, "subscribe": 1})
	if err != nil {
		return err
	}
	c.onBalance(resp.Raw)
	return nil
}

// SubscribeContract streams updates for one open contract until it settles
func (c *Client) SubscribeContract(ctx context.Context, contractID string) error {
	resp, err := c.SendRequest(ctx, map[string]any{
		"proposal_open_contract": 1,
		"contract_id":            wireID(contractID),
		"subscribe":              1,
	})
	if err != nil {
		return err
	}
	c.onOpenContract(resp.Raw)
	return nil
}

// SubscribeTicks streams prices for asset. Subscriptions are ref-counted.
func (c *Client) SubscribeTicks(ctx context.Context, asset string) error {
	if !c.ticks.add(asset) {
		return nil
	}
	if err := c.requestTicks(ctx, asset); err != nil {
		c.ticks.drop(asset)
		return err
	}
	return nil
}

// UnsubscribeTicks drops one reference; the stream is forgotten with the last one
func (c *Client) UnsubscribeTicks(ctx context.Context, asset string) error {
	last, streamID := c.ticks.remove(asset)
	if !last || streamID == "" {
		return nil
	}
	_, err := c.SendRequest(ctx, map[string]any{"forget": streamID})
	return err
}

func (c *Client) requestTicks(ctx context.Context, asset string) error {
	resp, err := c.SendRequest(ctx, map[string]any{"ticks": asset, "subscribe": 1})
	if err != nil {
		return err
	}
	c.onTick(resp.Raw)
	return nil
}

// resubscribe restores tick streams and open contract streams after a reconnect
func (c *Client) resubscribe(ctx context.Context) {
	for _, asset := range c.ticks.assets() {
		if err := c.requestTicks(ctx, asset); err != nil {
			c.log.Warnf("Venue %s could not restore ticks for %s: %v", c.id, asset, err)
		}
	}
	for _, id := range c.openContractIDs() {
		if err := c.SubscribeContract(ctx, id); err != nil {
			c.log.Warnf("Venue %s could not restore contract %s: %v", c.id, id, err)
		}
	}
}

func (c *Client) onBalance(data []byte) {
	var msg balanceMessage
	if err := unmarshal(data, &msg); err != nil {
		c.log.Warnf("Venue %s bad balance message: %v", c.id, err)
		return
	}
	c.setBalance(msg.Balance.Balance, msg.Balance.Currency)
}

func (c *Client) setBalance(balance float64, currency string) {
	c.mu.Lock()
	c.balance = balance
	if currency != "" {
		c.currency = currency
	}
	currency = c.currency
	c.mu.Unlock()

	c.bus.Publish(events.BalanceUpdate{Venue: c.id, Balance: balance, Currency: currency, Timestamp: c.now()})
}

func (c *Client) onOpenContract(data []byte) {
	var msg openContractMessage
	if err := unmarshal(data, &msg); err != nil || msg.OpenContract == nil {
		return
	}
	update := msg.OpenContract
	id := string(update.ContractID)

	c.contractsMu.Lock()
	contract, ok := c.contracts[id]
	if !ok {
		c.contractsMu.Unlock()
		c.log.Debugf("Venue %s update for unknown contract %s", c.id, id)
		return
	}
	if update.EntrySpot > 0 && contract.EntryPrice == 0 {
		contract.EntryPrice = update.EntrySpot
	}
	if update.Payout > 0 {
		contract.Payout = update.Payout
	}
	if update.DateExpiry > 0 {
		contract.ExpiryTime = time.Unix(update.DateExpiry, 0)
	}
	contract.Profit = update.Profit
	if update.IsSold != 1 {
		c.contractsMu.Unlock()
		return
	}

	contract.Status = models.ContractCompleted
	contract.Result = models.ResultLoss
	if update.Profit > 0 {
		contract.Result = models.ResultWin
	}
	delete(c.contracts, id)
	settled := *contract
	c.contractsMu.Unlock()

	c.log.Infof("Venue %s contract %s settled: %s %.2f", c.id, id, settled.Result, settled.Profit)
	c.bus.Publish(events.TradeClosed{Contract: settled, Timestamp: c.now()})
}

func (c *Client) onTick(data []byte) {
	var msg tickMessage
	if err := unmarshal(data, &msg); err != nil || msg.Tick == nil {
		return
	}
	if msg.Subscription != nil {
		c.ticks.setStream(msg.Tick.Symbol, msg.Subscription.ID)
	}
	ts := c.now()
	if msg.Tick.Epoch > 0 {
		ts = time.Unix(msg.Tick.Epoch, 0)
	}
	c.bus.Publish(events.PriceTick{Venue: c.id, Asset: msg.Tick.Symbol, Price: msg.Tick.Quote, Timestamp: ts})
}

// Contracts returns copies of the open contracts ordered by entry time
func (c *Client) Contracts() []models.Contract {
	c.contractsMu.RLock()
	out := make([]models.Contract, 0, len(c.contracts))
	for _, contract := range c.contracts {
		out = append(out, *contract)
	}
	c.contractsMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	return out
}

// Contract looks up one open contract
func (c *Client) Contract(id string) (models.Contract, bool) {
	c.contractsMu.RLock()
	defer c.contractsMu.RUnlock()
	contract, ok := c.contracts[id]
	if !ok {
		return models.Contract{}, false
	}
	return *contract, true
}

func (c *Client) openContractIDs() []string {
	c.contractsMu.RLock()
	defer c.contractsMu.RUnlock()
	ids := make([]string, 0, len(c.contracts))
	for id := range c.contracts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
