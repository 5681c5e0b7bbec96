// Package backtester replays ordered bar history through a strategy and a
// simulated ledger, producing a performance report with execution costs and
// optional statistical validation. The ledger is decimal end to end: fills
// debit and credit exact amounts, never float approximations.
package backtester

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/keplerlabs/quant-core/pkg/utils"
)

// Portfolio manages simulated ledger state during a run.
type Portfolio struct {
	mu            sync.RWMutex
	cash          decimal.Decimal
	initialCash   decimal.Decimal
	positions     map[string]*Position
	peakEquity    decimal.Decimal
	currentEquity decimal.Decimal
}

// Position is an open holding. Quantity is negative for short positions.
type Position struct {
	Symbol       string
	Quantity     decimal.Decimal
	AvgPrice     decimal.Decimal
	CurrentPrice decimal.Decimal
	OpenedAt     time.Time
	OpenedBar    int
}

// NewPortfolio creates a ledger seeded with initial cash.
func NewPortfolio(initialCash decimal.Decimal) *Portfolio {
	return &Portfolio{
		cash:          initialCash,
		initialCash:   initialCash,
		positions:     make(map[string]*Position),
		peakEquity:    initialCash,
		currentEquity: initialCash,
	}
}

// Cash returns available cash.
func (p *Portfolio) Cash() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// Equity returns total equity, cash plus marked positions.
func (p *Portfolio) Equity() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.equityLocked()
}

// Drawdown returns the current drawdown from peak equity as a fraction.
func (p *Portfolio) Drawdown() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.peakEquity.IsZero() {
		return 0
	}
	dd, _ := p.peakEquity.Sub(p.equityLocked()).Div(p.peakEquity).Float64()
	if dd < 0 {
		return 0
	}
	return dd
}

// Position returns the open position for a symbol, or nil.
func (p *Portfolio) Position(symbol string) *Position {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pos, ok := p.positions[symbol]
	if !ok {
		return nil
	}
	cp := *pos
	return &cp
}

// MarkPrice marks a symbol to the latest price and refreshes peak equity.
func (p *Portfolio) MarkPrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pos, ok := p.positions[symbol]; ok {
		pos.CurrentPrice = price
	}
	p.refreshEquityLocked()
}

// Buy debits cash for quantity at the realized price plus commission and
// opens or extends the position.
func (p *Portfolio) Buy(symbol string, quantity, price, commission decimal.Decimal, bar int, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cost := quantity.Mul(price).Add(commission)
	p.cash = p.cash.Sub(cost)

	if pos, ok := p.positions[symbol]; ok {
		totalQty := pos.Quantity.Add(quantity)
		if totalQty.IsZero() {
			delete(p.positions, symbol)
		} else {
			totalCost := pos.Quantity.Mul(pos.AvgPrice).Add(quantity.Mul(price))
			pos.AvgPrice = totalCost.Div(totalQty)
			pos.Quantity = totalQty
			pos.CurrentPrice = price
		}
	} else {
		p.positions[symbol] = &Position{
			Symbol:       symbol,
			Quantity:     quantity,
			AvgPrice:     price,
			CurrentPrice: price,
			OpenedAt:     at,
			OpenedBar:    bar,
		}
	}

	p.refreshEquityLocked()
}

// Sell credits cash for quantity at the realized price minus commission and
// returns the realized PnL against the position's average price.
func (p *Portfolio) Sell(symbol string, quantity, price, commission decimal.Decimal) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[symbol]
	if !ok {
		return decimal.Zero
	}

	sellValue := quantity.Mul(price)
	costBasis := quantity.Mul(pos.AvgPrice)
	pnl := sellValue.Sub(costBasis).Sub(commission)

	p.cash = p.cash.Add(sellValue).Sub(commission)

	pos.Quantity = pos.Quantity.Sub(quantity)
	pos.CurrentPrice = price
	if pos.Quantity.LessThanOrEqual(decimal.Zero) {
		delete(p.positions, symbol)
	}

	p.refreshEquityLocked()
	return pnl
}

// CloseAll flattens every open position at its marked price and returns the
// realized PnL of the sweep.
func (p *Portfolio) CloseAll() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()

	var totalPnL decimal.Decimal
	for symbol, pos := range p.positions {
		value := pos.Quantity.Mul(pos.CurrentPrice)
		costBasis := pos.Quantity.Mul(pos.AvgPrice)
		totalPnL = totalPnL.Add(value.Sub(costBasis))
		p.cash = p.cash.Add(value)
		delete(p.positions, symbol)
	}

	p.refreshEquityLocked()
	return totalPnL
}

// TotalPnL returns equity minus initial capital.
func (p *Portfolio) TotalPnL() decimal.Decimal {
	return p.Equity().Sub(p.initialCash)
}

func (p *Portfolio) equityLocked() decimal.Decimal {
	equity := p.cash
	for _, pos := range p.positions {
		equity = equity.Add(pos.Quantity.Mul(pos.CurrentPrice))
	}
	return equity
}

func (p *Portfolio) refreshEquityLocked() {
	p.currentEquity = p.equityLocked()
	p.peakEquity = utils.MaxDecimal(p.peakEquity, p.currentEquity)
}
