package backtest

import (
	"fmt"

	"backtester/internal/domain"
)

// position is the state carried from one trade day to the next.
type position struct {
	shares  float64
	cash    float64
	enabled bool
}

// Execute walks the ledger in date order and fills in each day's trade
// fields. Trading stays disabled until the first day on which the sell
// trigger fires or the buy trigger does not, so the first buy happens on the
// leading edge of a buy signal rather than on day one.
//
// The position is all-or-nothing: a buy converts all cash less the
// transaction cost into (possibly fractional) shares, a sell liquidates every
// share and pays the cost from the proceeds.
func Execute(days []domain.TradeDay, buy, sell domain.TriggerSpec, startingInvestment, transactionCost float64) error {
	pos := position{cash: startingInvestment}

	for i := range days {
		day := &days[i]

		buySignal, err := IsTriggerActive(day, buy)
		if err != nil {
			return fmt.Errorf("buy trigger: %w", err)
		}
		sellSignal, err := IsTriggerActive(day, sell)
		if err != nil {
			return fmt.Errorf("sell trigger: %w", err)
		}

		if !pos.enabled && (sellSignal || !buySignal) {
			pos.enabled = true
		}

		pos = step(day, pos, buySignal, sellSignal, transactionCost)
	}
	return nil
}

// step applies one day's decision to day and returns the carried state.
func step(day *domain.TradeDay, pos position, buySignal, sellSignal bool, transactionCost float64) position {
	switch {
	case pos.enabled && buySignal && pos.shares <= 0 && pos.cash > transactionCost:
		day.Action = domain.ActionBuy
		day.NumSharesOwned = (pos.cash - transactionCost) / day.Price
		day.NumSharesTraded = day.NumSharesOwned
		day.InvestableCash = 0

	case pos.enabled && sellSignal && pos.shares > 0:
		day.Action = domain.ActionSell
		day.InvestableCash = pos.shares*day.Price - transactionCost
		day.NumSharesTraded = pos.shares
		day.NumSharesOwned = 0

	case pos.shares <= 0:
		day.Action = domain.ActionNone
		day.NumSharesOwned = 0
		day.NumSharesTraded = 0
		day.InvestableCash = pos.cash

	default:
		day.Action = domain.ActionHold
		day.NumSharesOwned = pos.shares
		day.NumSharesTraded = 0
		day.InvestableCash = pos.cash
	}

	day.InvestmentValue = day.NumSharesOwned*day.Price + day.InvestableCash

	pos.shares = day.NumSharesOwned
	pos.cash = day.InvestableCash
	return pos
}
