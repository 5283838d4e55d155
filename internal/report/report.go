// Package report turns a backtest result into presentation rows: a line
// chart description with trade annotations, a CSV ledger export, and a
// plain-text summary.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"backtester/internal/backtest"
	"backtester/internal/domain"
)

// annotationDate matches the medium date style of the chart tooltips.
const annotationDate = "Jan 2, 2006"

// Column describes one chart series.
type Column struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type"`           // date, number, string
	Role  string `json:"role,omitempty"` // annotation, annotationText
}

// Row is one trade day of the chart. Indicators follow the order of the
// result's AvailableIndicatorNames.
type Row struct {
	Date           string    `json:"date"`
	Price          float64   `json:"price"`
	Annotation     string    `json:"annotation,omitempty"`
	AnnotationText string    `json:"annotationText"`
	Value          float64   `json:"value"`
	Indicators     []float64 `json:"indicators"`
}

// Chart is a ready-to-plot line chart: price and investment value on two
// axes, one extra series per indicator, BUY/SELL annotations.
type Chart struct {
	Title   string   `json:"title"`
	Columns []Column `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// BuildChart builds the chart rows for res. Prices, values, and indicators
// are rounded to two decimal places.
func BuildChart(res *backtest.Result) Chart {
	c := Chart{
		Title: fmt.Sprintf("Backtest Analysis Results: Ending Investment=%s, Return=%s%%",
			Currency(res.EndingInvestment), strconv.FormatFloat(Round(res.InvestmentReturnPercent, 1), 'f', -1, 64)),
		Columns: []Column{
			{ID: "date", Label: "Trade Date", Type: "date"},
			{ID: "price", Label: "Stock Price", Type: "number"},
			{ID: "annotation", Type: "string", Role: "annotation"},
			{ID: "annotationText", Type: "string", Role: "annotationText"},
			{ID: "value", Label: "Investment Value", Type: "number"},
		},
		Rows: make([]Row, 0, len(res.TradeDays)),
	}
	for _, name := range res.AvailableIndicatorNames {
		c.Columns = append(c.Columns, Column{ID: name, Label: name, Type: "number"})
	}

	for i := range res.TradeDays {
		d := &res.TradeDays[i]
		row := Row{
			Date:           d.Date.Format(domain.DateLayout),
			Price:          Round(d.Price, 2),
			Annotation:     Annotation(d),
			AnnotationText: AnnotationText(d),
			Value:          Round(d.InvestmentValue, 2),
			Indicators:     make([]float64, len(res.AvailableIndicatorNames)),
		}
		for j, name := range res.AvailableIndicatorNames {
			row.Indicators[j] = Round(d.Indicators[name], 2)
		}
		c.Rows = append(c.Rows, row)
	}
	return c
}

// Annotation is the chart marker for a day: the action on BUY or SELL days,
// empty otherwise.
func Annotation(d *domain.TradeDay) string {
	if d.Action == domain.ActionBuy || d.Action == domain.ActionSell {
		return string(d.Action)
	}
	return ""
}

// AnnotationText is the tooltip for a day, e.g.
// "BUY 76.923 shares at 13 on Jan 4, 2020 with proceeds of $1,000.00".
func AnnotationText(d *domain.TradeDay) string {
	return fmt.Sprintf("%s %s shares at %s on %s with proceeds of %s",
		d.Action,
		humanize.CommafWithDigits(Round(d.NumSharesTraded, 3), 3),
		strconv.FormatFloat(Round(d.Price, 2), 'f', -1, 64),
		d.Date.Format(annotationDate),
		Currency(d.InvestmentValue),
	)
}

// Round rounds v half away from zero to places decimal places.
func Round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// Currency formats v as dollars with thousands separators, e.g. $1,234.50.
func Currency(v float64) string {
	if v < 0 {
		return "-$" + humanize.FormatFloat("#,###.##", Round(-v, 2))
	}
	return "$" + humanize.FormatFloat("#,###.##", Round(v, 2))
}

// ---------------------------------------------------------------------------
// CSV export
// ---------------------------------------------------------------------------

// WriteCSV writes the ledger of res as CSV: date, price, action, shares
// owned, shares traded, cash, value, then one column per indicator.
func WriteCSV(w io.Writer, res *backtest.Result) error {
	cw := csv.NewWriter(w)
	header := []string{"date", "price", "action", "shares_owned", "shares_traded", "cash", "value"}
	header = append(header, res.AvailableIndicatorNames...)
	if err := cw.Write(header); err != nil {
		return err
	}

	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for i := range res.TradeDays {
		d := &res.TradeDays[i]
		rec := []string{
			d.Date.Format(domain.DateLayout),
			f(d.Price),
			string(d.Action),
			f(d.NumSharesOwned),
			f(d.NumSharesTraded),
			f(Round(d.InvestableCash, 2)),
			f(Round(d.InvestmentValue, 2)),
		}
		for _, name := range res.AvailableIndicatorNames {
			rec = append(rec, f(Round(d.Indicators[name], 4)))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ---------------------------------------------------------------------------
// Summary
// ---------------------------------------------------------------------------

// WriteSummary prints a short human-readable summary of res and its trades.
func WriteSummary(w io.Writer, res *backtest.Result) error {
	sc := res.Scenario
	_, err := fmt.Fprintf(w,
		"%s %s to %s\nbuy when %s %s %s, sell when %s %s %s\n"+
			"starting investment %s, transaction cost %s\n"+
			"trade days %s, buys %d, sells %d\n"+
			"ending investment %s, return %s%%, annual return %s%%\n",
		sc.Ticker, sc.Start.Format(domain.DateLayout), sc.End.Format(domain.DateLayout),
		sc.BuyTrigger.Indicator1.Name, sc.BuyTrigger.Operator, sc.BuyTrigger.Indicator2.Name,
		sc.SellTrigger.Indicator1.Name, sc.SellTrigger.Operator, sc.SellTrigger.Indicator2.Name,
		Currency(sc.StartingInvestment), Currency(sc.TransactionCost),
		humanize.Comma(int64(len(res.TradeDays))), res.Trades(domain.ActionBuy), res.Trades(domain.ActionSell),
		Currency(res.EndingInvestment),
		strconv.FormatFloat(Round(res.InvestmentReturnPercent, 2), 'f', -1, 64),
		strconv.FormatFloat(res.AnnualReturnPercent, 'f', -1, 64),
	)
	if err != nil {
		return err
	}
	for i := range res.TradeDays {
		d := &res.TradeDays[i]
		if Annotation(d) == "" {
			continue
		}
		if _, err := fmt.Fprintln(w, "  "+AnnotationText(d)); err != nil {
			return err
		}
	}
	return nil
}
