package main

import (
	"fmt"
	"io"

	"github.com/gregtusar/futures-trader/pkg/models"
	"github.com/gregtusar/futures-trader/pkg/trader"
)

func printOrder(w io.Writer, title string, rec *models.OrderRecord) {
	fmt.Fprintf(w, "%s Placed\n", title)
	fmt.Fprintf(w, "Order ID: %d\n", rec.OrderID)
	fmt.Fprintf(w, "Symbol: %s\n", rec.Symbol)
	fmt.Fprintf(w, "Side: %s\n", rec.Side)
	fmt.Fprintf(w, "Type: %s\n", rec.Type)
	fmt.Fprintf(w, "Quantity: %s\n", rec.OrigQty)
	if rec.Type.UsesPrice() {
		fmt.Fprintf(w, "Price: %s\n", rec.Price)
	}
	if rec.Type.UsesStopPrice() {
		fmt.Fprintf(w, "Stop Price: %s\n", rec.StopPrice)
	}
	fmt.Fprintf(w, "Status: %s\n", rec.Status)
	if rec.ExecutedQty.IsPositive() {
		fmt.Fprintf(w, "Executed Quantity: %s\n", rec.ExecutedQty)
		fmt.Fprintf(w, "Average Price: %s\n", rec.AvgPrice)
	}
}

func printBracket(w io.Writer, b *trader.Bracket) {
	fmt.Fprintln(w, "OCO Order Placed")
	fmt.Fprintf(w, "Order List ID: %s\n", b.ID)
	fmt.Fprintf(w, "Symbol: %s\n", b.Symbol)
	for i, leg := range []models.OrderRecord{b.TakeProfit, b.StopLoss} {
		fmt.Fprintf(w, "Order %d:\n", i+1)
		fmt.Fprintf(w, "  Order ID: %d\n", leg.OrderID)
		fmt.Fprintf(w, "  Type: %s\n", leg.Type)
		if leg.Type.UsesPrice() {
			fmt.Fprintf(w, "  Price: %s\n", leg.Price)
		}
		if leg.Type.UsesStopPrice() {
			fmt.Fprintf(w, "  Stop Price: %s\n", leg.StopPrice)
		}
	}
}

func printBracketResult(w io.Writer, res *trader.BracketResult) {
	fmt.Fprintf(w, "OCO %s\n", res.Outcome)
	fmt.Fprintf(w, "Take-profit: %s\n", res.TakeProfitStatus)
	fmt.Fprintf(w, "Stop-loss: %s\n", res.StopLossStatus)
}

func printTWAP(w io.Writer, res *trader.TWAPResult) {
	fmt.Fprintf(w, "TWAP Execution %s\n", res.Outcome)
	fmt.Fprintf(w, "Total slices: %d/%d\n", res.Completed, res.Planned)
	fmt.Fprintf(w, "Total quantity: %s\n", res.ExecutedQty())
	if avg := res.AveragePrice(); avg.IsPositive() {
		fmt.Fprintf(w, "Average price: %s\n", avg.StringFixed(2))
	}
}

func printGrid(w io.Writer, res *trader.GridResult) {
	var buys, sells int
	for _, l := range res.Placed() {
		if l.Side == models.OrderSideBuy {
			buys++
		} else {
			sells++
		}
	}
	fmt.Fprintln(w, "Grid Created")
	fmt.Fprintf(w, "Total orders: %d\n", buys+sells)
	fmt.Fprintf(w, "BUY orders: %d\n", buys)
	fmt.Fprintf(w, "SELL orders: %d\n", sells)
	for _, l := range res.Failed() {
		fmt.Fprintf(w, "Level %d at %s failed: %v\n", l.Index, l.Price, l.Err)
	}
}

func printGridStatus(w io.Writer, snap *trader.GridSnapshot) {
	fmt.Fprintf(w, "Grid Status for %s\n", snap.Symbol)
	fmt.Fprintf(w, "Total open orders: %d\n", snap.TotalOpen)
	fmt.Fprintf(w, "BUY orders: %d\n", snap.BuyCount)
	fmt.Fprintf(w, "SELL orders: %d\n", snap.SellCount)
}
