package utils

import (
	"encoding/csv"
	"io"
	"os"
	"time"

	"paperTrader/internal/domain"
)

var tradeHeader = []string{"timestamp", "id", "order_id", "symbol", "side", "quantity", "price", "commission", "realized_pnl"}

// WriteTradesCSV writes trade records to w, oldest first as given.
func WriteTradesCSV(w io.Writer, trades []domain.TradeRecord) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(tradeHeader); err != nil {
		return err
	}
	for _, t := range trades {
		if err := writer.Write([]string{
			t.Timestamp.UTC().Format(time.RFC3339),
			t.ID,
			t.OrderID,
			t.Symbol,
			string(t.Side),
			t.Quantity.String(),
			t.Price.String(),
			t.Commission.String(),
			t.RealizedPnL.String(),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteTradesToCSV writes trade records to a new file.
func WriteTradesToCSV(trades []domain.TradeRecord, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := WriteTradesCSV(file, trades); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
