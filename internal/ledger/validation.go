package ledger

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"paperTrader/internal/domain"
	"paperTrader/internal/ports"
)

var symbolPattern = regexp.MustCompile(`^[A-Z]{2,10}$`)

var (
	maxQuantity = decimal.NewFromInt(1_000_000_000)
	minPrice    = decimal.New(1, -8)
	maxPrice    = decimal.NewFromInt(10_000_000)
)

// ValidationError reports a malformed order request. It wraps ports.ErrInvalidRequest.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ports.ErrInvalidRequest
}

// OrderRequest is the caller's description of an order to place.
type OrderRequest struct {
	Symbol    string
	Type      domain.OrderType
	Side      domain.OrderSide
	Quantity  decimal.Decimal
	Price     decimal.Decimal // required for limit orders
	StopPrice decimal.Decimal // required for stop_loss and take_profit orders
}

// NormalizeSymbol trims and upper-cases a symbol and checks it against the allowed pattern.
func NormalizeSymbol(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if !symbolPattern.MatchString(s) {
		return "", &ValidationError{Field: "symbol", Reason: fmt.Sprintf("%q must be 2-10 letters", raw)}
	}
	return s, nil
}

func validatePrice(field string, p decimal.Decimal) error {
	if p.LessThan(minPrice) {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("%s is below minimum %s", p, minPrice)}
	}
	if p.GreaterThan(maxPrice) {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("%s exceeds maximum %s", p, maxPrice)}
	}
	return nil
}

// validateRequest returns a normalized copy of req or a *ValidationError.
func validateRequest(req OrderRequest) (OrderRequest, error) {
	symbol, err := NormalizeSymbol(req.Symbol)
	if err != nil {
		return req, err
	}
	req.Symbol = symbol

	if !req.Side.Valid() {
		return req, &ValidationError{Field: "side", Reason: fmt.Sprintf("unknown side %q", req.Side)}
	}
	if !req.Type.Valid() {
		return req, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown order type %q", req.Type)}
	}
	if !req.Quantity.IsPositive() {
		return req, &ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if req.Quantity.GreaterThan(maxQuantity) {
		return req, &ValidationError{Field: "quantity", Reason: fmt.Sprintf("exceeds maximum %s", maxQuantity)}
	}

	switch {
	case req.Type == domain.OrderTypeLimit:
		if req.Price.IsZero() {
			return req, &ValidationError{Field: "price", Reason: "limit orders require a price"}
		}
		if err := validatePrice("price", req.Price); err != nil {
			return req, err
		}
	case req.Type.IsStop():
		if req.StopPrice.IsZero() {
			return req, &ValidationError{Field: "stop_price", Reason: fmt.Sprintf("%s orders require a stop price", req.Type)}
		}
		if err := validatePrice("stop_price", req.StopPrice); err != nil {
			return req, err
		}
	}
	return req, nil
}
