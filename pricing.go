package ensagent

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/everFinance/ensagent/schema"
	"github.com/shopspring/decimal"
)

type NameOracle interface {
	IsAvailable(ctx context.Context, label string) (bool, error)
	RentPrice(ctx context.Context, label string, duration *big.Int) (base, premium *big.Int, err error)
}

// Quoter answers availability and price questions. It needs no credentials and
// keeps no state, so repeated calls reflect the chain only.
type Quoter struct {
	oracle  NameOracle
	network string
}

func NewQuoter(oracle NameOracle, network string) *Quoter {
	return &Quoter{oracle: oracle, network: network}
}

func (q *Quoter) Quote(ctx context.Context, name string, years float64) (schema.PriceQuote, error) {
	canonical, err := NormalizeName(name)
	if err != nil {
		return schema.PriceQuote{}, err
	}
	seconds, err := DurationSeconds(years)
	if err != nil {
		return schema.PriceQuote{}, err
	}
	return q.QuoteSeconds(ctx, canonical, seconds)
}

// QuoteSeconds expects a canonical name.
func (q *Quoter) QuoteSeconds(ctx context.Context, canonical string, seconds int64) (schema.PriceQuote, error) {
	base, premium, err := q.oracle.RentPrice(ctx, Label(canonical), big.NewInt(seconds))
	if err != nil {
		metricQuote(q.network, "error")
		return schema.PriceQuote{}, newError(ErrPriceQueryFailed, "rent price query failed for "+canonical, err)
	}
	metricQuote(q.network, "ok")
	// own copies, the oracle may hand out shared values
	quote := schema.PriceQuote{Base: new(big.Int), Premium: new(big.Int)}
	if base != nil {
		quote.Base.Set(base)
	}
	if premium != nil {
		quote.Premium.Set(premium)
	}
	return quote, nil
}

func (q *Quoter) CheckAvailability(ctx context.Context, name string) (bool, error) {
	canonical, err := NormalizeName(name)
	if err != nil {
		return false, err
	}
	return q.isAvailable(ctx, canonical)
}

func (q *Quoter) isAvailable(ctx context.Context, canonical string) (bool, error) {
	ok, err := q.oracle.IsAvailable(ctx, Label(canonical))
	if err != nil {
		return false, newError(ErrAvailabilityQueryFailed, "availability query failed for "+canonical, err)
	}
	return ok, nil
}

// DurationSeconds converts years to whole seconds, 365-day years, rounding down.
func DurationSeconds(years float64) (int64, error) {
	if math.IsNaN(years) || math.IsInf(years, 0) || years <= 0 {
		return 0, newError(ErrInvalidDuration, fmt.Sprintf("duration must be a positive number of years, got %v", years), nil)
	}
	seconds := decimal.NewFromFloat(years).Mul(decimal.NewFromInt(schema.SecondsPerYear)).Floor()
	if seconds.Sign() <= 0 {
		return 0, newError(ErrInvalidDuration, fmt.Sprintf("duration of %v years is less than one second", years), nil)
	}
	if seconds.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, newError(ErrInvalidDuration, fmt.Sprintf("duration of %v years is too long", years), nil)
	}
	return seconds.IntPart(), nil
}

// FormatEther renders wei as ETH without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -18).String()
}
