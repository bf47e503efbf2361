package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/invoice_maker/config"
	"github.com/mmdatafocus/invoice_maker/utils"
	"github.com/shopspring/decimal"
)

const ratePlaces int32 = 4

// RateSource returns how many units of the pair's second currency one unit of the first buys,
// e.g. FetchRate(ctx, "USDMXN"). It returns utils.ErrRateUnavailable when it has no value.
type RateSource interface {
	FetchRate(ctx context.Context, pairCode string) (decimal.Decimal, error)
}

type RateSourceFunc func(ctx context.Context, pairCode string) (decimal.Decimal, error)

func (f RateSourceFunc) FetchRate(ctx context.Context, pairCode string) (decimal.Decimal, error) {
	return f(ctx, pairCode)
}

// StaticRateSource serves manually entered rates.
type StaticRateSource map[string]decimal.Decimal

func (s StaticRateSource) FetchRate(_ context.Context, pairCode string) (decimal.Decimal, error) {
	rate, ok := s[strings.ToUpper(pairCode)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", utils.ErrRateUnavailable, pairCode)
	}
	return rate, nil
}

// QuoteSource prices one unit of a currency in the quoting market's home currency,
// e.g. KRW per USD.
type QuoteSource interface {
	HomePerUnit(ctx context.Context, currencyCode string) (decimal.Decimal, error)
}

// StaticQuoteSource serves manually entered home-currency quotes.
type StaticQuoteSource map[string]decimal.Decimal

func (q StaticQuoteSource) HomePerUnit(_ context.Context, currencyCode string) (decimal.Decimal, error) {
	quote, ok := q[strings.ToUpper(currencyCode)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no %s quote", utils.ErrRateUnavailable, currencyCode)
	}
	return quote, nil
}

// CrossRateSource derives base->target rates from home-currency quotes:
// rate = (home per base) / (home per target), rounded to 4 places.
type CrossRateSource struct {
	Quotes       QuoteSource
	HomeCurrency string
}

func (s CrossRateSource) FetchRate(ctx context.Context, pairCode string) (decimal.Decimal, error) {
	base, target, err := splitPair(pairCode)
	if err != nil {
		return decimal.Zero, err
	}

	homePerBase, err := s.Quotes.HomePerUnit(ctx, base)
	if err != nil {
		return decimal.Zero, err
	}
	if !homePerBase.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no %s quote", utils.ErrRateUnavailable, base)
	}
	if target == strings.ToUpper(s.HomeCurrency) {
		return homePerBase.Round(ratePlaces), nil
	}

	homePerTarget, err := s.Quotes.HomePerUnit(ctx, target)
	if err != nil {
		return decimal.Zero, err
	}
	if !homePerTarget.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no %s quote", utils.ErrRateUnavailable, target)
	}
	return homePerBase.Div(homePerTarget).Round(ratePlaces), nil
}

func splitPair(pairCode string) (string, string, error) {
	pair := strings.ToUpper(strings.TrimSpace(pairCode))
	if len(pair) != 6 {
		return "", "", fmt.Errorf("%w: malformed pair %q", utils.ErrRateUnavailable, pairCode)
	}
	return pair[:3], pair[3:], nil
}

// CachedRateSource keeps fetched rates in Redis for TTL. Without a Redis connection it
// passes every call through.
type CachedRateSource struct {
	Source RateSource
	TTL    time.Duration
}

func rateCacheKey(pairCode string) string {
	return "rate:" + strings.ToUpper(pairCode)
}

func (s CachedRateSource) FetchRate(ctx context.Context, pairCode string) (decimal.Decimal, error) {
	logger := config.GetLogger()
	key := rateCacheKey(pairCode)

	var cached decimal.Decimal
	found, err := config.GetRedisObject(key, &cached)
	if err != nil {
		config.LogError(logger, "CachedRateSource", "FetchRate", "reading cached rate", pairCode, err)
	} else if found && cached.IsPositive() {
		return cached, nil
	}

	rate, err := s.Source.FetchRate(ctx, pairCode)
	if err != nil {
		return decimal.Zero, err
	}
	if s.TTL > 0 && rate.IsPositive() {
		if err := config.SetRedisObject(key, rate, s.TTL); err != nil {
			config.LogError(logger, "CachedRateSource", "FetchRate", "caching rate", pairCode, err)
		}
	}
	return rate, nil
}

// FirstAvailable asks each source in turn and returns the first rate found.
type FirstAvailable []RateSource

func (s FirstAvailable) FetchRate(ctx context.Context, pairCode string) (decimal.Decimal, error) {
	for _, source := range s {
		rate, err := source.FetchRate(ctx, pairCode)
		if err == nil {
			return rate, nil
		}
		if !errors.Is(err, utils.ErrRateUnavailable) {
			config.LogError(config.GetLogger(), "FirstAvailable", "FetchRate", "rate source failed", pairCode, err)
		}
	}
	return decimal.Zero, fmt.Errorf("%w: %s", utils.ErrRateUnavailable, pairCode)
}

// NewRateSource prefers RATE_<PAIR> overrides and falls back to cross rates derived from
// QUOTE_<CODE> quotes, cached in Redis for the configured TTL.
func NewRateSource(settings *config.Settings) RateSource {
	return FirstAvailable{
		StaticRateSource(settings.ManualRates()),
		CachedRateSource{
			Source: CrossRateSource{
				Quotes:       StaticQuoteSource(settings.ManualQuotes()),
				HomeCurrency: settings.TertiaryCurrency,
			},
			TTL: settings.RateCacheTTL,
		},
	}
}
