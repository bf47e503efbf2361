package workflow

import (
	"context"
	"errors"

	"github.com/mmdatafocus/invoice_maker/config"
	"github.com/mmdatafocus/invoice_maker/models"
	"github.com/mmdatafocus/invoice_maker/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type RefreshStatus int

const (
	RefreshApplied RefreshStatus = iota + 1
	// RefreshPartial means one of the two rates was missing and kept its previous value.
	RefreshPartial
	// RefreshRateUnavailable leaves the ledger's rates untouched; it is not an error.
	RefreshRateUnavailable
	// RefreshStale means a newer refresh was started before this one completed.
	RefreshStale
)

func (s RefreshStatus) String() string {
	switch s {
	case RefreshApplied:
		return "applied"
	case RefreshPartial:
		return "partial"
	case RefreshRateUnavailable:
		return "rate unavailable"
	case RefreshStale:
		return "stale"
	default:
		return "unknown"
	}
}

// RatePairs names the rate-source pair codes for the secondary and tertiary currencies.
type RatePairs struct {
	Secondary string
	Tertiary  string
}

type rateResult struct {
	secondary   decimal.Decimal
	tertiary    decimal.Decimal
	secondaryOk bool
	tertiaryOk  bool
}

// RateRefresh is one issued refresh. Its fetch runs on its own goroutine and only reports
// back through done.
type RateRefresh struct {
	token     uint64
	done      chan rateResult
	completed bool
	status    RefreshStatus
}

func (r *RateRefresh) Token() uint64 {
	return r.token
}

// RatePropagator fetches market rates and applies them to a Ledger. Start and Complete
// must be called by the ledger's owner; only the fetch itself runs concurrently.
// Of several overlapping refreshes only the most recently started one is applied.
type RatePropagator struct {
	ledger *models.Ledger
	source RateSource
	pairs  RatePairs
	logger *logrus.Logger

	issued uint64
	// token of the newest refresh that has been completed
	settled uint64
}

func NewRatePropagator(ledger *models.Ledger, source RateSource, pairs RatePairs, logger *logrus.Logger) *RatePropagator {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &RatePropagator{
		ledger: ledger,
		source: source,
		pairs:  pairs,
		logger: logger,
	}
}

// IsLoading reports whether the most recently started refresh has not been completed.
// Superseded refreshes never count: a newer Start is what makes them no-ops.
func (p *RatePropagator) IsLoading() bool {
	return p.settled < p.issued
}

// Start issues a new refresh token and begins fetching in the background.
func (p *RatePropagator) Start(ctx context.Context) *RateRefresh {
	p.issued++
	r := &RateRefresh{
		token: p.issued,
		done:  make(chan rateResult, 1),
	}

	source, pairs, logger := p.source, p.pairs, p.logger
	go func() {
		r.done <- fetchRates(ctx, source, pairs, logger)
	}()
	return r
}

// Complete waits for r's fetch and applies the result if r is still the latest refresh.
// When it returns, the ledger's totals reflect whatever was applied. Completing the same
// refresh twice returns the first status.
func (p *RatePropagator) Complete(ctx context.Context, r *RateRefresh) (RefreshStatus, error) {
	if r.completed {
		return r.status, nil
	}

	var res rateResult
	select {
	case res = <-r.done:
	case <-ctx.Done():
		p.finish(r, RefreshRateUnavailable)
		return r.status, ctx.Err()
	}

	p.finish(r, p.apply(r.token, res))
	return r.status, nil
}

// RefreshRates starts a refresh and completes it.
func (p *RatePropagator) RefreshRates(ctx context.Context) (RefreshStatus, error) {
	return p.Complete(ctx, p.Start(ctx))
}

func (p *RatePropagator) finish(r *RateRefresh, status RefreshStatus) {
	r.completed = true
	r.status = status
	if r.token > p.settled {
		p.settled = r.token
	}
}

func (p *RatePropagator) apply(token uint64, res rateResult) RefreshStatus {
	if token != p.issued {
		p.logger.WithFields(logrus.Fields{
			"module": "RatePropagator",
			"token":  token,
			"latest": p.issued,
		}).Debug("discarding stale rate refresh")
		return RefreshStale
	}
	if !res.secondaryOk && !res.tertiaryOk {
		config.LogWarning(p.logger, "RatePropagator", "apply", "no exchange rate available, keeping previous rates", p.pairs)
		return RefreshRateUnavailable
	}

	secondary, tertiary := p.ledger.Rates()
	status := RefreshApplied
	if res.secondaryOk {
		secondary = res.secondary
	} else {
		status = RefreshPartial
	}
	if res.tertiaryOk {
		tertiary = res.tertiary
	} else {
		status = RefreshPartial
	}

	if err := p.ledger.SetRates(secondary, tertiary); err != nil {
		config.LogError(p.logger, "RatePropagator", "apply", "applying rates", p.pairs, err)
		return RefreshRateUnavailable
	}
	return status
}

func fetchRates(ctx context.Context, source RateSource, pairs RatePairs, logger *logrus.Logger) rateResult {
	var res rateResult
	res.secondary, res.secondaryOk = fetchRate(ctx, source, pairs.Secondary, logger)
	res.tertiary, res.tertiaryOk = fetchRate(ctx, source, pairs.Tertiary, logger)
	return res
}

func fetchRate(ctx context.Context, source RateSource, pair string, logger *logrus.Logger) (decimal.Decimal, bool) {
	if pair == "" || source == nil {
		return decimal.Zero, false
	}
	rate, err := source.FetchRate(ctx, pair)
	if err != nil {
		if !errors.Is(err, utils.ErrRateUnavailable) {
			config.LogError(logger, "RatePropagator", "fetchRate", "fetching rate", pair, err)
		}
		return decimal.Zero, false
	}
	if !rate.IsPositive() {
		return decimal.Zero, false
	}
	return rate, true
}
