package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/invoice_maker/models"
	"github.com/mmdatafocus/invoice_maker/workflow"
	"github.com/shopspring/decimal"
)

var testPairs = workflow.RatePairs{Secondary: "USDMXN", Tertiary: "USDKRW"}

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Fatalf("%s = %s, want %s", name, got, want)
	}
}

// one lodging item over three days: 150 USD
func lodgingLedger(t *testing.T) *models.Ledger {
	t.Helper()
	l := models.NewLedger(models.DefaultCatalog(), *day(2024, 1, 10))
	l.SetHeaderDates(day(2024, 1, 1), day(2024, 1, 3))
	if _, err := l.AddItem(models.ItemCategoryLodging); err != nil {
		t.Fatal(err)
	}
	return l
}

type refreshKey struct{}

// gatedSource blocks each refresh until its gate is closed. The refresh is identified by
// the context value passed to Start.
type gatedSource struct {
	gates map[int]chan struct{}
	rates map[int][2]decimal.Decimal
}

func newGatedSource() *gatedSource {
	return &gatedSource{
		gates: map[int]chan struct{}{},
		rates: map[int][2]decimal.Decimal{},
	}
}

func (s *gatedSource) add(id int, secondary, tertiary string) {
	s.gates[id] = make(chan struct{})
	s.rates[id] = [2]decimal.Decimal{dec(secondary), dec(tertiary)}
}

func (s *gatedSource) FetchRate(ctx context.Context, pairCode string) (decimal.Decimal, error) {
	id, _ := ctx.Value(refreshKey{}).(int)
	select {
	case <-s.gates[id]:
	case <-ctx.Done():
		return decimal.Zero, ctx.Err()
	}
	if pairCode == testPairs.Secondary {
		return s.rates[id][0], nil
	}
	return s.rates[id][1], nil
}

func refreshCtx(id int) context.Context {
	return context.WithValue(context.Background(), refreshKey{}, id)
}

func TestRefreshRates_AppliesAndRecomputesTotals(t *testing.T) {
	l := lodgingLedger(t)
	source := workflow.StaticRateSource{"USDMXN": dec("18.25"), "USDKRW": dec("1350")}
	p := workflow.NewRatePropagator(l, source, testPairs, nil)

	status, err := p.RefreshRates(context.Background())
	if err != nil || status != workflow.RefreshApplied {
		t.Fatalf("RefreshRates = %v, %v; want applied", status, err)
	}
	totals := l.Totals()
	assertDecimal(t, "total base", totals.Base, "150")
	assertDecimal(t, "total secondary", totals.Secondary, "2737.50")
	assertDecimal(t, "total tertiary", totals.Tertiary, "202500")
	if p.IsLoading() {
		t.Fatal("still loading after completion")
	}
}

func TestRefreshRates_UnavailableKeepsPreviousRates(t *testing.T) {
	l := lodgingLedger(t)
	if err := l.SetRates(dec("17"), dec("1300")); err != nil {
		t.Fatal(err)
	}
	rev := l.Revision()

	for name, source := range map[string]workflow.RateSource{
		"missing":      workflow.StaticRateSource{},
		"non-positive": workflow.StaticRateSource{"USDMXN": decimal.Zero, "USDKRW": dec("-5")},
	} {
		p := workflow.NewRatePropagator(l, source, testPairs, nil)
		status, err := p.RefreshRates(context.Background())
		if err != nil {
			t.Fatalf("%s: unexpected error %v", name, err)
		}
		if status != workflow.RefreshRateUnavailable {
			t.Fatalf("%s: status = %v, want rate unavailable", name, status)
		}
		secondary, tertiary := l.Rates()
		assertDecimal(t, name+" secondary", secondary, "17")
		assertDecimal(t, name+" tertiary", tertiary, "1300")
		if l.Revision() != rev {
			t.Fatalf("%s: totals recomputed on unavailable rates", name)
		}
	}
}

func TestRefreshRates_PartialKeepsMissingRate(t *testing.T) {
	l := lodgingLedger(t)
	if err := l.SetRates(dec("17"), dec("1300")); err != nil {
		t.Fatal(err)
	}
	p := workflow.NewRatePropagator(l, workflow.StaticRateSource{"USDMXN": dec("18.5")}, testPairs, nil)

	status, err := p.RefreshRates(context.Background())
	if err != nil || status != workflow.RefreshPartial {
		t.Fatalf("RefreshRates = %v, %v; want partial", status, err)
	}
	secondary, tertiary := l.Rates()
	assertDecimal(t, "secondary", secondary, "18.5")
	assertDecimal(t, "tertiary", tertiary, "1300")
	assertDecimal(t, "item secondary amount", l.Items()[0].AmountSecondary(), "2775.00")
}

func TestComplete_LatestRefreshWins(t *testing.T) {
	l := lodgingLedger(t)
	source := newGatedSource()
	source.add(1, "17.00", "1300")
	source.add(2, "18.25", "1350")
	p := workflow.NewRatePropagator(l, source, testPairs, nil)

	first := p.Start(refreshCtx(1))
	second := p.Start(refreshCtx(2))
	if first.Token() >= second.Token() {
		t.Fatalf("tokens not increasing: %d then %d", first.Token(), second.Token())
	}
	if !p.IsLoading() {
		t.Fatal("IsLoading = false with two refreshes pending")
	}

	close(source.gates[2])
	status, err := p.Complete(context.Background(), second)
	if err != nil || status != workflow.RefreshApplied {
		t.Fatalf("second = %v, %v; want applied", status, err)
	}
	if p.IsLoading() {
		t.Fatal("IsLoading = true after the latest refresh was applied")
	}

	close(source.gates[1])
	status, err = p.Complete(context.Background(), first)
	if err != nil || status != workflow.RefreshStale {
		t.Fatalf("first = %v, %v; want stale", status, err)
	}
	secondary, tertiary := l.Rates()
	assertDecimal(t, "secondary", secondary, "18.25")
	assertDecimal(t, "tertiary", tertiary, "1350")
	if p.IsLoading() {
		t.Fatal("IsLoading = true after both refreshes completed")
	}
}

func TestIsLoading_SupersededRefreshNeverCompleted(t *testing.T) {
	l := lodgingLedger(t)
	source := newGatedSource()
	source.add(1, "17.00", "1300")
	source.add(2, "18.25", "1350")
	t.Cleanup(func() { close(source.gates[1]) })
	p := workflow.NewRatePropagator(l, source, testPairs, nil)

	p.Start(refreshCtx(1))
	if !p.IsLoading() {
		t.Fatal("IsLoading = false after Start")
	}

	close(source.gates[2])
	status, err := p.RefreshRates(refreshCtx(2))
	if err != nil || status != workflow.RefreshApplied {
		t.Fatalf("RefreshRates = %v, %v; want applied", status, err)
	}
	if p.IsLoading() {
		t.Fatal("IsLoading = true after the latest refresh was applied")
	}
	assertDecimal(t, "total tertiary", l.Totals().Tertiary, "202500")
}

func TestComplete_OlderResultArrivingFirstIsDiscarded(t *testing.T) {
	l := lodgingLedger(t)
	source := newGatedSource()
	source.add(1, "17.00", "1300")
	source.add(2, "18.25", "1350")
	p := workflow.NewRatePropagator(l, source, testPairs, nil)

	first := p.Start(refreshCtx(1))
	second := p.Start(refreshCtx(2))

	close(source.gates[1])
	rev := l.Revision()
	if status, _ := p.Complete(context.Background(), first); status != workflow.RefreshStale {
		t.Fatalf("first = %v, want stale", status)
	}
	if l.Revision() != rev {
		t.Fatal("stale refresh touched the ledger")
	}

	close(source.gates[2])
	if status, _ := p.Complete(context.Background(), second); status != workflow.RefreshApplied {
		t.Fatalf("second = %v, want applied", status)
	}
	assertDecimal(t, "total tertiary", l.Totals().Tertiary, "202500")
}

func TestComplete_Twice(t *testing.T) {
	l := lodgingLedger(t)
	p := workflow.NewRatePropagator(l, workflow.StaticRateSource{"USDMXN": dec("18"), "USDKRW": dec("1400")}, testPairs, nil)

	r := p.Start(context.Background())
	first, _ := p.Complete(context.Background(), r)
	second, err := p.Complete(context.Background(), r)
	if err != nil || first != second {
		t.Fatalf("second Complete = %v, %v; want %v", second, err, first)
	}
	if p.IsLoading() {
		t.Fatal("IsLoading = true after the refresh completed")
	}
}

func TestComplete_CanceledWait(t *testing.T) {
	l := lodgingLedger(t)
	source := newGatedSource()
	source.add(1, "18.25", "1350")
	p := workflow.NewRatePropagator(l, source, testPairs, nil)
	t.Cleanup(func() { close(source.gates[1]) })

	r := p.Start(refreshCtx(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Complete(ctx, r)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if p.IsLoading() {
		t.Fatal("abandoned refresh still counted as loading")
	}
	secondary, _ := l.Rates()
	if !secondary.IsZero() {
		t.Fatalf("rates applied after canceled wait: %s", secondary)
	}
}
