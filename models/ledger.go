package models

import (
	"time"

	"github.com/mmdatafocus/invoice_maker/utils"
	"github.com/shopspring/decimal"
)

// Totals are per-currency sums of the items' derived amounts.
type Totals struct {
	Base      decimal.Decimal `json:"base"`
	Secondary decimal.Decimal `json:"secondary"`
	Tertiary  decimal.Decimal `json:"tertiary"`
}

type ledgerEntry struct {
	item         *LineItem
	subscription SubscriptionId
}

// Ledger is the invoice aggregate: ordered line items plus header state.
// Header setters overwrite the matching field on every item, including items that were
// customized after the last header change.
//
// A Ledger has a single owner; none of its methods are safe for concurrent use.
type Ledger struct {
	ClientName    string
	InvoiceDate   time.Time
	InvoiceNo     string
	ReservationId int64

	catalog Catalog
	entries []ledgerEntry

	headerStart       *time.Time
	headerEnd         *time.Time
	rateSecondary     decimal.Decimal
	rateTertiary      decimal.Decimal
	globalDiscount    decimal.Decimal
	hasGlobalDiscount bool

	totals   Totals
	revision uint64
}

func NewLedger(catalog Catalog, invoiceDate time.Time) *Ledger {
	return &Ledger{
		catalog:     catalog,
		InvoiceDate: invoiceDate,
	}
}

func (l *Ledger) Catalog() Catalog {
	return l.catalog
}

func (l *Ledger) HeaderDates() (*time.Time, *time.Time) {
	return copyTime(l.headerStart), copyTime(l.headerEnd)
}

func (l *Ledger) Rates() (decimal.Decimal, decimal.Decimal) {
	return l.rateSecondary, l.rateTertiary
}

func (l *Ledger) GlobalDiscount() (decimal.Decimal, bool) {
	return l.globalDiscount, l.hasGlobalDiscount
}

// Items returns the items in export order.
func (l *Ledger) Items() []*LineItem {
	items := make([]*LineItem, len(l.entries))
	for i, e := range l.entries {
		items[i] = e.item
	}
	return items
}

func (l *Ledger) Len() int {
	return len(l.entries)
}

func (l *Ledger) Totals() Totals {
	return l.totals
}

// Revision increases every time the totals are recomputed.
func (l *Ledger) Revision() uint64 {
	return l.revision
}

// AddItem appends a new item seeded from the catalog and the current header state.
func (l *Ledger) AddItem(category ItemCategory) (*LineItem, error) {
	if category != ItemCategoryNone && !l.catalog.Has(category) {
		return nil, utils.NewValidationError("category", "%q is not in the item catalog", category)
	}

	item := &LineItem{
		seeder:          l,
		category:        category,
		quantity:        1,
		discountPercent: l.globalDiscount,
		rateSecondary:   l.rateSecondary,
		rateTertiary:    l.rateTertiary,
	}
	item.unitPrice, _ = l.catalog.DefaultsFor(category)
	item.startDate, item.endDate = l.itemSpan(category)
	item.recompute()

	id := item.Subscribe(l.onItemChanged)
	l.entries = append(l.entries, ledgerEntry{item: item, subscription: id})
	l.recomputeTotals()
	return item, nil
}

// RemoveItem detaches item; nil or unknown items are ignored.
func (l *Ledger) RemoveItem(item *LineItem) {
	if item == nil {
		return
	}
	for i, e := range l.entries {
		if e.item == item {
			item.Unsubscribe(e.subscription)
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			l.recomputeTotals()
			return
		}
	}
}

// SetHeaderDates stores the header span and, when both dates are present, copies it onto
// every item. Single-day categories get end = start. An end before start is clamped.
func (l *Ledger) SetHeaderDates(start, end *time.Time) {
	if start != nil && end != nil {
		clamped := utils.ClampEnd(*start, *end)
		end = &clamped
	}
	l.headerStart = copyTime(start)
	l.headerEnd = copyTime(end)

	if l.headerStart == nil || l.headerEnd == nil {
		return
	}
	for _, e := range l.entries {
		s, en := l.itemSpan(e.item.category)
		e.item.SetDates(s, en)
	}
}

// SetRates overwrites every item's rates.
func (l *Ledger) SetRates(secondary, tertiary decimal.Decimal) error {
	if err := validateRates(secondary, tertiary); err != nil {
		return err
	}
	l.rateSecondary = secondary
	l.rateTertiary = tertiary
	for _, e := range l.entries {
		if err := e.item.SetRates(secondary, tertiary); err != nil {
			return err
		}
	}
	return nil
}

// SetGlobalDiscount overwrites every item's discount percent.
func (l *Ledger) SetGlobalDiscount(percent decimal.Decimal) error {
	if err := validatePercent("global discount", percent); err != nil {
		return err
	}
	l.globalDiscount = percent
	l.hasGlobalDiscount = true
	for _, e := range l.entries {
		if err := e.item.SetDiscount(percent); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) itemSpan(category ItemCategory) (*time.Time, *time.Time) {
	start, end := copyTime(l.headerStart), copyTime(l.headerEnd)
	if _, singleDay := l.catalog.DefaultsFor(category); singleDay {
		end = copyTime(start)
	}
	return start, end
}

func (l *Ledger) onItemChanged(_ *LineItem, changed ChangedFields) {
	if changed.Has(ChangedAmounts) {
		l.recomputeTotals()
	}
}

func (l *Ledger) recomputeTotals() {
	var t Totals
	for _, e := range l.entries {
		t.Base = t.Base.Add(e.item.AmountBase())
		t.Secondary = t.Secondary.Add(e.item.AmountSecondary())
		t.Tertiary = t.Tertiary.Add(e.item.AmountTertiary())
	}
	l.totals = t
	l.revision++
}
