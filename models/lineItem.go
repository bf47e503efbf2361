package models

import (
	"strings"
	"time"

	"github.com/mmdatafocus/invoice_maker/utils"
	"github.com/shopspring/decimal"
)

const (
	basePlaces      int32 = 2
	secondaryPlaces int32 = 2
	tertiaryPlaces  int32 = 0
)

// ChangedFields tells subscribers which parts of a LineItem changed.
type ChangedFields uint8

const (
	ChangedInputs ChangedFields = 1 << iota
	ChangedDays
	ChangedAmountBase
	ChangedAmountSecondary
	ChangedAmountTertiary

	ChangedAmounts = ChangedAmountBase | ChangedAmountSecondary | ChangedAmountTertiary
)

func (c ChangedFields) Has(f ChangedFields) bool {
	return c&f != 0
}

type ChangeListener func(item *LineItem, changed ChangedFields)

type SubscriptionId int

type subscription struct {
	id       SubscriptionId
	listener ChangeListener
}

// itemSeeder supplies the catalog and header state an item resets from.
type itemSeeder interface {
	Catalog() Catalog
	itemSpan(category ItemCategory) (*time.Time, *time.Time)
}

// LineItem is one billable row. All setters recompute the derived amounts before returning.
// A LineItem is not safe for concurrent use.
type LineItem struct {
	seeder itemSeeder

	category        ItemCategory
	description     string
	roomName        string
	quantity        int
	unitPrice       decimal.Decimal
	discountPercent decimal.Decimal
	startDate       *time.Time
	endDate         *time.Time
	rateSecondary   decimal.Decimal
	rateTertiary    decimal.Decimal

	derived derivedValues

	subscriptions    []subscription
	nextSubscription SubscriptionId
}

type derivedValues struct {
	days            int
	amountBase      decimal.Decimal
	amountSecondary decimal.Decimal
	amountTertiary  decimal.Decimal
}

func (d derivedValues) diff(prev derivedValues) ChangedFields {
	var changed ChangedFields
	if d.days != prev.days {
		changed |= ChangedDays
	}
	if !d.amountBase.Equal(prev.amountBase) {
		changed |= ChangedAmountBase
	}
	if !d.amountSecondary.Equal(prev.amountSecondary) {
		changed |= ChangedAmountSecondary
	}
	if !d.amountTertiary.Equal(prev.amountTertiary) {
		changed |= ChangedAmountTertiary
	}
	return changed
}

func (item *LineItem) Category() ItemCategory { return item.category }
func (item *LineItem) Description() string { return item.description }
func (item *LineItem) RoomName() string { return item.roomName }
func (item *LineItem) Quantity() int { return item.quantity }
func (item *LineItem) UnitPrice() decimal.Decimal { return item.unitPrice }
func (item *LineItem) DiscountPercent() decimal.Decimal { return item.discountPercent }
func (item *LineItem) StartDate() *time.Time { return copyTime(item.startDate) }
func (item *LineItem) EndDate() *time.Time { return copyTime(item.endDate) }
func (item *LineItem) RateSecondary() decimal.Decimal { return item.rateSecondary }
func (item *LineItem) RateTertiary() decimal.Decimal { return item.rateTertiary }

func (item *LineItem) Days() int { return item.derived.days }
func (item *LineItem) AmountBase() decimal.Decimal { return item.derived.amountBase }
func (item *LineItem) AmountSecondary() decimal.Decimal { return item.derived.amountSecondary }
func (item *LineItem) AmountTertiary() decimal.Decimal { return item.derived.amountTertiary }

// CategoryLabel is the catalog's display label, blank for an uncategorized item.
func (item *LineItem) CategoryLabel() string {
	if item.category == ItemCategoryNone {
		return ""
	}
	if item.seeder == nil {
		return string(item.category)
	}
	return item.seeder.Catalog().Label(item.category)
}

// DisplayDescription falls back to the category label when the description is blank.
func (item *LineItem) DisplayDescription() string {
	if strings.TrimSpace(item.description) == "" {
		return item.CategoryLabel()
	}
	return item.description
}

// IsBlank reports a row with nothing to bill and nothing to show.
func (item *LineItem) IsBlank() bool {
	return item.quantity == 0 &&
		item.unitPrice.IsZero() &&
		item.derived.days == 0 &&
		strings.TrimSpace(item.description) == "" &&
		strings.TrimSpace(item.CategoryLabel()) == ""
}

// Subscribe registers listener for change notifications.
func (item *LineItem) Subscribe(listener ChangeListener) SubscriptionId {
	item.nextSubscription++
	item.subscriptions = append(item.subscriptions, subscription{id: item.nextSubscription, listener: listener})
	return item.nextSubscription
}

// Unsubscribe is a no-op for an unknown id.
func (item *LineItem) Unsubscribe(id SubscriptionId) {
	for i, s := range item.subscriptions {
		if s.id == id {
			item.subscriptions = append(item.subscriptions[:i], item.subscriptions[i+1:]...)
			return
		}
	}
}

// SetCategory also resets the unit price to the catalog default and the dates to the
// ledger's header span, discarding any custom dates.
func (item *LineItem) SetCategory(category ItemCategory) error {
	if item.seeder == nil {
		return utils.NewValidationError("category", "item does not belong to a ledger")
	}
	if category != ItemCategoryNone && !item.seeder.Catalog().Has(category) {
		return utils.NewValidationError("category", "%q is not in the item catalog", category)
	}
	if category == item.category {
		return nil
	}
	item.apply(func() {
		item.category = category
		item.unitPrice, _ = item.seeder.Catalog().DefaultsFor(category)
		item.startDate, item.endDate = item.seeder.itemSpan(category)
	})
	return nil
}

func (item *LineItem) SetDescription(description string) {
	if description == item.description {
		return
	}
	item.apply(func() { item.description = description })
}

func (item *LineItem) SetRoomName(roomName string) {
	if roomName == item.roomName {
		return
	}
	item.apply(func() { item.roomName = roomName })
}

func (item *LineItem) SetQuantity(quantity int) error {
	if quantity < 0 {
		return utils.NewValidationError("quantity", "must not be negative, got %d", quantity)
	}
	if quantity == item.quantity {
		return nil
	}
	item.apply(func() { item.quantity = quantity })
	return nil
}

func (item *LineItem) SetUnitPrice(unitPrice decimal.Decimal) error {
	if unitPrice.IsNegative() {
		return utils.NewValidationError("unit price", "must not be negative, got %s", unitPrice)
	}
	if unitPrice.Equal(item.unitPrice) {
		return nil
	}
	item.apply(func() { item.unitPrice = unitPrice })
	return nil
}

func (item *LineItem) SetDiscount(percent decimal.Decimal) error {
	if err := validatePercent("discount", percent); err != nil {
		return err
	}
	if percent.Equal(item.discountPercent) {
		return nil
	}
	item.apply(func() { item.discountPercent = percent })
	return nil
}

// SetDates accepts nil for either date; an end before start bills a single day.
func (item *LineItem) SetDates(start, end *time.Time) {
	if sameDate(start, item.startDate) && sameDate(end, item.endDate) {
		return
	}
	item.apply(func() {
		item.startDate = copyTime(start)
		item.endDate = copyTime(end)
	})
}

func (item *LineItem) SetRates(secondary, tertiary decimal.Decimal) error {
	if err := validateRates(secondary, tertiary); err != nil {
		return err
	}
	if secondary.Equal(item.rateSecondary) && tertiary.Equal(item.rateTertiary) {
		return nil
	}
	item.apply(func() {
		item.rateSecondary = secondary
		item.rateTertiary = tertiary
	})
	return nil
}

func (item *LineItem) apply(mutate func()) {
	before := item.derived
	mutate()
	item.recompute()
	item.notify(ChangedInputs | item.derived.diff(before))
}

func (item *LineItem) recompute() {
	days := utils.InclusiveDays(item.startDate, item.endDate)
	base := item.unitPrice.
		Mul(decimal.NewFromInt(int64(item.quantity))).
		Mul(decimal.NewFromInt(int64(days))).
		Mul(utils.DiscountFactor(item.discountPercent))
	base = utils.RoundAmount(base, basePlaces)

	item.derived = derivedValues{
		days:            days,
		amountBase:      base,
		amountSecondary: utils.ConvertAmount(base, item.rateSecondary, secondaryPlaces),
		amountTertiary:  utils.ConvertAmount(base, item.rateTertiary, tertiaryPlaces),
	}
}

func (item *LineItem) notify(changed ChangedFields) {
	// listeners may unsubscribe while being notified
	subs := make([]subscription, len(item.subscriptions))
	copy(subs, item.subscriptions)
	for _, s := range subs {
		s.listener(item, changed)
	}
}

func validatePercent(field string, percent decimal.Decimal) error {
	if percent.IsNegative() || percent.GreaterThan(decimal.NewFromInt(100)) {
		return utils.NewValidationError(field, "must be between 0 and 100, got %s", percent)
	}
	return nil
}

func validateRates(secondary, tertiary decimal.Decimal) error {
	if secondary.IsNegative() {
		return utils.NewValidationError("secondary rate", "must not be negative, got %s", secondary)
	}
	if tertiary.IsNegative() {
		return utils.NewValidationError("tertiary rate", "must not be negative, got %s", tertiary)
	}
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
