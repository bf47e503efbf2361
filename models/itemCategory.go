package models

import (
	"github.com/mmdatafocus/invoice_maker/utils"
	"github.com/shopspring/decimal"
)

type ItemCategory string

const (
	ItemCategoryNone          ItemCategory = ""
	ItemCategoryLodging       ItemCategory = "Lodging"
	ItemCategoryCommute       ItemCategory = "Commute"
	ItemCategoryAirportPickup ItemCategory = "AirportPickup"
	ItemCategoryOmakase       ItemCategory = "Omakase"
	ItemCategoryWeekendMeal   ItemCategory = "WeekendMeal"
)

// convert input to enum type
func ParseItemCategory(str string) (ItemCategory, error) {
	switch str {
	case "":
		return ItemCategoryNone, nil
	case "Lodging":
		return ItemCategoryLodging, nil
	case "Commute":
		return ItemCategoryCommute, nil
	case "AirportPickup":
		return ItemCategoryAirportPickup, nil
	case "Omakase":
		return ItemCategoryOmakase, nil
	case "WeekendMeal":
		return ItemCategoryWeekendMeal, nil
	default:
		return ItemCategoryNone, utils.NewValidationError("category", "%q is not a known item category", str)
	}
}

// ItemDefaults is one catalog row. SingleDay collapses an item's date span to its start date.
type ItemDefaults struct {
	Category  ItemCategory
	Label     string
	UnitPrice decimal.Decimal
	SingleDay bool
}

// Catalog is an immutable lookup of per-category defaults. The zero value is an empty catalog.
type Catalog struct {
	entries map[ItemCategory]ItemDefaults
	order   []ItemCategory
}

func NewCatalog(entries ...ItemDefaults) Catalog {
	c := Catalog{
		entries: make(map[ItemCategory]ItemDefaults, len(entries)),
		order:   make([]ItemCategory, 0, len(entries)),
	}
	for _, e := range entries {
		if _, exists := c.entries[e.Category]; !exists {
			c.order = append(c.order, e.Category)
		}
		c.entries[e.Category] = e
	}
	return c
}

func DefaultCatalog() Catalog {
	return NewCatalog(
		ItemDefaults{Category: ItemCategoryLodging, Label: "Lodging", UnitPrice: decimal.NewFromInt(50)},
		ItemDefaults{Category: ItemCategoryCommute, Label: "Commute", UnitPrice: decimal.NewFromInt(10)},
		ItemDefaults{Category: ItemCategoryAirportPickup, Label: "Airport pickup", UnitPrice: decimal.NewFromInt(30), SingleDay: true},
		ItemDefaults{Category: ItemCategoryOmakase, Label: "Omakase", UnitPrice: decimal.NewFromInt(100), SingleDay: true},
		ItemDefaults{Category: ItemCategoryWeekendMeal, Label: "Weekend meal", UnitPrice: decimal.NewFromInt(20)},
	)
}

// DefaultsFor returns zero price and multi-day for categories the catalog does not know.
func (c Catalog) DefaultsFor(category ItemCategory) (decimal.Decimal, bool) {
	e, ok := c.entries[category]
	if !ok {
		return decimal.Zero, false
	}
	return e.UnitPrice, e.SingleDay
}

func (c Catalog) Label(category ItemCategory) string {
	if e, ok := c.entries[category]; ok {
		return e.Label
	}
	return string(category)
}

func (c Catalog) Has(category ItemCategory) bool {
	_, ok := c.entries[category]
	return ok
}

func (c Catalog) Categories() []ItemCategory {
	out := make([]ItemCategory, len(c.order))
	copy(out, c.order)
	return out
}
