package workflow

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/invoice_maker/models"
	"github.com/mmdatafocus/invoice_maker/utils"
	"github.com/shopspring/decimal"
)

type LedgerItemInput struct {
	Category    string           `json:"category"`
	Description string           `json:"description"`
	RoomName    string           `json:"room_name"`
	Quantity    *int             `json:"quantity" validate:"omitempty,gte=0"`
	UnitPrice   *decimal.Decimal `json:"unit_price"`
	Discount    *decimal.Decimal `json:"discount"`
	StartDate   *time.Time       `json:"start_date"`
	EndDate     *time.Time       `json:"end_date"`
}

// LedgerInput describes an invoice as entered by a caller. Header values are applied
// before the items, so per-item fields override what the header seeded.
type LedgerInput struct {
	ClientName     string            `json:"client_name" validate:"required"`
	InvoiceDate    time.Time         `json:"invoice_date"`
	StartDate      *time.Time        `json:"start_date"`
	EndDate        *time.Time        `json:"end_date"`
	RateSecondary  *decimal.Decimal  `json:"rate_secondary"`
	RateTertiary   *decimal.Decimal  `json:"rate_tertiary"`
	GlobalDiscount *decimal.Decimal  `json:"global_discount"`
	Items          []LedgerItemInput `json:"items" validate:"dive"`
}

var inputValidator = validator.New()

// BuildLedger validates in and builds the ledger it describes.
func BuildLedger(catalog models.Catalog, in LedgerInput) (*models.Ledger, error) {
	if err := inputValidator.Struct(in); err != nil {
		return nil, utils.NewValidationError("invoice", "%v", err)
	}

	invoiceDate := in.InvoiceDate
	if invoiceDate.IsZero() {
		invoiceDate = time.Now()
	}
	l := models.NewLedger(catalog, utils.DateOnly(invoiceDate))
	l.ClientName = in.ClientName
	l.SetHeaderDates(in.StartDate, in.EndDate)

	if in.RateSecondary != nil || in.RateTertiary != nil {
		secondary, tertiary := l.Rates()
		if in.RateSecondary != nil {
			secondary = *in.RateSecondary
		}
		if in.RateTertiary != nil {
			tertiary = *in.RateTertiary
		}
		if err := l.SetRates(secondary, tertiary); err != nil {
			return nil, err
		}
	}
	if in.GlobalDiscount != nil {
		if err := l.SetGlobalDiscount(*in.GlobalDiscount); err != nil {
			return nil, err
		}
	}

	if err := AddItems(l, in.Items); err != nil {
		return nil, err
	}
	return l, nil
}

// AddItems appends one ledger item per input, applying any overrides it carries.
func AddItems(l *models.Ledger, items []LedgerItemInput) error {
	for _, in := range items {
		category, err := models.ParseItemCategory(in.Category)
		if err != nil {
			return err
		}
		item, err := l.AddItem(category)
		if err != nil {
			return err
		}
		if err := applyItemInput(item, in); err != nil {
			return err
		}
	}
	return nil
}

func applyItemInput(item *models.LineItem, in LedgerItemInput) error {
	if in.Description != "" {
		item.SetDescription(in.Description)
	}
	if in.RoomName != "" {
		item.SetRoomName(in.RoomName)
	}
	if in.Quantity != nil {
		if err := item.SetQuantity(*in.Quantity); err != nil {
			return err
		}
	}
	if in.UnitPrice != nil {
		if err := item.SetUnitPrice(*in.UnitPrice); err != nil {
			return err
		}
	}
	if in.Discount != nil {
		if err := item.SetDiscount(*in.Discount); err != nil {
			return err
		}
	}
	if in.StartDate != nil || in.EndDate != nil {
		start, end := item.StartDate(), item.EndDate()
		if in.StartDate != nil {
			start = in.StartDate
		}
		if in.EndDate != nil {
			end = in.EndDate
		}
		item.SetDates(start, end)
	}
	return nil
}
