package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/invoice_maker/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const InvoiceStatusIssued = "Issued"

const mysqlDuplicateEntry = 1062

var (
	ErrReservationAlreadyInvoiced = errors.New("reservation already has an invoice")
	ErrInvoiceNoTaken             = errors.New("invoice number already used")
)

type Invoice struct {
	InvoiceId     int64           `gorm:"column:InvoiceId;primary_key" json:"invoice_id"`
	InvoiceNo     string          `gorm:"column:InvoiceNo;size:50;uniqueIndex;not null" json:"invoice_no"`
	ReservationId int64           `gorm:"column:ReservationId;index;not null" json:"reservation_id"`
	InvoiceDate   time.Time       `gorm:"column:InvoiceDate;not null" json:"invoice_date"`
	Currency      string          `gorm:"column:Currency;size:3;not null" json:"currency"`
	ExchangeRate  decimal.Decimal `gorm:"column:ExchangeRate;type:decimal(20,4);default:0" json:"exchange_rate"`
	TotalAmount   decimal.Decimal `gorm:"column:TotalAmount;type:decimal(20,4);default:0" json:"total_amount"`
	Status        string          `gorm:"column:Status;size:20;not null" json:"status"`
	Items         []InvoiceItem   `gorm:"foreignKey:InvoiceId;references:InvoiceId" json:"items"`
}

func (Invoice) TableName() string { return "Invoice" }

type InvoiceItem struct {
	InvoiceItemId int64           `gorm:"column:InvoiceItemId;primary_key" json:"invoice_item_id"`
	InvoiceId     int64           `gorm:"column:InvoiceId;index;not null" json:"invoice_id"`
	ItemType      string          `gorm:"column:ItemType;size:50" json:"item_type"`
	Description   string          `gorm:"column:Description;size:255" json:"description"`
	UnitPrice     decimal.Decimal `gorm:"column:UnitPrice;type:decimal(20,4);default:0" json:"unit_price"`
	Quantity      int             `gorm:"column:Quantity" json:"quantity"`
	Amount        decimal.Decimal `gorm:"column:Amount;type:decimal(20,4);default:0" json:"amount"`
}

func (InvoiceItem) TableName() string { return "InvoiceItem" }

type NewInvoice struct {
	ReservationId int64
	InvoiceNo     string
	InvoiceDate   time.Time
	Currency      string
	ExchangeRate  decimal.Decimal
	TotalAmount   decimal.Decimal
	Items         []NewInvoiceItem
}

type NewInvoiceItem struct {
	ItemType    string
	Description string
	UnitPrice   decimal.Decimal
	Quantity    int
	Amount      decimal.Decimal
}

// NewInvoiceItems turns every non-blank ledger item into a stored row, amounts in base currency.
func NewInvoiceItems(l *Ledger) []NewInvoiceItem {
	var out []NewInvoiceItem
	for _, item := range l.Items() {
		if item.IsBlank() {
			continue
		}
		out = append(out, NewInvoiceItem{
			ItemType:    string(item.Category()),
			Description: item.DisplayDescription(),
			UnitPrice:   item.UnitPrice(),
			Quantity:    item.Quantity(),
			Amount:      item.AmountBase(),
		})
	}
	return out
}

// CreateInvoice stores the invoice header and its items in one transaction and returns the new id.
func CreateInvoice(ctx context.Context, input *NewInvoice) (int64, error) {
	db := config.GetDB()

	invoice := Invoice{
		InvoiceNo:     input.InvoiceNo,
		ReservationId: input.ReservationId,
		InvoiceDate:   input.InvoiceDate,
		Currency:      input.Currency,
		ExchangeRate:  input.ExchangeRate,
		TotalAmount:   input.TotalAmount,
		Status:        InvoiceStatusIssued,
	}
	for _, it := range input.Items {
		invoice.Items = append(invoice.Items, InvoiceItem{
			ItemType:    it.ItemType,
			Description: it.Description,
			UnitPrice:   it.UnitPrice,
			Quantity:    it.Quantity,
			Amount:      it.Amount,
		})
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		release, err := lockReservation(tx, input.ReservationId)
		if err != nil {
			return err
		}
		defer release()

		var count int64
		if err := tx.Model(&Invoice{}).Where("ReservationId = ?", input.ReservationId).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrReservationAlreadyInvoiced
		}
		return tx.Create(&invoice).Error
	})
	if isDuplicateEntry(err) {
		return 0, fmt.Errorf("%w: %s", ErrInvoiceNoTaken, input.InvoiceNo)
	}
	if err != nil {
		return 0, err
	}
	return invoice.InvoiceId, nil
}

func isDuplicateEntry(err error) bool {
	var myErr *gomysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}

// InvoiceRepository exposes the package's storage functions as a value.
type InvoiceRepository struct{}

func (InvoiceRepository) ListInvoiceableReservations(ctx context.Context) ([]InvoiceableReservation, error) {
	return ListInvoiceableReservations(ctx)
}

func (InvoiceRepository) CreateInvoice(ctx context.Context, input *NewInvoice) (int64, error) {
	return CreateInvoice(ctx, input)
}
