package workflow_test

import (
	"errors"
	"testing"

	"github.com/mmdatafocus/invoice_maker/models"
	"github.com/mmdatafocus/invoice_maker/utils"
	"github.com/mmdatafocus/invoice_maker/workflow"
	"github.com/shopspring/decimal"
)

func ptr[T any](v T) *T {
	return &v
}

func TestBuildLedger(t *testing.T) {
	l, err := workflow.BuildLedger(models.DefaultCatalog(), workflow.LedgerInput{
		ClientName:     "Familia Ortega",
		InvoiceDate:    *day(2024, 1, 10),
		StartDate:      day(2024, 1, 1),
		EndDate:        day(2024, 1, 3),
		RateSecondary:  ptr(dec("18.25")),
		RateTertiary:   ptr(dec("1350")),
		GlobalDiscount: ptr(dec("10")),
		Items: []workflow.LedgerItemInput{
			{Category: "Lodging", RoomName: "Casa Azul", Quantity: ptr(2)},
			{Category: "Commute", UnitPrice: ptr(dec("15")), Discount: ptr(decimal.Zero), EndDate: day(2024, 1, 2)},
			{},
		},
	})
	if err != nil {
		t.Fatalf("BuildLedger: %v", err)
	}

	items := l.Items()
	if len(items) != 3 {
		t.Fatalf("Len = %d, want 3", len(items))
	}
	// 50 * 2 * 3 * 0.9
	assertDecimal(t, "lodging", items[0].AmountBase(), "270")
	if items[0].RoomName() != "Casa Azul" {
		t.Fatalf("room = %q", items[0].RoomName())
	}
	// 15 * 1 * 2, discount overridden to 0
	assertDecimal(t, "commute", items[1].AmountBase(), "30")
	if items[1].Days() != 2 {
		t.Fatalf("commute days = %d, want 2", items[1].Days())
	}
	assertDecimal(t, "total secondary", l.Totals().Secondary, "5475.00")
	if l.ClientName != "Familia Ortega" || !l.InvoiceDate.Equal(*day(2024, 1, 10)) {
		t.Fatalf("header = %q %v", l.ClientName, l.InvoiceDate)
	}
}

func TestBuildLedger_Rejects(t *testing.T) {
	tests := map[string]workflow.LedgerInput{
		"no client":         {},
		"unknown category":  {ClientName: "x", Items: []workflow.LedgerItemInput{{Category: "Spa"}}},
		"negative quantity": {ClientName: "x", Items: []workflow.LedgerItemInput{{Category: "Commute", Quantity: ptr(-1)}}},
		"discount over 100": {ClientName: "x", GlobalDiscount: ptr(dec("150"))},
		"negative rate":     {ClientName: "x", RateSecondary: ptr(dec("-1"))},
	}
	for name, in := range tests {
		_, err := workflow.BuildLedger(models.DefaultCatalog(), in)
		var verr *utils.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: error = %v, want ValidationError", name, err)
		}
	}
}
