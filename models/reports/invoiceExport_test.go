package reports_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/invoice_maker/models"
	"github.com/mmdatafocus/invoice_maker/models/reports"
	"github.com/mmdatafocus/invoice_maker/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const sheet = "Sheet1"

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func writeTemplate(t *testing.T) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue(sheet, "A1", "FACTURA")
	f.SetCellValue(sheet, "B8", "Cliente")
	f.SetCellValue(sheet, "H10", "Tipo de cambio")
	path := filepath.Join(t.TempDir(), "FacturaTemplate.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save template: %v", err)
	}
	return path
}

func openOutput(t *testing.T, path string) *excelize.File {
	t.Helper()
	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func cellValue(t *testing.T, f *excelize.File, ref string) string {
	t.Helper()
	v, err := f.GetCellValue(sheet, ref)
	if err != nil {
		t.Fatalf("GetCellValue(%s): %v", ref, err)
	}
	return v
}

func cellFormula(t *testing.T, f *excelize.File, ref string) string {
	t.Helper()
	v, err := f.GetCellFormula(sheet, ref)
	if err != nil {
		t.Fatalf("GetCellFormula(%s): %v", ref, err)
	}
	return strings.TrimPrefix(v, "=")
}

// four items, the second one completely blank
func scenarioLedger(t *testing.T) *models.Ledger {
	t.Helper()
	l := models.NewLedger(models.DefaultCatalog(), time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	l.ClientName = "Familia Ortega"
	l.SetHeaderDates(day(2024, 1, 1), day(2024, 1, 3))
	if err := l.SetRates(decimal.RequireFromString("18.25"), decimal.NewFromInt(1350)); err != nil {
		t.Fatal(err)
	}

	lodging, _ := l.AddItem(models.ItemCategoryLodging)
	lodging.SetRoomName("Casa Azul")
	if err := lodging.SetQuantity(2); err != nil {
		t.Fatal(err)
	}

	blank, _ := l.AddItem(models.ItemCategoryNone)
	if err := blank.SetQuantity(0); err != nil {
		t.Fatal(err)
	}
	blank.SetDates(nil, nil)

	pickup, _ := l.AddItem(models.ItemCategoryAirportPickup)
	pickup.SetDescription("Pickup CUN")

	if _, err := l.AddItem(models.ItemCategoryWeekendMeal); err != nil {
		t.Fatal(err)
	}
	return l
}

func TestExport_SkipsBlankItemsWithoutGaps(t *testing.T) {
	l := scenarioLedger(t)
	out := filepath.Join(t.TempDir(), "invoice.xlsx")

	if err := reports.NewInvoiceExporter(writeTemplate(t)).Export(l, out); err != nil {
		t.Fatalf("Export: %v", err)
	}
	f := openOutput(t, out)

	wantDescriptions := []string{"Lodging", "Pickup CUN", "Weekend meal"}
	for i, want := range wantDescriptions {
		row := 12 + i
		if got := cellValue(t, f, fmt.Sprintf("E%d", row)); got != want {
			t.Fatalf("E%d = %q, want %q", row, got, want)
		}
		bottom := 34 + i
		if got := cellFormula(t, f, fmt.Sprintf("E%d", bottom)); got != fmt.Sprintf("E%d", row) {
			t.Fatalf("E%d formula = %q, want E%d", bottom, got, row)
		}
	}

	for _, ref := range []string{"E15", "F15", "I15", "E37", "I37"} {
		if v := cellValue(t, f, ref); v != "" {
			t.Fatalf("%s = %q, want empty", ref, v)
		}
		if v := cellFormula(t, f, ref); v != "" {
			t.Fatalf("%s formula = %q, want empty", ref, v)
		}
	}
}

func TestExport_HeaderAndTopBlockValues(t *testing.T) {
	l := scenarioLedger(t)
	out := filepath.Join(t.TempDir(), "invoice.xlsx")
	if err := reports.NewInvoiceExporter(writeTemplate(t)).Export(l, out); err != nil {
		t.Fatalf("Export: %v", err)
	}
	f := openOutput(t, out)

	if got := cellValue(t, f, "C8"); got != "Familia Ortega" {
		t.Fatalf("C8 = %q", got)
	}
	if got := cellValue(t, f, "I10"); got != "18.25" {
		t.Fatalf("I10 = %q, want 18.25", got)
	}
	if got := cellValue(t, f, "I9"); got == "" {
		t.Fatal("I9 invoice date is empty")
	}
	if got := cellValue(t, f, "A1"); got != "FACTURA" {
		t.Fatalf("template content lost: A1 = %q", got)
	}

	expect := map[string]string{
		"D12": "Casa Azul",
		"F12": "50",
		"G12": "2",
		"H12": "3",
		"F13": "30",
		"G13": "1",
		"H13": "1",
	}
	for ref, want := range expect {
		if got := cellValue(t, f, ref); got != want {
			t.Fatalf("%s = %q, want %q", ref, got, want)
		}
	}
	for _, ref := range []string{"A12", "C12", "A13", "C13"} {
		if cellValue(t, f, ref) == "" {
			t.Fatalf("%s date is empty", ref)
		}
	}
}

func TestExport_AmountsAreFormulas(t *testing.T) {
	l := scenarioLedger(t)
	out := filepath.Join(t.TempDir(), "invoice.xlsx")
	if err := reports.NewInvoiceExporter(writeTemplate(t)).Export(l, out); err != nil {
		t.Fatalf("Export: %v", err)
	}
	f := openOutput(t, out)

	for i := 0; i < 3; i++ {
		top := 12 + i
		bottom := 34 + i
		want := map[string]string{
			fmt.Sprintf("I%d", top):    fmt.Sprintf("F%d*G%d*H%d", top, top, top),
			fmt.Sprintf("J%d", top):    fmt.Sprintf("I%d*$I$10", top),
			fmt.Sprintf("I%d", bottom): fmt.Sprintf("I%d", top),
			fmt.Sprintf("J%d", bottom): fmt.Sprintf("J%d", top),
		}
		for _, col := range []string{"A", "C", "D", "E", "F", "G", "H"} {
			want[fmt.Sprintf("%s%d", col, bottom)] = fmt.Sprintf("%s%d", col, top)
		}
		for ref, formula := range want {
			if got := cellFormula(t, f, ref); got != formula {
				t.Fatalf("%s formula = %q, want %q", ref, got, formula)
			}
		}
	}
}

func TestExport_TemplateMissing(t *testing.T) {
	l := scenarioLedger(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "invoice.xlsx")
	rev := l.Revision()

	err := reports.NewInvoiceExporter(filepath.Join(dir, "missing.xlsx")).Export(l, out)
	if !errors.Is(err, utils.ErrTemplateNotFound) {
		t.Fatalf("error = %v, want ErrTemplateNotFound", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatal("output written despite missing template")
	}
	if l.Revision() != rev {
		t.Fatal("ledger changed by failed export")
	}
}

func TestExport_CorruptTemplate(t *testing.T) {
	l := scenarioLedger(t)
	dir := t.TempDir()
	template := filepath.Join(dir, "FacturaTemplate.xlsx")
	if err := os.WriteFile(template, []byte("not a workbook"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "invoice.xlsx")

	err := reports.NewInvoiceExporter(template).Export(l, out)
	var ioErr *utils.ExportIOError
	if !errors.As(err, &ioErr) || ioErr.Path != template {
		t.Fatalf("error = %v, want ExportIOError for the template", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatal("output written from a corrupt template")
	}
}

func TestExport_MissingDatesWrittenBlank(t *testing.T) {
	f := excelize.NewFile()
	f.SetCellValue(sheet, "A12", "placeholder")
	f.SetCellValue(sheet, "C12", "placeholder")
	template := filepath.Join(t.TempDir(), "FacturaTemplate.xlsx")
	if err := f.SaveAs(template); err != nil {
		t.Fatal(err)
	}
	f.Close()

	// no header dates, so the item has none either
	l := models.NewLedger(models.DefaultCatalog(), *day(2024, 1, 10))
	l.ClientName = "Familia Ortega"
	if _, err := l.AddItem(models.ItemCategoryOmakase); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(t.TempDir(), "invoice.xlsx")
	if err := reports.NewInvoiceExporter(template).Export(l, out); err != nil {
		t.Fatalf("Export: %v", err)
	}

	got := openOutput(t, out)
	for _, ref := range []string{"A12", "C12"} {
		if v := cellValue(t, got, ref); v != "" {
			t.Fatalf("%s = %q, want blank", ref, v)
		}
	}
	if v := cellValue(t, got, "E12"); v != "Omakase" {
		t.Fatalf("E12 = %q, want Omakase", v)
	}
	if formula := cellFormula(t, got, "A34"); formula != "A12" {
		t.Fatalf("A34 formula = %q, want A12", formula)
	}
}

func TestExport_UnwritableDestination(t *testing.T) {
	l := scenarioLedger(t)
	out := filepath.Join(t.TempDir(), "no-such-dir", "invoice.xlsx")

	err := reports.NewInvoiceExporter(writeTemplate(t)).Export(l, out)
	var ioErr *utils.ExportIOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("error = %v, want ExportIOError", err)
	}
	if ioErr.Path != out {
		t.Fatalf("ExportIOError.Path = %q, want %q", ioErr.Path, out)
	}
}

func TestExport_DestinationIsDirectoryLeavesNoStagingFile(t *testing.T) {
	l := scenarioLedger(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "invoice.xlsx")
	if err := os.Mkdir(out, 0o755); err != nil {
		t.Fatal(err)
	}

	err := reports.NewInvoiceExporter(writeTemplate(t)).Export(l, out)
	var ioErr *utils.ExportIOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("error = %v, want ExportIOError", err)
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("staging file %s left behind", e.Name())
		}
	}
}

func TestExport_TooManyItems(t *testing.T) {
	l := models.NewLedger(models.DefaultCatalog(), time.Now())
	for i := 0; i < 23; i++ {
		if _, err := l.AddItem(models.ItemCategoryCommute); err != nil {
			t.Fatal(err)
		}
	}
	out := filepath.Join(t.TempDir(), "invoice.xlsx")
	err := reports.NewInvoiceExporter(writeTemplate(t)).Export(l, out)
	if !errors.Is(err, utils.ErrTemplateCapacity) {
		t.Fatalf("error = %v, want ErrTemplateCapacity", err)
	}
}

func TestDefaultFileName(t *testing.T) {
	if got := reports.DefaultFileName(*day(2024, 1, 10)); got != "Factura_20240110.xlsx" {
		t.Fatalf("DefaultFileName = %q", got)
	}
}

func TestInvoiceFileName(t *testing.T) {
	tests := []struct {
		invoiceNo string
		want      string
	}{
		{"INV-20240110-0001", "Factura_20240110_INV-20240110-0001.xlsx"},
		{"INV/../x", "Factura_20240110_INV_.._x.xlsx"},
		{"  ", "Factura_20240110.xlsx"},
	}
	for _, tt := range tests {
		if got := reports.InvoiceFileName(*day(2024, 1, 10), tt.invoiceNo); got != tt.want {
			t.Fatalf("InvoiceFileName(%q) = %q, want %q", tt.invoiceNo, got, tt.want)
		}
	}
}
