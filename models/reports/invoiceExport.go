package reports

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mmdatafocus/invoice_maker/config"
	"github.com/mmdatafocus/invoice_maker/models"
	"github.com/mmdatafocus/invoice_maker/utils"
	"github.com/xuri/excelize/v2"
)

// Fixed coordinates of the printed invoice template.
const (
	cellClientName   = "C8"
	cellInvoiceDate  = "I9"
	cellExchangeRate = "I10"
	rateReference    = "$I$10"

	topBlockStartRow    = 12
	bottomBlockStartRow = 34
	blockCapacity       = bottomBlockStartRow - topBlockStartRow
)

// value columns of the top block, mirrored 1:1 by the bottom block
var valueColumns = []string{"A", "C", "D", "E", "F", "G", "H"}

// amount columns hold formulas in both blocks
var amountColumns = []string{"I", "J"}

// InvoiceExporter projects a Ledger onto the invoice template. The upper block holds the
// values, the lower block only references it, and amounts stay live formulas so the
// exported file follows edits to the rate cell.
type InvoiceExporter struct {
	TemplatePath string
}

func NewInvoiceExporter(templatePath string) *InvoiceExporter {
	return &InvoiceExporter{TemplatePath: templatePath}
}

// DefaultFileName is the suggested output name for an invoice dated invoiceDate.
func DefaultFileName(invoiceDate time.Time) string {
	return "Factura_" + invoiceDate.Format("20060102") + ".xlsx"
}

// InvoiceFileName names an issued invoice's workbook, Factura_YYYYMMDD_<invoiceNo>.xlsx, so
// invoices issued on the same day get separate files. Without a number it is DefaultFileName.
func InvoiceFileName(invoiceDate time.Time, invoiceNo string) string {
	invoiceNo = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, strings.TrimSpace(invoiceNo))
	if invoiceNo == "" {
		return DefaultFileName(invoiceDate)
	}
	return "Factura_" + invoiceDate.Format("20060102") + "_" + invoiceNo + ".xlsx"
}

// Export writes the filled template to outputPath. The destination is replaced in one
// rename, so a failed export leaves any previous file at outputPath intact.
func (e *InvoiceExporter) Export(l *models.Ledger, outputPath string) error {
	f, err := e.render(l)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := saveAtomically(f, outputPath); err != nil {
		config.LogError(config.GetLogger(), "InvoiceExporter", "Export", "saving workbook", outputPath, err)
		return err
	}
	return nil
}

// WriteTo streams the filled template to w.
func (e *InvoiceExporter) WriteTo(l *models.Ledger, w io.Writer) error {
	f, err := e.render(l)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return &utils.ExportIOError{Path: "stream", Err: err}
	}
	return nil
}

// RetainedItems are the items that get a row, in ledger order.
func RetainedItems(l *models.Ledger) []*models.LineItem {
	var out []*models.LineItem
	for _, item := range l.Items() {
		if item.IsBlank() {
			continue
		}
		out = append(out, item)
	}
	return out
}

func (e *InvoiceExporter) render(l *models.Ledger) (*excelize.File, error) {
	if _, err := os.Stat(e.TemplatePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", utils.ErrTemplateNotFound, e.TemplatePath)
		}
		return nil, &utils.ExportIOError{Path: e.TemplatePath, Err: fmt.Errorf("stat invoice template: %w", err)}
	}

	items := RetainedItems(l)
	if len(items) > blockCapacity {
		return nil, fmt.Errorf("%w: %d items, room for %d", utils.ErrTemplateCapacity, len(items), blockCapacity)
	}

	f, err := excelize.OpenFile(e.TemplatePath)
	if err != nil {
		return nil, &utils.ExportIOError{Path: e.TemplatePath, Err: fmt.Errorf("open invoice template: %w", err)}
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, &utils.ExportIOError{Path: e.TemplatePath, Err: errors.New("invoice template has no sheets")}
	}
	sheet := sheets[0]

	if err := writeHeader(f, sheet, l); err != nil {
		f.Close()
		return nil, err
	}
	for i, item := range items {
		top := topBlockStartRow + i
		bottom := bottomBlockStartRow + i
		if err := writeTopRow(f, sheet, top, item); err != nil {
			f.Close()
			return nil, err
		}
		if err := writeBottomRow(f, sheet, bottom, top); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func writeHeader(f *excelize.File, sheet string, l *models.Ledger) error {
	rate, _ := l.Rates()
	if err := f.SetCellValue(sheet, cellInvoiceDate, l.InvoiceDate); err != nil {
		return err
	}
	if err := f.SetCellValue(sheet, cellClientName, l.ClientName); err != nil {
		return err
	}
	return f.SetCellValue(sheet, cellExchangeRate, rate.InexactFloat64())
}

func writeTopRow(f *excelize.File, sheet string, row int, item *models.LineItem) error {
	// missing dates are written blank so the bottom block's mirror stays blank too
	values := map[string]interface{}{
		"A": "",
		"C": "",
		"D": item.RoomName(),
		"E": item.DisplayDescription(),
		"F": item.UnitPrice().InexactFloat64(),
		"G": item.Quantity(),
		"H": item.Days(),
	}
	if start := item.StartDate(); start != nil {
		values["A"] = *start
	}
	if end := item.EndDate(); end != nil {
		values["C"] = *end
	}
	for _, col := range valueColumns {
		if err := f.SetCellValue(sheet, cell(col, row), values[col]); err != nil {
			return err
		}
	}

	if err := f.SetCellFormula(sheet, cell("I", row), fmt.Sprintf("F%d*G%d*H%d", row, row, row)); err != nil {
		return err
	}
	return f.SetCellFormula(sheet, cell("J", row), fmt.Sprintf("I%d*%s", row, rateReference))
}

// writeBottomRow mirrors topRow. Amount columns reference the top block's formula cells.
func writeBottomRow(f *excelize.File, sheet string, row int, topRow int) error {
	for _, col := range append(append([]string{}, valueColumns...), amountColumns...) {
		if err := f.SetCellFormula(sheet, cell(col, row), cell(col, topRow)); err != nil {
			return err
		}
	}
	return nil
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}

func saveAtomically(f *excelize.File, outputPath string) error {
	tmp, err := os.CreateTemp(filepath.Dir(outputPath), ".invoice-*.xlsx.tmp")
	if err != nil {
		return &utils.ExportIOError{Path: outputPath, Err: err}
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if err := f.Write(tmp); err != nil {
		tmp.Close()
		return &utils.ExportIOError{Path: outputPath, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &utils.ExportIOError{Path: outputPath, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &utils.ExportIOError{Path: outputPath, Err: err}
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return &utils.ExportIOError{Path: outputPath, Err: err}
	}
	if err := os.Rename(tmpName, outputPath); err != nil {
		return &utils.ExportIOError{Path: outputPath, Err: err}
	}
	committed = true
	return nil
}
