package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

const ledgerJSON = `{
	"client_name": "Familia Ortega",
	"invoice_date": "2024-01-10T00:00:00Z",
	"start_date": "2024-01-01T00:00:00Z",
	"end_date": "2024-01-03T00:00:00Z",
	"rate_secondary": "18.25",
	"rate_tertiary": "1350",
	"items": [{"category": "Lodging", "room_name": "Casa Azul"}]
}`

func setupEnv(t *testing.T) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	template := filepath.Join(t.TempDir(), "FacturaTemplate.xlsx")
	if err := f.SaveAs(template); err != nil {
		t.Fatal(err)
	}
	outDir := t.TempDir()
	t.Setenv("INVOICE_TEMPLATE_PATH", template)
	t.Setenv("INVOICE_OUTPUT_DIR", outDir)
	t.Setenv("PORT", "8080")
	t.Setenv("BASE_CURRENCY", "USD")
	t.Setenv("SECONDARY_CURRENCY", "MXN")
	t.Setenv("TERTIARY_CURRENCY", "KRW")
	return outDir
}

func TestExportCommand(t *testing.T) {
	outDir := setupEnv(t)
	input := filepath.Join(t.TempDir(), "invoice.json")
	if err := os.WriteFile(input, []byte(ledgerJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = io.Discard
	if err := app.Run([]string{"invoice-maker", "export", "--input", input}); err != nil {
		t.Fatalf("export: %v", err)
	}

	want := filepath.Join(outDir, "Factura_20240110.xlsx")
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("workbook not written: %v", err)
	}
	for _, s := range []string{want, "150.00 USD", "2737.50 MXN", "202500 KRW"} {
		if !strings.Contains(out.String(), s) {
			t.Fatalf("output %q missing %q", out.String(), s)
		}
	}
}

func TestExportCommand_FromStdinToExplicitPath(t *testing.T) {
	setupEnv(t)
	output := filepath.Join(t.TempDir(), "custom.xlsx")

	app := newApp()
	app.Reader = strings.NewReader(ledgerJSON)
	app.Writer = io.Discard
	app.ErrWriter = io.Discard
	if err := app.Run([]string{"invoice-maker", "export", "-o", output}); err != nil {
		t.Fatalf("export: %v", err)
	}
	if _, err := os.Stat(output); err != nil {
		t.Fatalf("workbook not written: %v", err)
	}
}

func TestExportCommand_BadInput(t *testing.T) {
	setupEnv(t)
	app := newApp()
	app.Reader = strings.NewReader(`{"items": [{"category": "Spa"}]}`)
	app.Writer = io.Discard
	app.ErrWriter = io.Discard
	if err := app.Run([]string{"invoice-maker", "export"}); err == nil {
		t.Fatal("invalid ledger accepted")
	}
}
