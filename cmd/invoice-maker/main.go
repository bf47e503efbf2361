// invoice-maker issues and exports guest invoices from the command line.
//
// Usage:
//
//	invoice-maker reservations
//	invoice-maker export --input invoice.json [--output Factura.xlsx] [--refresh]
//	invoice-maker issue --reservation 42 --client "Familia Ortega" [--date 2024-01-10]
//	invoice-maker migrate
//
// Settings come from the environment (.env is loaded); see config.LoadSettings.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/mmdatafocus/invoice_maker/config"
	"github.com/mmdatafocus/invoice_maker/models"
	"github.com/mmdatafocus/invoice_maker/models/reports"
	"github.com/mmdatafocus/invoice_maker/workflow"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "invoice-maker",
		Usage: "export and issue guest invoices",
		Commands: []*cli.Command{
			{
				Name:   "reservations",
				Usage:  "list open reservations without an invoice",
				Action: listReservations,
			},
			{
				Name:  "export",
				Usage: "fill the invoice template from a JSON ledger description",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "ledger JSON file, - for stdin", Value: "-"},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "workbook path (default: output dir + Factura_YYYYMMDD.xlsx)"},
					&cli.BoolFlag{Name: "refresh", Usage: "fetch exchange rates before exporting"},
				},
				Action: exportInvoice,
			},
			{
				Name:  "issue",
				Usage: "export and record the invoice for a reservation",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "reservation", Aliases: []string{"r"}, Required: true},
					&cli.StringFlag{Name: "client", Aliases: []string{"c"}, Required: true},
					&cli.TimestampFlag{Name: "date", Layout: "2006-01-02", Usage: "invoice date (default: today)"},
					&cli.StringFlag{Name: "discount", Usage: "discount percent applied to every item"},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}},
				},
				Action: issueInvoice,
			},
			{
				Name:  "migrate",
				Usage: "create or update the invoice tables",
				Action: func(c *cli.Context) error {
					config.ConnectDatabaseWithRetry()
					models.MigrateTable()
					return nil
				},
			},
		},
	}
}

func listReservations(c *cli.Context) error {
	config.ConnectDatabaseWithRetry()
	reservations, err := models.ListInvoiceableReservations(c.Context)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tROOM\tCHECK-IN\tCHECK-OUT\tNIGHTS")
	for _, r := range reservations {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", r.ReservationId, r.RoomName,
			r.CheckInDate.Format("2006-01-02"), r.CheckOutDate.Format("2006-01-02"), r.Nights())
	}
	return tw.Flush()
}

func exportInvoice(c *cli.Context) error {
	settings, err := config.LoadSettings()
	if err != nil {
		return err
	}

	in, err := readLedgerInput(c.String("input"), c.App.Reader)
	if err != nil {
		return err
	}
	ledger, err := workflow.BuildLedger(models.DefaultCatalog(), in)
	if err != nil {
		return err
	}

	if c.Bool("refresh") {
		pairs := workflow.RatePairs{Secondary: settings.SecondaryPair(), Tertiary: settings.TertiaryPair()}
		status, err := workflow.NewRatePropagator(ledger, workflow.NewRateSource(settings), pairs, nil).RefreshRates(c.Context)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.ErrWriter, "exchange rates: %s\n", status)
	}

	output := c.String("output")
	if output == "" {
		output = filepath.Join(settings.OutputDir, reports.DefaultFileName(ledger.InvoiceDate))
	}
	if err := reports.NewInvoiceExporter(settings.TemplatePath).Export(ledger, output); err != nil {
		return err
	}

	totals := ledger.Totals()
	fmt.Fprintf(c.App.Writer, "%s\t%s %s\t%s %s\t%s %s\n", output,
		totals.Base.StringFixed(2), settings.BaseCurrency,
		totals.Secondary.StringFixed(2), settings.SecondaryCurrency,
		totals.Tertiary.StringFixed(0), settings.TertiaryCurrency)
	return nil
}

func issueInvoice(c *cli.Context) error {
	settings, err := config.LoadSettings()
	if err != nil {
		return err
	}
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	catalog, err := models.LoadItemMasterCatalog(c.Context)
	if err != nil || len(catalog.Categories()) == 0 {
		catalog = models.DefaultCatalog()
	}

	req := workflow.IssueRequest{
		ReservationId: c.Int64("reservation"),
		ClientName:    c.String("client"),
		OutputPath:    c.String("output"),
	}
	if date := c.Timestamp("date"); date != nil {
		req.InvoiceDate = *date
	}
	if raw := c.String("discount"); raw != "" {
		discount, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("invalid --discount %q: %w", raw, err)
		}
		req.GlobalDiscount = &discount
	}

	w := workflow.NewInvoiceWorkflow(settings, models.InvoiceRepository{}, workflow.NewRateSource(settings), catalog)
	result, err := w.Issue(c.Context, req)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func readLedgerInput(path string, stdin io.Reader) (workflow.LedgerInput, error) {
	var in workflow.LedgerInput
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return in, err
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return in, fmt.Errorf("decode ledger input: %w", err)
	}
	return in, nil
}
