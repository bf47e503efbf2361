package workflow

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/mmdatafocus/invoice_maker/config"
	"github.com/mmdatafocus/invoice_maker/models"
	"github.com/mmdatafocus/invoice_maker/models/reports"
	"github.com/mmdatafocus/invoice_maker/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("invoice-maker")

const (
	invoiceLockTTL     = 2 * time.Minute
	invoiceCounterTTL  = 48 * time.Hour
	InvoiceEventIssued = "InvoiceIssued"
)

// InvoiceStore is the persistence the workflow needs; models.InvoiceRepository implements it.
type InvoiceStore interface {
	ListInvoiceableReservations(ctx context.Context) ([]models.InvoiceableReservation, error)
	CreateInvoice(ctx context.Context, input *models.NewInvoice) (int64, error)
}

type IssueRequest struct {
	ReservationId  int64             `json:"reservation_id" validate:"required,gt=0"`
	ClientName     string            `json:"client_name" validate:"required"`
	InvoiceDate    time.Time         `json:"invoice_date"`
	GlobalDiscount *decimal.Decimal  `json:"global_discount"`
	Extras         []LedgerItemInput `json:"extras" validate:"dive"`
	OutputPath     string            `json:"output_path"`
}

type IssueResult struct {
	InvoiceId      int64                 `json:"invoice_id"`
	InvoiceNo      string                `json:"invoice_no"`
	OutputPath     string                `json:"output_path"`
	ExportLocation string                `json:"export_location,omitempty"`
	AccessURL      string                `json:"access_url,omitempty"`
	Download       *utils.SignedDownload `json:"download,omitempty"`
	RateStatus     string                `json:"rate_status"`
	Totals         models.Totals         `json:"totals"`
}

// InvoiceWorkflow turns an open reservation into an exported, recorded invoice.
type InvoiceWorkflow struct {
	Store    InvoiceStore
	Exporter *reports.InvoiceExporter
	Rates    RateSource
	Catalog  models.Catalog
	Settings *config.Settings
	Logger   *logrus.Logger
}

func NewInvoiceWorkflow(settings *config.Settings, store InvoiceStore, rates RateSource, catalog models.Catalog) *InvoiceWorkflow {
	return &InvoiceWorkflow{
		Store:    store,
		Exporter: reports.NewInvoiceExporter(settings.TemplatePath),
		Rates:    rates,
		Catalog:  catalog,
		Settings: settings,
		Logger:   config.GetLogger(),
	}
}

func (w *InvoiceWorkflow) RatePairs() RatePairs {
	return RatePairs{Secondary: w.Settings.SecondaryPair(), Tertiary: w.Settings.TertiaryPair()}
}

// LedgerForReservation seeds a ledger with the stay's span and one lodging item for its room.
func (w *InvoiceWorkflow) LedgerForReservation(res models.InvoiceableReservation, clientName string, invoiceDate time.Time) (*models.Ledger, error) {
	l := models.NewLedger(w.Catalog, utils.DateOnly(invoiceDate))
	l.ClientName = clientName
	l.ReservationId = res.ReservationId

	start, end := res.LodgingSpan()
	l.SetHeaderDates(&start, &end)

	lodging, err := l.AddItem(models.ItemCategoryLodging)
	if err != nil {
		return nil, err
	}
	lodging.SetRoomName(res.RoomName)
	return l, nil
}

// Issue builds the reservation's ledger, refreshes its rates, exports the workbook and
// records the invoice. Only one Issue per reservation runs at a time when Redis is
// configured.
func (w *InvoiceWorkflow) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	ctx, span := tracer.Start(ctx, "InvoiceWorkflow.Issue")
	defer span.End()
	span.SetAttributes(attribute.Int64("reservation_id", req.ReservationId))

	result, err := w.issue(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("invoice_no", result.InvoiceNo))
	return result, nil
}

func (w *InvoiceWorkflow) issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	if err := inputValidator.Struct(req); err != nil {
		return nil, utils.NewValidationError("issue request", "%v", err)
	}

	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, fmt.Sprintf("lock:invoice:%d", req.ReservationId), invoiceLockTTL, nil)
		if err == redislock.ErrNotObtained {
			return nil, fmt.Errorf("%w: reservation %d", utils.ErrInvoiceInProgress, req.ReservationId)
		} else if err != nil {
			config.LogError(w.Logger, "InvoiceWorkflow", "Issue", "obtaining invoice lock", req.ReservationId, err)
			return nil, err
		}
		defer lock.Release(context.Background())
	}

	reservation, err := w.findReservation(ctx, req.ReservationId)
	if err != nil {
		return nil, err
	}

	invoiceDate := req.InvoiceDate
	if invoiceDate.IsZero() {
		invoiceDate = time.Now()
	}
	ledger, err := w.LedgerForReservation(*reservation, req.ClientName, invoiceDate)
	if err != nil {
		return nil, err
	}
	if req.GlobalDiscount != nil {
		if err := ledger.SetGlobalDiscount(*req.GlobalDiscount); err != nil {
			return nil, err
		}
	}
	if err := AddItems(ledger, req.Extras); err != nil {
		return nil, err
	}

	status, err := NewRatePropagator(ledger, w.Rates, w.RatePairs(), w.Logger).RefreshRates(ctx)
	if err != nil {
		return nil, err
	}
	secondary, tertiary := ledger.Rates()
	if !secondary.IsPositive() || !tertiary.IsPositive() {
		return nil, fmt.Errorf("%w: invoice %d needs both %s and %s",
			utils.ErrRateUnavailable, req.ReservationId, w.Settings.SecondaryPair(), w.Settings.TertiaryPair())
	}

	ledger.InvoiceNo = NextInvoiceNumber(ctx, ledger.InvoiceDate)

	outputPath := req.OutputPath
	if outputPath == "" {
		outputPath = filepath.Join(w.Settings.OutputDir, reports.InvoiceFileName(ledger.InvoiceDate, ledger.InvoiceNo))
	}
	if err := w.Exporter.Export(ledger, outputPath); err != nil {
		return nil, err
	}

	result := &IssueResult{
		InvoiceNo:  ledger.InvoiceNo,
		OutputPath: outputPath,
		RateStatus: status.String(),
		Totals:     ledger.Totals(),
	}

	if w.Settings.GCSBucket != "" {
		location, err := utils.UploadFileToGCS(ctx, w.Settings.GCSBucket, utils.InvoiceObjectName(ledger.InvoiceDate, outputPath), outputPath)
		if err != nil {
			config.LogError(w.Logger, "InvoiceWorkflow", "Issue", "uploading workbook", outputPath, err)
		} else {
			result.ExportLocation = location
			result.AccessURL = utils.InvoiceAccessURL(location)
			w.signDownload(ctx, result)
		}
	}

	result.InvoiceId, err = w.Store.CreateInvoice(ctx, &models.NewInvoice{
		ReservationId: ledger.ReservationId,
		InvoiceNo:     ledger.InvoiceNo,
		InvoiceDate:   ledger.InvoiceDate,
		Currency:      w.Settings.TertiaryCurrency,
		ExchangeRate:  tertiary,
		TotalAmount:   result.Totals.Tertiary,
		Items:         models.NewInvoiceItems(ledger),
	})
	if err != nil {
		config.LogError(w.Logger, "InvoiceWorkflow", "Issue", "recording invoice", ledger.InvoiceNo, err)
		return nil, err
	}

	w.publishIssued(ctx, result, ledger, tertiary)
	return result, nil
}

// signDownload attaches a signed link when DOWNLOAD_URL_MINUTES is set. Failures only log;
// the workbook is already stored.
func (w *InvoiceWorkflow) signDownload(ctx context.Context, result *IssueResult) {
	if w.Settings.DownloadURLTTL <= 0 {
		return
	}
	download, err := utils.SignInvoiceDownload(ctx, result.ExportLocation, w.Settings.DownloadURLTTL)
	if err != nil {
		config.LogWarning(w.Logger, "InvoiceWorkflow", "signDownload", "signing download url", map[string]string{"location": result.ExportLocation, "error": err.Error()})
		return
	}
	result.Download = download
}

func (w *InvoiceWorkflow) findReservation(ctx context.Context, reservationId int64) (*models.InvoiceableReservation, error) {
	reservations, err := w.Store.ListInvoiceableReservations(ctx)
	if err != nil {
		config.LogError(w.Logger, "InvoiceWorkflow", "findReservation", "listing reservations", reservationId, err)
		return nil, err
	}
	for i := range reservations {
		if reservations[i].ReservationId == reservationId {
			return &reservations[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no open reservation %d without an invoice", utils.ErrorRecordNotFound, reservationId)
}

func (w *InvoiceWorkflow) publishIssued(ctx context.Context, result *IssueResult, l *models.Ledger, rate decimal.Decimal) {
	if w.Settings.InvoiceTopic == "" {
		return
	}
	msg := config.InvoiceEventMessage{
		InvoiceId:      result.InvoiceId,
		InvoiceNo:      result.InvoiceNo,
		ReservationId:  l.ReservationId,
		IssuedAt:       time.Now().UTC(),
		Currency:       w.Settings.TertiaryCurrency,
		ExchangeRate:   rate.String(),
		TotalAmount:    result.Totals.Tertiary.String(),
		ExportLocation: result.ExportLocation,
		AccessURL:      result.AccessURL,
		Action:         InvoiceEventIssued,
		CorrelationId:  utils.CorrelationIdOrNew(ctx),
	}
	if _, err := config.PublishInvoiceEvent(ctx, w.Settings.InvoiceTopic, msg); err != nil {
		config.LogError(w.Logger, "InvoiceWorkflow", "publishIssued", "publishing invoice event", msg, err)
	}
}

// NextInvoiceNumber returns INV-YYYYMMDD-NNNN from a per-day Redis counter, or a random
// suffix when no counter is available.
func NextInvoiceNumber(ctx context.Context, invoiceDate time.Time) string {
	day := invoiceDate.Format("20060102")
	n, err := config.GetRedisCounter(ctx, "invoice_no:"+day, invoiceCounterTTL)
	if err != nil {
		config.LogError(config.GetLogger(), "InvoiceWorkflow", "NextInvoiceNumber", "incrementing counter", day, err)
	}
	if err != nil || n <= 0 {
		return fmt.Sprintf("INV-%s-%s", day, strings.ToUpper(uuid.NewString()[:8]))
	}
	return fmt.Sprintf("INV-%s-%04d", day, n)
}
