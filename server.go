package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/invoice_maker/config"
	"github.com/mmdatafocus/invoice_maker/models"
	"github.com/mmdatafocus/invoice_maker/models/reports"
	"github.com/mmdatafocus/invoice_maker/utils"
	"github.com/mmdatafocus/invoice_maker/workflow"
	"github.com/sirupsen/logrus"
)

// application serves requests once its workflow is set; until then app endpoints return 503.
type application struct {
	logger   *logrus.Logger
	workflow atomic.Pointer[workflow.InvoiceWorkflow]
}

type exportRequest struct {
	workflow.LedgerInput
	RefreshRates bool `json:"refresh_rates"`
}

type reservationResponse struct {
	models.InvoiceableReservation
	Nights int `json:"nights"`
}

// RequestCounter increments key and returns the new count; the key expires after window.
// A zero count means no counter is available yet.
type RequestCounter func(ctx context.Context, key string, window time.Duration) (int64, error)

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	count  RequestCounter
	limit  int64
	window time.Duration
}

func newRouter(app *application) *gin.Engine {
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Header("x-correlation-id", cid)
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if origins := splitAndTrim(allowedOrigins); len(origins) > 0 {
			corsConfig.AllowOrigins = origins
		} else {
			// deny all unless an allowlist is configured
			corsConfig.AllowOriginFunc = func(string) bool { return false }
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", "x-rate-status", "x-correlation-id")
	r.Use(cors.New(corsConfig))

	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		// Redis connects after the router is built; the counter looks the client up per request.
		limit := int64(intEnv("RATE_LIMIT_MAX_REQUESTS", 120))
		window := time.Duration(intEnv("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second
		r.Use(NewRateLimiter(config.GetRedisCounter, limit, window).RateLimitMiddleware)
	}

	r.Use(customErrorLogger(app.logger))
	r.Use(gin.Recovery())

	api := r.Group("/", app.requireReady)
	api.GET("/reservations", app.listReservationsHandler)
	api.POST("/invoices/export", app.exportInvoiceHandler)
	api.POST("/invoices/issue", app.issueInvoiceHandler)
	r.NoRoute(customNotFoundHandler)
	return r
}

func (app *application) requireReady(c *gin.Context) {
	if app.workflow.Load() == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "starting up"})
		return
	}
	c.Next()
}

func (app *application) listReservationsHandler(c *gin.Context) {
	w := app.workflow.Load()
	reservations, err := w.Store.ListInvoiceableReservations(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]reservationResponse, 0, len(reservations))
	for _, res := range reservations {
		out = append(out, reservationResponse{InvoiceableReservation: res, Nights: res.Nights()})
	}
	c.JSON(http.StatusOK, gin.H{"reservations": out})
}

// exportInvoiceHandler builds a ledger from the request body and returns the filled workbook.
func (app *application) exportInvoiceHandler(c *gin.Context) {
	w := app.workflow.Load()
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	ledger, err := workflow.BuildLedger(w.Catalog, req.LedgerInput)
	if err != nil {
		respondError(c, err)
		return
	}
	if req.RefreshRates {
		status, err := workflow.NewRatePropagator(ledger, w.Rates, w.RatePairs(), app.logger).RefreshRates(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.Header("x-rate-status", status.String())
	}

	var buf bytes.Buffer
	if err := w.Exporter.WriteTo(ledger, &buf); err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, reports.DefaultFileName(ledger.InvoiceDate)))
	c.Data(http.StatusOK, utils.XlsxContentType, buf.Bytes())
}

func (app *application) issueInvoiceHandler(c *gin.Context) {
	w := app.workflow.Load()
	var req workflow.IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	// callers may not choose server paths
	req.OutputPath = ""

	result, err := w.Issue(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
	c.JSON(http.StatusCreated, gin.H{
		"invoice":        result,
		"correlation_id": cid,
	})
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var verr *utils.ValidationError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.Is(err, utils.ErrorRecordNotFound):
		status = http.StatusNotFound
	case errors.Is(err, utils.ErrInvoiceInProgress), errors.Is(err, models.ErrReservationAlreadyInvoiced), errors.Is(err, models.ErrInvoiceNoTaken):
		status = http.StatusConflict
	case errors.Is(err, utils.ErrTemplateCapacity), errors.Is(err, utils.ErrRateUnavailable):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		c.Error(err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	logger := config.GetLogger()
	settings, err := config.LoadSettings()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "settings"}).Fatal(err.Error())
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Open the port first; app endpoints return 503 until dependencies are ready.
	app := &application{logger: logger}
	srv := &http.Server{
		Addr:    ":" + settings.Port,
		Handler: newRouter(app),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	sqlDB, _ := config.GetDB().DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	app.workflow.Store(workflow.NewInvoiceWorkflow(settings, models.InvoiceRepository{}, workflow.NewRateSource(settings), loadCatalog(sigCtx, logger)))
	log.Printf("invoice server ready on :%s", settings.Port)

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// loadCatalog prefers the ItemMaster table and falls back to the built-in prices.
func loadCatalog(ctx context.Context, logger *logrus.Logger) models.Catalog {
	catalog, err := models.LoadItemMasterCatalog(ctx)
	if err != nil {
		config.LogError(logger, "server", "loadCatalog", "loading item master", nil, err)
		return models.DefaultCatalog()
	}
	if len(catalog.Categories()) == 0 {
		return models.DefaultCatalog()
	}
	return catalog
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
			logger.WithFields(logrus.Fields{
				"path":           c.Request.URL.Path,
				"correlation_id": cid,
			}).Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(count RequestCounter, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		count:  count,
		limit:  limit,
		window: window,
	}
}

// RateLimitMiddleware counts requests per client IP in a fixed window. Requests pass
// uncounted while Redis is not connected.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := "ratelimit:" + c.ClientIP()

	count, err := rl.count(c.Request.Context(), key, rl.window)
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}
	c.Next()
}

func intEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
