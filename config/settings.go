package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Settings holds everything the invoice tools read from the environment.
type Settings struct {
	TemplatePath      string        `validate:"required"`
	OutputDir         string        `validate:"required"`
	BaseCurrency      string        `validate:"required,len=3,uppercase"`
	SecondaryCurrency string        `validate:"required,len=3,uppercase,nefield=BaseCurrency"`
	TertiaryCurrency  string        `validate:"required,len=3,uppercase,nefield=BaseCurrency"`
	RateCacheTTL      time.Duration `validate:"gte=0"`
	GCSBucket         string
	DownloadURLTTL    time.Duration `validate:"gte=0"`
	InvoiceTopic      string
	Port              string `validate:"required,numeric"`
}

var settingsValidator = validator.New()

// LoadSettings reads Settings from the environment (.env is loaded in init).
func LoadSettings() (*Settings, error) {
	s := &Settings{
		TemplatePath:      envOr("INVOICE_TEMPLATE_PATH", "Templates/FacturaTemplate.xlsx"),
		OutputDir:         envOr("INVOICE_OUTPUT_DIR", "."),
		BaseCurrency:      strings.ToUpper(envOr("BASE_CURRENCY", "USD")),
		SecondaryCurrency: strings.ToUpper(envOr("SECONDARY_CURRENCY", "MXN")),
		TertiaryCurrency:  strings.ToUpper(envOr("TERTIARY_CURRENCY", "KRW")),
		RateCacheTTL:      time.Duration(intFromEnv("RATE_CACHE_MINUTES", 30)) * time.Minute,
		GCSBucket:         strings.TrimSpace(os.Getenv("GCS_BUCKET")),
		DownloadURLTTL:    time.Duration(intFromEnv("DOWNLOAD_URL_MINUTES", 0)) * time.Minute,
		InvoiceTopic:      strings.TrimSpace(os.Getenv("INVOICE_PUBSUB_TOPIC")),
		Port:              envOr("PORT", "8080"),
	}
	if err := settingsValidator.Struct(s); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// SecondaryPair is the rate-source code for base -> secondary, e.g. USDMXN.
func (s *Settings) SecondaryPair() string {
	return s.BaseCurrency + s.SecondaryCurrency
}

// TertiaryPair is the rate-source code for base -> tertiary, e.g. USDKRW.
func (s *Settings) TertiaryPair() string {
	return s.BaseCurrency + s.TertiaryCurrency
}

// ManualRates returns the RATE_<PAIR> overrides present in the environment.
func (s *Settings) ManualRates() map[string]decimal.Decimal {
	rates := make(map[string]decimal.Decimal)
	for _, pair := range []string{s.SecondaryPair(), s.TertiaryPair()} {
		raw := strings.TrimSpace(os.Getenv("RATE_" + pair))
		if raw == "" {
			continue
		}
		rate, err := decimal.NewFromString(raw)
		if err != nil || !rate.IsPositive() {
			LogWarning(GetLogger(), "Settings", "ManualRates", "ignoring invalid manual rate", map[string]string{"pair": pair, "value": raw})
			continue
		}
		rates[pair] = rate
	}
	return rates
}

// ManualQuotes returns QUOTE_<CODE> prices in the tertiary currency for the base and
// secondary currencies, e.g. QUOTE_USD=1350.5 when the tertiary currency is KRW.
func (s *Settings) ManualQuotes() map[string]decimal.Decimal {
	quotes := make(map[string]decimal.Decimal)
	for _, code := range []string{s.BaseCurrency, s.SecondaryCurrency} {
		raw := strings.TrimSpace(os.Getenv("QUOTE_" + code))
		if raw == "" {
			continue
		}
		quote, err := decimal.NewFromString(raw)
		if err != nil || !quote.IsPositive() {
			LogWarning(GetLogger(), "Settings", "ManualQuotes", "ignoring invalid quote", map[string]string{"currency": code, "value": raw})
			continue
		}
		quotes[code] = quote
	}
	return quotes
}

func envOr(key string, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}
