package config

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// InvoiceEventMessage is published after an invoice has been exported and recorded.
type InvoiceEventMessage struct {
	InvoiceId      int64     `json:"invoice_id"`
	InvoiceNo      string    `json:"invoice_no"`
	ReservationId  int64     `json:"reservation_id"`
	IssuedAt       time.Time `json:"issued_at"`
	Currency       string    `json:"currency"`
	ExchangeRate   string    `json:"exchange_rate"`
	TotalAmount    string    `json:"total_amount"`
	ExportLocation string    `json:"export_location"`
	AccessURL      string    `json:"access_url,omitempty"`
	Action         string    `json:"action"`
	CorrelationId  string    `json:"correlation_id"`
}

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

func getPubSubProjectID() string {
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	return os.Getenv("GCP_PROJECT")
}

// GetPubSubClient returns the shared client, creating it on first use.
// It uses Application Default Credentials unless PUBSUB_CREDENTIALS_JSON is provided.
func GetPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		return pubsubClient, nil
	}

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	var (
		c   *pubsub.Client
		err error
	)
	if credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON"); credJSON != "" {
		c, err = pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
	} else {
		c, err = pubsub.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, err
	}
	log.Printf("pubsub client ready (project_id=%s)", projectID)
	pubsubClient = c
	return c, nil
}

// PublishInvoiceEvent publishes msg to topicName and returns the server-assigned message ID.
func PublishInvoiceEvent(ctx context.Context, topicName string, msg InvoiceEventMessage) (string, error) {
	if topicName == "" {
		return "", errors.New("topic is required")
	}
	client, err := GetPubSubClient(ctx)
	if err != nil {
		return "", err
	}

	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	result := client.Topic(topicName).Publish(ctx, &pubsub.Message{
		Data: msgJSON,
		Attributes: map[string]string{
			"action": msg.Action,
		},
	})
	return result.Get(ctx)
}
