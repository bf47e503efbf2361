package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

const XlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// getGoogleClient initializes a Google Cloud Storage client
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	// Prefer ADC; GCS_CREDENTIALS_JSON overrides it for local runs.
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

// InvoiceObjectName builds invoices/YYYY/MM/<uuid>_<file name>.
func InvoiceObjectName(invoiceDate time.Time, localPath string) string {
	return fmt.Sprintf("invoices/%04d/%02d/%s_%s",
		invoiceDate.Year(), int(invoiceDate.Month()), uuid.NewString(), filepath.Base(localPath))
}

// UploadFileToGCS copies an exported workbook into bucketName and returns its gs:// location.
func UploadFileToGCS(ctx context.Context, bucketName string, objectName string, localPath string) (string, error) {
	if bucketName == "" {
		return "", errors.New("GCS_BUCKET is required")
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	client, err := getGoogleClient(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	wc := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	wc.ContentType = XlsxContentType

	if _, err := io.Copy(wc, f); err != nil {
		wc.Close()
		return "", fmt.Errorf("failed to upload file to Google Cloud Storage: %v", err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer: %v", err)
	}

	return fmt.Sprintf("gs://%s/%s", bucketName, objectName), nil
}
