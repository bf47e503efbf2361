package utils

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// SplitGCSLocation splits gs://bucket/object into its bucket and object key.
func SplitGCSLocation(location string) (bucket, objectKey string, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(location), "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// location: %q", location)
	}
	bucket, objectKey, _ = strings.Cut(rest, "/")
	if bucket == "" || objectKey == "" || strings.Contains(objectKey, "..") {
		return "", "", fmt.Errorf("invalid gs:// location: %q", location)
	}
	return bucket, objectKey, nil
}

// InvoiceAccessURL turns a gs:// location into a browsable URL. STORAGE_ACCESS_BASE_URL may
// carry an {objectKey} placeholder; otherwise the public storage.googleapis.com form is used.
func InvoiceAccessURL(location string) string {
	bucket, objectKey, err := SplitGCSLocation(location)
	if err != nil {
		return ""
	}

	base := strings.TrimSpace(os.Getenv("STORAGE_ACCESS_BASE_URL"))
	if base != "" {
		if strings.Contains(base, "{objectKey}") {
			escaped := objectKey
			if strings.Contains(base, "?") {
				escaped = url.QueryEscape(objectKey)
			}
			return strings.ReplaceAll(base, "{objectKey}", escaped)
		}
		if strings.Contains(base, "?") {
			return base + url.QueryEscape(objectKey)
		}
		return strings.TrimRight(base, "/") + "/" + objectKey
	}

	return "https://storage.googleapis.com/" + bucket + "/" + objectKey
}
