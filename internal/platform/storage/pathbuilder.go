package storage

import (
	"fmt"
	"strings"
	"time"
)

// ObjectPurpose captures high-level intent for storage layout decisions.
type ObjectPurpose string

const PurposeWebhookPayload ObjectPurpose = "webhook-payload"

// PathParams provide the identifiers needed to compose object keys.
type PathParams struct {
	Provider   string
	EventID    string
	ReceivedAt time.Time
}

// BuildObjectPath resolves the storage object path for the given purpose.
func BuildObjectPath(purpose ObjectPurpose, params PathParams) (string, error) {
	switch purpose {
	case PurposeWebhookPayload:
		return buildWebhookPayloadPath(params)
	default:
		return "", fmt.Errorf("storage: unsupported object purpose %q", purpose)
	}
}

func buildWebhookPayloadPath(params PathParams) (string, error) {
	provider, err := validateSegment("provider", params.Provider)
	if err != nil {
		return "", err
	}
	eventID, err := validateSegment("eventID", params.EventID)
	if err != nil {
		return "", err
	}
	if params.ReceivedAt.IsZero() {
		return "", fmt.Errorf("storage: receivedAt is required")
	}
	day := params.ReceivedAt.UTC().Format("2006/01/02")
	return fmt.Sprintf("webhooks/%s/%s/%s.json", provider, day, eventID), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
