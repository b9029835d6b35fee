package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/saasml/mlaas-platform/internal/domain"
)

// ObjectCreatedEvent is the notification emitted when a tenant drops a
// dataset into its input prefix.
type ObjectCreatedEvent struct {
	Bucket struct {
		Name string `json:"name"`
	} `json:"bucket"`
	Object struct {
		Key string `json:"key"`
	} `json:"object"`
}

// DecodeEvent parses and validates an object-created event. Every malformed
// payload takes the same failure path: ErrValidation with the reason
// wrapped, never a partial event.
func DecodeEvent(payload []byte) (*ObjectCreatedEvent, error) {
	var event ObjectCreatedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: decode object-created event: %v", domain.ErrValidation, err)
	}
	if event.Bucket.Name == "" || event.Object.Key == "" {
		return nil, fmt.Errorf("%w: object-created event missing bucket or key", domain.ErrValidation)
	}
	return &event, nil
}

// TenantFromKey extracts the tenant id from a `{tenantId}/...` object key.
func TenantFromKey(key string) (string, error) {
	parts := strings.SplitN(key, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", fmt.Errorf("%w: object key %q has no tenant prefix", domain.ErrValidation, key)
	}
	return parts[0], nil
}

// IsDataset reports whether the key names a CSV dataset drop. Anything else
// in the input prefix (markers, manifests, partial uploads) is ignored.
func IsDataset(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), ".csv")
}
