package domain

import "errors"

// Closed error-kind enumeration. Callers branch with errors.Is so retryable
// and fatal conditions stay distinguishable without string matching.
var (
	// ErrTenantNotFound is returned when a tenant id is absent from the directory.
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrTenantExists is returned on a create for an already-registered tenant id.
	ErrTenantExists = errors.New("tenant already exists")
	// ErrSettingNotFound is returned when a system-setting key is absent.
	ErrSettingNotFound = errors.New("setting not found")
	// ErrUnauthorized covers every authentication failure. The response never
	// distinguishes an unknown tenant from a bad signature.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConditionFailed is an optimistic-concurrency loss on a conditional
	// directory update. Retryable by the caller.
	ErrConditionFailed = errors.New("condition failed")
	// ErrVersionConflict means the bounded retry on a version update was
	// exhausted. The caller must not assume the promotion succeeded.
	ErrVersionConflict = errors.New("version update conflict")
	// ErrUpstream wraps managed-platform failures (training, serving, storage).
	ErrUpstream = errors.New("upstream failure")
	// ErrTimeout means a bounded wait (job completion, endpoint health) expired.
	ErrTimeout = errors.New("timeout")
	// ErrValidation covers malformed requests and events.
	ErrValidation = errors.New("validation error")
)
