package serving

import (
	"context"

	"github.com/saasml/mlaas-platform/internal/domain"
)

// Request is a single inference call against a serving endpoint.
//
// TargetModel selects the tenant's artifact on a pooled multi-model
// endpoint. It must be empty for dedicated endpoints: the endpoint itself
// already identifies the model.
type Request struct {
	Endpoint    string
	TargetModel string
	ContentType string
	Payload     []byte
	// Credentials scope the call to the tenant. When zero the service
	// role is used.
	Credentials domain.ScopedCredentials
}

// Response is the raw endpoint output.
type Response struct {
	Body        []byte
	ContentType string
}

// Invoker performs synchronous inference against a serving endpoint.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}
