package routing

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/saasml/mlaas-platform/internal/directory"
	"github.com/saasml/mlaas-platform/internal/domain"
	"github.com/saasml/mlaas-platform/internal/serving"
	"github.com/saasml/mlaas-platform/pkg/logger"
	"github.com/saasml/mlaas-platform/pkg/telemetry"
)

// Result is the terminal outcome of an inference request. Serving failures
// are folded in here; the router never returns a transport error to the
// handler.
type Result struct {
	StatusCode int
	Message    string
}

// Router sends an authenticated inference request to the endpoint its
// tenant's tier dictates.
//
// Pooled tiers share one multi-model endpoint and select the tenant's
// artifact per request; dedicated tiers call their own endpoint with no
// selector. The artifact selector is built from a fresh directory read, not
// from the version captured at token time, so a promotion that lands
// between authentication and invocation is already visible.
type Router struct {
	dir     directory.TenantDirectory
	invoker serving.Invoker
	log     *logger.Logger

	pooledEndpoint string
	metrics        *telemetry.InferenceMetrics
}

func NewRouter(dir directory.TenantDirectory, invoker serving.Invoker, pooledEndpoint string, log *logger.Logger, metrics *telemetry.InferenceMetrics) *Router {
	return &Router{
		dir:            dir,
		invoker:        invoker,
		pooledEndpoint: pooledEndpoint,
		log:            log,
		metrics:        metrics,
	}
}

// Route dispatches the payload for the identity's tenant and returns the
// response envelope fields.
func (r *Router) Route(ctx context.Context, identity domain.Identity, payload []byte) Result {
	start := time.Now()
	result := r.route(ctx, identity, payload)
	if r.metrics != nil {
		r.metrics.Requests.Inc(ctx,
			telemetry.TierAttr(identity.Tier.String()),
			telemetry.TenantIDAttr(identity.TenantID),
		)
		if result.StatusCode != http.StatusOK {
			r.metrics.Failures.Inc(ctx, telemetry.TierAttr(identity.Tier.String()))
		}
		r.metrics.Latency.Record(ctx, float64(time.Since(start).Milliseconds()),
			telemetry.TierAttr(identity.Tier.String()),
		)
	}
	return result
}

func (r *Router) route(ctx context.Context, identity domain.Identity, payload []byte) Result {
	ctx, span := telemetry.StartSpan(ctx, "router.route")
	defer span.End()

	// Fresh read: the selector and endpoint must reflect what is promoted
	// by the time this request runs, not what was minted into the token.
	tenant, err := r.dir.Get(ctx, identity.TenantID)
	if err != nil {
		r.log.ErrorContext(ctx, "tenant lookup failed during routing",
			zap.String("tenant_id", identity.TenantID),
			zap.Error(err),
		)
		return Result{StatusCode: http.StatusInternalServerError, Message: "inference failed"}
	}

	req := serving.Request{
		ContentType: "text/csv",
		Payload:     payload,
		Credentials: identity.Credentials,
	}

	if identity.Tier.Pooled() {
		req.Endpoint = r.pooledEndpoint
		req.TargetModel = domain.ModelArtifactName(tenant.TenantID, tenant.ModelVersion)
	} else {
		if tenant.ServingEndpoint == "" {
			return Result{StatusCode: http.StatusInternalServerError, Message: "no serving endpoint provisioned"}
		}
		req.Endpoint = tenant.ServingEndpoint
	}

	resp, err := r.invoker.Invoke(ctx, req)
	if err != nil {
		telemetry.SetSpanError(ctx, err)
		r.log.ErrorContext(ctx, "endpoint invocation failed",
			zap.String("tenant_id", identity.TenantID),
			zap.String("endpoint", req.Endpoint),
			zap.Error(err),
		)
		return Result{StatusCode: http.StatusInternalServerError, Message: "inference failed"}
	}

	return Result{StatusCode: http.StatusOK, Message: string(resp.Body)}
}
