package middleware

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditAction represents the type of admin action being audited
type AuditAction string

const (
	AuditActionRegister   AuditAction = "register"
	AuditActionProvision  AuditAction = "provision"
	AuditActionDeactivate AuditAction = "deactivate"
	AuditActionUpdate     AuditAction = "update"
	AuditActionIssueToken AuditAction = "issue_token"
	AuditActionView       AuditAction = "view"
)

// Context keys handlers use to enrich the audit entry
const (
	ContextKeyAuditResourceID = "audit_resource_id"
	ContextKeyAuditMetadata   = "audit_metadata"
	ContextKeyAuditSkip       = "audit_skip"
)

// AuditEntry is one recorded admin operation
type AuditEntry struct {
	ID         string                 `json:"id"`
	TenantID   *string                `json:"tenant_id,omitempty"`
	Role       string                 `json:"role,omitempty"`
	Action     AuditAction            `json:"action"`
	Resource   string                 `json:"resource"`
	ResourceID *string                `json:"resource_id,omitempty"`
	Method     string                 `json:"method"`
	Path       string                 `json:"path"`
	StatusCode int                    `json:"status_code"`
	IPAddress  string                 `json:"ip_address,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// AuditConfig holds configuration for the audit middleware
type AuditConfig struct {
	// DB is the PostgreSQL pool the audit trail is written to
	DB *pgxpool.Pool
	// BufferSize is the size of the async audit buffer (default: 1000)
	BufferSize int
	// FlushInterval is how often to flush the buffer (default: 5 seconds)
	FlushInterval time.Duration
	// BatchSize is the maximum number of entries per flush (default: 100)
	BatchSize int
	// SkipPaths is a list of paths to skip auditing
	SkipPaths []string
	// SkipMethods is a list of HTTP methods to skip (default: GET, HEAD, OPTIONS)
	SkipMethods []string
}

// DefaultAuditConfig returns default configuration
func DefaultAuditConfig(db *pgxpool.Pool) *AuditConfig {
	return &AuditConfig{
		DB:            db,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		BatchSize:     100,
		SkipPaths:     []string{"/health", "/ready"},
		SkipMethods:   []string{"GET", "HEAD", "OPTIONS"},
	}
}

// AuditLogger buffers audit entries and writes them in batches so the admin
// API never blocks on the trail.
type AuditLogger struct {
	config    *AuditConfig
	buffer    chan *AuditEntry
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	// For testing: collect entries instead of writing to the database
	testMode    bool
	testEntries []*AuditEntry
	testMu      sync.Mutex
}

// NewAuditLogger creates a new audit logger and starts its worker
func NewAuditLogger(config *AuditConfig) *AuditLogger {
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}

	ctx, cancel := context.WithCancel(context.Background())

	al := &AuditLogger{
		config: config,
		buffer: make(chan *AuditEntry, config.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	al.wg.Add(1)
	go al.worker()

	return al
}

// Log adds an entry to the buffer. A full buffer drops the entry rather
// than blocking the request path.
func (al *AuditLogger) Log(entry *AuditEntry) {
	select {
	case al.buffer <- entry:
	default:
	}
}

// Close flushes remaining entries and stops the worker
func (al *AuditLogger) Close() error {
	al.closeOnce.Do(func() {
		// Close the buffer first so the worker drains everything already
		// queued before it exits.
		close(al.buffer)
		al.wg.Wait()
		al.cancel()
	})
	return nil
}

// SetTestMode collects entries in memory instead of writing to the database
func (al *AuditLogger) SetTestMode(enabled bool) {
	al.testMu.Lock()
	defer al.testMu.Unlock()
	al.testMode = enabled
	if enabled {
		al.testEntries = make([]*AuditEntry, 0)
	}
}

// GetTestEntries returns collected test entries
func (al *AuditLogger) GetTestEntries() []*AuditEntry {
	al.testMu.Lock()
	defer al.testMu.Unlock()
	result := make([]*AuditEntry, len(al.testEntries))
	copy(result, al.testEntries)
	return result
}

func (al *AuditLogger) worker() {
	defer al.wg.Done()

	ticker := time.NewTicker(al.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]*AuditEntry, 0, al.config.BatchSize)

	for {
		select {
		case entry, ok := <-al.buffer:
			if !ok {
				if len(batch) > 0 {
					al.flush(batch)
				}
				return
			}
			batch = append(batch, entry)
			if len(batch) >= al.config.BatchSize {
				al.flush(batch)
				batch = make([]*AuditEntry, 0, al.config.BatchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				al.flush(batch)
				batch = make([]*AuditEntry, 0, al.config.BatchSize)
			}
		case <-al.ctx.Done():
			if len(batch) > 0 {
				al.flush(batch)
			}
			return
		}
	}
}

func (al *AuditLogger) flush(entries []*AuditEntry) {
	if len(entries) == 0 {
		return
	}

	al.testMu.Lock()
	if al.testMode {
		al.testEntries = append(al.testEntries, entries...)
		al.testMu.Unlock()
		return
	}
	al.testMu.Unlock()

	if al.config.DB == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	query := `
		INSERT INTO audit_logs (
			id, tenant_id, role, action, resource, resource_id,
			method, path, status_code, ip_address, metadata, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12
		)
	`

	for _, entry := range entries {
		metadataJSON, _ := json.Marshal(entry.Metadata)
		if string(metadataJSON) == "null" {
			metadataJSON = []byte("{}")
		}

		// Audit writes never fail the application
		_, _ = al.config.DB.Exec(ctx, query,
			entry.ID, entry.TenantID, entry.Role,
			string(entry.Action), entry.Resource, entry.ResourceID,
			entry.Method, entry.Path, entry.StatusCode,
			entry.IPAddress, metadataJSON, entry.CreatedAt,
		)
	}
}

// Audit records every mutating admin request after it completes
func Audit(logger *AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		config := logger.config

		for _, path := range config.SkipPaths {
			if c.Request.URL.Path == path {
				c.Next()
				return
			}
		}
		for _, method := range config.SkipMethods {
			if c.Request.Method == method {
				c.Next()
				return
			}
		}

		startTime := time.Now()
		c.Next()

		if skip, exists := c.Get(ContextKeyAuditSkip); exists && skip.(bool) {
			return
		}

		entry := &AuditEntry{
			ID:         uuid.New().String(),
			Action:     actionForRequest(c.Request.Method, c.Request.URL.Path),
			Resource:   resourceForPath(c.Request.URL.Path),
			Method:     c.Request.Method,
			Path:       c.Request.URL.Path,
			StatusCode: c.Writer.Status(),
			IPAddress:  c.ClientIP(),
			CreatedAt:  startTime,
		}

		if tenantID, ok := GetTenantID(c); ok && tenantID != "" {
			entry.TenantID = &tenantID
		}
		if identity, ok := GetIdentity(c); ok {
			entry.Role = identity.Role
		}
		if rid, exists := c.Get(ContextKeyAuditResourceID); exists {
			if s, ok := rid.(string); ok && s != "" {
				entry.ResourceID = &s
			}
		}
		if meta, exists := c.Get(ContextKeyAuditMetadata); exists {
			if m, ok := meta.(map[string]interface{}); ok {
				entry.Metadata = m
			}
		}

		logger.Log(entry)
	}
}

func actionForRequest(method, path string) AuditAction {
	switch {
	case method == "POST" && strings.HasSuffix(path, "/provision"):
		return AuditActionProvision
	case method == "POST" && strings.Contains(path, "/tenants"):
		return AuditActionRegister
	case method == "DELETE" && strings.Contains(path, "/tenants"):
		return AuditActionDeactivate
	case strings.Contains(path, "/jwt"):
		return AuditActionIssueToken
	case method == "PUT" || method == "PATCH":
		return AuditActionUpdate
	default:
		return AuditActionView
	}
}

func resourceForPath(path string) string {
	switch {
	case strings.Contains(path, "/tenants"):
		return "tenant"
	case strings.Contains(path, "/jwt"):
		return "token"
	case strings.Contains(path, "/inference"):
		return "inference"
	case strings.Contains(path, "/upload"):
		return "dataset"
	default:
		return "unknown"
	}
}
