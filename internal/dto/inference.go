package dto

// UploadResponse acknowledges a dataset upload with the object key it
// landed under
type UploadResponse struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// TokenResponse carries an issued bearer token
type TokenResponse struct {
	JWT string `json:"jwt"`
}

// HealthResponse reports component health
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}
