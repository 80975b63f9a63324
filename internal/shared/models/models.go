package models

import "time"

// APIKey represents a gateway API key
type APIKey struct {
	ID                 string
	KeyHash            string
	KeyPrefix          string
	Name               string
	RateLimitPerMinute int
	IsActive           bool
	LastUsedAt         *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ModelConfig is an admin-managed model entry. APIURL and APIKeyEncrypted
// override the linked platform when set.
type ModelConfig struct {
	ID              string
	ModelName       string
	APIURL          string
	APIKeyEncrypted string
	PlatformID      *string
	IsImageGen      bool
	Enabled         bool
}

// PlatformConfig is an upstream platform and its default credentials
type PlatformConfig struct {
	ID              string
	APIURL          string
	APIKeyEncrypted string
	PlatformType    string
	Enabled         bool
}

// Image generation log statuses
const (
	LogStatusRunning   = "running"
	LogStatusSucceeded = "succeeded"
	LogStatusFailed    = "failed"
	LogStatusError     = "error"
)

// ImageGenLog is one audited image generation call
type ImageGenLog struct {
	RequestID       string
	Provider        string
	Model           string
	Endpoint        string
	RequestBody     string
	RequestBodyHash string
	Question        string
	UserID          string
	SessionID       string
	Purpose         string
	Status          string
	StatusCode      int
	Summary         string
	ErrorMessage    *string
	StartedAt       time.Time
	FirstByteAt     *time.Time
	EndedAt         *time.Time
}
