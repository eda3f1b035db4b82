package dto

import "time"

type CreateCredentialRequest struct {
	Name         string `json:"name" binding:"required,min=1,max=255"`
	EndpointURL  string `json:"endpoint_url" binding:"required,url"`
	EndpointPort int    `json:"endpoint_port" binding:"omitempty,min=1,max=65535"`
	Secret       string `json:"secret" binding:"required"`
	Notes        string `json:"notes"`
}

type UpdateCredentialRequest struct {
	EndpointURL  string `json:"endpoint_url" binding:"required,url"`
	EndpointPort int    `json:"endpoint_port" binding:"omitempty,min=1,max=65535"`
	Secret       string `json:"secret"` // empty keeps the stored secret
	Notes        string `json:"notes"`
}

type SetEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// CredentialResponse never carries the plaintext secret; SecretPreview is a
// masked rendering.
type CredentialResponse struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	EndpointURL   string     `json:"endpoint_url"`
	EndpointPort  int        `json:"endpoint_port"`
	SecretPreview string     `json:"secret_preview"`
	Enabled       bool       `json:"enabled"`
	UsageCount    int        `json:"usage_count"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	Notes         string     `json:"notes"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type ListCredentialsResponse struct {
	Credentials []CredentialResponse `json:"credentials"`
	Count       int                  `json:"count"`
}
