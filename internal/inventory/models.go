package inventory

import "time"

// Server is an inventory record for a managed target. Records are upserted
// after successful deployments and browsable through the API.
type Server struct {
	ID             string
	TargetID       string
	IPAddress      string
	OSName         string
	OSVersion      string
	LastDeployedAt *time.Time
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
