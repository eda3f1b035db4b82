package dto

import "time"

type ServerResponse struct {
	ID             string     `json:"id"`
	TargetID       string     `json:"target_id"`
	IPAddress      string     `json:"ip_address,omitempty"`
	OSName         string     `json:"os_name,omitempty"`
	OSVersion      string     `json:"os_version,omitempty"`
	LastDeployedAt *time.Time `json:"last_deployed_at,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type ListServersResponse struct {
	Servers []ServerResponse `json:"servers"`
	Count   int              `json:"count"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type SweepResponse struct {
	Removed int `json:"removed"`
}
