package dto

type DeployRequest struct {
	Purpose string            `json:"purpose" binding:"required"`
	Targets []string          `json:"targets" binding:"required,min=1,dive,required"`
	Params  map[string]string `json:"params"`
}

type TargetResultResponse struct {
	Success   bool   `json:"success"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
	CleanupOK bool   `json:"cleanup_ok"`
}

// DeployResponse reports partial success explicitly: callers inspect the
// per-target map rather than a single aggregate flag.
type DeployResponse struct {
	Purpose   string                          `json:"purpose"`
	Succeeded int                             `json:"succeeded"`
	Failed    int                             `json:"failed"`
	Results   map[string]TargetResultResponse `json:"results"`
}
