package httpx

type RunResponse struct {
	RunID     string   `json:"run_id"`
	Status    string   `json:"status"`
	Step      string   `json:"step,omitempty"`
	Detail    string   `json:"detail,omitempty"`
	Errors    []string `json:"errors,omitempty"`
	TraceID   string   `json:"trace_id,omitempty"`
	UpdatedAt string   `json:"updated_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
