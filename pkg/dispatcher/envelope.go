package dispatcher

// DispatchRequest is the COMMS envelope asking the host to run a script.
type DispatchRequest struct {
	ID     string                 `json:"id"`
	Script string                 `json:"script"`
	Args   []string               `json:"args,omitempty"`
	Vars   map[string]interface{} `json:"vars,omitempty"`
	Ctx    *InvocationContext     `json:"ctx,omitempty"`
}

// DispatchResponse is the envelope answered for a DispatchRequest. Body holds
// the response body as text; JSON responses carry the encoded document.
type DispatchResponse struct {
	ID          string       `json:"id"`
	Ok          bool         `json:"ok"`
	Status      int          `json:"status"`
	ContentType string       `json:"contentType,omitempty"`
	Body        string       `json:"body,omitempty"`
	Error       *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Retryable bool        `json:"retryable"`
}

// InvocationContext carries caller metadata. It is bound into the script
// context as "invocation", so handlers can ask for *InvocationContext.
type InvocationContext struct {
	TenantID      string            `json:"tenantId,omitempty"`
	UserID        string            `json:"userId,omitempty"`
	RequestID     string            `json:"requestId,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Env           string            `json:"env,omitempty"`
	Features      map[string]bool   `json:"features,omitempty"`
	Roles         []string          `json:"roles,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	TimeoutMs     int64             `json:"timeoutMs,omitempty"`
}
