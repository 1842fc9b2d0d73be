package types

// Response represents the base HTTP response structure. Error responses
// serialize as an {"error": "..."} body; the status code and machine-readable
// error code travel in the HTTP status line and the X-Error-Code header.
type Response struct {
	StatusCode int    `json:"-"`
	ErrorCode  string `json:"-"`
	Error      string `json:"error,omitempty"`
}

// GetStatusCode returns the HTTP status code for the response.
func (r Response) GetStatusCode() int {
	return r.StatusCode
}

// GetErrorCode returns the machine-readable error code for the response, if
// any.
func (r Response) GetErrorCode() string {
	return r.ErrorCode
}
