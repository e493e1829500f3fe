// Package response defines the values handlers produce as the answer to a request.
package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
)

const logPrefix = "response:response"

// Response is a terminal answer to a request. The dispatch core never inspects
// the payload, only that a value is one.
type Response interface {
	StatusCode() int
	ContentType() string
	Body() []byte
}

// StringResponse is a response with a textual body.
type StringResponse struct {
	status      int
	body        string
	contentType string
}

// NewString creates a 200 response with the given body and content type.
func NewString(body, contentType string) *StringResponse {
	if contentType == "" {
		contentType = "text/plain"
	}
	return &StringResponse{status: http.StatusOK, body: body, contentType: contentType}
}

// WithStatus sets the status code and returns the response.
func (r *StringResponse) WithStatus(status int) *StringResponse {
	r.status = status
	return r
}

func (r *StringResponse) StatusCode() int     { return r.status }
func (r *StringResponse) ContentType() string { return r.contentType }
func (r *StringResponse) Body() []byte        { return []byte(r.body) }

// String returns the body.
func (r *StringResponse) String() string { return r.body }

// JSONResponse is a response whose body is the JSON encoding of a value.
type JSONResponse struct {
	status int
	data   []byte
}

// NewJSON encodes v and creates a 200 application/json response.
func NewJSON(v interface{}) (*JSONResponse, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode json body: %w", logPrefix, err)
	}
	return &JSONResponse{status: http.StatusOK, data: data}, nil
}

// WithStatus sets the status code and returns the response.
func (r *JSONResponse) WithStatus(status int) *JSONResponse {
	r.status = status
	return r
}

func (r *JSONResponse) StatusCode() int     { return r.status }
func (r *JSONResponse) ContentType() string { return "application/json" }
func (r *JSONResponse) Body() []byte        { return r.data }

// Raised carries a response through an error return. Returning Raise(r) from a
// script or handler ends the request with r; it is not treated as a failure.
type Raised struct {
	Response Response
}

func (e *Raised) Error() string {
	if IsNil(e.Response) {
		return "response raised without a response"
	}
	return "response raised with status " + strconv.Itoa(e.Response.StatusCode())
}

// Raise wraps r so that it can be returned as an error.
func Raise(r Response) error {
	return &Raised{Response: r}
}

// FromError returns the raised response carried by err, if any. A raise of a
// nil response carries nothing.
func FromError(err error) (Response, bool) {
	var raised *Raised
	if errors.As(err, &raised) && !IsNil(raised.Response) {
		return raised.Response, true
	}
	return nil, false
}

// IsRaised reports whether err is a raise, with or without a response.
func IsRaised(err error) bool {
	var raised *Raised
	return errors.As(err, &raised)
}

// IsNil reports whether r is nil or holds a nil pointer, map, slice or func.
func IsNil(r Response) bool {
	if r == nil {
		return true
	}
	v := reflect.ValueOf(r)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// Write sends r to w.
func Write(w http.ResponseWriter, r Response) error {
	w.Header().Set("Content-Type", r.ContentType())
	status := r.StatusCode()
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if _, err := w.Write(r.Body()); err != nil {
		return fmt.Errorf("%s - failed to write body: %w", logPrefix, err)
	}
	return nil
}
