package controlplane

import (
	"errors"
	"fmt"
)

// APIError is a non-2xx response from the control-plane API.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("control plane: %s (%s, http %d)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("control plane: %s (http %d)", e.Message, e.Status)
}

// IsNotFound reports whether err is a 404 from the control plane.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == 404
}
