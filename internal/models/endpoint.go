package models

import "fmt"

const (
	EndpointStateProvisioning = "provisioning"
	EndpointStateReady        = "ready"
)

// Endpoint is the compute attachment for a branch. It appears asynchronously
// after branch creation; a branch without endpoints is not yet queryable.
type Endpoint struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	State    string `json:"state"`
}

func (e Endpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}
