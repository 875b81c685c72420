package types

import (
	"net/url"
)

// A Worker is a remote build agent.
type Worker struct {
	Address    string `json:"address"`
	Identifier string `json:"identifier"`
}

// NewWorker returns a worker, deriving the identifier from the host
// and port of the address when none is given.
func NewWorker(address, identifier string) Worker {
	if identifier == "" {
		identifier = address
		if u, err := url.Parse(address); err == nil && u.Host != "" {
			identifier = u.Host
		}
	}
	return Worker{Address: address, Identifier: identifier}
}
