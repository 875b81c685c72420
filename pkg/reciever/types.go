package reciever

import (
	"context"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Adder incorporates package files into a repository database.
// repo.Tool satisfies it.
type Adder interface {
	Add(ctx context.Context, files []string) ([]string, error)
}

// Reciever takes built package artifacts via HTTP and incorporates
// them into the repository of their architecture.
type Reciever struct {
	l       hclog.Logger
	staging string

	mu    sync.Mutex
	repos map[string]Adder

	// published is called with the files each accepted package
	// changed, so they can be mirrored.
	published func(ctx context.Context, arch string, files []string)
}

// Option configures a Reciever.
type Option func(*Reciever)
