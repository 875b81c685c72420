package types

import (
	"strings"
)

// A RepositoryID is the architecture and name pair that scopes every
// stored record and every build operation.
type RepositoryID struct {
	Architecture string
	Name         string
}

func (id RepositoryID) String() string {
	return id.Name + ":" + id.Architecture
}

// Empty reports whether either half of the identity is unset.
func (id RepositoryID) Empty() bool {
	return id.Architecture == "" || id.Name == ""
}

// RepositoryIDFromString returns a repository identity from its
// string representation.
func RepositoryIDFromString(s string) RepositoryID {
	p := strings.SplitN(s, ":", 2)
	if len(p) != 2 {
		return RepositoryID{Name: p[0]}
	}
	return RepositoryID{Name: p[0], Architecture: p[1]}
}

// NewRepositoryID returns an identity and encapsulates the formatting
// logic reversed by the RepositoryIDFromString operation.
func NewRepositoryID(name, architecture string) RepositoryID {
	return RepositoryID{Architecture: architecture, Name: name}
}
