package status

import (
	"database/sql"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/types"
)

// Store is the persistent record of package status, events, and build
// logs for one repository identity.  Writes go through a single
// connection so they are linearized; reads use a separate pool and
// see the last committed state.
type Store struct {
	l hclog.Logger

	db  *sql.DB
	rdb *sql.DB

	repo types.RepositoryID
	path string
}

// A migration moves the schema forward by one version.
type migration struct {
	name  string
	stmts []string
}
