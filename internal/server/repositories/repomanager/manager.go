package repomanager

import (
	"context"
	"database/sql"

	"github.com/dpetukhov/tokengate/internal/dbx"
	"github.com/dpetukhov/tokengate/internal/server/repositories/refreshtokens"
	"github.com/dpetukhov/tokengate/internal/server/repositories/resettokens"
	"github.com/dpetukhov/tokengate/internal/server/repositories/users"
)

// RepositoryManager vends repository implementations bound to a DBTX, which
// lets services run the same repository code inside or outside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	ResetTokens(db dbx.DBTX) resettokens.Repository
}
