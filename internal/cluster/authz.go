package cluster

import "github.com/alvarosanz/loadit/internal/loaditerr"

// Operation names central authorizes, per spec.md §4.G's matrix.
const (
	OpQuery              = "query"
	OpHeader             = "header"
	OpListDatabases      = "list_databases"
	OpCheck              = "check"
	OpDownloadAttachment = "download_attachment"
	OpCreateDatabase     = "create_database"
	OpNewBatch           = "new_batch"
	OpRestoreDatabase    = "restore_database"
	OpRemoveDatabase     = "remove_database"
	OpAddAttachment      = "add_attachment"
	OpRemoveAttachment   = "remove_attachment"
	OpShutdown           = "shutdown"
	OpSessions           = "sessions"
	OpSyncDatabases      = "sync_databases"
	OpAddWorker          = "add_worker"
	OpRemoveWorker       = "remove_worker"
	OpWorkerRelease      = "worker_release"
)

// sessionOnlyOps require nothing beyond an authenticated session.
var sessionOnlyOps = map[string]bool{
	OpQuery: true, OpHeader: true, OpListDatabases: true, OpCheck: true, OpDownloadAttachment: true,
}

// databaseScopedOps require database membership in session.Databases.
var databaseScopedOps = map[string]bool{
	OpNewBatch: true, OpRestoreDatabase: true, OpRemoveDatabase: true, OpAddAttachment: true, OpRemoveAttachment: true,
}

// adminOnlyOps require session.IsAdmin regardless of database.
var adminOnlyOps = map[string]bool{
	OpShutdown: true, OpSessions: true, OpSyncDatabases: true, OpAddWorker: true, OpRemoveWorker: true, OpWorkerRelease: true,
}

// Authorize implements spec.md §4.G's non-admin authorization matrix:
// admins pass every check; everyone else needs the operation-specific grant
// (an existing session, create_allowed, or database membership) and never
// an admin-only operation.
func Authorize(sess Session, op, database string) error {
	if sess.IsAdmin {
		return nil
	}

	if adminOnlyOps[op] {
		return loaditerr.Newf(loaditerr.KindPermission, "operation %q requires an admin session", op)
	}
	if sessionOnlyOps[op] {
		return nil
	}
	if op == OpCreateDatabase {
		if !sess.CreateAllowed {
			return loaditerr.New(loaditerr.KindPermission, "session is not allowed to create databases")
		}
		return nil
	}
	if databaseScopedOps[op] {
		if !sess.allows(database) {
			return loaditerr.Newf(loaditerr.KindPermission, "session has no access to database %q", database)
		}
		return nil
	}
	return loaditerr.Newf(loaditerr.KindPermission, "unknown operation %q", op)
}
