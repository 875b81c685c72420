package status

// migrations are applied in order and never edited once released.
// The index of a migration plus one is the schema version it
// produces.
var migrations = []migration{
	{
		name: "initial",
		stmts: []string{
			`CREATE TABLE packages (
				package_base TEXT NOT NULL,
				version      TEXT NOT NULL,
				source       TEXT NOT NULL,
				packages     TEXT NOT NULL,
				packager     TEXT NOT NULL DEFAULT '',
				repository   TEXT NOT NULL,
				architecture TEXT NOT NULL,
				UNIQUE (package_base, architecture, repository)
			)`,
			`CREATE TABLE package_statuses (
				package_base TEXT NOT NULL,
				status       TEXT NOT NULL,
				last_updated INTEGER NOT NULL,
				repository   TEXT NOT NULL,
				architecture TEXT NOT NULL,
				UNIQUE (package_base, architecture, repository)
			)`,
			`CREATE TABLE logs (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				package_base TEXT NOT NULL,
				version      TEXT NOT NULL,
				process_id   TEXT NOT NULL,
				created      INTEGER NOT NULL,
				record       TEXT NOT NULL,
				repository   TEXT NOT NULL,
				architecture TEXT NOT NULL
			)`,
			`CREATE INDEX logs_package_base_version ON logs (package_base, version)`,
		},
	},
	{
		name: "events",
		stmts: []string{
			`CREATE TABLE events (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				created      INTEGER NOT NULL,
				event        TEXT NOT NULL,
				object_id    TEXT NOT NULL DEFAULT '',
				message      TEXT NOT NULL DEFAULT '',
				data         TEXT,
				repository   TEXT NOT NULL,
				architecture TEXT NOT NULL
			)`,
			`CREATE INDEX events_created_repository_event_object_id
				ON events (created, repository, architecture, event, object_id)`,
		},
	},
	{
		name: "workers",
		stmts: []string{
			`CREATE TABLE workers (
				identifier TEXT NOT NULL PRIMARY KEY,
				address    TEXT NOT NULL,
				last_seen  INTEGER NOT NULL
			)`,
		},
	},
	{
		name: "logs process index",
		stmts: []string{
			`CREATE INDEX logs_package_base_process_id ON logs (package_base, process_id)`,
		},
	},
}

// SchemaVersion is the version a freshly migrated store reports.
func SchemaVersion() int {
	return len(migrations)
}
