package datastore

// Relational layout. is_latest invariants are enforced at the storage
// boundary with partial unique indexes: at most one active rule pack, one
// latest scan per repository, one latest audit per finding.
const schema = `
CREATE TABLE IF NOT EXISTS rule_allow_list (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	description TEXT,
	regexes TEXT,
	paths TEXT,
	commits TEXT,
	stop_words TEXT
);

CREATE TABLE IF NOT EXISTS rule_pack (
	version TEXT PRIMARY KEY,
	global_allow_list INTEGER REFERENCES rule_allow_list (id),
	active BOOLEAN NOT NULL DEFAULT 0,
	created DATETIME NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_rule_pack_active
	ON rule_pack (active) WHERE active = 1;

CREATE TABLE IF NOT EXISTS rules (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	rule_pack TEXT NOT NULL REFERENCES rule_pack (version),
	allow_list INTEGER REFERENCES rule_allow_list (id),
	rule_name TEXT NOT NULL,
	description TEXT,
	entropy REAL,
	secret_group INTEGER,
	regex TEXT,
	path TEXT,
	keywords TEXT,
	UNIQUE (rule_pack, rule_name)
);

CREATE TABLE IF NOT EXISTS tag (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS rule_tag (
	rule_id INTEGER NOT NULL REFERENCES rules (id),
	tag_id INTEGER NOT NULL REFERENCES tag (id),
	PRIMARY KEY (rule_id, tag_id)
);

CREATE TABLE IF NOT EXISTS vcs_instance (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	provider_type TEXT NOT NULL,
	scheme TEXT NOT NULL,
	hostname TEXT NOT NULL,
	port INTEGER,
	organization TEXT,
	vcs_scope TEXT,
	exceptions TEXT
);

CREATE TABLE IF NOT EXISTS repository (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	vcs_instance INTEGER NOT NULL REFERENCES vcs_instance (id),
	project_key TEXT NOT NULL,
	repository_id TEXT NOT NULL,
	repository_name TEXT NOT NULL,
	repository_url TEXT,
	deleted_at DATETIME,
	UNIQUE (vcs_instance, project_key, repository_id)
);

CREATE TABLE IF NOT EXISTS scan (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	rule_pack TEXT NOT NULL REFERENCES rule_pack (version),
	scan_type TEXT NOT NULL CHECK (scan_type IN ('BASE', 'INCREMENTAL')),
	last_scanned_commit TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	increment_number INTEGER NOT NULL DEFAULT 0,
	repository_id INTEGER NOT NULL REFERENCES repository (id),
	is_latest BOOLEAN NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_scan_latest_per_repository
	ON scan (repository_id) WHERE is_latest = 1;
CREATE INDEX IF NOT EXISTS ix_scan_repository ON scan (repository_id);

CREATE TABLE IF NOT EXISTS finding (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	repository_id INTEGER NOT NULL REFERENCES repository (id),
	rule_name TEXT NOT NULL,
	file_path TEXT NOT NULL,
	line_number INTEGER NOT NULL DEFAULT 0,
	column_start INTEGER NOT NULL DEFAULT 0,
	column_end INTEGER NOT NULL DEFAULT 0,
	commit_id TEXT NOT NULL DEFAULT '',
	commit_message TEXT,
	commit_timestamp DATETIME,
	author TEXT,
	email TEXT,
	event_sent_on DATETIME,
	is_dir_scan BOOLEAN NOT NULL DEFAULT 0,
	UNIQUE (repository_id, rule_name, file_path, line_number, commit_id, column_start, column_end)
);
CREATE INDEX IF NOT EXISTS ix_finding_repository ON finding (repository_id);
CREATE INDEX IF NOT EXISTS ix_finding_rule_name ON finding (rule_name);

CREATE TABLE IF NOT EXISTS scan_finding (
	scan_id INTEGER NOT NULL REFERENCES scan (id),
	finding_id INTEGER NOT NULL REFERENCES finding (id),
	PRIMARY KEY (scan_id, finding_id)
);
CREATE INDEX IF NOT EXISTS ix_scan_finding_finding ON scan_finding (finding_id);

CREATE TABLE IF NOT EXISTS audit (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	finding_id INTEGER NOT NULL REFERENCES finding (id),
	status TEXT NOT NULL,
	auditor TEXT NOT NULL,
	comment TEXT,
	timestamp DATETIME NOT NULL,
	is_latest BOOLEAN NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_audit_latest_per_finding
	ON audit (finding_id) WHERE is_latest = 1;
CREATE INDEX IF NOT EXISTS ix_audit_finding ON audit (finding_id);
`

// InitSchema creates all tables and indexes if they don't already exist.
func (s *Store) InitSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		s.logger.Error().Err(err).Msg("Failed to initialize schema")
		return err
	}
	s.logger.Debug().Msg("Schema initialized")
	return nil
}
