package sqlite

// DDL statement groups executed by the versioned migrations. Timestamps are
// Unix seconds (INTEGER); months are canonical YYYY-MM-01 keys (TEXT);
// booleans are 0/1.

// initialTables is migration v1: the core relational model.
var initialTables = []string{
	`CREATE TABLE IF NOT EXISTS businesses (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL COLLATE NOCASE,
		code TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_businesses_name ON businesses(name)`,

	`CREATE TABLE IF NOT EXISTS sites (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL REFERENCES businesses(id),
		name TEXT NOT NULL,
		code TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		responsible_employee_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sites_business ON sites(business_id, active)`,

	`CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL REFERENCES businesses(id),
		site_id TEXT REFERENCES sites(id),
		full_name TEXT NOT NULL COLLATE NOCASE,
		passport_id TEXT,
		passport_normalized TEXT,
		phone TEXT,
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	// One holder per canonical passport within a business. Partial: employees
	// without a passport are exempt.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_employees_passport
		ON employees(business_id, passport_normalized)
		WHERE passport_normalized IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_employees_site ON employees(business_id, site_id, active)`,
	`CREATE INDEX IF NOT EXISTS idx_employees_name ON employees(business_id, full_name)`,

	`CREATE TABLE IF NOT EXISTS work_cards (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL REFERENCES businesses(id),
		site_id TEXT REFERENCES sites(id),
		employee_id TEXT REFERENCES employees(id),
		processing_month TEXT NOT NULL,
		source TEXT NOT NULL,
		original_filename TEXT NOT NULL DEFAULT '',
		mime_type TEXT NOT NULL DEFAULT '',
		size_bytes INTEGER NOT NULL DEFAULT 0,
		review_status TEXT NOT NULL,
		approved_by TEXT,
		approved_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cards_employee_month
		ON work_cards(business_id, employee_id, processing_month)`,
	`CREATE INDEX IF NOT EXISTS idx_cards_site_month
		ON work_cards(business_id, site_id, processing_month)`,
	`CREATE INDEX IF NOT EXISTS idx_cards_status
		ON work_cards(business_id, review_status, processing_month)`,

	`CREATE TABLE IF NOT EXISTS day_entries (
		id TEXT PRIMARY KEY,
		work_card_id TEXT NOT NULL REFERENCES work_cards(id) ON DELETE CASCADE,
		day_of_month INTEGER NOT NULL CHECK (day_of_month BETWEEN 1 AND 31),
		from_time TEXT,
		to_time TEXT,
		total_hours REAL,
		source TEXT NOT NULL DEFAULT 'EXTRACTED',
		is_valid INTEGER NOT NULL DEFAULT 1,
		validation_errors TEXT,
		updated_by TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (work_card_id, day_of_month)
	)`,

	`CREATE TABLE IF NOT EXISTS extraction_jobs (
		id TEXT PRIMARY KEY,
		work_card_id TEXT NOT NULL UNIQUE REFERENCES work_cards(id) ON DELETE CASCADE,
		status TEXT NOT NULL DEFAULT 'PENDING',
		attempts INTEGER NOT NULL DEFAULT 0,
		lease_owner TEXT,
		lease_acquired_at INTEGER,
		started_at INTEGER,
		finished_at INTEGER,
		mode TEXT NOT NULL DEFAULT 'FULL',
		extracted_employee_name TEXT,
		extracted_passport_id TEXT,
		raw_result TEXT NOT NULL DEFAULT '',
		normalized_result TEXT NOT NULL DEFAULT '',
		matched_employee_id TEXT,
		match_method TEXT,
		match_confidence REAL,
		model_name TEXT,
		pipeline_version TEXT,
		last_error TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_pending
		ON extraction_jobs(status, created_at)`,
}

// uploadAccessTables is migration v2: tokenized portal upload links.
var uploadAccessTables = []string{
	`CREATE TABLE IF NOT EXISTS upload_access_requests (
		id TEXT PRIMARY KEY,
		token TEXT NOT NULL,
		business_id TEXT NOT NULL REFERENCES businesses(id),
		site_id TEXT NOT NULL REFERENCES sites(id),
		employee_id TEXT NOT NULL REFERENCES employees(id),
		processing_month TEXT NOT NULL,
		created_by TEXT,
		expires_at INTEGER,
		last_accessed_at INTEGER,
		active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_upload_access_token
		ON upload_access_requests(token)`,
	`CREATE INDEX IF NOT EXISTS idx_upload_access_business
		ON upload_access_requests(business_id, active)`,
}

// queueIndexes is migration v3: covering indexes for the worker hot paths,
// added once the polling claim loop and the stale sweep were profiled.
var queueIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_jobs_stale
		ON extraction_jobs(status, lease_acquired_at)
		WHERE lease_acquired_at IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_terminal
		ON extraction_jobs(status, finished_at)
		WHERE finished_at IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_entries_card_day
		ON day_entries(work_card_id, day_of_month)`,
}
