package postgres

// SQL for the objects table. Paths are the full bucket/partition/file key.

const (
	queryGetObject = `
		SELECT body
		FROM objects
		WHERE path = $1
	`

	// queryPutObject overwrites in place; summaries are replaced on every recompute.
	queryPutObject = `
		INSERT INTO objects (path, body, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (path) DO UPDATE SET
			body       = EXCLUDED.body,
			updated_at = EXCLUDED.updated_at
	`

	// queryListObjects escapes LIKE wildcards in the prefix on the Go side.
	queryListObjects = `
		SELECT path
		FROM objects
		WHERE path LIKE $1 ESCAPE '\'
		ORDER BY path ASC
	`

	queryObjectsTableExists = `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_name = 'objects'
		)
	`
)
