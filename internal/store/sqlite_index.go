package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // sqlite driver

	"github.com/yeseh/cortex/internal/memory"
)

// currentSchemaVersion is stored in SQLite's user_version pragma.
// Increment whenever the schema changes; a mismatch triggers a full
// reindex on open so stale layouts are never read.
const currentSchemaVersion = 1

// sqliteBusyTimeout is how long SQLite waits on a locked database before
// returning SQLITE_BUSY.
const sqliteBusyTimeout = 10000 // milliseconds

// sqliteIndex is the preferred index layout: one cortex.db at the store
// root, opened in WAL mode. Surgical updates and queries are single
// statements; reindex rebuilds inside one transaction.
type sqliteIndex struct {
	root string
	db   *sql.DB
}

func openSQLiteIndex(root string) (*sqliteIndex, error) {
	mkdirErr := os.MkdirAll(root, dirPerms)
	if mkdirErr != nil {
		return nil, fmt.Errorf("open index: create store root: %w", mkdirErr)
	}

	db, openErr := sql.Open("sqlite", filepath.Join(root, sqliteDBName))
	if openErr != nil {
		return nil, fmt.Errorf("open index: %w", openErr)
	}

	pragmaErr := applyPragmas(db)
	if pragmaErr != nil {
		_ = db.Close()

		return nil, pragmaErr
	}

	index := &sqliteIndex{root: root, db: db}

	schemaErr := index.ensureSchema()
	if schemaErr != nil {
		_ = db.Close()

		return nil, schemaErr
	}

	return index, nil
}

// applyPragmas configures the connection in a single batch statement.
func applyPragmas(db *sql.DB) error {
	_, err := db.Exec(fmt.Sprintf(`
		PRAGMA busy_timeout = %d;
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
		PRAGMA temp_store = MEMORY;
	`, sqliteBusyTimeout))
	if err != nil {
		return fmt.Errorf("apply pragmas: %w", err)
	}

	return nil
}

func (s *sqliteIndex) ensureSchema() error {
	var version int

	scanErr := s.db.QueryRow("PRAGMA user_version").Scan(&version)
	if scanErr != nil {
		return fmt.Errorf("read user_version: %w", scanErr)
	}

	if version == currentSchemaVersion {
		return nil
	}

	tx, beginErr := s.db.Begin()
	if beginErr != nil {
		return fmt.Errorf("begin schema txn: %w", beginErr)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	schemaErr := dropAndRecreateSchema(tx)
	if schemaErr != nil {
		return schemaErr
	}

	commitErr := tx.Commit()
	if commitErr != nil {
		return fmt.Errorf("commit schema txn: %w", commitErr)
	}

	committed = true

	return nil
}

// dropAndRecreateSchema rebuilds the index tables and indices.
func dropAndRecreateSchema(tx *sql.Tx) error {
	statements := []string{
		"DROP TABLE IF EXISTS memories",
		"DROP TABLE IF EXISTS categories",
		`CREATE TABLE memories (
			path TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			tags_json TEXT NOT NULL DEFAULT '[]',
			token_estimate INTEGER NOT NULL DEFAULT 0,
			source TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER,
			updated_at_ms INTEGER,
			expires_at_ms INTEGER,
			summary TEXT
		) WITHOUT ROWID`,
		`CREATE TABLE categories (
			path TEXT PRIMARY KEY,
			parent_path TEXT NOT NULL,
			description TEXT
		) WITHOUT ROWID`,
		"CREATE INDEX idx_memories_category ON memories(category)",
		"CREATE INDEX idx_memories_updated ON memories(updated_at_ms)",
		"CREATE INDEX idx_categories_parent ON categories(parent_path)",
		fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion),
	}

	for i, stmt := range statements {
		_, execErr := tx.Exec(stmt)
		if execErr != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, execErr)
		}
	}

	return nil
}

// Close releases the database handle.
func (s *sqliteIndex) Close() error {
	if s.db == nil {
		return nil
	}

	closeErr := s.db.Close()
	s.db = nil

	if closeErr != nil {
		return fmt.Errorf("close index: %w", closeErr)
	}

	return nil
}

// Load reads the projection for one category.
func (s *sqliteIndex) Load(category memory.CategoryPath) (CategoryIndex, error) {
	var index CategoryIndex

	rows, queryErr := s.db.Query(`
		SELECT path, tags_json, token_estimate, source, created_at_ms,
			updated_at_ms, expires_at_ms, summary
		FROM memories WHERE category = ? ORDER BY path`, category.String())
	if queryErr != nil {
		return CategoryIndex{}, fmt.Errorf("load index %s: %w", category, queryErr)
	}

	defer func() { _ = rows.Close() }()

	for rows.Next() {
		entry, scanErr := scanMemoryRow(rows)
		if scanErr != nil {
			return CategoryIndex{}, fmt.Errorf("load index %s: %w", category, scanErr)
		}

		index.Memories = append(index.Memories, entry)
	}

	rowsErr := rows.Err()
	if rowsErr != nil {
		return CategoryIndex{}, fmt.Errorf("load index %s: %w", category, rowsErr)
	}

	subs, subErr := s.loadSubcategories(category)
	if subErr != nil {
		return CategoryIndex{}, subErr
	}

	index.Subcategories = subs

	return index, nil
}

func (s *sqliteIndex) loadSubcategories(category memory.CategoryPath) ([]SubcategoryEntry, error) {
	rows, queryErr := s.db.Query(`
		SELECT c.path, c.description,
			(SELECT COUNT(*) FROM memories m
				WHERE m.category = c.path OR m.category LIKE c.path || '/%')
		FROM categories c WHERE c.parent_path = ? ORDER BY c.path`, category.String())
	if queryErr != nil {
		return nil, fmt.Errorf("load subcategories %s: %w", category, queryErr)
	}

	defer func() { _ = rows.Close() }()

	var subs []SubcategoryEntry

	for rows.Next() {
		var (
			pathText    string
			description sql.NullString
			count       int
		)

		scanErr := rows.Scan(&pathText, &description, &count)
		if scanErr != nil {
			return nil, fmt.Errorf("load subcategories %s: %w", category, scanErr)
		}

		subPath, parseErr := memory.ParseCategoryPath(pathText)
		if parseErr != nil {
			return nil, fmt.Errorf("%w: category row %q: %v", ErrIndexCorrupt, pathText, parseErr)
		}

		subs = append(subs, SubcategoryEntry{
			Path:        subPath,
			MemoryCount: count,
			Description: description.String,
		})
	}

	rowsErr := rows.Err()
	if rowsErr != nil {
		return nil, fmt.Errorf("load subcategories %s: %w", category, rowsErr)
	}

	return subs, nil
}

// Write replaces the projection for one category: its direct memory rows
// and its direct subcategory rows.
func (s *sqliteIndex) Write(category memory.CategoryPath, index CategoryIndex) error {
	tx, beginErr := s.db.Begin()
	if beginErr != nil {
		return fmt.Errorf("write index %s: %w", category, beginErr)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	_, execErr := tx.Exec("DELETE FROM memories WHERE category = ?", category.String())
	if execErr != nil {
		return fmt.Errorf("write index %s: %w", category, execErr)
	}

	_, execErr = tx.Exec("DELETE FROM categories WHERE parent_path = ?", category.String())
	if execErr != nil {
		return fmt.Errorf("write index %s: %w", category, execErr)
	}

	for i := range index.Memories {
		insertErr := insertMemoryRow(tx, &index.Memories[i])
		if insertErr != nil {
			return fmt.Errorf("write index %s: %w", category, insertErr)
		}
	}

	for _, sub := range index.Subcategories {
		insertErr := insertCategoryRow(tx, sub.Path, sub.Description)
		if insertErr != nil {
			return fmt.Errorf("write index %s: %w", category, insertErr)
		}
	}

	commitErr := tx.Commit()
	if commitErr != nil {
		return fmt.Errorf("write index %s: %w", category, commitErr)
	}

	committed = true

	return nil
}

// UpdateAfterMemoryWrite upserts the memory's row and, when
// opts.CreateWhenMissing is set, ensures each ancestor category appears in
// the categories table. Descriptions are never touched:
// the insert is OR IGNORE and the upsert excludes the description column.
func (s *sqliteIndex) UpdateAfterMemoryWrite(path memory.MemoryPath, m *memory.Memory, opts UpdateOptions) error {
	tx, beginErr := s.db.Begin()
	if beginErr != nil {
		return fmt.Errorf("update index %s: %w", path, beginErr)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	entry := entryFromMemory(path, m)

	upsertErr := insertMemoryRow(tx, &entry)
	if upsertErr != nil {
		return fmt.Errorf("update index %s: %w", path, upsertErr)
	}

	if opts.CreateWhenMissing {
		category := path.Category()
		if !category.IsRoot() {
			chain := append(category.Ancestors(), category)

			for _, link := range chain {
				_, execErr := tx.Exec(`
					INSERT OR IGNORE INTO categories (path, parent_path, description)
					VALUES (?, ?, NULL)`, link.String(), link.Parent().String())
				if execErr != nil {
					return fmt.Errorf("update index %s: %w", path, execErr)
				}
			}
		}
	}

	commitErr := tx.Commit()
	if commitErr != nil {
		return fmt.Errorf("update index %s: %w", path, commitErr)
	}

	committed = true

	return nil
}

// RemoveEntry deletes the memory row, then prunes category rows that are
// left without memories or child categories, walking up to the root.
func (s *sqliteIndex) RemoveEntry(path memory.MemoryPath) error {
	tx, beginErr := s.db.Begin()
	if beginErr != nil {
		return fmt.Errorf("remove index entry %s: %w", path, beginErr)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	_, execErr := tx.Exec("DELETE FROM memories WHERE path = ?", path.String())
	if execErr != nil {
		return fmt.Errorf("remove index entry %s: %w", path, execErr)
	}

	pruneErr := pruneEmptyCategories(tx, path.Category())
	if pruneErr != nil {
		return fmt.Errorf("remove index entry %s: %w", path, pruneErr)
	}

	commitErr := tx.Commit()
	if commitErr != nil {
		return fmt.Errorf("remove index entry %s: %w", path, commitErr)
	}

	committed = true

	return nil
}

// pruneEmptyCategories removes category rows with no memories in their
// subtree and no child category rows, from category up to the root.
func pruneEmptyCategories(tx *sql.Tx, category memory.CategoryPath) error {
	for !category.IsRoot() {
		var memoryCount, childCount int

		countErr := tx.QueryRow(`
			SELECT COUNT(*) FROM memories
			WHERE category = ? OR category LIKE ? || '/%'`,
			category.String(), category.String()).Scan(&memoryCount)
		if countErr != nil {
			return countErr
		}

		countErr = tx.QueryRow(
			"SELECT COUNT(*) FROM categories WHERE parent_path = ?",
			category.String()).Scan(&childCount)
		if countErr != nil {
			return countErr
		}

		if memoryCount > 0 || childCount > 0 {
			return nil
		}

		_, deleteErr := tx.Exec("DELETE FROM categories WHERE path = ?", category.String())
		if deleteErr != nil {
			return deleteErr
		}

		category = category.Parent()
	}

	return nil
}

// RemoveCategory drops the projection for category and its whole subtree.
func (s *sqliteIndex) RemoveCategory(category memory.CategoryPath) error {
	if category.IsRoot() {
		return errors.New("remove category: refusing to drop the root projection")
	}

	tx, beginErr := s.db.Begin()
	if beginErr != nil {
		return fmt.Errorf("remove category %s: %w", category, beginErr)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	key := category.String()

	_, execErr := tx.Exec(
		"DELETE FROM memories WHERE category = ? OR category LIKE ? || '/%'", key, key)
	if execErr != nil {
		return fmt.Errorf("remove category %s: %w", category, execErr)
	}

	_, execErr = tx.Exec(
		"DELETE FROM categories WHERE path = ? OR path LIKE ? || '/%'", key, key)
	if execErr != nil {
		return fmt.Errorf("remove category %s: %w", category, execErr)
	}

	pruneErr := pruneEmptyCategories(tx, category.Parent())
	if pruneErr != nil {
		return fmt.Errorf("remove category %s: %w", category, pruneErr)
	}

	commitErr := tx.Commit()
	if commitErr != nil {
		return fmt.Errorf("remove category %s: %w", category, commitErr)
	}

	committed = true

	return nil
}

// EnsureCategory inserts category rows for the path and its ancestors,
// leaving existing rows (and their descriptions) alone.
func (s *sqliteIndex) EnsureCategory(category memory.CategoryPath) error {
	if category.IsRoot() {
		return nil
	}

	tx, beginErr := s.db.Begin()
	if beginErr != nil {
		return fmt.Errorf("ensure category %s: %w", category, beginErr)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	chain := append(category.Ancestors(), category)

	for _, link := range chain {
		_, execErr := tx.Exec(`
			INSERT OR IGNORE INTO categories (path, parent_path, description)
			VALUES (?, ?, NULL)`, link.String(), link.Parent().String())
		if execErr != nil {
			return fmt.Errorf("ensure category %s: %w", category, execErr)
		}
	}

	commitErr := tx.Commit()
	if commitErr != nil {
		return fmt.Errorf("ensure category %s: %w", category, commitErr)
	}

	committed = true

	return nil
}

// SetDescription upserts the category row with the new description,
// creating the ancestor chain when absent.
func (s *sqliteIndex) SetDescription(category memory.CategoryPath, description string) error {
	if category.IsRoot() {
		return errors.New("set description: the root category has no parent entry")
	}

	tx, beginErr := s.db.Begin()
	if beginErr != nil {
		return fmt.Errorf("set description %s: %w", category, beginErr)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	for _, link := range category.Ancestors() {
		_, execErr := tx.Exec(`
			INSERT OR IGNORE INTO categories (path, parent_path, description)
			VALUES (?, ?, NULL)`, link.String(), link.Parent().String())
		if execErr != nil {
			return fmt.Errorf("set description %s: %w", category, execErr)
		}
	}

	_, execErr := tx.Exec(`
		INSERT INTO categories (path, parent_path, description) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET description = excluded.description`,
		category.String(), category.Parent().String(), nullString(description))
	if execErr != nil {
		return fmt.Errorf("set description %s: %w", category, execErr)
	}

	commitErr := tx.Commit()
	if commitErr != nil {
		return fmt.Errorf("set description %s: %w", category, commitErr)
	}

	committed = true

	return nil
}

// Query pushes the category restriction into SQL and applies the rest of
// the filter in applyFilter so both layouts share exact semantics.
func (s *sqliteIndex) Query(filter Filter) ([]IndexEntry, error) {
	query := `
		SELECT path, tags_json, token_estimate, source, created_at_ms,
			updated_at_ms, expires_at_ms, summary
		FROM memories`

	var args []any

	if filter.Category != nil && !filter.Category.IsRoot() {
		query += " WHERE category = ? OR category LIKE ? || '/%'"

		key := filter.Category.String()
		args = append(args, key, key)
	}

	query += " ORDER BY path"

	rows, queryErr := s.db.Query(query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("query index: %w", queryErr)
	}

	defer func() { _ = rows.Close() }()

	var entries []IndexEntry

	for rows.Next() {
		entry, scanErr := scanMemoryRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("query index: %w", scanErr)
		}

		entries = append(entries, entry)
	}

	rowsErr := rows.Err()
	if rowsErr != nil {
		return nil, fmt.Errorf("query index: %w", rowsErr)
	}

	return applyFilter(entries, filter), nil
}

// Reindex rebuilds the projection under scope from the filesystem inside a
// single transaction. Descriptions of surviving categories are preserved;
// everything else derived is replaced.
func (s *sqliteIndex) Reindex(scope memory.CategoryPath) (ReindexResult, error) {
	scanned, scanErr := scanMemories(s.root, scope)
	if scanErr != nil {
		return ReindexResult{}, fmt.Errorf("reindex: %w", scanErr)
	}

	tree := buildTree(scanned.memories)

	descriptions, descErr := s.descriptionsUnder(scope)
	if descErr != nil {
		return ReindexResult{}, fmt.Errorf("reindex: %w", descErr)
	}

	tx, beginErr := s.db.Begin()
	if beginErr != nil {
		return ReindexResult{}, fmt.Errorf("reindex: %w", beginErr)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	deleteErr := deleteScope(tx, scope)
	if deleteErr != nil {
		return ReindexResult{}, fmt.Errorf("reindex: %w", deleteErr)
	}

	indexed := 0

	for key, index := range tree.indexes {
		for i := range index.Memories {
			if !inScope(index.Memories[i].Path.Category(), scope) {
				continue
			}

			insertErr := insertMemoryRow(tx, &index.Memories[i])
			if insertErr != nil {
				return ReindexResult{}, fmt.Errorf("reindex: %w", insertErr)
			}

			indexed++
		}

		if key == rootKey {
			continue
		}

		categoryPath, parseErr := memory.ParseCategoryPath(key)
		if parseErr != nil {
			return ReindexResult{}, fmt.Errorf("reindex: %w", parseErr)
		}

		if !inScope(categoryPath, scope) {
			continue
		}

		insertErr := insertCategoryRow(tx, categoryPath, descriptions[key])
		if insertErr != nil {
			return ReindexResult{}, fmt.Errorf("reindex: %w", insertErr)
		}
	}

	commitErr := tx.Commit()
	if commitErr != nil {
		return ReindexResult{}, fmt.Errorf("reindex: %w", commitErr)
	}

	committed = true

	return ReindexResult{Indexed: indexed, Warnings: scanned.warnings}, nil
}

func (s *sqliteIndex) descriptionsUnder(scope memory.CategoryPath) (map[string]string, error) {
	query := "SELECT path, description FROM categories WHERE description IS NOT NULL"

	var args []any

	if !scope.IsRoot() {
		query += " AND (path = ? OR path LIKE ? || '/%')"

		key := scope.String()
		args = append(args, key, key)
	}

	rows, queryErr := s.db.Query(query, args...)
	if queryErr != nil {
		return nil, queryErr
	}

	defer func() { _ = rows.Close() }()

	out := make(map[string]string)

	for rows.Next() {
		var pathText, description string

		scanErr := rows.Scan(&pathText, &description)
		if scanErr != nil {
			return nil, scanErr
		}

		out[pathText] = description
	}

	return out, rows.Err()
}

func deleteScope(tx *sql.Tx, scope memory.CategoryPath) error {
	if scope.IsRoot() {
		_, execErr := tx.Exec("DELETE FROM memories")
		if execErr != nil {
			return execErr
		}

		_, execErr = tx.Exec("DELETE FROM categories")

		return execErr
	}

	key := scope.String()

	_, execErr := tx.Exec(
		"DELETE FROM memories WHERE category = ? OR category LIKE ? || '/%'", key, key)
	if execErr != nil {
		return execErr
	}

	_, execErr = tx.Exec(
		"DELETE FROM categories WHERE path = ? OR path LIKE ? || '/%'", key, key)

	return execErr
}

func inScope(category, scope memory.CategoryPath) bool {
	return scope.IsRoot() || category.StartsWith(scope)
}

// rowScanner matches both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemoryRow(row rowScanner) (IndexEntry, error) {
	var (
		pathText  string
		tagsJSON  string
		tokens    int
		source    string
		createdMS sql.NullInt64
		updatedMS sql.NullInt64
		expiresMS sql.NullInt64
		summary   sql.NullString
	)

	scanErr := row.Scan(&pathText, &tagsJSON, &tokens, &source,
		&createdMS, &updatedMS, &expiresMS, &summary)
	if scanErr != nil {
		return IndexEntry{}, scanErr
	}

	path, parseErr := memory.ParseMemoryPath(pathText)
	if parseErr != nil {
		return IndexEntry{}, fmt.Errorf("%w: memory row %q: %v", ErrIndexCorrupt, pathText, parseErr)
	}

	var tags []string

	if tagsJSON != "" {
		unmarshalErr := json.Unmarshal([]byte(tagsJSON), &tags)
		if unmarshalErr != nil {
			return IndexEntry{}, fmt.Errorf("%w: tags for %s: %v", ErrIndexCorrupt, pathText, unmarshalErr)
		}
	}

	return IndexEntry{
		Path:          path,
		Tags:          tags,
		TokenEstimate: tokens,
		Source:        source,
		Summary:       summary.String,
		CreatedAt:     timeFromMS(createdMS),
		UpdatedAt:     timeFromMS(updatedMS),
		ExpiresAt:     timePtrFromMS(expiresMS),
	}, nil
}

func insertMemoryRow(tx *sql.Tx, entry *IndexEntry) error {
	tags := entry.Tags
	if tags == nil {
		tags = []string{}
	}

	tagsJSON, marshalErr := json.Marshal(tags)
	if marshalErr != nil {
		return fmt.Errorf("marshal tags for %s: %w", entry.Path, marshalErr)
	}

	_, execErr := tx.Exec(`
		INSERT OR REPLACE INTO memories (
			path, category, tags_json, token_estimate, source,
			created_at_ms, updated_at_ms, expires_at_ms, summary
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Path.String(),
		entry.Path.Category().String(),
		string(tagsJSON),
		entry.TokenEstimate,
		entry.Source,
		msFromTime(entry.CreatedAt),
		msFromTime(entry.UpdatedAt),
		msFromTimePtr(entry.ExpiresAt),
		nullString(entry.Summary),
	)
	if execErr != nil {
		return fmt.Errorf("insert memory %s: %w", entry.Path, execErr)
	}

	return nil
}

func insertCategoryRow(tx *sql.Tx, path memory.CategoryPath, description string) error {
	_, execErr := tx.Exec(`
		INSERT OR REPLACE INTO categories (path, parent_path, description)
		VALUES (?, ?, ?)`,
		path.String(), path.Parent().String(), nullString(description))
	if execErr != nil {
		return fmt.Errorf("insert category %s: %w", path, execErr)
	}

	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: s, Valid: true}
}

func msFromTime(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func msFromTimePtr(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}

	return msFromTime(*t)
}

func timeFromMS(value sql.NullInt64) time.Time {
	if !value.Valid {
		return time.Time{}
	}

	return time.UnixMilli(value.Int64).UTC()
}

func timePtrFromMS(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}

	parsed := time.UnixMilli(value.Int64).UTC()

	return &parsed
}
