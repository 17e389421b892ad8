package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator provides database schema validation functionality
// ARCHITECTURAL DISCOVERY: Separate validation component enables testing
// and deployment verification without coupling to migration system
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"exam_sessions":     "Exam session history",
		"clips":             "Evidence clip metadata",
		"proctor_events":    "Audit events",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.tableExists(table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies table column structure matches expectations
// TECHNICAL DISCOVERY: Column validation ensures type compatibility between
// Go structs and database schema
func (v *SchemaValidator) ValidateTableStructure() error {
	sessionColumns := map[string]string{
		"id":             "TEXT",
		"username":       "TEXT",
		"start_time":     "DATETIME",
		"budget_seconds": "INTEGER",
		"end_time":       "DATETIME",
		"status":         "TEXT",
		"end_reason":     "TEXT",
	}
	if err := v.validateColumns("exam_sessions", sessionColumns); err != nil {
		return fmt.Errorf("exam_sessions table structure invalid: %w", err)
	}

	clipColumns := map[string]string{
		"id":               "TEXT",
		"session_id":       "TEXT",
		"username":         "TEXT",
		"filename":         "TEXT",
		"path":             "TEXT",
		"duration_seconds": "REAL",
		"frames":           "INTEGER",
		"flags":            "TEXT",
		"forced":           "INTEGER",
		"created_at":       "DATETIME",
	}
	if err := v.validateColumns("clips", clipColumns); err != nil {
		return fmt.Errorf("clips table structure invalid: %w", err)
	}

	eventColumns := map[string]string{
		"id":         "TEXT",
		"session_id": "TEXT",
		"type":       "TEXT",
		"username":   "TEXT",
		"payload":    "TEXT",
		"timestamp":  "DATETIME",
	}
	if err := v.validateColumns("proctor_events", eventColumns); err != nil {
		return fmt.Errorf("proctor_events table structure invalid: %w", err)
	}

	return nil
}

// ValidateIndexes verifies that all lookup indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_exam_sessions_username":       "Per-user session history",
		"idx_exam_sessions_status":         "Active session lookups",
		"idx_clips_username":               "Per-user clip listing",
		"idx_proctor_events_username_time": "Per-user event history",
		"idx_proctor_events_type":          "Event type filtering",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.indexExists(index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}

	return nil
}

// ValidateConstraints verifies that check constraints are enforced
// ARCHITECTURAL DISCOVERY: Constraint validation ensures data integrity rules
// are enforced at the database level
func (v *SchemaValidator) ValidateConstraints() error {
	_, err := v.db.Exec(`
		INSERT INTO proctor_events (id, type, username, payload)
		VALUES ('constraint-probe', 'invalid_type', 'probe', '{}')
	`)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM proctor_events WHERE id = 'constraint-probe'")
		return fmt.Errorf("check constraint not enforced: proctor_events.type")
	}

	_, err = v.db.Exec(`
		INSERT INTO exam_sessions (id, username, start_time, budget_seconds)
		VALUES ('constraint-probe', 'probe', CURRENT_TIMESTAMP, 0)
	`)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM exam_sessions WHERE id = 'constraint-probe'")
		return fmt.Errorf("check constraint not enforced: exam_sessions.budget_seconds")
	}

	return nil
}

func (v *SchemaValidator) tableExists(tableName string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
		tableName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) indexExists(indexName string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?",
		indexName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull int
		var defaultValue interface{}
		var pk int

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}

	return rows.Err()
}
