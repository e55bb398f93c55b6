// Package store implements the embedded document store backing lmdesk.
// It keeps two independent record collections, credentials and
// conversations, in a single SQLite file under the per-user data
// directory. Record identifiers are assigned by AUTOINCREMENT, so an id
// freed by a delete is never handed out again.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"

	"lmdesk/pkg/models"
)

// ErrNotFound is returned when a lookup misses, for both collections.
var ErrNotFound = errors.New("record not found")

// dbFileName is the single on-disk document file holding both
// collections.
const dbFileName = "lmdesk.db"

// Store is the process-wide document store. It is constructed once at
// startup with an explicit data directory and passed by reference to the
// vault and the HTTP handlers.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates the data directory if needed, opens the database file
// inside it and runs migrations. The connection pool is limited to a
// single connection so that writes are serialized; concurrent inserts
// cannot corrupt the file or duplicate identifiers.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	path := filepath.Join(dir, dbFileName)
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	s := &Store{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// Path returns the resolved location of the database file.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		// AUTOINCREMENT keeps deleted ids from ever being reassigned.
		`CREATE TABLE IF NOT EXISTS api_keys (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			service TEXT NOT NULL UNIQUE,
			key TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			model TEXT NOT NULL,
			messages TEXT NOT NULL,
			system_prompt TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.conn.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// UpsertAPIKey stores a credential for a service. If the service already
// has one, the secret is overwritten in place and the existing id is
// returned; otherwise a new record is created.
func (s *Store) UpsertAPIKey(service, key string) (int64, error) {
	var id int64
	err := s.conn.QueryRow(`SELECT id FROM api_keys WHERE service = ?`, service).Scan(&id)
	switch {
	case err == nil:
		if _, err := s.conn.Exec(`UPDATE api_keys SET key = ? WHERE id = ?`, key, id); err != nil {
			return 0, fmt.Errorf("failed to update api key: %w", err)
		}
		return id, nil
	case errors.Is(err, sql.ErrNoRows):
		res, err := s.conn.Exec(`INSERT INTO api_keys (service, key) VALUES (?, ?)`, service, key)
		if err != nil {
			return 0, fmt.Errorf("failed to insert api key: %w", err)
		}
		return res.LastInsertId()
	default:
		return 0, fmt.Errorf("failed to look up api key: %w", err)
	}
}

// GetAPIKey returns the credential stored for a service, or ErrNotFound.
func (s *Store) GetAPIKey(service string) (*models.APIKey, error) {
	var rec models.APIKey
	err := s.conn.QueryRow(
		`SELECT id, service, key FROM api_keys WHERE service = ?`, service,
	).Scan(&rec.ID, &rec.Service, &rec.Key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return &rec, nil
}

// APIKeys returns every stored credential.
func (s *Store) APIKeys() ([]models.APIKey, error) {
	rows, err := s.conn.Query(`SELECT id, service, key FROM api_keys ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []models.APIKey
	for rows.Next() {
		var rec models.APIKey
		if err := rows.Scan(&rec.ID, &rec.Service, &rec.Key); err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, rec)
	}
	return keys, rows.Err()
}

// DeleteAPIKey removes the credential for a service and reports how many
// records were removed (0 or 1).
func (s *Store) DeleteAPIKey(service string) (int64, error) {
	res, err := s.conn.Exec(`DELETE FROM api_keys WHERE service = ?`, service)
	if err != nil {
		return 0, fmt.Errorf("failed to delete api key: %w", err)
	}
	return res.RowsAffected()
}

// SaveConversation creates a new conversation record and returns its id.
// Every call creates a fresh record; ids are never recycled.
func (s *Store) SaveConversation(model string, messages []models.Message, systemPrompt string) (int64, error) {
	encoded, err := json.Marshal(messages)
	if err != nil {
		return 0, fmt.Errorf("failed to encode messages: %w", err)
	}

	res, err := s.conn.Exec(
		`INSERT INTO conversations (model, messages, system_prompt, created_at) VALUES (?, ?, ?, ?)`,
		model, string(encoded), systemPrompt, time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert conversation: %w", err)
	}
	return res.LastInsertId()
}

// GetConversation returns a conversation by id, or ErrNotFound.
func (s *Store) GetConversation(id int64) (*models.Conversation, error) {
	var (
		rec     models.Conversation
		encoded string
	)
	err := s.conn.QueryRow(
		`SELECT id, model, messages, system_prompt, created_at FROM conversations WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Model, &encoded, &rec.SystemPrompt, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	if err := json.Unmarshal([]byte(encoded), &rec.Messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return &rec, nil
}

// Conversations returns every stored conversation with its id.
func (s *Store) Conversations() ([]models.Conversation, error) {
	rows, err := s.conn.Query(
		`SELECT id, model, messages, system_prompt, created_at FROM conversations ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		var (
			rec     models.Conversation
			encoded string
		)
		if err := rows.Scan(&rec.ID, &rec.Model, &encoded, &rec.SystemPrompt, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		if err := json.Unmarshal([]byte(encoded), &rec.Messages); err != nil {
			return nil, fmt.Errorf("failed to decode messages: %w", err)
		}
		conversations = append(conversations, rec)
	}
	return conversations, rows.Err()
}

// UpdateConversation replaces the messages and system prompt of an
// existing conversation. Model and created_at are immutable. The update
// is a no-op when the id is absent; callers that need a not-found signal
// check existence first with GetConversation.
func (s *Store) UpdateConversation(id int64, messages []models.Message, systemPrompt string) error {
	encoded, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}

	_, err = s.conn.Exec(
		`UPDATE conversations SET messages = ?, system_prompt = ? WHERE id = ?`,
		string(encoded), systemPrompt, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	return nil
}

// DeleteConversation removes a conversation and reports how many records
// were removed (0 or 1).
func (s *Store) DeleteConversation(id int64) (int64, error) {
	res, err := s.conn.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete conversation: %w", err)
	}
	return res.RowsAffected()
}
