package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/zysoong/open-codex-gui/pkg/domain"
	"github.com/zysoong/open-codex-gui/pkg/store"
)

// Store implements ConversationStore and ContentStore using SQLite.
type Store struct {
	db *sql.DB
}

// Verify interface compliance at compile time.
var _ store.ConversationStore = (*Store)(nil)
var _ store.ContentStore = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path and runs
// migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		environment_type TEXT NOT NULL DEFAULT '',
		environment_opts TEXT NOT NULL DEFAULT '{}',
		title_generated INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS content_units (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		sequence_number INTEGER NOT NULL,
		kind TEXT NOT NULL,
		author TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		parent_unit_id TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE,
		UNIQUE (conversation_id, sequence_number)
	);
	CREATE INDEX IF NOT EXISTS idx_units_conversation_seq ON content_units(conversation_id, sequence_number);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- ConversationStore ---

func (s *Store) CreateConversation(ctx context.Context, c *domain.Conversation) error {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = domain.ConversationActive
	}
	opts, err := json.Marshal(c.EnvironmentOpts)
	if err != nil {
		return fmt.Errorf("encoding environment opts: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, project_id, name, status, environment_type, environment_opts, title_generated, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProjectID, c.Name, c.Status, c.EnvironmentType, string(opts),
		c.TitleGenerated, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (s *Store) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	var opts string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, status, environment_type, environment_opts, title_generated, created_at, updated_at
		 FROM conversations WHERE id = ?`, id,
	).Scan(&c.ID, &c.ProjectID, &c.Name, &c.Status, &c.EnvironmentType, &opts,
		&c.TitleGenerated, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conversation not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(opts), &c.EnvironmentOpts); err != nil {
		return nil, fmt.Errorf("decoding environment opts: %w", err)
	}
	return c, nil
}

func (s *Store) ListConversations(ctx context.Context, projectID string) ([]domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, name, status, environment_type, environment_opts, title_generated, created_at, updated_at
		 FROM conversations WHERE project_id = ? ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		var opts string
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Name, &c.Status, &c.EnvironmentType, &opts,
			&c.TitleGenerated, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(opts), &c.EnvironmentOpts); err != nil {
			return nil, fmt.Errorf("decoding environment opts: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func (s *Store) SetEnvironment(ctx context.Context, id, environmentType string, opts domain.EnvironmentOpts) error {
	b, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("encoding environment opts: %w", err)
	}
	// The empty-string guard makes the transition one-time-only.
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET environment_type=?, environment_opts=?, updated_at=?
		 WHERE id=? AND environment_type=''`,
		environmentType, string(b), time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		c, err := s.GetConversation(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("environment already set to %q for conversation %s", c.EnvironmentType, id)
	}
	return nil
}

func (s *Store) SetTitle(ctx context.Context, id, title string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET name=?, title_generated=1, updated_at=? WHERE id=?`,
		title, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("conversation not found: %s", id)
	}
	return nil
}

func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("conversation not found: %s", id)
	}
	return nil
}

// --- ContentStore ---

func (s *Store) CreateUnit(ctx context.Context, u *domain.ContentUnit) error {
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	payload, err := json.Marshal(u.Payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	md, err := json.Marshal(u.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO content_units (id, conversation_id, sequence_number, kind, author, payload, parent_unit_id, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.ConversationID, u.SequenceNumber, u.Kind, u.Author,
		string(payload), u.ParentUnitID, string(md), u.CreatedAt, u.UpdatedAt,
	)
	return err
}

func (s *Store) UpdateUnitPayload(ctx context.Context, id string, payload domain.UnitPayload) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE content_units SET payload=?, updated_at=? WHERE id=?`,
		string(b), time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("content unit not found: %s", id)
	}
	return nil
}

func (s *Store) FinalizeUnit(ctx context.Context, id string, payload domain.UnitPayload, md domain.UnitMetadata) error {
	pb, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	mb, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE content_units SET payload=?, metadata=?, updated_at=? WHERE id=?`,
		string(pb), string(mb), time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("content unit not found: %s", id)
	}
	return nil
}

func (s *Store) ListUnits(ctx context.Context, conversationID string) ([]domain.ContentUnit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, sequence_number, kind, author, payload, parent_unit_id, metadata, created_at, updated_at
		 FROM content_units WHERE conversation_id=? ORDER BY sequence_number ASC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []domain.ContentUnit
	for rows.Next() {
		var u domain.ContentUnit
		var payload, md string
		if err := rows.Scan(&u.ID, &u.ConversationID, &u.SequenceNumber, &u.Kind, &u.Author,
			&payload, &u.ParentUnitID, &md, &u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &u.Payload); err != nil {
			return nil, fmt.Errorf("decoding payload for unit %s: %w", u.ID, err)
		}
		if err := json.Unmarshal([]byte(md), &u.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for unit %s: %w", u.ID, err)
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func (s *Store) MaxSequence(ctx context.Context, conversationID string) (int, error) {
	var max int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM content_units WHERE conversation_id=?`,
		conversationID,
	).Scan(&max)
	return max, err
}
