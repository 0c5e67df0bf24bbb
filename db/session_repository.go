package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"ai_workspace/session"
)

// SessionRepository implements session.Persister on SQLite. Save replaces
// the stored messages of a session in one transaction.
type SessionRepository struct {
	db *Database
}

var _ session.Persister = (*SessionRepository)(nil)

// Save upserts s and rewrites its messages.
func (r *SessionRepository) Save(ctx context.Context, s session.Session) error {
	conn, err := r.db.conn()
	if err != nil {
		return err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db: begin save %s: %w", s.ID, err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, model, temperature, max_tokens, top_p, created_at, last_activity)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			model = excluded.model,
			temperature = excluded.temperature,
			max_tokens = excluded.max_tokens,
			top_p = excluded.top_p,
			last_activity = excluded.last_activity`,
		s.ID, s.Model, s.Settings.Temperature, s.Settings.MaxTokens, s.Settings.TopP,
		s.CreatedAt.UnixNano(), s.LastActivity.UnixNano())
	if err != nil {
		return fmt.Errorf("db: upsert session %s: %w", s.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, s.ID); err != nil {
		return fmt.Errorf("db: clear messages %s: %w", s.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (session_id, seq, role, content, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("db: prepare message insert: %w", err)
	}
	defer stmt.Close()
	for i, m := range s.Messages {
		md, err := encodeMetadata(m.Metadata)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, s.ID, i, m.Role, m.Content, m.Timestamp.UnixNano(), md); err != nil {
			return fmt.Errorf("db: insert message %d of %s: %w", i, s.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("db: commit save %s: %w", s.ID, err)
	}
	return nil
}

// Delete removes a session and its messages. Deleting an unknown id is not
// an error.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	conn, err := r.db.conn()
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("db: delete session %s: %w", id, err)
	}
	return nil
}

// LoadAll returns every stored session with messages in order.
func (r *SessionRepository) LoadAll(ctx context.Context) ([]session.Session, error) {
	conn, err := r.db.conn()
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT id, model, temperature, max_tokens, top_p, created_at, last_activity
		FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("db: query sessions: %w", err)
	}
	var out []session.Session
	index := make(map[string]int)
	for rows.Next() {
		var (
			s                session.Session
			created, touched int64
		)
		if err := rows.Scan(&s.ID, &s.Model, &s.Settings.Temperature, &s.Settings.MaxTokens,
			&s.Settings.TopP, &created, &touched); err != nil {
			rows.Close()
			return nil, fmt.Errorf("db: scan session: %w", err)
		}
		s.CreatedAt = time.Unix(0, created)
		s.LastActivity = time.Unix(0, touched)
		index[s.ID] = len(out)
		out = append(out, s)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = conn.QueryContext(ctx, `
		SELECT session_id, role, content, created_at, metadata
		FROM messages ORDER BY session_id, seq`)
	if err != nil {
		return nil, fmt.Errorf("db: query messages: %w", err)
	}
	for rows.Next() {
		var (
			id, md string
			m      session.Message
			ts     int64
		)
		if err := rows.Scan(&id, &m.Role, &m.Content, &ts, &md); err != nil {
			rows.Close()
			return nil, fmt.Errorf("db: scan message: %w", err)
		}
		m.Timestamp = time.Unix(0, ts)
		if m.Metadata, err = decodeMetadata(md); err != nil {
			rows.Close()
			return nil, err
		}
		if i, ok := index[id]; ok {
			out[i].Messages = append(out[i].Messages, m)
		}
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	return out, nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("db: iterate rows: %w", err)
	}
	return rows.Close()
}

func encodeMetadata(md map[string]string) (string, error) {
	if len(md) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("db: encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(s string) (map[string]string, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var md map[string]string
	if err := json.Unmarshal([]byte(s), &md); err != nil {
		return nil, fmt.Errorf("db: decode metadata: %w", err)
	}
	return md, nil
}
