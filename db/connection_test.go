package db

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestDefaultConnectionConfig(t *testing.T) {
	config := DefaultConnectionConfig("sessions.db")
	want := ConnectionConfig{
		Path:         "sessions.db",
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		PingTimeout:  5 * time.Second,
	}
	if config != want {
		t.Errorf("DefaultConnectionConfig() = %+v, want %+v", config, want)
	}
}

func TestNewSQLiteConnection_EmptyPath(t *testing.T) {
	if _, err := NewSQLiteConnection(ConnectionConfig{}); !errors.Is(err, ErrEmptyPath) {
		t.Fatalf("NewSQLiteConnection() error = %v, want ErrEmptyPath", err)
	}
}

func TestNewSQLiteConnection_Pragmas(t *testing.T) {
	config := DefaultConnectionConfig(filepath.Join(t.TempDir(), "data", "sessions.db"))
	config.BusyTimeout = 1500 * time.Millisecond

	conn, err := NewSQLiteConnection(config)
	if err != nil {
		t.Fatalf("NewSQLiteConnection() error = %v", err)
	}
	defer conn.Close()

	if _, err := os.Stat(config.Path); err != nil {
		t.Fatalf("database file not created under a missing directory: %v", err)
	}

	tests := []struct {
		pragma string
		want   string
	}{
		{"journal_mode", "wal"},
		{"foreign_keys", "1"},
		{"busy_timeout", "1500"},
	}
	for _, tt := range tests {
		var got string
		if err := conn.QueryRow("PRAGMA " + tt.pragma).Scan(&got); err != nil {
			t.Fatalf("PRAGMA %s: %v", tt.pragma, err)
		}
		if got != tt.want {
			t.Errorf("PRAGMA %s = %q, want %q", tt.pragma, got, tt.want)
		}
	}
}

// Deleting a session row must take its transcript with it, which only
// happens when foreign keys are enforced on the connection.
func TestNewSQLiteConnection_CascadesMessages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	if err := MigrateUp(path); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	conn, err := NewSQLiteConnection(DefaultConnectionConfig(path))
	if err != nil {
		t.Fatalf("NewSQLiteConnection() error = %v", err)
	}
	defer conn.Close()

	now := time.Now().Unix()
	if _, err := conn.Exec(`INSERT INTO sessions (id, model, temperature, max_tokens, top_p, created_at, last_activity)
		VALUES ('s1', 'tiny-llama', 0.7, 256, 0.9, ?, ?)`, now, now); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	for seq, role := range []string{"user", "assistant"} {
		if _, err := conn.Exec(`INSERT INTO messages (session_id, seq, role, content, created_at) VALUES ('s1', ?, ?, 'hi', ?)`,
			seq, role, now); err != nil {
			t.Fatalf("insert message: %v", err)
		}
	}
	if _, err := conn.Exec(`INSERT INTO messages (session_id, seq, role, content, created_at) VALUES ('ghost', 0, 'user', 'x', ?)`, now); err == nil {
		t.Error("message for an unknown session was accepted")
	}

	if _, err := conn.Exec(`DELETE FROM sessions WHERE id = 's1'`); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("messages after session delete = %d, want 0", n)
	}
}

func TestNewSQLiteConnection_ConcurrentReads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	if err := MigrateUp(path); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	config := DefaultConnectionConfig(path)
	config.MaxOpenConns = 4
	config.MaxIdleConns = 4
	conn, err := NewSQLiteConnection(config)
	if err != nil {
		t.Fatalf("NewSQLiteConnection() error = %v", err)
	}
	defer conn.Close()

	if _, err := conn.Exec(`INSERT INTO sessions (id, temperature, max_tokens, top_p, created_at, last_activity)
		VALUES ('s1', 0.7, 256, 0.9, 1, 1)`); err != nil {
		t.Fatalf("insert session: %v", err)
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var maxTokens int
			if err := conn.QueryRow(`SELECT max_tokens FROM sessions WHERE id = 's1'`).Scan(&maxTokens); err != nil {
				t.Errorf("concurrent read failed: %v", err)
				return
			}
			if maxTokens != 256 {
				t.Errorf("max_tokens = %d, want 256", maxTokens)
			}
		}()
	}
	wg.Wait()
}
