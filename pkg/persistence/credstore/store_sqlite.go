package credstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite credential store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite credential store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, profile string, token string) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite credential store: db is nil")
	}
	profile = normalizeProfile(profile)
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("sqlite credential store: token is empty")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (profile, token, updated_at_ms) VALUES (?, ?, ?)
		ON CONFLICT(profile) DO UPDATE SET
			token = excluded.token,
			updated_at_ms = excluded.updated_at_ms
	`, profile, token, time.Now().UnixMilli())
	if err != nil {
		return errors.Wrap(err, "sqlite credential store: save")
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, profile string) (Credential, bool, error) {
	if s == nil || s.db == nil {
		return Credential{}, false, errors.New("sqlite credential store: db is nil")
	}
	profile = normalizeProfile(profile)
	var (
		token     string
		updatedMs int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT token, updated_at_ms FROM credentials WHERE profile = ?`, profile,
	).Scan(&token, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, errors.Wrap(err, "sqlite credential store: load")
	}
	return Credential{
		Profile:   profile,
		Token:     token,
		UpdatedAt: time.UnixMilli(updatedMs).UTC(),
	}, true, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, profile string) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite credential store: db is nil")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE profile = ?`, normalizeProfile(profile)); err != nil {
		return errors.Wrap(err, "sqlite credential store: delete")
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS credentials (
		  profile TEXT PRIMARY KEY,
		  token TEXT NOT NULL,
		  updated_at_ms INTEGER NOT NULL
		);`)
	if err != nil {
		return errors.Wrap(err, "sqlite credential store: migrate")
	}
	return nil
}

func normalizeProfile(profile string) string {
	profile = strings.TrimSpace(profile)
	if profile == "" {
		return DefaultProfile
	}
	return profile
}
