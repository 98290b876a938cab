package formdata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"usrtaskmgt/internal/db"
	"usrtaskmgt/internal/domain"
	"usrtaskmgt/internal/migrate"
)

// SQLStore keeps form data in the form_data table.
type SQLStore struct {
	DB  *sql.DB
	Now func() time.Time
}

// OpenSQLStore opens the workspace database and applies migrations.
func OpenSQLStore(ctx context.Context, cfg db.Config) (*SQLStore, error) {
	conn, err := db.Open(cfg)
	if err != nil {
		return nil, err
	}
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate %s: %w", db.Path(cfg), err)
	}
	return &SQLStore{DB: conn}, nil
}

func (s *SQLStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *SQLStore) GetFormData(ctx context.Context, tdk, pid string) (domain.FormData, bool, error) {
	key := Key(tdk, pid)
	var payload string
	err := s.DB.QueryRowContext(ctx, `SELECT payload FROM form_data WHERE key=?`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FormData{}, false, nil
	}
	if err != nil {
		return domain.FormData{}, false, storageErr("get", key, err)
	}
	fd, err := decode([]byte(payload))
	if err != nil {
		return domain.FormData{}, false, storageErr("decode", key, err)
	}
	return fd, true, nil
}

func (s *SQLStore) PutFormData(ctx context.Context, tdk, pid string, fd domain.FormData) error {
	key := Key(tdk, pid)
	b, err := encode(fd)
	if err != nil {
		return storageErr("encode", key, err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO form_data(key, process_instance_id, task_definition_key, payload, updated_at)
VALUES (?,?,?,?,?)
ON CONFLICT(key) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at`,
		key, pid, tdk, string(b), s.now().UTC().Format(time.RFC3339))
	if err != nil {
		return storageErr("put", key, err)
	}
	return nil
}

func (s *SQLStore) DeleteByProcessInstanceID(ctx context.Context, pid string) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM form_data WHERE process_instance_id=?`, pid); err != nil {
		return storageErr("delete", ProcessPrefix(pid), err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.DB.Close()
}
