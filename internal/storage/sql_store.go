package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
)

const kvTable = "kv"

// SQLStore is the durable tier, one row per key in the kv table.
type SQLStore struct {
	db  *sql.DB
	qb  sq.StatementBuilderType
	now func() time.Time
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{
		db:  db,
		qb:  sq.StatementBuilder.PlaceholderFormat(sq.Question),
		now: time.Now,
	}
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, error) {
	query, args, err := s.qb.
		Select("value").
		From(kvTable).
		Where(sq.Eq{"name": key}).
		ToSql()
	if err != nil {
		return "", err
	}

	var value string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return value, nil
}

func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	query, args, err := s.qb.
		Insert(kvTable).
		Columns("name", "value", "updated_at").
		Values(key, value, s.now().UnixNano()).
		Suffix("ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	query, args, err := s.qb.
		Delete(kvTable).
		Where(sq.Eq{"name": key}).
		ToSql()
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

// Keys lists every stored key in order.
func (s *SQLStore) Keys(ctx context.Context) ([]string, error) {
	query, args, err := s.qb.
		Select("name").
		From(kvTable).
		OrderBy("name ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
