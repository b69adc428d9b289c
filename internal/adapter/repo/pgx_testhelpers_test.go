package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type simpleRow struct {
	scan func(dest ...any) error
}

func (r simpleRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

type execCall struct {
	query string
	args  []any
}

// fakeDB answers QueryRow and Exec with canned responses keyed by query text.
type fakeDB struct {
	rows  map[string]func(dest ...any) error
	tags  map[string]string
	calls []execCall
}

func newFakeDB() *fakeDB {
	return &fakeDB{rows: map[string]func(dest ...any) error{}, tags: map[string]string{}}
}

func (f *fakeDB) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{query: query, args: args})
	tag, ok := f.tags[query]
	if !ok {
		return pgconn.CommandTag{}, errors.New("unexpected exec")
	}
	return pgconn.NewCommandTag(tag), nil
}

func (f *fakeDB) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	f.calls = append(f.calls, execCall{query: query, args: args})
	return simpleRow{scan: f.rows[query]}
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("query not supported")
}
