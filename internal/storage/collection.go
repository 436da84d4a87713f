package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Scanner is satisfied by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// Schema maps a record type onto a table. Columns[0] is the primary key and
// Values must return arguments in column order.
type Schema[T any] struct {
	Table     string
	Columns   []string
	Values    func(T) []any
	Scan      func(Scanner) (T, error)
	ID        func(T) string
	SetID     func(*T, string)
	CreatedAt func(T) time.Time
}

// Collection is the CRUD surface for one record type. Every call goes
// through the gateway's reconnect-once path.
type Collection[T any] struct {
	gw     *Gateway
	schema Schema[T]
	newID  func() string

	selectAll string
	selectOne string
	insert    string
	update    string
	remove    string
	exists    string
}

func NewCollection[T any](gw *Gateway, s Schema[T]) *Collection[T] {
	cols := strings.Join(s.Columns, ", ")
	pk := s.Columns[0]
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(s.Columns)), ", ")
	sets := make([]string, 0, len(s.Columns)-1)
	for _, c := range s.Columns[1:] {
		sets = append(sets, c+" = ?")
	}

	d := gw.Dialect()
	return &Collection[T]{
		gw:        gw,
		schema:    s,
		newID:     uuid.NewString,
		selectAll: fmt.Sprintf("SELECT %s FROM %s", cols, s.Table),
		selectOne: d.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", cols, s.Table, pk)),
		insert:    d.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", s.Table, cols, placeholders)),
		update:    d.Rebind(fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", s.Table, strings.Join(sets, ", "), pk)),
		remove:    d.Rebind(fmt.Sprintf("DELETE FROM %s WHERE %s = ?", s.Table, pk)),
		exists:    d.Rebind(fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = ?)", s.Table, pk)),
	}
}

// Get returns the record with the given id, or nil when there is none.
func (c *Collection[T]) Get(ctx context.Context, id string) (*T, error) {
	var out *T
	err := c.gw.Do(ctx, func(h *sql.DB) error {
		rec, err := c.schema.Scan(h.QueryRowContext(ctx, c.selectOne, id))
		if errors.Is(err, sql.ErrNoRows) {
			out = nil
			return nil
		}
		if err != nil {
			return err
		}
		out = &rec
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get %s %q: %w", c.schema.Table, id, err)
	}
	return out, nil
}

// All returns every record ordered by creation time, then id.
func (c *Collection[T]) All(ctx context.Context) ([]T, error) {
	var out []T
	err := c.gw.Do(ctx, func(h *sql.DB) error {
		rows, err := h.QueryContext(ctx, c.selectAll)
		if err != nil {
			return err
		}
		defer func() {
			if err := rows.Close(); err != nil {
				slog.Error("close rows", "table", c.schema.Table, "error", err)
			}
		}()
		out = out[:0]
		for rows.Next() {
			rec, err := c.schema.Scan(rows)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", c.schema.Table, err)
	}
	if out == nil {
		out = []T{}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := c.schema.CreatedAt(out[i]), c.schema.CreatedAt(out[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return c.schema.ID(out[i]) < c.schema.ID(out[j])
	})
	return out, nil
}

// LatestPerGroup returns the newest record for each distinct key.
func (c *Collection[T]) LatestPerGroup(ctx context.Context, key func(T) string) ([]T, error) {
	all, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	return LatestPerGroup(all, key, c.schema.CreatedAt, c.schema.ID), nil
}

// Create assigns a fresh id to rec and inserts it. On failure the id is
// cleared again so rec never names a row that does not exist.
func (c *Collection[T]) Create(ctx context.Context, rec *T) error {
	c.schema.SetID(rec, c.newID())
	args := c.schema.Values(*rec)
	err := c.gw.Do(ctx, func(h *sql.DB) error {
		_, err := h.ExecContext(ctx, c.insert, args...)
		return err
	})
	if err != nil {
		c.schema.SetID(rec, "")
		return fmt.Errorf("insert %s: %w", c.schema.Table, err)
	}
	return nil
}

// Update overwrites the stored record with rec's id.
func (c *Collection[T]) Update(ctx context.Context, rec T) error {
	values := c.schema.Values(rec)
	args := append(values[1:len(values):len(values)], values[0])
	err := c.gw.Do(ctx, func(h *sql.DB) error {
		_, err := h.ExecContext(ctx, c.update, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("update %s %q: %w", c.schema.Table, c.schema.ID(rec), err)
	}
	return nil
}

// Remove deletes the record with rec's id. Removing a missing record is not an error.
func (c *Collection[T]) Remove(ctx context.Context, rec T) error {
	id := c.schema.ID(rec)
	err := c.gw.Do(ctx, func(h *sql.DB) error {
		_, err := h.ExecContext(ctx, c.remove, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete %s %q: %w", c.schema.Table, id, err)
	}
	return nil
}

func (c *Collection[T]) Exists(ctx context.Context, id string) (bool, error) {
	var found bool
	err := c.gw.Do(ctx, func(h *sql.DB) error {
		return h.QueryRowContext(ctx, c.exists, id).Scan(&found)
	})
	if err != nil {
		return false, fmt.Errorf("exists %s %q: %w", c.schema.Table, id, err)
	}
	return found, nil
}
