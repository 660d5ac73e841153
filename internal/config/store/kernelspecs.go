package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Kernelspec describes a registered kernel command: how to launch an
// adapter process for a guest language.
type Kernelspec struct {
	Name      string
	Language  string
	Command   string
	Args      []string
	Env       map[string]string
	Manifest  string // raw YAML the spec was registered from, if any
	CreatedAt string
	UpdatedAt string
}

// ListKernelspecs returns all registered kernelspecs.
func (s *Store) ListKernelspecs(ctx context.Context) ([]Kernelspec, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT name, language, command, args, env, manifest, created_at, updated_at
        FROM kernelspecs
        ORDER BY name
    `)
	if err != nil {
		return nil, fmt.Errorf("store: list kernelspecs: %w", err)
	}
	return scanList(rows, scanKernelspec, "store: scan kernelspec", "store: iterate kernelspecs")
}

// GetKernelspec retrieves a kernelspec by name.
func (s *Store) GetKernelspec(ctx context.Context, name string) (Kernelspec, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Kernelspec{}, fmt.Errorf("store: get kernelspec: name required")
	}

	row := s.db.QueryRowContext(ctx, `
        SELECT name, language, command, args, env, manifest, created_at, updated_at
        FROM kernelspecs
        WHERE name = ?
    `, name)

	spec, err := scanKernelspec(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Kernelspec{}, NotFoundError{Entity: "kernelspec", Key: name}
		}
		return Kernelspec{}, fmt.Errorf("store: get kernelspec %q: %w", name, err)
	}
	return spec, nil
}

// UpsertKernelspec inserts or updates a kernelspec.
func (s *Store) UpsertKernelspec(ctx context.Context, spec Kernelspec) error {
	spec.Name = strings.TrimSpace(spec.Name)
	if spec.Name == "" {
		return fmt.Errorf("store: upsert kernelspec: name required")
	}
	if spec.Command == "" {
		return fmt.Errorf("store: upsert kernelspec %q: command required", spec.Name)
	}

	args, err := encodeJSON(spec.Args, nullWhenEmptySlice[string])
	if err != nil {
		return fmt.Errorf("store: encode kernelspec args: %w", err)
	}
	env, err := encodeJSON(spec.Env, nullWhenEmptyMap[string, string])
	if err != nil {
		return fmt.Errorf("store: encode kernelspec env: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO kernelspecs (name, language, command, args, env, manifest, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
            ON CONFLICT(name) DO UPDATE SET
                language = excluded.language,
                command = excluded.command,
                args = excluded.args,
                env = excluded.env,
                manifest = excluded.manifest,
                updated_at = CURRENT_TIMESTAMP
        `, spec.Name, spec.Language, spec.Command, args, env, nullableString(spec.Manifest))
		if err != nil {
			return fmt.Errorf("store: upsert kernelspec %q: %w", spec.Name, err)
		}
		return nil
	})
}

// DeleteKernelspec removes a kernelspec by name.
func (s *Store) DeleteKernelspec(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("store: delete kernelspec: name required")
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM kernelspecs WHERE name = ?`, name)
		if err != nil {
			return fmt.Errorf("store: delete kernelspec %q: %w", name, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("store: delete kernelspec %q: %w", name, err)
		}
		if affected == 0 {
			return NotFoundError{Entity: "kernelspec", Key: name}
		}
		return nil
	})
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
