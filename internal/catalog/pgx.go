package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/pglockguard/pglockguard/internal/locks"
)

// pgxReader runs catalog queries against one open transaction, so every
// read observes the script's own uncommitted changes along with the rest
// of the database.
type pgxReader struct {
	tx pgx.Tx
}

var _ Reader = (*pgxReader)(nil)

// NewReader returns a Reader backed by tx. The caller owns the
// transaction's lifetime.
func NewReader(tx pgx.Tx) Reader {
	return &pgxReader{tx: tx}
}

const locksQuery = `
SELECT n.nspname, c.relname, c.relkind, l.mode, c.oid
FROM pg_locks l
JOIN pg_class c ON c.oid = l.relation
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE l.locktype = 'relation' AND l.pid = pg_backend_pid()`

func (r *pgxReader) Locks(ctx context.Context) ([]Lock, error) {
	rows, err := r.tx.Query(ctx, locksQuery)
	if err != nil {
		return nil, fmt.Errorf("query pg_locks: %w", err)
	}
	defer rows.Close()

	var out []Lock
	for rows.Next() {
		var l Lock
		var relkind, mode string
		if err := rows.Scan(&l.Schema, &l.ObjectName, &relkind, &mode, &l.OID); err != nil {
			return nil, fmt.Errorf("scan pg_locks row: %w", err)
		}
		if relkind != "" {
			l.RelKind = relkind[0]
		}
		parsed, ok := locks.FromDBString(mode)
		if !ok {
			continue
		}
		l.Mode = parsed
		out = append(out, l)
	}
	return out, rows.Err()
}

const columnsQuery = `
SELECT n.nspname, c.relname, a.attname, t.typname, a.attnotnull
FROM pg_catalog.pg_attribute a
JOIN pg_catalog.pg_type t ON a.atttypid = t.oid
JOIN pg_catalog.pg_class c ON a.attrelid = c.oid
JOIN pg_catalog.pg_namespace n ON c.relnamespace = n.oid
WHERE n.nspname NOT IN ('pg_catalog', 'information_schema')
  AND a.attnum > 0 AND NOT a.attisdropped
  AND c.oid = ANY($1)`

func (r *pgxReader) Columns(ctx context.Context, oids []uint32) ([]Column, error) {
	rows, err := r.tx.Query(ctx, columnsQuery, oids)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var out []Column
	for rows.Next() {
		var c Column
		var notNull bool
		if err := rows.Scan(&c.Schema, &c.Table, &c.Name, &c.DataType, &notNull); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		c.Nullable = !notNull
		out = append(out, c)
	}
	return out, rows.Err()
}

const constraintsQuery = `
SELECT n.nspname, c.relname, con.oid, con.conname, con.contype,
       con.convalidated, pg_get_constraintdef(con.oid), con.conrelid, con.confrelid
FROM pg_catalog.pg_constraint con
JOIN pg_catalog.pg_class c ON con.conrelid = c.oid
JOIN pg_catalog.pg_namespace n ON c.relnamespace = n.oid
WHERE n.nspname NOT IN ('pg_catalog', 'information_schema')
  AND (con.conrelid = ANY($1) OR con.confrelid = ANY($1))`

func (r *pgxReader) Constraints(ctx context.Context, oids []uint32) ([]Constraint, error) {
	rows, err := r.tx.Query(ctx, constraintsQuery, oids)
	if err != nil {
		return nil, fmt.Errorf("query constraints: %w", err)
	}
	defer rows.Close()

	var out []Constraint
	for rows.Next() {
		var con Constraint
		var contype string
		var fkTarget *uint32
		if err := rows.Scan(&con.Schema, &con.Table, &con.OID, &con.Name, &contype,
			&con.Valid, &con.Definition, &con.TargetOID, &fkTarget); err != nil {
			return nil, fmt.Errorf("scan constraint row: %w", err)
		}
		if contype != "" {
			con.Kind = ConstraintKindFromChar(contype[0])
		}
		if fkTarget != nil {
			con.FKTargetOID = *fkTarget
		}
		out = append(out, con)
	}
	return out, rows.Err()
}

const indexesQuery = `
SELECT ns.nspname, ic.relname, tc.relname, i.indisunique, i.indisvalid, ic.oid,
       (SELECT array_agg(a.attname ORDER BY k.ord)
          FROM unnest(i.indkey) WITH ORDINALITY AS k(attnum, ord)
          JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = k.attnum)
FROM pg_index i
JOIN pg_class ic ON ic.oid = i.indexrelid
JOIN pg_class tc ON tc.oid = i.indrelid
JOIN pg_namespace ns ON ns.oid = tc.relnamespace
WHERE tc.oid = ANY($1)`

func (r *pgxReader) Indexes(ctx context.Context, oids []uint32) ([]Index, error) {
	rows, err := r.tx.Query(ctx, indexesQuery, oids)
	if err != nil {
		return nil, fmt.Errorf("query indexes: %w", err)
	}
	defer rows.Close()

	var out []Index
	for rows.Next() {
		var idx Index
		if err := rows.Scan(&idx.Schema, &idx.Name, &idx.Table, &idx.Unique, &idx.Valid, &idx.OID, &idx.Columns); err != nil {
			return nil, fmt.Errorf("scan index row: %w", err)
		}
		out = append(out, idx)
	}
	return out, rows.Err()
}

const relfilenodesQuery = `SELECT oid, relfilenode FROM pg_class WHERE oid = ANY($1)`

func (r *pgxReader) Relfilenodes(ctx context.Context, oids []uint32) (map[uint32]uint32, error) {
	rows, err := r.tx.Query(ctx, relfilenodesQuery, oids)
	if err != nil {
		return nil, fmt.Errorf("query relfilenodes: %w", err)
	}
	defer rows.Close()

	out := make(map[uint32]uint32, len(oids))
	for rows.Next() {
		var oid, relfilenode uint32
		if err := rows.Scan(&oid, &relfilenode); err != nil {
			return nil, fmt.Errorf("scan relfilenode row: %w", err)
		}
		out[oid] = relfilenode
	}
	return out, rows.Err()
}

// LockTimeoutMillis reads current_setting('lock_timeout') and converts it
// to milliseconds, mirroring the unit suffixes PostgreSQL itself accepts.
func (r *pgxReader) LockTimeoutMillis(ctx context.Context) (int64, error) {
	var setting string
	if err := r.tx.QueryRow(ctx, `SELECT current_setting('lock_timeout')`).Scan(&setting); err != nil {
		return 0, fmt.Errorf("read lock_timeout setting: %w", err)
	}
	digits := strings.TrimRightFunc(setting, func(r rune) bool { return r < '0' || r > '9' })
	unit := strings.TrimPrefix(setting, digits)
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse lock_timeout %q: %w", setting, err)
	}
	switch unit {
	case "ms", "":
		return n, nil
	case "s":
		return n * 1000, nil
	case "min":
		return n * 60 * 1000, nil
	case "h":
		return n * 60 * 60 * 1000, nil
	case "d":
		return n * 24 * 60 * 60 * 1000, nil
	default:
		return 0, fmt.Errorf("unrecognized lock_timeout unit %q", unit)
	}
}

const lockableObjectsQuery = `
SELECT n.nspname, c.relname, c.relkind, c.oid
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname NOT IN ('pg_catalog', 'information_schema')
  AND c.relkind IN ('r', 'i', 'S', 'm')
  AND NOT c.oid = ANY($1)`

// LockableObjects returns every user-owned table, index, sequence, and
// materialized view except those listed in skip, used to discover objects
// created by the statement just executed.
func (r *pgxReader) LockableObjects(ctx context.Context, skip []uint32) ([]LockableTarget, error) {
	rows, err := r.tx.Query(ctx, lockableObjectsQuery, skip)
	if err != nil {
		return nil, fmt.Errorf("query lockable objects: %w", err)
	}
	defer rows.Close()

	var out []LockableTarget
	for rows.Next() {
		var t LockableTarget
		var relkind string
		if err := rows.Scan(&t.Schema, &t.Name, &relkind, &t.OID); err != nil {
			return nil, fmt.Errorf("scan lockable object row: %w", err)
		}
		if relkind != "" {
			t.RelKind = relkind[0]
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const resolveRelationQuery = `
SELECT c.oid, c.relkind
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND c.relname = $2`

func (r *pgxReader) ResolveRelation(ctx context.Context, schema, name string) (uint32, byte, bool, error) {
	if schema == "" {
		schema = "public"
	}
	var oid uint32
	var relkind string
	err := r.tx.QueryRow(ctx, resolveRelationQuery, schema, name).Scan(&oid, &relkind)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, 0, false, nil
		}
		return 0, 0, false, fmt.Errorf("resolve relation %s.%s: %w", schema, name, err)
	}
	var kind byte
	if relkind != "" {
		kind = relkind[0]
	}
	return oid, kind, true, nil
}
