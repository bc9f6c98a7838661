package executor

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/datapage/certsearch/internal/errors"
	"github.com/datapage/certsearch/internal/query/compiler"
	"github.com/datapage/certsearch/internal/query/planner"
)

// attachNames derives the catalog alias and view name for a database file.
func attachNames(path string) (alias, view string) {
	sum := md5.Sum([]byte(path))
	id := hex.EncodeToString(sum[:])[:12]
	return "db_" + id, "vw_" + id
}

// EnsureAttached attaches the embedded database at path read-only and exposes
// its table through a view, returning the quoted view name. The view carries
// the table's rowid as the row ordinal. table may be
// empty, in which case the first table of the database is used. Repeated
// calls on the same session reuse the view. The session must be checked out.
func (s *Session) EnsureAttached(ctx context.Context, path, table string) (string, error) {
	if view, ok := s.attached[path]; ok {
		return planner.QuoteIdent(view), nil
	}

	alias, view := attachNames(path)
	attach := fmt.Sprintf("ATTACH %s AS %s (READ_ONLY)", compiler.QuoteLiteral(path), planner.QuoteIdent(alias))
	if _, err := s.conn.ExecContext(ctx, attach); err != nil && !isAlreadyAttached(err) {
		return "", apperrors.Wrap(apperrors.ErrCategoryQuery, apperrors.CodeExecutionFailed,
			"failed to attach database "+path, err)
	}

	schemaName := "main"
	if table == "" {
		var err error
		schemaName, table, err = firstTable(ctx, s.conn, alias)
		if err != nil {
			return "", err
		}
	}

	create := fmt.Sprintf("CREATE OR REPLACE TEMP VIEW %s AS SELECT *, rowid AS %s FROM %s.%s.%s",
		planner.QuoteIdent(view), planner.QuoteIdent(compiler.RowOrdinalColumn),
		planner.QuoteIdent(alias), planner.QuoteIdent(schemaName), planner.QuoteIdent(table))
	if _, err := s.conn.ExecContext(ctx, create); err != nil {
		return "", apperrors.Wrap(apperrors.ErrCategoryQuery, apperrors.CodeExecutionFailed,
			"failed to create view over "+path, err)
	}

	s.attached[path] = view
	return planner.QuoteIdent(view), nil
}

func firstTable(ctx context.Context, conn *sql.Conn, alias string) (string, string, error) {
	var schemaName, table string
	err := conn.QueryRowContext(ctx,
		`SELECT schema_name, table_name FROM duckdb_tables()
		 WHERE database_name = ? ORDER BY schema_name = 'main' DESC, table_name LIMIT 1`, alias,
	).Scan(&schemaName, &table)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", apperrors.NewSourceError(apperrors.CodeUnsupportedLocator,
			"embedded database contains no tables")
	}
	if err != nil {
		return "", "", apperrors.Wrap(apperrors.ErrCategoryQuery, apperrors.CodeExecutionFailed,
			"failed to list tables", err)
	}
	return schemaName, table, nil
}

func isAlreadyAttached(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already attached") || strings.Contains(msg, "already exists")
}
