package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig describes a keyed table write.
type UpsertConfig struct {
	Table        string   // target table, optionally schema-qualified
	Columns      []string // columns present in every row, in row order
	ConflictKeys []string // unique key the rows are matched on
	UpdateCols   []string // columns overwritten on a match; nil = every non-key column
	TouchColumn  string   // set to now() on every matched row when non-empty
}

func (c UpsertConfig) validate() error {
	if len(c.Columns) == 0 {
		return eris.Errorf("db: upsert %s: no columns specified", c.Table)
	}
	if len(c.ConflictKeys) == 0 {
		return eris.Errorf("db: upsert %s: no conflict keys specified", c.Table)
	}
	return nil
}

func (c UpsertConfig) updateColumns() []string {
	if c.UpdateCols != nil {
		return c.UpdateCols
	}
	keys := make(map[string]bool, len(c.ConflictKeys))
	for _, k := range c.ConflictKeys {
		keys[k] = true
	}
	var cols []string
	for _, col := range c.Columns {
		if !keys[col] {
			cols = append(cols, col)
		}
	}
	return cols
}

// stage is the session-local table rows are copied into before the merge.
func (c UpsertConfig) stage() pgx.Identifier {
	return pgx.Identifier{"_stage_" + strings.ReplaceAll(c.Table, ".", "_")}
}

func (c UpsertConfig) createStageSQL() string {
	return "CREATE TEMP TABLE " + c.stage().Sanitize() +
		" (LIKE " + sanitizeTable(c.Table) + " INCLUDING DEFAULTS) ON COMMIT DROP"
}

func (c UpsertConfig) mergeSQL() string {
	var set []string
	for _, col := range c.updateColumns() {
		id := pgx.Identifier{col}.Sanitize()
		set = append(set, id+" = EXCLUDED."+id)
	}
	if c.TouchColumn != "" {
		set = append(set, pgx.Identifier{c.TouchColumn}.Sanitize()+" = now()")
	}

	cols := quoteAndJoin(c.Columns)
	var b strings.Builder
	b.WriteString("INSERT INTO " + sanitizeTable(c.Table) + " (" + cols + ")")
	b.WriteString(" SELECT " + cols + " FROM " + c.stage().Sanitize())
	b.WriteString(" ON CONFLICT (" + quoteAndJoin(c.ConflictKeys) + ")")
	if len(set) == 0 {
		b.WriteString(" DO NOTHING")
	} else {
		b.WriteString(" DO UPDATE SET " + strings.Join(set, ", "))
	}
	return b.String()
}

// BulkUpsert copies rows into a staging table and merges them into
// cfg.Table in one transaction. Either every row lands or none does.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := cfg.validate(); err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: begin", cfg.Table)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, cfg.createStageSQL()); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: create staging table", cfg.Table)
	}
	if _, err := tx.CopyFrom(ctx, cfg.stage(), cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: copy rows", cfg.Table)
	}

	tag, err := tx.Exec(ctx, cfg.mergeSQL())
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: merge", cfg.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: commit", cfg.Table)
	}
	return tag.RowsAffected(), nil
}

func sanitizeTable(table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
