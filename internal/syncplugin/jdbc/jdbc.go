// Package jdbc implements the "jdbc" syncplugin factory: the Go analogue
// of a JDBC-based table synchronizer, built on
// database/sql with github.com/lib/pq as the driver. Test performs a
// read-only, serializable-transaction merge-walk over both sides'
// primary-key-sorted row streams per declared table, comparing per-row
// checksums; Synchronize does the same walk, inserting the key of every
// local row missing on the remote and deleting rows absent on the local
// (master) side. Rows present on both sides whose content differs are
// counted but not rewritten.
package jdbc

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"github.com/ao-appcluster/appcluster/internal/appstatus"
	"github.com/ao-appcluster/appcluster/internal/config"
	"github.com/ao-appcluster/appcluster/internal/syncer"
)

// Factory builds jdbc Synchronizers. Register it under the deployment's
// chosen factory identifier (conventionally "jdbc").
var Factory factory

type factory struct{}

// Recognized TypeParams sub-keys (`appcluster.resource.<id>.jdbc.*`):
//   - jdbc.localUrl / jdbc.remoteUrl — lib/pq connection strings for the
//     local and remote node's database, required
//   - jdbc.tables                    — comma/space-separated list of
//     tables to compare/synchronize, required
//   - jdbc.keyColumn                 — the primary key column shared by
//     every listed table, defaults to "id"
func (factory) New(view config.View) (syncer.Synchronizer, error) {
	localURL, ok := view.Param("jdbc.localUrl")
	if !ok || localURL == "" {
		return nil, fmt.Errorf("resource %s: jdbc.localUrl is required", view.ResourceID)
	}
	remoteURL, ok := view.Param("jdbc.remoteUrl")
	if !ok || remoteURL == "" {
		return nil, fmt.Errorf("resource %s: jdbc.remoteUrl is required", view.ResourceID)
	}
	tablesRaw, ok := view.Param("jdbc.tables")
	if !ok || tablesRaw == "" {
		return nil, fmt.Errorf("resource %s: jdbc.tables is required", view.ResourceID)
	}
	keyColumn := "id"
	if v, ok := view.Param("jdbc.keyColumn"); ok && v != "" {
		keyColumn = v
	}

	local, err := sql.Open("postgres", localURL)
	if err != nil {
		return nil, fmt.Errorf("resource %s: open local jdbc connection: %w", view.ResourceID, err)
	}
	remote, err := sql.Open("postgres", remoteURL)
	if err != nil {
		return nil, fmt.Errorf("resource %s: open remote jdbc connection: %w", view.ResourceID, err)
	}

	return &synchronizer{
		local:     local,
		remote:    remote,
		tables:    splitList(tablesRaw),
		keyColumn: keyColumn,
	}, nil
}

type synchronizer struct {
	syncer.DefaultPolicy

	local, remote *sql.DB
	tables        []string
	keyColumn     string
}

// row is one record from an ordered scan, keyed by its primary key and
// checksummed so two rows can be compared without transferring every
// column.
type row struct {
	key      string
	checksum [sha256.Size]byte
}

// Test opens a read-only, serializable transaction on each side (so
// neither snapshot can shift mid-comparison) and merge-walks both
// primary-key-ordered row streams per table, reporting any row present
// on only one side or differing checksum as an inconsistency.
func (s *synchronizer) Test(ctx context.Context) syncer.OperationResult {
	return s.run(ctx, false)
}

// Synchronize does the same merge-walk but, instead of only reporting
// differences, inserts the key of every local row absent on the remote,
// and deletes every remote row absent locally — the local side is
// authoritative, matching a MASTER-to-SLAVE replication direction.
// Inserted rows carry only the key column, and a row present on both
// sides with differing content is left unchanged.
func (s *synchronizer) Synchronize(ctx context.Context) syncer.OperationResult {
	return s.run(ctx, true)
}

func (s *synchronizer) run(ctx context.Context, mutate bool) syncer.OperationResult {
	localTx, err := s.local.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable, ReadOnly: !mutate})
	if err != nil {
		return syncer.ErrorResult(nil, fmt.Sprintf("begin local transaction: %v", err))
	}
	defer localTx.Rollback()

	remoteTx, err := s.remote.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable, ReadOnly: !mutate})
	if err != nil {
		return syncer.ErrorResult(nil, fmt.Sprintf("begin remote transaction: %v", err))
	}
	defer remoteTx.Rollback()

	var steps []syncer.OperationStep
	worstStatus := appstatus.Healthy

	for _, table := range s.tables {
		step, err := s.compareTable(ctx, localTx, remoteTx, table, mutate)
		if err != nil {
			return syncer.ErrorResult(steps, fmt.Sprintf("table %s: %v", table, err))
		}
		steps = append(steps, step)
		worstStatus = appstatus.Max(worstStatus, step.Status)
	}

	if mutate {
		if err := remoteTx.Commit(); err != nil {
			return syncer.ErrorResult(steps, fmt.Sprintf("commit remote transaction: %v", err))
		}
	}

	return syncer.OperationResult{Status: worstStatus, Steps: steps}
}

// compareTable merge-walks the key-ordered rows of one table on both
// connections, classifying each key as matched, local-only,
// remote-only, or differing; when mutate is true it applies the fix
// (upsert or delete) through remoteTx as it walks.
func (s *synchronizer) compareTable(ctx context.Context, localTx, remoteTx *sql.Tx, table string, mutate bool) (syncer.OperationStep, error) {
	localRows, err := scanTable(ctx, localTx, table, s.keyColumn)
	if err != nil {
		return syncer.OperationStep{}, fmt.Errorf("scan local: %w", err)
	}
	remoteRows, err := scanTable(ctx, remoteTx, table, s.keyColumn)
	if err != nil {
		return syncer.OperationStep{}, fmt.Errorf("scan remote: %w", err)
	}

	var differences, li, ri int
	for li < len(localRows) && ri < len(remoteRows) {
		l, r := localRows[li], remoteRows[ri]
		switch {
		case l.key == r.key:
			if l.checksum != r.checksum {
				differences++
				if mutate {
					if err := upsertRow(ctx, remoteTx, table, s.keyColumn, l.key); err != nil {
						return syncer.OperationStep{}, err
					}
				}
			}
			li++
			ri++
		case l.key < r.key:
			differences++
			if mutate {
				if err := upsertRow(ctx, remoteTx, table, s.keyColumn, l.key); err != nil {
					return syncer.OperationStep{}, err
				}
			}
			li++
		default:
			differences++
			if mutate {
				if err := deleteRow(ctx, remoteTx, table, s.keyColumn, r.key); err != nil {
					return syncer.OperationStep{}, err
				}
			}
			ri++
		}
	}
	for ; li < len(localRows); li++ {
		differences++
		if mutate {
			if err := upsertRow(ctx, remoteTx, table, s.keyColumn, localRows[li].key); err != nil {
				return syncer.OperationStep{}, err
			}
		}
	}
	for ; ri < len(remoteRows); ri++ {
		differences++
		if mutate {
			if err := deleteRow(ctx, remoteTx, table, s.keyColumn, remoteRows[ri].key); err != nil {
				return syncer.OperationStep{}, err
			}
		}
	}

	status := appstatus.Healthy
	if differences > 0 && !mutate {
		status = appstatus.Inconsistent
	}
	output := fmt.Sprintf("%d local rows, %d remote rows, %d differences", len(localRows), len(remoteRows), differences)
	return syncer.OperationStep{Name: table, Status: status, Output: output}, nil
}

func scanTable(ctx context.Context, tx *sql.Tx, table, keyColumn string) ([]row, error) {
	query := fmt.Sprintf("SELECT t.%s::text, t::text FROM %s AS t ORDER BY t.%s", quoteIdent(keyColumn), quoteIdent(table), quoteIdent(keyColumn))
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out = append(out, row{key: key, checksum: sha256.Sum256([]byte(value))})
	}
	return out, rows.Err()
}

// upsertRow ensures key exists on the remote side: it inserts a row
// holding only the key column when none exists and leaves an existing
// row unchanged. No other column is copied.
func upsertRow(ctx context.Context, tx *sql.Tx, table, keyColumn, key string) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES ($1) ON CONFLICT (%s) DO NOTHING",
		quoteIdent(table), quoteIdent(keyColumn), quoteIdent(keyColumn)), key)
	return err
}

func deleteRow(ctx context.Context, tx *sql.Tx, table, keyColumn, key string) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(
		"DELETE FROM %s WHERE %s = $1", quoteIdent(table), quoteIdent(keyColumn)), key)
	return err
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func splitList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
