package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tenderwatch/internal/domain"
)

// RunRecord is a finished pipeline run as stored in the runs table.
type RunRecord struct {
	ID            int64
	Trigger       domain.Trigger
	StartedAt     time.Time
	FinishedAt    time.Time
	TotalFetched  int
	TotalMatched  int
	Duplicates    int
	Delivered     bool
	FailedSources []string
	Error         string
}

func (d *Database) LoadSeenLinks(ctx context.Context) (domain.SeenSet, error) {
	query := "select link from seen_links"

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil {
			d.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"operation", "LoadSeenLinks")
		}
	}()

	seen := make(domain.SeenSet)
	for rows.Next() {
		var link string
		if err = rows.Scan(&link); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		seen[link] = struct{}{}
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return seen, nil
}

// SaveSeen stores records in one transaction. Links already present keep their first
// seen_at.
func (d *Database) SaveSeen(ctx context.Context, records []domain.SeenRecord) (err error) {
	if len(records) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	query := d.rebind(`insert into seen_links (link, title, category, seen_at)
	values (?, ?, ?, ?)
	on conflict (link) do nothing`)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		link := strings.TrimSpace(r.Link)
		if link == "" {
			continue
		}

		seenAt := r.SeenAt
		if seenAt.IsZero() {
			seenAt = time.Now()
		}

		if _, err = stmt.ExecContext(ctx, link, r.Title, string(r.Category), seenAt.Unix()); err != nil {
			return fmt.Errorf("insert seen link %q: %w", link, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// TouchSeen moves seen_at of links that are still listed by a source to at, so retention
// counts from the last sighting. Unknown links are ignored.
func (d *Database) TouchSeen(ctx context.Context, links []string, at time.Time) (err error) {
	if len(links) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, d.rebind("update seen_links set seen_at = ? where link = ? and seen_at < ?"))
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, link := range links {
		if _, err = stmt.ExecContext(ctx, at.Unix(), link, at.Unix()); err != nil {
			return fmt.Errorf("touch seen link %q: %w", link, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// PruneSeen removes links last seen before olderThan and reports how many were removed.
func (d *Database) PruneSeen(ctx context.Context, olderThan time.Time) (int64, error) {
	query := d.rebind("delete from seen_links where seen_at < ?")

	res, err := d.db.ExecContext(ctx, query, olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to execute query: %w", err)
	}

	return res.RowsAffected()
}

func (d *Database) CountSeen(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, "select count(*) from seen_links").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to execute query: %w", err)
	}
	return n, nil
}

func (d *Database) RecordRun(ctx context.Context, stats domain.RunStats, runErr error) error {
	query := d.rebind(`insert into runs (
		run_trigger, started_at, finished_at,
		total_fetched, total_matched, duplicates,
		delivered, failed_sources, error
	) values (?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}

	_, err := d.db.ExecContext(ctx, query,
		string(stats.Trigger),
		stats.StartedAt.Unix(),
		stats.FinishedAt.Unix(),
		stats.TotalFetched,
		stats.TotalMatched,
		stats.Duplicates,
		stats.Delivered,
		strings.Join(stats.FailedSources(), "\n"),
		errText,
	)

	return err
}

// LastRun returns nil without error when no run was recorded yet.
func (d *Database) LastRun(ctx context.Context) (*RunRecord, error) {
	query := `select id, run_trigger, started_at, finished_at,
	total_fetched, total_matched, duplicates,
	delivered, failed_sources, error
	from runs
	order by id desc
	limit 1`

	var (
		r                   RunRecord
		trigger, failed     string
		startedAt, finished int64
	)

	err := d.db.QueryRowContext(ctx, query).Scan(
		&r.ID, &trigger, &startedAt, &finished,
		&r.TotalFetched, &r.TotalMatched, &r.Duplicates,
		&r.Delivered, &failed, &r.Error,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}

	r.Trigger = domain.Trigger(trigger)
	r.StartedAt = time.Unix(startedAt, 0)
	r.FinishedAt = time.Unix(finished, 0)
	if failed != "" {
		r.FailedSources = strings.Split(failed, "\n")
	}

	return &r, nil
}
