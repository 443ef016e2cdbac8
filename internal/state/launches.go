package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pabridge-dev/pabridge/internal/bridge"
)

// Launch is one recorded bridge session.
type Launch struct {
	ID             string
	ProjectDir     string
	EnvironmentID  string
	AppID          string
	AppDisplayName string
	PlayerURL      string
	StartedAt      time.Time
	EndedAt        *time.Time
}

// Running reports whether the launch has not been finished yet.
func (l Launch) Running() bool {
	return l.EndedAt == nil
}

// RecordLaunch inserts a launch row. It satisfies bridge.LaunchRecorder, so
// a Store can be handed to the bridge directly.
func (s *Store) RecordLaunch(ctx context.Context, launch bridge.Launch) error {
	if strings.TrimSpace(launch.SessionID) == "" {
		return fmt.Errorf("state: record launch: session id is required")
	}

	startedAt := launch.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO launches (id, project_dir, environment_id, app_id, app_display_name, player_url, started_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				project_dir = excluded.project_dir,
				environment_id = excluded.environment_id,
				app_id = excluded.app_id,
				app_display_name = excluded.app_display_name,
				player_url = excluded.player_url,
				started_at = excluded.started_at,
				ended_at = NULL`,
			launch.SessionID,
			launch.ProjectDir,
			launch.EnvironmentID,
			launch.AppID,
			launch.AppDisplayName,
			launch.PlayerURL,
			formatTime(startedAt),
		)
		if err != nil {
			return fmt.Errorf("state: record launch: %w", err)
		}
		return nil
	})
}

// FinishLaunch stamps the end time on a recorded launch.
func (s *Store) FinishLaunch(ctx context.Context, id string, endedAt time.Time) error {
	if endedAt.IsZero() {
		endedAt = time.Now()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE launches SET ended_at = ? WHERE id = ?`,
			formatTime(endedAt), id,
		)
		if err != nil {
			return fmt.Errorf("state: finish launch: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("state: finish launch: %w", err)
		}
		if affected == 0 {
			return NotFoundError{Entity: "launch", Key: id}
		}
		return nil
	})
}

// GetLaunch returns a single launch by id.
func (s *Store) GetLaunch(ctx context.Context, id string) (Launch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_dir, environment_id, app_id, app_display_name, player_url, started_at, ended_at
		FROM launches WHERE id = ?`, id)

	launch, err := scanLaunch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Launch{}, NotFoundError{Entity: "launch", Key: id}
	}
	if err != nil {
		return Launch{}, fmt.Errorf("state: get launch: %w", err)
	}
	return launch, nil
}

// RecentLaunches returns up to limit launches, newest first.
func (s *Store) RecentLaunches(ctx context.Context, limit int) ([]Launch, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_dir, environment_id, app_id, app_display_name, player_url, started_at, ended_at
		FROM launches ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("state: list launches: %w", err)
	}
	defer rows.Close()

	var launches []Launch
	for rows.Next() {
		launch, err := scanLaunch(rows)
		if err != nil {
			return nil, fmt.Errorf("state: scan launch: %w", err)
		}
		launches = append(launches, launch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: iterate launches: %w", err)
	}

	return launches, nil
}

// PruneLaunches deletes all but the keep most recent launches and returns
// the number of deleted rows.
func (s *Store) PruneLaunches(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	var deleted int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM launches WHERE id NOT IN (
				SELECT id FROM launches ORDER BY started_at DESC, id DESC LIMIT ?
			)`, keep)
		if err != nil {
			return fmt.Errorf("state: prune launches: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("state: prune launches: %w", err)
		}
		deleted = int(affected)
		return nil
	})
	return deleted, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLaunch(row rowScanner) (Launch, error) {
	var (
		launch    Launch
		startedAt string
		endedAt   sql.NullString
	)

	if err := row.Scan(
		&launch.ID,
		&launch.ProjectDir,
		&launch.EnvironmentID,
		&launch.AppID,
		&launch.AppDisplayName,
		&launch.PlayerURL,
		&startedAt,
		&endedAt,
	); err != nil {
		return Launch{}, err
	}

	launch.StartedAt = parseTime(startedAt)
	if endedAt.Valid {
		t := parseTime(endedAt.String)
		launch.EndedAt = &t
	}

	return launch, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
