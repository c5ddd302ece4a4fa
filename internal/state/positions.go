package state

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/llehouerou/wavestream/internal/db"
)

// maxPositions bounds how many URLs keep a resume position.
const maxPositions = 500

// resumeTail is how close to the end a position has to be for the URL to
// count as finished.
const resumeTail = 5 * time.Second

// Position is where playback of a URL stopped.
type Position struct {
	URL       string
	Offset    time.Duration
	Duration  time.Duration // 0 if unknown
	UpdatedAt time.Time
}

// Finished reports whether the position is at the end of the media, in
// which case playback should start over.
func (p Position) Finished() bool {
	return p.Duration > 0 && p.Offset >= p.Duration-resumeTail
}

func getPosition(q db.Execer, url string) (*Position, error) {
	var offsetMS, durationMS, updatedAt int64

	row := q.QueryRowContext(context.Background(), `
		SELECT position_ms, duration_ms, updated_at
		FROM resume_positions WHERE url = ?
	`, url)
	err := row.Scan(&offsetMS, &durationMS, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // no saved position is not an error
	}
	if err != nil {
		return nil, err
	}

	return &Position{
		URL:       url,
		Offset:    time.Duration(offsetMS) * time.Millisecond,
		Duration:  time.Duration(durationMS) * time.Millisecond,
		UpdatedAt: time.Unix(updatedAt, 0),
	}, nil
}

func savePosition(q db.Execer, p Position) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	_, err := q.ExecContext(context.Background(), `
		INSERT INTO resume_positions (url, position_ms, duration_ms, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			position_ms = excluded.position_ms,
			duration_ms = excluded.duration_ms,
			updated_at = excluded.updated_at
	`, p.URL, p.Offset.Milliseconds(), p.Duration.Milliseconds(), p.UpdatedAt.Unix())
	return err
}

// savePositions writes positions in one transaction and drops the oldest
// ones beyond maxPositions.
func savePositions(sqlDB *sql.DB, positions map[string]Position) error {
	if len(positions) == 0 {
		return nil
	}
	return db.WithTx(context.Background(), sqlDB, func(tx *sql.Tx) error {
		for _, p := range positions {
			if err := savePosition(tx, p); err != nil {
				return err
			}
		}
		_, err := tx.Exec(`
			DELETE FROM resume_positions WHERE url NOT IN (
				SELECT url FROM resume_positions ORDER BY updated_at DESC LIMIT ?
			)
		`, maxPositions)
		return err
	})
}

// ForgetPosition removes the saved position of url.
func (m *Manager) ForgetPosition(url string) error {
	m.saveMu.Lock()
	delete(m.pending, url)
	m.saveMu.Unlock()

	_, err := m.db.Exec(`DELETE FROM resume_positions WHERE url = ?`, url)
	return err
}
