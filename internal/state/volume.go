package state

import (
	"database/sql"
	"errors"
)

// VolumeState represents the saved volume state.
type VolumeState struct {
	Volume float64
	Muted  bool
	Rate   float64
}

// GetVolume returns the saved volume state.
func (m *Manager) GetVolume() (*VolumeState, error) {
	var s VolumeState

	row := m.db.QueryRow(`SELECT volume, muted, rate FROM playback_settings WHERE id = 1`)
	err := row.Scan(&s.Volume, &s.Muted, &s.Rate)
	if errors.Is(err, sql.ErrNoRows) {
		return &VolumeState{Volume: 1.0, Rate: 1.0}, nil
	}
	if err != nil {
		return nil, err
	}

	return &s, nil
}

// SaveVolume persists the volume level, mute and rate to the database.
func (m *Manager) SaveVolume(s VolumeState) error {
	_, err := m.db.Exec(`
		INSERT INTO playback_settings (id, volume, muted, rate)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			volume = excluded.volume,
			muted = excluded.muted,
			rate = excluded.rate
	`, s.Volume, s.Muted, s.Rate)
	return err
}
