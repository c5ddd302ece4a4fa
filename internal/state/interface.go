package state

import "database/sql"

// Interface defines the state manager contract for dependency injection and testing.
type Interface interface {
	DB() *sql.DB
	GetVolume() (*VolumeState, error)
	SaveVolume(s VolumeState) error
	GetPosition(url string) (*Position, error)
	SavePosition(p Position)
	ForgetPosition(url string) error
	Close() error
}

// Verify Manager implements Interface at compile time.
var _ Interface = (*Manager)(nil)
