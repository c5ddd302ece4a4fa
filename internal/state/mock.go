package state

import "database/sql"

// Mock is a test double for Manager.
type Mock struct {
	volume    *VolumeState
	positions map[string]Position
	closed    bool
}

// NewMock creates a new mock state manager for testing.
func NewMock() *Mock {
	return &Mock{positions: make(map[string]Position)}
}

func (m *Mock) DB() *sql.DB { return nil }

func (m *Mock) GetVolume() (*VolumeState, error) {
	if m.volume == nil {
		return &VolumeState{Volume: 1.0, Rate: 1.0}, nil
	}
	v := *m.volume
	return &v, nil
}

func (m *Mock) SaveVolume(s VolumeState) error {
	m.volume = &s
	return nil
}

func (m *Mock) GetPosition(url string) (*Position, error) {
	p, ok := m.positions[url]
	if !ok {
		return nil, nil //nolint:nilnil // mirrors Manager
	}
	return &p, nil
}

func (m *Mock) SavePosition(p Position) { m.positions[p.URL] = p }

func (m *Mock) ForgetPosition(url string) error {
	delete(m.positions, url)
	return nil
}

func (m *Mock) Close() error {
	m.closed = true
	return nil
}

// Test helpers

func (m *Mock) IsClosed() bool { return m.closed }

// Verify Mock implements Interface at compile time.
var _ Interface = (*Mock)(nil)
