package player

import (
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llehouerou/wavestream/internal/engine"
)

func TestTransport_PlayPauseStatus(t *testing.T) {
	tr := newTransport(hclog.NewNullLogger())
	t.Cleanup(func() { _ = tr.Close() })

	statuses := make(chan engine.TimeControlStatus, 8)
	cancel := tr.ObserveTimeControlStatus(func(s engine.TimeControlStatus) { statuses <- s })
	defer cancel()

	assert.Equal(t, engine.Paused, tr.TimeControlStatus())

	tr.Play()
	assert.Equal(t, engine.WaitingToPlay, tr.TimeControlStatus())
	tr.Pause()
	assert.Equal(t, engine.Paused, tr.TimeControlStatus())

	for _, want := range []engine.TimeControlStatus{engine.WaitingToPlay, engine.Paused} {
		select {
		case got := <-statuses:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("no %v notification", want)
		}
	}
}

func TestTransport_FillWithoutItemIsSilent(t *testing.T) {
	tr := newTransport(hclog.NewNullLogger())
	tr.Play()

	buf := [][2]float64{{1, 1}, {1, 1}}
	n, ok := tr.fill(buf)
	assert.Equal(t, 2, n)
	assert.True(t, ok)
	assert.Equal(t, [][2]float64{{0, 0}, {0, 0}}, buf)
	assert.Equal(t, engine.WaitingToPlay, tr.TimeControlStatus())

	require.NoError(t, tr.Close())
	n, ok = tr.fill(buf)
	assert.Zero(t, n)
	assert.False(t, ok)
}

func TestTransport_RejectsForeignAssets(t *testing.T) {
	tr := newTransport(nil)
	t.Cleanup(func() { _ = tr.Close() })

	_, err := tr.NewItem(engine.NewMockAsset("http://x.test/a.mp3"))
	assert.ErrorIs(t, err, ErrUnsupportedItem)

	asset, err := tr.NewAsset("http://x.test/a.mp3", nil, stallLoader{})
	require.NoError(t, err)
	assert.Equal(t, "http://x.test/a.mp3", asset.URL())

	// Not validated yet.
	_, err = tr.NewItem(asset)
	assert.Error(t, err)
}

func TestTransport_Tunables(t *testing.T) {
	tr := newTransport(nil)
	t.Cleanup(func() { _ = tr.Close() })

	tr.SetRate(1.5)
	tr.SetRate(0)
	assert.InDelta(t, 1.5, tr.Rate(), 1e-9)

	tr.SetVolume(2)
	assert.InDelta(t, 1.0, tr.Volume(), 1e-9)
	tr.SetVolume(0.5)
	assert.InDelta(t, -1.0, tr.volume.Volume, 1e-9)

	tr.SetMuted(true)
	assert.True(t, tr.Muted())
	assert.True(t, tr.volume.Silent)

	tr.SetAutomaticallyWaitsToMinimizeStalling(false)
	assert.False(t, tr.AutomaticallyWaitsToMinimizeStalling())
}

func TestTransport_SeekWithoutItem(t *testing.T) {
	tr := newTransport(nil)
	t.Cleanup(func() { _ = tr.Close() })

	done := make(chan bool, 1)
	tr.Seek(10, func(finished bool) { done <- finished })
	select {
	case finished := <-done:
		assert.True(t, finished)
	case <-time.After(time.Second):
		t.Fatal("seek never completed")
	}
}

func TestAsset_EmptyResource(t *testing.T) {
	a := newRemoteAsset("http://x.test/empty.mp3", &memLoader{}, hclog.NewNullLogger())
	err := a.LoadPlayable(t.Context())
	assert.Error(t, err)
	assert.False(t, a.Playable())
	assert.True(t, !engine.Known(a.Duration()))
}
