// Package player is the beep backed media engine: it decodes remote MP3 and
// FLAC assets fed by a ResourceLoader and plays them through the speaker.
package player

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/hashicorp/go-hclog"

	"github.com/llehouerou/wavestream/internal/dispatch"
	"github.com/llehouerou/wavestream/internal/engine"
)

const (
	speakerRate = beep.SampleRate(44100)

	// maxPrebuffer caps how much audio must be decoded before playback
	// starts or resumes after a stall.
	maxPrebuffer = 2 * time.Second
)

// ErrUnsupportedItem is returned when an asset or item was not created by
// this package.
var ErrUnsupportedItem = errors.New("player: unsupported asset or item")

var initSpeaker = sync.OnceValue(func() error {
	return speaker.Init(speakerRate, speakerRate.N(time.Second/10))
})

// NewFactory returns a factory building speaker backed transports.
func NewFactory(logger hclog.Logger) engine.Factory {
	return func() (engine.Transport, error) {
		if err := initSpeaker(); err != nil {
			return nil, fmt.Errorf("init speaker: %w", err)
		}
		t := newTransport(logger)
		speaker.Play(t.volume)
		return t, nil
	}
}

// Transport plays one Item at a time. The speaker pulls samples through
// fill; everything fill touches is guarded by mu.
type Transport struct {
	logger hclog.Logger
	notify *dispatch.Queue

	mu         sync.Mutex
	item       *Item
	source     beep.Streamer
	wantPlay   bool
	status     engine.TimeControlStatus
	starved    bool
	reachedEnd bool
	closed     bool
	autoWait   bool
	rate       float64
	level      float64
	muted      bool
	observers  map[int]func(engine.TimeControlStatus)
	nextID     int

	seekMu  sync.Mutex
	seekGen int

	// Guarded by the speaker lock.
	resampler *beep.Resampler
	volume    *effects.Volume
}

// Verify Transport implements engine.Transport at compile time.
var _ engine.Transport = (*Transport)(nil)

func newTransport(logger hclog.Logger) *Transport {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	t := &Transport{
		logger:    logger.Named("transport"),
		notify:    dispatch.NewQueue(),
		autoWait:  true,
		rate:      1,
		level:     1,
		observers: make(map[int]func(engine.TimeControlStatus)),
	}
	t.resampler = beep.ResampleRatio(4, 1, beep.StreamerFunc(t.fill))
	t.volume = &effects.Volume{Streamer: t.resampler, Base: 2}
	return t
}

func (t *Transport) NewAsset(url string, _ map[string]any, loader engine.ResourceLoader) (engine.Asset, error) {
	return newRemoteAsset(url, loader, t.logger.Named("asset")), nil
}

func (t *Transport) NewItem(asset engine.Asset) (engine.Item, error) {
	a, ok := asset.(*RemoteAsset)
	if !ok {
		return nil, ErrUnsupportedItem
	}
	if !a.Playable() {
		return nil, errors.New("player: asset not playable")
	}
	return newItem(a, t.logger.Named("item")), nil
}

// ReplaceCurrentItem detaches the current item and starts decoding item in
// the background. nil leaves the transport without an item.
func (t *Transport) ReplaceCurrentItem(item engine.Item) {
	var next *Item
	if item != nil {
		var ok bool
		if next, ok = item.(*Item); !ok {
			t.logger.Error("replace current item", "error", ErrUnsupportedItem)
			return
		}
	}

	t.mu.Lock()
	prev := t.item
	if prev == next {
		t.mu.Unlock()
		return
	}
	t.item = next
	t.source = nil
	t.starved, t.reachedEnd = false, false
	if t.wantPlay && t.status == engine.Playing {
		t.setStatusLocked(engine.WaitingToPlay)
	}
	t.mu.Unlock()

	if prev != nil {
		prev.detach()
	}
	if next == nil {
		return
	}
	go func() {
		next.attach()
		t.resetSource(next)
	}()
}

func (t *Transport) CurrentItem() engine.Item {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.item == nil {
		return nil
	}
	return t.item
}

func (t *Transport) Play() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.wantPlay = true
	if t.status == engine.Paused {
		t.setStatusLocked(engine.WaitingToPlay)
	}
}

func (t *Transport) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.wantPlay = false
	t.setStatusLocked(engine.Paused)
}

// Seek decodes from to on a background goroutine. Seeks run one at a time;
// one that is overtaken before it starts completes unfinished.
func (t *Transport) Seek(to float64, done func(finished bool)) {
	t.mu.Lock()
	t.seekGen++
	gen := t.seekGen
	item := t.item
	t.mu.Unlock()

	go func() {
		t.seekMu.Lock()
		defer t.seekMu.Unlock()

		if t.superseded(gen) {
			done(false)
			return
		}
		if item == nil {
			done(true)
			return
		}
		if err := item.seek(engine.Seconds(max(0, to))); err != nil {
			t.logger.Debug("seek failed", "to", to, "error", err)
			done(false)
			return
		}
		t.resetSource(item)
		done(!t.superseded(gen))
	}()
}

func (t *Transport) superseded(gen int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return gen != t.seekGen
}

// resetSource points playback at item's freshly started sample buffer.
func (t *Transport) resetSource(item *Item) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.item != item {
		return
	}
	t.source = t.itemSource(item)
	t.starved, t.reachedEnd = false, false
}

// itemSource adapts item to the speaker rate. Missing samples are padded
// with silence and flagged so that fill can react; it is only called from
// fill with mu held.
func (t *Transport) itemSource(item *Item) beep.Streamer {
	var s beep.Streamer = beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		n, ended := item.read(samples)
		if n < len(samples) {
			clear(samples[n:])
			if ended {
				t.reachedEnd = true
			} else {
				t.starved = true
			}
		}
		return len(samples), true
	})
	if rate := item.format.SampleRate; rate != 0 && rate != speakerRate {
		s = beep.Resample(4, rate, speakerRate, s)
	}
	return s
}

func (t *Transport) fill(samples [][2]float64) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, false
	}
	if !t.wantPlay || t.item == nil || t.source == nil {
		clear(samples)
		return len(samples), true
	}

	if t.status == engine.WaitingToPlay && !t.prebufferedLocked() {
		clear(samples)
		return len(samples), true
	}

	t.starved = false
	t.source.Stream(samples)
	switch {
	case t.reachedEnd:
		item := t.item
		t.wantPlay = false
		t.setStatusLocked(engine.Paused)
		if !item.markEnded() {
			t.notify.Post(item.notifyEnded)
		}
	case t.starved:
		t.setStatusLocked(engine.WaitingToPlay)
	default:
		t.setStatusLocked(engine.Playing)
	}
	return len(samples), true
}

// prebufferedLocked reports whether enough audio is decoded to start.
func (t *Transport) prebufferedLocked() bool {
	buffered, finished := t.item.buffered()
	if finished {
		return true
	}
	if !t.autoWait {
		return buffered > 0
	}
	return buffered >= min(t.item.PreferredForwardBufferDuration(), maxPrebuffer)
}

func (t *Transport) setStatusLocked(s engine.TimeControlStatus) {
	if t.status == s {
		return
	}
	t.status = s
	observers := make([]func(engine.TimeControlStatus), 0, len(t.observers))
	for _, fn := range t.observers {
		observers = append(observers, fn)
	}
	t.notify.Post(func() {
		for _, fn := range observers {
			fn(s)
		}
	})
}

func (t *Transport) CurrentTime() float64 {
	t.mu.Lock()
	item := t.item
	t.mu.Unlock()
	if item == nil {
		return 0
	}
	return item.position().Seconds()
}

func (t *Transport) TimeControlStatus() engine.TimeControlStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Transport) ObserveTimeControlStatus(fn func(engine.TimeControlStatus)) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.observers[id] = fn
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.observers, id)
		t.mu.Unlock()
	}
}

// SetRate changes the playback speed. Pitch follows the speed.
func (t *Transport) SetRate(rate float64) {
	if rate <= 0 {
		return
	}
	t.mu.Lock()
	t.rate = rate
	t.mu.Unlock()
	speaker.Lock()
	t.resampler.SetRatio(rate)
	speaker.Unlock()
}

func (t *Transport) Rate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rate
}

func (t *Transport) SetVolume(volume float64) {
	volume = min(max(volume, 0), 1)
	t.mu.Lock()
	t.level = volume
	t.mu.Unlock()
	speaker.Lock()
	t.volume.Volume = levelToVolume(volume)
	speaker.Unlock()
}

func (t *Transport) Volume() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.level
}

func (t *Transport) SetMuted(muted bool) {
	t.mu.Lock()
	t.muted = muted
	t.mu.Unlock()
	speaker.Lock()
	t.volume.Silent = muted
	speaker.Unlock()
}

func (t *Transport) Muted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.muted
}

func (t *Transport) SetAutomaticallyWaitsToMinimizeStalling(wait bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.autoWait = wait
}

func (t *Transport) AutomaticallyWaitsToMinimizeStalling() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.autoWait
}

// Close detaches the current item and ends the speaker stream.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	item := t.item
	t.item, t.source = nil, nil
	t.mu.Unlock()

	if item != nil {
		item.detach()
	}
	t.notify.Close()
	return nil
}
