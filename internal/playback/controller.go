// Package playback derives an observable playback state from a media
// transport and manages the lifecycle of the asset being loaded.
package playback

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/llehouerou/wavestream/internal/dispatch"
	"github.com/llehouerou/wavestream/internal/engine"
	"github.com/llehouerou/wavestream/internal/errmsg"
	"github.com/llehouerou/wavestream/internal/streaming"
	"github.com/llehouerou/wavestream/internal/timeevent"
)

// pendingAsset is an asset being validated, or the asset of the attached
// item once validation succeeded. It is stale as soon as the controller
// points at another one.
type pendingAsset struct {
	id     uuid.UUID
	url    string
	asset  engine.Asset
	loader *streaming.Loader
	cancel context.CancelFunc
	ready  bool
}

// Controller plays one remote asset at a time. Every mutation runs on a
// serialized queue; public methods block until their work ran.
type Controller struct {
	queue     *dispatch.Queue
	loadQueue *dispatch.Queue
	factory   engine.Factory
	logger    hclog.Logger

	// Guards transport and item for the loader probe and the scheduler
	// clock. Writes happen on the queue only.
	mu        sync.RWMutex
	transport engine.Transport
	item      engine.Item
	itemOwner *pendingAsset

	// Queue owned.
	opts          options
	state         State
	pending       *pendingAsset
	observer      *observer
	scheduler     *timeevent.Scheduler
	playWhenReady bool
	initialSeek   *time.Duration
	pausedForLoad bool
	loadTimer     *time.Timer
	lastDuration  time.Duration
	boundaries    []time.Duration

	subsMu sync.Mutex
	subs   []*Subscription

	closeOnce sync.Once
}

// New creates a controller around a transport built by factory. The
// factory is called again whenever the transport must be recreated.
func New(factory engine.Factory, opts ...Option) (*Controller, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	t, err := factory()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}

	c := &Controller{
		queue:     dispatch.NewQueue(),
		loadQueue: o.loadQueue,
		factory:   factory,
		logger:    o.logger.Named("controller"),
		transport: t,
		opts:      o,
	}
	if c.loadQueue == nil {
		c.loadQueue = dispatch.NewQueue()
	}
	c.observer = newObserver(c.queue, c)
	c.scheduler = timeevent.New(o.timeEventInterval, c.clock, c.queue, timeevent.Handler{
		Elapsed:  c.elapsed,
		Boundary: c.boundaryCrossed,
	})
	c.applyTunables(t)
	return c, nil
}

// Subscribe returns a new subscription to controller events.
func (c *Controller) Subscribe() *Subscription {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	s := newSubscription()
	c.subs = append(c.subs, s)
	return s
}

// Close releases the item and the transport and closes every subscription.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.do(func() {
			c.hardReset()
			err = c.transport.Close()
		})
		c.queue.Close()
		c.loadQueue.Close()
		c.scheduler.Stop()

		c.subsMu.Lock()
		for _, s := range c.subs {
			s.close()
		}
		c.subs = nil
		c.subsMu.Unlock()
	})
	return err
}

// Load replaces the current asset with url. Options are forwarded to the
// transport unchanged; streaming.OptionHTTPHeaders adds request headers.
func (c *Controller) Load(url string, playWhenReady bool, initialTime *time.Duration, options map[string]any) {
	c.do(func() { c.load(url, playWhenReady, initialTime, options) })
}

// Play starts playback, or remembers to once the loading item is ready.
func (c *Controller) Play() { c.do(c.play) }

// Pause pauses playback.
func (c *Controller) Pause() { c.do(c.pause) }

// TogglePlaying pauses when playing or waiting to play, plays otherwise.
func (c *Controller) TogglePlaying() {
	c.do(func() {
		switch c.transport.TimeControlStatus() {
		case engine.Playing, engine.WaitingToPlay:
			c.pause()
		default:
			c.play()
		}
	})
}

// Stop pauses and releases the current item entirely.
func (c *Controller) Stop() {
	c.do(func() {
		c.pause()
		c.hardReset()
	})
}

// Seek moves the playhead. While loading, the position is applied once the
// item is ready.
func (c *Controller) Seek(to time.Duration) {
	c.do(func() { c.seek(to) })
}

// State returns the current playback state.
func (c *Controller) State() State {
	var s State
	c.do(func() { s = c.state })
	return s
}

// CurrentTime returns the playhead position, 0 when unknown.
func (c *Controller) CurrentTime() time.Duration {
	var d time.Duration
	c.do(func() { d = c.clock() })
	return d
}

// Duration returns the duration of the current asset, 0 when unknown.
func (c *Controller) Duration() time.Duration {
	var d time.Duration
	c.do(func() { d = c.duration() })
	return d
}

// BufferedPosition returns the end of the last loaded time range.
func (c *Controller) BufferedPosition() time.Duration {
	var d time.Duration
	c.do(func() {
		item := c.currentItem()
		if item == nil {
			return
		}
		if r := item.LoadedTimeRanges(); len(r) > 0 {
			d = engine.Seconds(r[len(r)-1].End())
		}
	})
	return d
}

// SetBufferDuration sets the preferred forward buffer of the current and
// future items.
func (c *Controller) SetBufferDuration(d time.Duration) {
	c.do(func() {
		if d <= 0 {
			d = DefaultBufferDuration
		}
		c.opts.bufferDuration = d
		if item := c.currentItem(); item != nil {
			item.SetPreferredForwardBufferDuration(d)
		}
	})
}

// BufferDuration returns the preferred forward buffer of items.
func (c *Controller) BufferDuration() time.Duration {
	var d time.Duration
	c.do(func() { d = c.opts.bufferDuration })
	return d
}

// SetMaxBufferDuration sets how far ahead of the playhead loaders fetch.
func (c *Controller) SetMaxBufferDuration(d time.Duration) {
	c.do(func() {
		if d <= 0 {
			d = streaming.DefaultMaxBufferDuration
		}
		c.opts.maxBufferDuration = d
		if c.pending != nil {
			c.pending.loader.SetMaxBufferDuration(d)
		}
	})
}

// MaxBufferDuration returns how far ahead of the playhead loaders fetch.
func (c *Controller) MaxBufferDuration() time.Duration {
	var d time.Duration
	c.do(func() { d = c.opts.maxBufferDuration })
	return d
}

// SetTimeEventFrequency sets the interval of elapsed events.
func (c *Controller) SetTimeEventFrequency(d time.Duration) {
	c.do(func() {
		c.scheduler.SetInterval(d)
		c.opts.timeEventInterval = c.scheduler.Interval()
	})
}

// TimeEventFrequency returns the interval of elapsed events.
func (c *Controller) TimeEventFrequency() time.Duration {
	var d time.Duration
	c.do(func() { d = c.opts.timeEventInterval })
	return d
}

// SetBoundaryTimes sets the positions that emit BoundaryCrossed.
func (c *Controller) SetBoundaryTimes(times []time.Duration) {
	c.do(func() {
		c.boundaries = slices.Clone(times)
		c.scheduler.SetBoundaries(times)
	})
}

// BoundaryTimes returns a copy of the positions that emit BoundaryCrossed.
func (c *Controller) BoundaryTimes() []time.Duration {
	var out []time.Duration
	c.do(func() { out = slices.Clone(c.boundaries) })
	return out
}

// SetRate sets the playback rate. Non-positive rates are ignored.
func (c *Controller) SetRate(rate float64) {
	c.do(func() {
		if rate <= 0 {
			return
		}
		c.opts.rate = rate
		c.transport.SetRate(rate)
	})
}

// Rate returns the playback rate.
func (c *Controller) Rate() float64 {
	var r float64
	c.do(func() { r = c.opts.rate })
	return r
}

// SetVolume sets the volume, clamped to 0.0 - 1.0.
func (c *Controller) SetVolume(v float64) {
	c.do(func() {
		c.opts.volume = clampVolume(v)
		c.transport.SetVolume(c.opts.volume)
	})
}

// Volume returns the volume, 0.0 - 1.0.
func (c *Controller) Volume() float64 {
	var v float64
	c.do(func() { v = c.opts.volume })
	return v
}

// SetMuted mutes or unmutes the output without changing the volume.
func (c *Controller) SetMuted(muted bool) {
	c.do(func() {
		c.opts.muted = muted
		c.transport.SetMuted(muted)
	})
}

// Muted reports whether the output is muted.
func (c *Controller) Muted() bool {
	var m bool
	c.do(func() { m = c.opts.muted })
	return m
}

// SetAutomaticallyWaitsToMinimizeStalling sets whether the transport
// buffers ahead before starting or resuming playback.
func (c *Controller) SetAutomaticallyWaitsToMinimizeStalling(wait bool) {
	c.do(func() {
		c.opts.autoWait = wait
		c.transport.SetAutomaticallyWaitsToMinimizeStalling(wait)
	})
}

// AutomaticallyWaitsToMinimizeStalling reports whether the transport
// buffers ahead before playing.
func (c *Controller) AutomaticallyWaitsToMinimizeStalling() bool {
	var w bool
	c.do(func() { w = c.opts.autoWait })
	return w
}

// do runs fn on the queue and waits for it. After Close it does nothing.
func (c *Controller) do(fn func()) {
	c.queue.Do(fn)
}

func (c *Controller) load(url string, playWhenReady bool, initialTime *time.Duration, options map[string]any) {
	if c.item != nil && c.item.Status() == engine.ItemFailed {
		if err := c.recreateTransport(); err != nil {
			c.hardReset()
			c.emitError(errmsg.OpTransport, url, err)
			return
		}
	}
	c.softReset()

	c.playWhenReady = playWhenReady
	c.initialSeek = nil
	if initialTime != nil {
		at := *initialTime
		c.initialSeek = &at
	}
	c.pausedForLoad = true
	c.transport.Pause()
	c.transition(StateLoading)

	ctx, cancel := context.WithCancel(context.Background())
	p := &pendingAsset{id: uuid.New(), url: url, cancel: cancel}
	p.loader = streaming.New(url, streaming.Options{
		Client:            c.opts.client,
		Header:            streaming.HeadersFromOptions(options),
		MaxBufferDuration: c.opts.maxBufferDuration,
		ThrottleDelay:     c.opts.throttleDelay,
		DefaultBitrate:    c.opts.defaultBitrate,
		Executor:          c.loadQueue,
		Probe:             loaderProbe{c: c, owner: p},
		Logger:            c.opts.logger.Named("loader").With("load", p.id.String()),
	})

	asset, err := c.transport.NewAsset(url, options, p.loader)
	if err != nil {
		cancel()
		p.loader.Cancel()
		c.hardReset()
		c.emitError(errmsg.OpLoad, url, fmt.Errorf("%w: %w", ErrAssetValidationFailed, err))
		return
	}
	p.asset = asset
	c.pending = p
	c.loadTimer = time.AfterFunc(c.opts.loadTimeout, func() {
		c.queue.Post(func() { c.loadTimedOut(p) })
	})
	c.logger.Debug("loading", "url", url, "load", p.id, "play_when_ready", playWhenReady)

	// Validation blocks on the loader, which runs on the load queue.
	go func() {
		err := asset.LoadPlayable(ctx)
		c.queue.Post(func() { c.finishLoad(p, err) })
	}()
}

func (c *Controller) finishLoad(p *pendingAsset, err error) {
	if c.pending != p || errors.Is(err, context.Canceled) {
		c.logger.Trace("validation dropped", "load", p.id, "reason", ErrAssetValidationCancelled)
		return
	}
	if err != nil {
		c.failLoad(p, fmt.Errorf("%w: %w", ErrAssetValidationFailed, err))
		return
	}

	item, err := c.transport.NewItem(p.asset)
	if err != nil {
		c.failLoad(p, fmt.Errorf("%w: %w", ErrAssetValidationFailed, err))
		return
	}
	item.SetPreferredForwardBufferDuration(c.opts.bufferDuration)
	c.transport.ReplaceCurrentItem(item)
	c.setItem(item, p)
	c.observer.attach(c.transport, item)
	c.scheduler.Start()

	c.publishMetadata(p.asset)
	c.updateDuration()
	c.logger.Debug("item attached", "url", p.url, "load", p.id)
}

func (c *Controller) failLoad(p *pendingAsset, err error) {
	c.hardReset()
	c.emitError(errmsg.OpLoad, p.url, err)
}

func (c *Controller) loadTimedOut(p *pendingAsset) {
	if c.pending != p || p.ready {
		return
	}
	c.failLoad(p, fmt.Errorf("%w after %s", ErrLoadTimeout, c.opts.loadTimeout))
}

func (c *Controller) recreateTransport() error {
	c.softReset()
	t, err := c.factory()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}
	old := c.transport
	c.setTransport(t)
	c.setItem(nil, nil)
	if err := old.Close(); err != nil {
		c.logger.Warn("closing failed transport", "error", err)
	}
	c.applyTunables(t)
	c.logger.Info("transport recreated")
	c.emit(func(s *Subscription) { s.sendRecreated(TransportRecreated{}) })
	return nil
}

// softReset abandons the pending asset but leaves the current item attached.
func (c *Controller) softReset() {
	c.stopLoadTimer()
	c.observer.detach()
	c.scheduler.Stop()
	if p := c.pending; p != nil {
		c.pending = nil
		p.cancel()
		p.asset.Cancel()
		p.loader.Cancel()
	}
}

// hardReset abandons the pending asset and releases the item.
func (c *Controller) hardReset() {
	c.softReset()
	c.transport.ReplaceCurrentItem(nil)
	c.setItem(nil, nil)
	c.initialSeek = nil
	c.pausedForLoad = false
	c.lastDuration = 0
	c.transition(StateIdle)
}

func (c *Controller) stopLoadTimer() {
	if c.loadTimer != nil {
		c.loadTimer.Stop()
		c.loadTimer = nil
	}
}

func (c *Controller) play() {
	c.playWhenReady = true
	if c.state == StateLoading {
		return
	}
	c.transport.Play()
}

func (c *Controller) pause() {
	c.playWhenReady = false
	c.transport.Pause()
}

func (c *Controller) seek(to time.Duration) {
	if c.state == StateLoading {
		c.initialSeek = &to
		return
	}
	c.seekTransport(to, nil)
}

// seekTransport issues a seek. initial is the load whose deferred seek this
// is, or nil.
func (c *Controller) seekTransport(to time.Duration, initial *pendingAsset) {
	c.transport.Seek(to.Seconds(), func(finished bool) {
		c.queue.Post(func() { c.seekDone(to, finished, initial) })
	})
}

func (c *Controller) seekDone(to time.Duration, finished bool, initial *pendingAsset) {
	if initial != nil && initial == c.pending && c.initialSeek != nil {
		c.initialSeek = nil
		if c.playWhenReady {
			c.play()
		}
	}
	if finished {
		c.scheduler.Sync(to)
	}
	c.emit(func(s *Subscription) { s.sendSeek(SeekCompleted{Offset: to, Finished: finished}) })
}

func (c *Controller) transition(next State) {
	prev := c.state
	if !applyTransition(prev, next) {
		return
	}
	c.state = next
	c.logger.Debug("state changed", "from", prev, "to", next)
	c.emit(func(s *Subscription) { s.sendState(StateChange{Previous: prev, Current: next}) })
}

// Signals relayed by the observer.

func (c *Controller) timeControlChanged(status engine.TimeControlStatus) {
	if next, ok := stateForTimeControl(status, c.pending != nil, c.pausedForLoad); ok {
		c.transition(next)
	}
}

func (c *Controller) itemStatusChanged(item engine.Item, status engine.ItemStatus) {
	if item != c.item {
		return
	}
	switch status {
	case engine.ItemReady:
		p := c.pending
		if p == nil || p.ready {
			return
		}
		p.ready = true
		c.stopLoadTimer()
		c.pausedForLoad = false
		c.transition(StateReady)
		c.updateDuration()
		if c.initialSeek != nil {
			c.seekTransport(*c.initialSeek, p)
		} else if c.playWhenReady {
			c.play()
		}
	case engine.ItemFailed:
		c.stopLoadTimer()
		cause := item.Err()
		if cause == nil {
			cause = errors.New("item failed")
		}
		c.emitError(errmsg.OpPlayback, item.Asset().URL(), fmt.Errorf("%w: %w", ErrTransportFailure, cause))
	}
}

func (c *Controller) itemDurationChanged(item engine.Item) {
	if item == c.item {
		c.updateDuration()
	}
}

func (c *Controller) itemMetadata(item engine.Item, groups []engine.MetadataGroup) {
	if item != c.item || len(groups) == 0 {
		return
	}
	c.emit(func(s *Subscription) { s.sendMetadata(MetadataReceived{Groups: groups}) })
}

func (c *Controller) itemEnded(item engine.Item) {
	if item != c.item {
		return
	}
	url := item.Asset().URL()
	c.logger.Debug("item ended", "url", url)
	c.emit(func(s *Subscription) { s.sendEnded(ItemEnded{URL: url}) })
}

// Scheduler callbacks.

func (c *Controller) elapsed(pos time.Duration) {
	if c.currentItem() == nil {
		return
	}
	c.emit(func(s *Subscription) { s.sendElapsed(Elapsed{Position: pos}) })
}

func (c *Controller) boundaryCrossed(b time.Duration) {
	if c.currentItem() == nil {
		return
	}
	c.emit(func(s *Subscription) { s.sendBoundary(BoundaryCrossed{Time: b}) })
}

// publishMetadata emits the asset's chapters for the preferred locales, or
// one group per metadata format spanning the whole asset.
func (c *Controller) publishMetadata(asset engine.Asset) {
	groups := asset.Chapters(c.opts.preferredLocales)
	if len(groups) == 0 {
		d := c.duration()
		for _, format := range asset.MetadataFormats() {
			groups = append(groups, engine.MetadataGroup{
				Title:    format,
				Duration: d,
				Items:    asset.Metadata(format),
			})
		}
	}
	if len(groups) == 0 {
		return
	}
	c.emit(func(s *Subscription) { s.sendMetadata(MetadataReceived{Groups: groups}) })
}

func (c *Controller) updateDuration() {
	d := c.duration()
	if d <= 0 || d == c.lastDuration {
		return
	}
	c.lastDuration = d
	c.emit(func(s *Subscription) { s.sendDuration(DurationUpdated{Duration: d}) })
}

// duration returns the first known of the asset duration, the item
// duration and the last seekable range.
func (c *Controller) duration() time.Duration {
	if c.pending != nil {
		if d := c.pending.asset.Duration(); positive(d) {
			return engine.Seconds(d)
		}
	}
	item := c.currentItem()
	if item == nil {
		return 0
	}
	if d := item.Duration(); positive(d) {
		return engine.Seconds(d)
	}
	if r := item.SeekableTimeRanges(); len(r) > 0 && positive(r[len(r)-1].Duration) {
		return engine.Seconds(r[len(r)-1].Duration)
	}
	return 0
}

func positive(seconds float64) bool {
	return engine.Known(seconds) && seconds > 0
}

// currentItem returns the attached item if it belongs to the current asset.
func (c *Controller) currentItem() engine.Item {
	if c.item == nil || c.itemOwner != c.pending {
		return nil
	}
	return c.item
}

func (c *Controller) clock() time.Duration {
	c.mu.RLock()
	t := c.transport
	c.mu.RUnlock()
	return engine.Seconds(t.CurrentTime())
}

func (c *Controller) setItem(item engine.Item, owner *pendingAsset) {
	c.mu.Lock()
	c.item, c.itemOwner = item, owner
	c.mu.Unlock()
}

func (c *Controller) setTransport(t engine.Transport) {
	c.mu.Lock()
	c.transport = t
	c.mu.Unlock()
}

func (c *Controller) applyTunables(t engine.Transport) {
	t.SetRate(c.opts.rate)
	t.SetVolume(c.opts.volume)
	t.SetMuted(c.opts.muted)
	t.SetAutomaticallyWaitsToMinimizeStalling(c.opts.autoWait)
}

func (c *Controller) emitError(op errmsg.Op, url string, err error) {
	c.logger.Warn(errmsg.Format(op, err), "url", url)
	c.emit(func(s *Subscription) { s.sendError(ErrorEvent{Operation: op, URL: url, Err: err}) })
}

func (c *Controller) emit(fn func(*Subscription)) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, s := range c.subs {
		fn(s)
	}
}

// loaderProbe feeds a loader the playhead and bitrate of the item built
// from its own asset. Until that item is attached it reports nothing.
type loaderProbe struct {
	c     *Controller
	owner *pendingAsset
}

func (p loaderProbe) attached() (engine.Transport, engine.Item) {
	p.c.mu.RLock()
	defer p.c.mu.RUnlock()
	if p.c.item == nil || p.c.itemOwner != p.owner {
		return nil, nil
	}
	return p.c.transport, p.c.item
}

func (p loaderProbe) CurrentTime() time.Duration {
	t, _ := p.attached()
	if t == nil {
		return 0
	}
	return engine.Seconds(t.CurrentTime())
}

func (p loaderProbe) IndicatedBitrate() float64 {
	_, item := p.attached()
	if item == nil {
		return 0
	}
	log := item.AccessLog()
	if len(log) == 0 {
		return 0
	}
	return log[len(log)-1].IndicatedBitrate
}
