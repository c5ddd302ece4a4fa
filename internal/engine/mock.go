package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

// MockTransport is a test double for Transport. Signals are delivered
// synchronously on the goroutine that caused them.
type MockTransport struct {
	mu sync.Mutex

	item      Item
	status    TimeControlStatus
	time      float64
	rate      float64
	volume    float64
	muted     bool
	autoWait  bool
	closed    bool
	observers map[int]func(TimeControlStatus)
	nextID    int

	playCalls  int
	pauseCalls int
	seeks      []MockSeek
	assets     []*MockAsset
	items      []*MockItem
	replaced   []Item

	// HoldSeeks keeps seek completions pending until CompleteSeeks is called.
	HoldSeeks bool
	// ResolveAssets makes every new asset validate successfully.
	ResolveAssets bool
	// ReadyItems makes every new item start in ItemReady.
	ReadyItems bool
}

// MockSeek is a recorded Seek call.
type MockSeek struct {
	To   float64
	done func(bool)
}

// NewMock creates a new mock transport for testing.
func NewMock() *MockTransport {
	return &MockTransport{
		rate:      1,
		volume:    1,
		autoWait:  true,
		observers: make(map[int]func(TimeControlStatus)),
	}
}

// MockFactory returns a Factory that hands out the given transports in order,
// then fails.
func MockFactory(transports ...*MockTransport) Factory {
	var mu sync.Mutex
	return func() (Transport, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(transports) == 0 {
			return nil, errors.New("mock: no transport left")
		}
		t := transports[0]
		transports = transports[1:]
		return t, nil
	}
}

func (m *MockTransport) NewAsset(url string, options map[string]any, loader ResourceLoader) (Asset, error) {
	a := NewMockAsset(url)
	a.Options = options
	a.Loader = loader
	m.mu.Lock()
	if m.ResolveAssets {
		a.Resolve(nil)
	}
	m.assets = append(m.assets, a)
	m.mu.Unlock()
	return a, nil
}

func (m *MockTransport) NewItem(asset Asset) (Item, error) {
	it := NewMockItem(asset)
	m.mu.Lock()
	if m.ReadyItems {
		it.status = ItemReady
	}
	m.items = append(m.items, it)
	m.mu.Unlock()
	return it, nil
}

func (m *MockTransport) ReplaceCurrentItem(item Item) {
	m.mu.Lock()
	m.item = item
	m.replaced = append(m.replaced, item)
	m.mu.Unlock()
}

func (m *MockTransport) CurrentItem() Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.item
}

// Play moves to Playing when an item is attached; otherwise it is a no-op.
func (m *MockTransport) Play() {
	m.mu.Lock()
	m.playCalls++
	hasItem := m.item != nil
	m.mu.Unlock()
	if hasItem {
		m.SetTimeControlStatus(Playing)
	}
}

func (m *MockTransport) Pause() {
	m.mu.Lock()
	m.pauseCalls++
	m.mu.Unlock()
	m.SetTimeControlStatus(Paused)
}

func (m *MockTransport) Seek(to float64, done func(finished bool)) {
	m.mu.Lock()
	if m.HoldSeeks {
		m.seeks = append(m.seeks, MockSeek{To: to, done: done})
		m.mu.Unlock()
		return
	}
	m.seeks = append(m.seeks, MockSeek{To: to})
	m.time = to
	m.mu.Unlock()
	done(true)
}

func (m *MockTransport) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.time
}

func (m *MockTransport) TimeControlStatus() TimeControlStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *MockTransport) ObserveTimeControlStatus(fn func(TimeControlStatus)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.observers[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

func (m *MockTransport) SetRate(rate float64) {
	m.mu.Lock()
	m.rate = rate
	m.mu.Unlock()
}

func (m *MockTransport) Rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rate
}

func (m *MockTransport) SetVolume(volume float64) {
	m.mu.Lock()
	m.volume = volume
	m.mu.Unlock()
}

func (m *MockTransport) Volume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volume
}

func (m *MockTransport) SetMuted(muted bool) {
	m.mu.Lock()
	m.muted = muted
	m.mu.Unlock()
}

func (m *MockTransport) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

func (m *MockTransport) SetAutomaticallyWaitsToMinimizeStalling(wait bool) {
	m.mu.Lock()
	m.autoWait = wait
	m.mu.Unlock()
}

func (m *MockTransport) AutomaticallyWaitsToMinimizeStalling() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.autoWait
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Test helpers

// SetTimeControlStatus changes the status and notifies observers if it changed.
func (m *MockTransport) SetTimeControlStatus(s TimeControlStatus) {
	m.mu.Lock()
	if m.status == s {
		m.mu.Unlock()
		return
	}
	m.status = s
	fns := make([]func(TimeControlStatus), 0, len(m.observers))
	for _, fn := range m.observers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// SetCurrentTime sets the reported playhead position in seconds.
func (m *MockTransport) SetCurrentTime(seconds float64) {
	m.mu.Lock()
	m.time = seconds
	m.mu.Unlock()
}

// CompleteSeeks completes every held seek.
func (m *MockTransport) CompleteSeeks(finished bool) {
	m.mu.Lock()
	var pending []MockSeek
	for i := range m.seeks {
		if m.seeks[i].done != nil {
			pending = append(pending, m.seeks[i])
			m.seeks[i].done = nil
		}
	}
	if len(pending) > 0 && finished {
		m.time = pending[len(pending)-1].To
	}
	m.mu.Unlock()
	for _, s := range pending {
		s.done(finished)
	}
}

func (m *MockTransport) PlayCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playCalls
}

func (m *MockTransport) PauseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pauseCalls
}

func (m *MockTransport) Seeks() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, len(m.seeks))
	for i, s := range m.seeks {
		out[i] = s.To
	}
	return out
}

func (m *MockTransport) Assets() []*MockAsset {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockAsset(nil), m.assets...)
}

func (m *MockTransport) Items() []*MockItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockItem(nil), m.items...)
}

// Replaced returns every item passed to ReplaceCurrentItem, nil included.
func (m *MockTransport) Replaced() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Item(nil), m.replaced...)
}

func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockTransport) ObserverCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.observers)
}

// MockAsset is a test double for Asset. LoadPlayable blocks until Resolve.
type MockAsset struct {
	mu sync.Mutex

	url       string
	result    chan error
	duration  float64
	chapters  []MetadataGroup
	formats   []string
	metadata  map[string][]MetadataItem
	cancelled bool

	Options map[string]any
	Loader  ResourceLoader
}

// NewMockAsset creates an unresolved asset with unknown duration.
func NewMockAsset(url string) *MockAsset {
	return &MockAsset{
		url:      url,
		result:   make(chan error, 1),
		duration: math.NaN(),
		metadata: make(map[string][]MetadataItem),
	}
}

func (a *MockAsset) URL() string { return a.url }

func (a *MockAsset) LoadPlayable(ctx context.Context) error {
	select {
	case err := <-a.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *MockAsset) Duration() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.duration
}

func (a *MockAsset) Chapters(_ []string) []MetadataGroup {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chapters
}

func (a *MockAsset) MetadataFormats() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.formats
}

func (a *MockAsset) Metadata(format string) []MetadataItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metadata[format]
}

func (a *MockAsset) Cancel() {
	a.mu.Lock()
	a.cancelled = true
	a.mu.Unlock()
}

// Resolve completes validation with err. Only the first call has an effect.
func (a *MockAsset) Resolve(err error) {
	select {
	case a.result <- err:
	default:
	}
}

func (a *MockAsset) SetDuration(seconds float64) {
	a.mu.Lock()
	a.duration = seconds
	a.mu.Unlock()
}

func (a *MockAsset) SetChapters(groups []MetadataGroup) {
	a.mu.Lock()
	a.chapters = groups
	a.mu.Unlock()
}

func (a *MockAsset) AddMetadata(format string, items ...MetadataItem) {
	a.mu.Lock()
	a.formats = append(a.formats, format)
	a.metadata[format] = items
	a.mu.Unlock()
}

func (a *MockAsset) Cancelled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancelled
}

// MockItem is a test double for Item.
type MockItem struct {
	mu sync.Mutex

	asset     Asset
	status    ItemStatus
	err       error
	duration  float64
	loaded    []TimeRange
	seekable  []TimeRange
	accessLog []AccessLogEvent
	forward   time.Duration
	observers map[int]ItemObserver
	nextID    int
}

// NewMockItem creates an item in ItemUnknown with unknown duration.
func NewMockItem(asset Asset) *MockItem {
	return &MockItem{
		asset:     asset,
		duration:  math.NaN(),
		observers: make(map[int]ItemObserver),
	}
}

func (i *MockItem) Asset() Asset { return i.asset }

func (i *MockItem) Status() ItemStatus {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

func (i *MockItem) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.err
}

func (i *MockItem) Duration() float64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.duration
}

func (i *MockItem) LoadedTimeRanges() []TimeRange {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.loaded
}

func (i *MockItem) SeekableTimeRanges() []TimeRange {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.seekable
}

func (i *MockItem) AccessLog() []AccessLogEvent {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.accessLog
}

func (i *MockItem) PreferredForwardBufferDuration() time.Duration {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.forward
}

func (i *MockItem) SetPreferredForwardBufferDuration(d time.Duration) {
	i.mu.Lock()
	i.forward = d
	i.mu.Unlock()
}

func (i *MockItem) Observe(o ItemObserver) func() {
	i.mu.Lock()
	id := i.nextID
	i.nextID++
	i.observers[id] = o
	i.mu.Unlock()
	return func() {
		i.mu.Lock()
		delete(i.observers, id)
		i.mu.Unlock()
	}
}

func (i *MockItem) snapshot() []ItemObserver {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]ItemObserver, 0, len(i.observers))
	for _, o := range i.observers {
		out = append(out, o)
	}
	return out
}

// Test helpers

// SetStatus changes the status and notifies observers.
func (i *MockItem) SetStatus(s ItemStatus, err error) {
	i.mu.Lock()
	i.status = s
	i.err = err
	i.mu.Unlock()
	for _, o := range i.snapshot() {
		if o.StatusChanged != nil {
			o.StatusChanged(s)
		}
	}
}

// SetDuration changes the duration and notifies observers.
func (i *MockItem) SetDuration(seconds float64) {
	i.mu.Lock()
	i.duration = seconds
	i.mu.Unlock()
	for _, o := range i.snapshot() {
		if o.DurationChanged != nil {
			o.DurationChanged(seconds)
		}
	}
}

// SendMetadata delivers timed metadata to observers.
func (i *MockItem) SendMetadata(groups []MetadataGroup) {
	for _, o := range i.snapshot() {
		if o.MetadataReceived != nil {
			o.MetadataReceived(groups)
		}
	}
}

// End signals that the item played to its end.
func (i *MockItem) End() {
	for _, o := range i.snapshot() {
		if o.Ended != nil {
			o.Ended()
		}
	}
}

func (i *MockItem) SetLoadedTimeRanges(r ...TimeRange) {
	i.mu.Lock()
	i.loaded = r
	i.mu.Unlock()
}

func (i *MockItem) SetSeekableTimeRanges(r ...TimeRange) {
	i.mu.Lock()
	i.seekable = r
	i.mu.Unlock()
}

func (i *MockItem) AddAccessLogEvent(e AccessLogEvent) {
	i.mu.Lock()
	i.accessLog = append(i.accessLog, e)
	i.mu.Unlock()
}

func (i *MockItem) ObserverCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.observers)
}

// Verify mocks implement their interfaces at compile time.
var (
	_ Transport = (*MockTransport)(nil)
	_ Asset     = (*MockAsset)(nil)
	_ Item      = (*MockItem)(nil)
)
