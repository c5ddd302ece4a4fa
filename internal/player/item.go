package player

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/hashicorp/go-hclog"

	"github.com/llehouerou/wavestream/internal/engine"
)

const (
	decodeChunk       = 4096
	minForwardBuffer  = time.Second
	durationTolerance = 1.0 // seconds
)

// Item decodes a RemoteAsset ahead of the playhead into a bounded sample
// buffer the transport plays from.
type Item struct {
	asset  *RemoteAsset
	logger hclog.Logger

	mu        sync.Mutex
	status    engine.ItemStatus
	err       error
	forward   time.Duration
	format    beep.Format
	base      time.Duration // position of the first buffered sample
	played    int           // samples handed to the transport since base
	decoded   int           // samples decoded since base
	startByte int64
	bitrate   float64
	duration  float64
	buf       *sampleBuffer
	running   chan struct{}
	opMu      sync.Mutex // serializes attach, detach and seek
	attached  bool
	ended     bool
	observers map[int]engine.ItemObserver
	nextID    int
}

// Verify Item implements engine.Item at compile time.
var _ engine.Item = (*Item)(nil)

func newItem(asset *RemoteAsset, logger hclog.Logger) *Item {
	return &Item{
		asset:     asset,
		logger:    logger,
		forward:   minForwardBuffer,
		format:    asset.Format(),
		duration:  asset.Duration(),
		observers: make(map[int]engine.ItemObserver),
	}
}

func (it *Item) Asset() engine.Asset { return it.asset }

func (it *Item) Status() engine.ItemStatus {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.status
}

func (it *Item) Err() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.err
}

func (it *Item) Duration() float64 {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.duration
}

// LoadedTimeRanges returns the span from the playhead to the last decoded
// sample.
func (it *Item) LoadedTimeRanges() []engine.TimeRange {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.buf == nil || it.format.SampleRate == 0 {
		return nil
	}
	end := it.format.SampleRate.D(it.played + it.buf.len())
	return []engine.TimeRange{{Start: it.base.Seconds(), Duration: end.Seconds()}}
}

func (it *Item) SeekableTimeRanges() []engine.TimeRange {
	it.mu.Lock()
	defer it.mu.Unlock()
	if !engine.Known(it.duration) || it.duration <= 0 {
		return nil
	}
	return []engine.TimeRange{{Start: 0, Duration: it.duration}}
}

// AccessLog reports the bitrate measured from the bytes the decoder
// consumed.
func (it *Item) AccessLog() []engine.AccessLogEvent {
	it.mu.Lock()
	bitrate := it.bitrate
	decoded := it.format.SampleRate.D(it.decoded)
	it.mu.Unlock()
	if bitrate <= 0 {
		return nil
	}
	return []engine.AccessLogEvent{{
		IndicatedBitrate: bitrate,
		BytesTransferred: it.asset.reader.Transferred(),
		Duration:         decoded,
	}}
}

func (it *Item) PreferredForwardBufferDuration() time.Duration {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.forward
}

// SetPreferredForwardBufferDuration sizes the sample buffer. It applies to
// the buffer created by the next attach or seek.
func (it *Item) SetPreferredForwardBufferDuration(d time.Duration) {
	it.mu.Lock()
	it.forward = max(d, minForwardBuffer)
	if it.buf != nil && it.format.SampleRate > 0 {
		it.buf.resize(it.format.SampleRate.N(it.forward))
	}
	it.mu.Unlock()
}

func (it *Item) Observe(o engine.ItemObserver) func() {
	it.mu.Lock()
	id := it.nextID
	it.nextID++
	it.observers[id] = o
	it.mu.Unlock()
	return func() {
		it.mu.Lock()
		delete(it.observers, id)
		it.mu.Unlock()
	}
}

func (it *Item) snapshot() []engine.ItemObserver {
	it.mu.Lock()
	defer it.mu.Unlock()
	out := make([]engine.ItemObserver, 0, len(it.observers))
	for _, o := range it.observers {
		out = append(out, o)
	}
	return out
}

// position returns the playhead.
func (it *Item) position() time.Duration {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.format.SampleRate == 0 {
		return it.base
	}
	return it.base + it.format.SampleRate.D(it.played)
}

// buffered returns how much decoded audio waits to be played and whether
// decoding reached the end of the stream.
func (it *Item) buffered() (time.Duration, bool) {
	it.mu.Lock()
	buf, rate := it.buf, it.format.SampleRate
	it.mu.Unlock()
	if buf == nil || rate == 0 {
		return 0, false
	}
	return rate.D(buf.len()), buf.finished()
}

// read hands decoded samples to the transport. ended is true once every
// sample of the stream has been read.
func (it *Item) read(dst [][2]float64) (n int, ended bool) {
	it.mu.Lock()
	buf := it.buf
	it.mu.Unlock()
	if buf == nil {
		return 0, false
	}
	n = buf.read(dst)
	it.mu.Lock()
	if it.buf == buf {
		it.played += n
	}
	it.mu.Unlock()
	return n, n == 0 && buf.drained()
}

// attach starts decoding from the beginning, unless a seek already
// started it elsewhere.
func (it *Item) attach() {
	it.mu.Lock()
	if it.attached {
		it.mu.Unlock()
		return
	}
	it.attached = true
	it.mu.Unlock()

	it.opMu.Lock()
	defer it.opMu.Unlock()
	it.mu.Lock()
	skip := !it.attached || it.running != nil
	it.mu.Unlock()
	if skip {
		return
	}
	if err := it.start(0); err != nil {
		it.startFailed(err)
	}
}

// detach stops decoding. A concurrent attach or seek still opening the
// stream is interrupted.
func (it *Item) detach() {
	it.mu.Lock()
	it.attached = false
	it.mu.Unlock()
	it.asset.reader.interrupt()

	it.opMu.Lock()
	defer it.opMu.Unlock()
	it.stopDecoding()
	it.mu.Lock()
	it.buf = nil
	it.mu.Unlock()
}

// seek restarts decoding at to.
func (it *Item) seek(to time.Duration) error {
	it.opMu.Lock()
	defer it.opMu.Unlock()
	it.stopDecoding()

	it.mu.Lock()
	it.base = to
	it.played, it.decoded = 0, 0
	it.buf = nil
	it.ended = false
	it.mu.Unlock()

	if err := it.start(to); err != nil {
		it.startFailed(err)
		return err
	}
	return nil
}

func (it *Item) startFailed(err error) {
	if errors.Is(err, errInterrupted) || errors.Is(err, context.Canceled) {
		return
	}
	it.logger.Warn("open stream failed", "url", it.asset.url, "error", err)
	it.fail(err)
}

// start must be called with opMu held.
func (it *Item) start(at time.Duration) error {
	it.mu.Lock()
	bitrate := it.bitrate
	it.mu.Unlock()

	s, err := it.asset.stream(at, bitrate)
	if err != nil {
		return err
	}

	it.mu.Lock()
	defer it.mu.Unlock()
	it.base = at
	it.played, it.decoded = 0, 0
	it.startByte = it.asset.reader.Pos()
	it.buf = newSampleBuffer(it.format.SampleRate.N(it.forward))
	done := make(chan struct{})
	it.running = done
	go it.decode(s, it.buf, done)
	return nil
}

// stopDecoding must be called with opMu held.
func (it *Item) stopDecoding() {
	it.mu.Lock()
	done, buf := it.running, it.buf
	it.running = nil
	it.mu.Unlock()

	it.asset.reader.interrupt()
	if buf != nil {
		buf.stop()
	}
	if done != nil {
		<-done
	}
	it.asset.reader.resume()
}

func (it *Item) decode(s beep.Streamer, buf *sampleBuffer, done chan struct{}) {
	defer close(done)
	chunk := make([][2]float64, decodeChunk)
	for {
		n, ok := s.Stream(chunk)
		if n > 0 {
			if !buf.write(chunk[:n]) {
				return
			}
			it.decodedChunk(n)
		}
		if ok {
			continue
		}
		if buf.stopped() {
			return
		}
		err := s.Err()
		switch {
		case err == nil:
			buf.finish()
		case errors.Is(err, errInterrupted), errors.Is(err, context.Canceled):
		default:
			it.logger.Warn("decode failed", "url", it.asset.url, "error", err)
			it.fail(err)
		}
		return
	}
}

// decodedChunk marks the item ready on the first chunk and refines the
// bitrate and duration estimates.
func (it *Item) decodedChunk(n int) {
	it.mu.Lock()
	becameReady := it.status == engine.ItemUnknown
	if becameReady {
		it.status = engine.ItemReady
	}
	it.decoded += n

	var durationChanged bool
	if secs := it.format.SampleRate.D(it.decoded).Seconds(); secs >= 1 {
		consumed := it.asset.reader.Pos() - it.startByte
		if consumed > 0 {
			it.bitrate = float64(consumed) * 8 / secs
		}
		if !engine.Known(it.asset.Duration()) && it.bitrate > 0 {
			est := float64(it.asset.reader.Len()-it.asset.dataStart) * 8 / it.bitrate
			if !engine.Known(it.duration) || math.Abs(est-it.duration) >= durationTolerance {
				it.duration = est
				durationChanged = true
			}
		}
	}
	duration := it.duration
	it.mu.Unlock()

	if !becameReady && !durationChanged {
		return
	}
	for _, o := range it.snapshot() {
		if becameReady && o.StatusChanged != nil {
			o.StatusChanged(engine.ItemReady)
		}
		if durationChanged && o.DurationChanged != nil {
			o.DurationChanged(duration)
		}
	}
}

func (it *Item) fail(err error) {
	it.mu.Lock()
	if it.status == engine.ItemFailed {
		it.mu.Unlock()
		return
	}
	it.status = engine.ItemFailed
	it.err = err
	it.mu.Unlock()
	for _, o := range it.snapshot() {
		if o.StatusChanged != nil {
			o.StatusChanged(engine.ItemFailed)
		}
	}
}

// markEnded reports whether the end was already signalled, marking it.
func (it *Item) markEnded() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	was := it.ended
	it.ended = true
	return was
}

func (it *Item) notifyEnded() {
	for _, o := range it.snapshot() {
		if o.Ended != nil {
			o.Ended()
		}
	}
}

// sampleBuffer is a bounded FIFO of decoded samples. Writers block while
// it is full; readers never block.
type sampleBuffer struct {
	mu       sync.Mutex
	cond     *sync.Cond
	data     [][2]float64
	capacity int
	eof      bool
	halted   bool
}

func newSampleBuffer(capacity int) *sampleBuffer {
	b := &sampleBuffer{capacity: max(capacity, decodeChunk)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// write appends s, waiting for room. It returns false once stopped.
func (b *sampleBuffer) write(s [][2]float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for !b.halted && len(b.data) > 0 && len(b.data)+len(s) > b.capacity {
		b.cond.Wait()
	}
	if b.halted {
		return false
	}
	b.data = append(b.data, s...)
	return true
}

func (b *sampleBuffer) read(dst [][2]float64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := copy(dst, b.data)
	b.data = b.data[n:]
	if len(b.data) == 0 {
		b.data = nil
	}
	if n > 0 {
		b.cond.Broadcast()
	}
	return n
}

func (b *sampleBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

func (b *sampleBuffer) resize(capacity int) {
	b.mu.Lock()
	b.capacity = max(capacity, decodeChunk)
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *sampleBuffer) finish() {
	b.mu.Lock()
	b.eof = true
	b.mu.Unlock()
}

func (b *sampleBuffer) finished() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.eof
}

// drained reports whether the stream ended and every sample was read.
func (b *sampleBuffer) drained() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.eof && len(b.data) == 0
}

func (b *sampleBuffer) stop() {
	b.mu.Lock()
	b.halted = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *sampleBuffer) stopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.halted
}
