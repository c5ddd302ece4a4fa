package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/llehouerou/wavestream/internal/engine"
)

// errInterrupted is returned by reads interrupted for a seek or a detach.
var errInterrupted = errors.New("read interrupted")

// keepBehind is how many consumed bytes stay buffered for short backward seeks.
const keepBehind = 64 << 10

// streamReader is an io.ReadSeeker over a remote resource whose bytes come
// exclusively from data requests served by a ResourceLoader. One request is
// outstanding at a time; it always asks for the rest of the resource and
// lets the loader decide how much of it to deliver.
type streamReader struct {
	loader engine.ResourceLoader
	ctx    context.Context
	length int64

	mu          sync.Mutex
	cond        *sync.Cond
	buf         []byte // bytes [bufStart, bufStart+len(buf))
	bufStart    int64
	pos         int64
	gen         int
	err         error
	closed      bool
	interrupted bool
	reqCancel   context.CancelFunc
	transferred int64
}

func newStreamReader(ctx context.Context, loader engine.ResourceLoader, length int64) *streamReader {
	r := &streamReader{loader: loader, ctx: ctx, length: length}
	r.cond = sync.NewCond(&r.mu)
	context.AfterFunc(ctx, func() {
		r.mu.Lock()
		r.closed = true
		if r.reqCancel != nil {
			r.reqCancel()
		}
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	go r.run()
	return r
}

// Len returns the resource length in bytes.
func (r *streamReader) Len() int64 { return r.length }

// Transferred returns the number of bytes received so far.
func (r *streamReader) Transferred() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transferred
}

// Pos returns the read position.
func (r *streamReader) Pos() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos
}

func (r *streamReader) fetchEnd() int64 {
	return r.bufStart + int64(len(r.buf))
}

func (r *streamReader) run() {
	for {
		r.mu.Lock()
		for !r.closed && (r.fetchEnd() >= r.length || r.err != nil) {
			r.cond.Wait()
		}
		if r.closed {
			r.mu.Unlock()
			return
		}
		gen, offset := r.gen, r.fetchEnd()
		ctx, cancel := context.WithCancel(r.ctx)
		r.reqCancel = cancel
		r.mu.Unlock()

		req := &dataRequest{
			ctx:    ctx,
			offset: offset,
			length: r.length - offset,
			done:   make(chan error, 1),
		}
		req.respond = func(data []byte) { r.deliver(gen, data) }
		r.loader.LoadData(req)

		var err error
		select {
		case err = <-req.done:
		case <-r.ctx.Done():
			err = r.ctx.Err()
		}
		cancel()

		r.mu.Lock()
		if gen == r.gen && err != nil && !r.closed && ctx.Err() == nil {
			r.err = fmt.Errorf("fetch at %d: %w", offset, err)
		}
		r.reqCancel = nil
		r.cond.Broadcast()
		r.mu.Unlock()
	}
}

func (r *streamReader) deliver(gen int, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen || r.closed {
		return
	}
	r.buf = append(r.buf, data...)
	r.transferred += int64(len(data))
	r.cond.Broadcast()
}

// Read blocks until bytes at the read position arrive.
func (r *streamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		switch {
		case r.interrupted:
			return 0, errInterrupted
		case r.pos >= r.length:
			return 0, io.EOF
		case r.pos >= r.bufStart && r.pos < r.fetchEnd():
			n := copy(p, r.buf[r.pos-r.bufStart:])
			r.pos += int64(n)
			r.trim()
			return n, nil
		case r.err != nil:
			return 0, r.err
		case r.closed:
			return 0, r.ctx.Err()
		}
		r.cond.Wait()
	}
}

// Seek moves the read position. Positions outside the buffered bytes
// restart fetching there.
func (r *streamReader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.pos + offset
	case io.SeekEnd:
		abs = r.length + offset
	default:
		return 0, errors.New("seek: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("seek: negative position")
	}

	if abs >= r.bufStart && abs <= r.fetchEnd() {
		r.pos = abs
		return abs, nil
	}

	r.gen++
	if r.reqCancel != nil {
		r.reqCancel()
	}
	r.buf = nil
	r.bufStart = min(abs, r.length)
	r.pos = abs
	r.err = nil
	r.cond.Broadcast()
	return abs, nil
}

// interrupt makes pending and future reads fail with errInterrupted until
// resume is called.
func (r *streamReader) interrupt() {
	r.mu.Lock()
	r.interrupted = true
	r.cond.Broadcast()
	r.mu.Unlock()
}

func (r *streamReader) resume() {
	r.mu.Lock()
	r.interrupted = false
	r.mu.Unlock()
}

func (r *streamReader) trim() {
	if drop := r.pos - r.bufStart - keepBehind; drop > 0 {
		r.buf = r.buf[drop:]
		r.bufStart += drop
	}
}

// offsetReader presents the resource from base onward as a stream that
// starts at 0.
type offsetReader struct {
	r    *streamReader
	base int64
}

func (o *offsetReader) Read(p []byte) (int, error) { return o.r.Read(p) }

func (o *offsetReader) Seek(offset int64, whence int) (int64, error) {
	if whence == io.SeekStart {
		offset += o.base
	}
	abs, err := o.r.Seek(offset, whence)
	return abs - o.base, err
}

// plainReader hides Seek so decoders do not scan the whole resource.
type plainReader struct{ io.Reader }

type dataRequest struct {
	ctx     context.Context
	offset  int64
	length  int64
	respond func([]byte)
	done    chan error
}

func (d *dataRequest) Context() context.Context { return d.ctx }
func (d *dataRequest) RequestedOffset() int64   { return d.offset }
func (d *dataRequest) RequestedLength() int64   { return d.length }
func (d *dataRequest) Respond(data []byte)      { d.respond(data) }

func (d *dataRequest) Finish(err error) {
	select {
	case d.done <- err:
	default:
	}
}

type infoRequest struct {
	ctx  context.Context
	mu   sync.Mutex
	info engine.ContentInfo
	done chan error
}

func (i *infoRequest) Context() context.Context { return i.ctx }

func (i *infoRequest) SetContentInfo(info engine.ContentInfo) {
	i.mu.Lock()
	i.info = info
	i.mu.Unlock()
}

func (i *infoRequest) Finish(err error) {
	select {
	case i.done <- err:
	default:
	}
}

// loadContentInfo asks loader for the resource's content info and waits.
func loadContentInfo(ctx context.Context, loader engine.ResourceLoader) (engine.ContentInfo, error) {
	req := &infoRequest{ctx: ctx, done: make(chan error, 1)}
	loader.LoadContentInfo(req)
	select {
	case err := <-req.done:
		if err != nil {
			return engine.ContentInfo{}, err
		}
	case <-ctx.Done():
		return engine.ContentInfo{}, ctx.Err()
	}
	req.mu.Lock()
	defer req.mu.Unlock()
	return req.info, nil
}
