package player

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llehouerou/wavestream/internal/engine"
)

// memLoader serves body from memory in chunks. With stallAfter set, each
// request delivers at most that many bytes and then waits to be cancelled.
type memLoader struct {
	body       []byte
	chunk      int
	stallAfter int64
	err        error

	mu      sync.Mutex
	offsets []int64
}

func (l *memLoader) LoadContentInfo(req engine.ContentInfoRequest) {
	go func() {
		if l.err != nil {
			req.Finish(l.err)
			return
		}
		req.SetContentInfo(engine.ContentInfo{
			ContentLength:            int64(len(l.body)),
			ContentType:              "audio/mpeg",
			ByteRangeAccessSupported: true,
		})
		req.Finish(nil)
	}()
}

func (l *memLoader) LoadData(req engine.DataRequest) {
	l.mu.Lock()
	l.offsets = append(l.offsets, req.RequestedOffset())
	l.mu.Unlock()
	go func() {
		if l.err != nil {
			req.Finish(l.err)
			return
		}
		off := req.RequestedOffset()
		end := off + req.RequestedLength()
		if l.stallAfter > 0 && end-off > l.stallAfter {
			end = off + l.stallAfter
			defer func() {
				<-req.Context().Done()
				req.Finish(req.Context().Err())
			}()
		}
		for off < end {
			if err := req.Context().Err(); err != nil {
				req.Finish(err)
				return
			}
			n := min(int64(l.chunk), end-off)
			req.Respond(l.body[off : off+n])
			off += n
		}
		if l.stallAfter == 0 || off == req.RequestedOffset()+req.RequestedLength() {
			req.Finish(nil)
		}
	}()
}

func (l *memLoader) Cancel() {}

func (l *memLoader) requested() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int64(nil), l.offsets...)
}

func testBody(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestStreamReader_ReadsWholeResource(t *testing.T) {
	body := testBody(10_000)
	l := &memLoader{body: body, chunk: 700}
	r := newStreamReader(t.Context(), l, int64(len(body)))

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, body, got)
	assert.Equal(t, int64(len(body)), r.Transferred())
	assert.Equal(t, []int64{0}, l.requested())
}

func TestStreamReader_SeekWithinBufferReusesBytes(t *testing.T) {
	body := testBody(4096)
	l := &memLoader{body: body, chunk: 4096}
	r := newStreamReader(t.Context(), l, int64(len(body)))

	head := make([]byte, 100)
	_, err := io.ReadFull(r, head)
	require.NoError(t, err)

	_, err = r.Seek(10, io.SeekStart)
	require.NoError(t, err)
	again := make([]byte, 10)
	_, err = io.ReadFull(r, again)
	require.NoError(t, err)
	assert.Equal(t, body[10:20], again)
	assert.Equal(t, []int64{0}, l.requested())
}

func TestStreamReader_SeekPastBufferRestartsFetch(t *testing.T) {
	body := testBody(1 << 20)
	l := &memLoader{body: body, chunk: 1024, stallAfter: 4096}
	r := newStreamReader(t.Context(), l, int64(len(body)))

	first := make([]byte, 16)
	_, err := io.ReadFull(r, first)
	require.NoError(t, err)

	pos, err := r.Seek(-1000, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)-1000), pos)

	tail, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, body[len(body)-1000:], tail)

	assert.Equal(t, []int64{0, int64(len(body) - 1000)}, l.requested())
}

func TestStreamReader_Interrupt(t *testing.T) {
	// A loader that never answers keeps reads blocked.
	l := &stallLoader{}
	r := newStreamReader(t.Context(), l, 100)

	errc := make(chan error, 1)
	go func() {
		_, err := r.Read(make([]byte, 10))
		errc <- err
	}()

	r.interrupt()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, errInterrupted)
	case <-time.After(time.Second):
		t.Fatal("read not interrupted")
	}

	r.resume()
	r.mu.Lock()
	assert.False(t, r.interrupted)
	r.mu.Unlock()
}

func TestStreamReader_LoaderError(t *testing.T) {
	boom := errors.New("boom")
	l := &memLoader{body: testBody(100), chunk: 10, err: boom}
	r := newStreamReader(t.Context(), l, 100)

	_, err := r.Read(make([]byte, 10))
	assert.ErrorIs(t, err, boom)
}

func TestStreamReader_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	r := newStreamReader(ctx, &stallLoader{}, 100)

	errc := make(chan error, 1)
	go func() {
		_, err := r.Read(make([]byte, 10))
		errc <- err
	}()
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("read not cancelled")
	}
}

func TestOffsetReader(t *testing.T) {
	body := testBody(2048)
	l := &memLoader{body: body, chunk: 512}
	r := newStreamReader(t.Context(), l, int64(len(body)))
	o := &offsetReader{r: r, base: 100}

	pos, err := o.Seek(0, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos)

	got := make([]byte, 8)
	_, err = io.ReadFull(o, got)
	require.NoError(t, err)
	assert.Equal(t, body[100:108], got)

	pos, err = o.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(8), pos)
}

func TestLoadContentInfo(t *testing.T) {
	l := &memLoader{body: bytes.Repeat([]byte{1}, 42)}
	info, err := loadContentInfo(t.Context(), l)
	require.NoError(t, err)
	assert.Equal(t, int64(42), info.ContentLength)
	assert.True(t, info.ByteRangeAccessSupported)

	l.err = errors.New("unreachable")
	_, err = loadContentInfo(t.Context(), l)
	assert.Error(t, err)
}

// stallLoader accepts requests and never serves them.
type stallLoader struct{}

func (stallLoader) LoadContentInfo(engine.ContentInfoRequest) {}
func (stallLoader) LoadData(engine.DataRequest)               {}
func (stallLoader) Cancel()                                   {}
