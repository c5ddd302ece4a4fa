package streaming

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llehouerou/wavestream/internal/dispatch"
	"github.com/llehouerou/wavestream/internal/engine"
)

const testURL = "http://origin.test/track.mp3"

// fakeOrigin serves body honoring Range headers, without any network.
type fakeOrigin struct {
	mu       sync.Mutex
	body     []byte
	requests []*http.Request
	err      error
	noRange  bool
}

func (o *fakeOrigin) RoundTrip(req *http.Request) (*http.Response, error) {
	o.mu.Lock()
	o.requests = append(o.requests, req)
	err := o.err
	o.mu.Unlock()
	if err != nil {
		return nil, err
	}

	total := int64(len(o.body))
	start, end := int64(0), total-1
	if spec, ok := strings.CutPrefix(req.Header.Get("Range"), "bytes="); ok && !o.noRange {
		parts := strings.SplitN(spec, "-", 2)
		start, _ = strconv.ParseInt(parts[0], 10, 64)
		end, _ = strconv.ParseInt(parts[1], 10, 64)
		end = min(end, total-1)
	}

	resp := &http.Response{
		StatusCode: http.StatusPartialContent,
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewReader(o.body[start : end+1])),
		Request:    req,
	}
	if o.noRange {
		resp.StatusCode = http.StatusOK
	} else {
		resp.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, total))
	}
	return resp, nil
}

func (o *fakeOrigin) Requests() []*http.Request {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*http.Request(nil), o.requests...)
}

type fixedProbe struct {
	time    time.Duration
	bitrate float64
}

func (p fixedProbe) CurrentTime() time.Duration { return p.time }
func (p fixedProbe) IndicatedBitrate() float64  { return p.bitrate }

type testRequest struct {
	ctx    context.Context
	offset int64
	length int64

	mu   sync.Mutex
	data []byte
	info engine.ContentInfo
	done chan error
}

func newTestRequest(offset, length int64) *testRequest {
	return &testRequest{
		ctx:    context.Background(),
		offset: offset,
		length: length,
		done:   make(chan error, 1),
	}
}

func (r *testRequest) Context() context.Context { return r.ctx }
func (r *testRequest) RequestedOffset() int64   { return r.offset }
func (r *testRequest) RequestedLength() int64   { return r.length }
func (r *testRequest) Finish(err error)         { r.done <- err }

func (r *testRequest) Respond(data []byte) {
	r.mu.Lock()
	r.data = append(r.data, data...)
	r.mu.Unlock()
}

func (r *testRequest) SetContentInfo(info engine.ContentInfo) {
	r.mu.Lock()
	r.info = info
	r.mu.Unlock()
}

func (r *testRequest) Data() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data
}

func (r *testRequest) finished() (error, bool) {
	select {
	case err := <-r.done:
		return err, true
	default:
		return nil, false
	}
}

func newTestLoader(origin *fakeOrigin, probe Probe) *Loader {
	return New(testURL, Options{
		Client:   &http.Client{Transport: origin},
		Executor: dispatch.Inline,
		Probe:    probe,
		Header:   http.Header{"Authorization": {"Bearer secret"}},
	})
}

func TestLoader_ContentInfo(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		origin := &fakeOrigin{body: make([]byte, 5000)}
		l := newTestLoader(origin, nil)
		req := newTestRequest(0, 0)

		l.LoadContentInfo(req)

		err, ok := req.finished()
		require.True(t, ok, "content info should finish without delay")
		require.NoError(t, err)
		assert.Equal(t, engine.ContentInfo{
			ContentLength:            5000,
			ContentType:              "audio/mpeg",
			ByteRangeAccessSupported: true,
		}, req.info)
		assert.Equal(t, int64(5000), l.ContentLength())

		reqs := origin.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, "bytes=0-1", reqs[0].Header.Get("Range"))
	})
}

func TestLoader_ContentInfoWithoutContentRange(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		origin := &fakeOrigin{body: make([]byte, 5000), noRange: true}
		l := newTestLoader(origin, nil)
		req := newTestRequest(0, 0)

		l.LoadContentInfo(req)

		err, ok := req.finished()
		require.True(t, ok)
		assert.ErrorIs(t, err, ErrInvalidContentLength)
	})
}

func TestLoader_DataClampedToBudget(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		origin := &fakeOrigin{body: make([]byte, 1_000_000)}
		// Default bitrate 48000, 20s ceiling, playhead at 0: max end 120000.
		l := newTestLoader(origin, fixedProbe{})
		req := newTestRequest(0, 1_000_000)

		l.LoadData(req)

		reqs := origin.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, "bytes=0-120000", reqs[0].Header.Get("Range"))
		assert.Equal(t, "Bearer secret", reqs[0].Header.Get("Authorization"))
		assert.Len(t, req.Data(), 120001)

		synctest.Wait()
		_, ok := req.finished()
		assert.False(t, ok, "finish must be throttled")

		time.Sleep(time.Second)
		synctest.Wait()
		err, ok := req.finished()
		require.True(t, ok, "finish after throttle delay")
		assert.NoError(t, err)
	})
}

func TestLoader_DataUsesIndicatedBitrateAndPlayhead(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		origin := &fakeOrigin{body: make([]byte, 2_000_000)}
		l := newTestLoader(origin, fixedProbe{time: 10 * time.Second, bitrate: 128000})
		req := newTestRequest(100_000, 1_900_000)

		l.LoadData(req)

		reqs := origin.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, "bytes=100000-480000", reqs[0].Header.Get("Range"))
	})
}

func TestLoader_NothingToFetchSkipsNetwork(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		origin := &fakeOrigin{body: make([]byte, 1_000_000)}
		l := newTestLoader(origin, fixedProbe{})
		req := newTestRequest(200_000, 65536)

		l.LoadData(req)

		assert.Empty(t, origin.Requests())
		time.Sleep(999 * time.Millisecond)
		synctest.Wait()
		_, ok := req.finished()
		assert.False(t, ok)

		time.Sleep(time.Millisecond)
		synctest.Wait()
		err, ok := req.finished()
		require.True(t, ok)
		assert.NoError(t, err)
		assert.Empty(t, req.Data())
		assert.Empty(t, origin.Requests())
	})
}

func TestLoader_DataClampedToContentLength(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		origin := &fakeOrigin{body: make([]byte, 1000)}
		l := newTestLoader(origin, fixedProbe{})
		l.LoadContentInfo(newTestRequest(0, 0))

		req := newTestRequest(999, 4096)
		l.LoadData(req)

		reqs := origin.Requests()
		require.Len(t, reqs, 2)
		assert.Equal(t, "bytes=999-999", reqs[1].Header.Get("Range"))
		assert.Len(t, req.Data(), 1)
	})
}

func TestLoader_NetworkErrorPropagates(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		cause := errors.New("connection reset")
		origin := &fakeOrigin{body: make([]byte, 1000), err: cause}
		l := newTestLoader(origin, fixedProbe{})
		req := newTestRequest(0, 100)

		l.LoadData(req)

		err, ok := req.finished()
		require.True(t, ok, "errors are not throttled")
		var fetchErr *FetchError
		require.ErrorAs(t, err, &fetchErr)
		assert.Equal(t, ByteRange{0, 99}, fetchErr.Range)
		assert.ErrorIs(t, err, cause)
	})
}

func TestLoader_UnexpectedStatus(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		origin := &fakeOrigin{body: make([]byte, 1000), noRange: true}
		l := newTestLoader(origin, fixedProbe{})
		req := newTestRequest(500, 100)

		l.LoadData(req)

		err, ok := req.finished()
		require.True(t, ok)
		assert.ErrorIs(t, err, ErrUnexpectedStatus)
	})
}

func TestLoader_CancelFinishesPendingRequests(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		origin := &fakeOrigin{body: make([]byte, 1000)}
		l := newTestLoader(origin, fixedProbe{})
		req := newTestRequest(0, 100)
		l.LoadData(req)

		l.Cancel()
		synctest.Wait()

		err, ok := req.finished()
		require.True(t, ok, "cancel should not wait for the throttle")
		assert.ErrorIs(t, err, context.Canceled)

		after := newTestRequest(0, 100)
		l.LoadData(after)
		err, ok = after.finished()
		require.True(t, ok)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Len(t, origin.Requests(), 1)
	})
}

func TestLoader_SetMaxBufferDuration(t *testing.T) {
	l := New(testURL, Options{})
	assert.Equal(t, DefaultMaxBufferDuration, l.MaxBufferDuration())

	l.SetMaxBufferDuration(5 * time.Second)
	assert.Equal(t, 5*time.Second, l.MaxBufferDuration())
	assert.Equal(t, int64(30000), l.Budget().MaxEnd())

	l.SetMaxBufferDuration(0)
	assert.Equal(t, DefaultMaxBufferDuration, l.MaxBufferDuration())
}

func TestLoader_OverHTTP(t *testing.T) {
	body := bytes.Repeat([]byte{0xAB}, 10_000)
	var (
		mu                sync.Mutex
		gotAuth, gotRange string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		gotRange = r.Header.Get("Range")
		mu.Unlock()
		http.ServeContent(w, r, "track.mp3", time.Time{}, bytes.NewReader(body))
	}))
	defer srv.Close()

	l := New(srv.URL, Options{
		Header:        HeadersFromOptions(map[string]any{OptionHTTPHeaders: map[string]string{"Authorization": "Basic abc"}}),
		ThrottleDelay: 10 * time.Millisecond,
		Probe:         fixedProbe{bitrate: 800}, // 20s * 800 / 8 = 2000 bytes ahead
	})

	info := newTestRequest(0, 0)
	l.LoadContentInfo(info)
	require.NoError(t, <-info.done)
	assert.Equal(t, int64(10_000), info.info.ContentLength)

	req := newTestRequest(0, 10_000)
	l.LoadData(req)
	require.NoError(t, <-req.done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Basic abc", gotAuth)
	assert.Equal(t, "bytes=0-2000", gotRange)
	assert.Len(t, req.Data(), 2001)
}

func TestHeadersFromOptions(t *testing.T) {
	tests := []struct {
		name    string
		options map[string]any
		want    http.Header
	}{
		{
			name:    "http.Header",
			options: map[string]any{OptionHTTPHeaders: http.Header{"X-Token": {"a", "b"}}},
			want:    http.Header{"X-Token": {"a", "b"}},
		},
		{
			name:    "string map",
			options: map[string]any{OptionHTTPHeaders: map[string]string{"x-token": "a"}},
			want:    http.Header{"X-Token": {"a"}},
		},
		{
			name:    "absent",
			options: nil,
			want:    http.Header{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HeadersFromOptions(tt.options))
		})
	}
}
