// Package streaming serves an engine's byte requests for a remote audio
// resource, never fetching further ahead of the playhead than the buffer
// budget allows.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-hclog"

	"github.com/llehouerou/wavestream/internal/dispatch"
	"github.com/llehouerou/wavestream/internal/engine"
)

const (
	// DefaultBitrate is assumed until the engine reports one.
	DefaultBitrate = 48000.0
	// DefaultMaxBufferDuration is the forward fetch ceiling.
	DefaultMaxBufferDuration = 20 * time.Second
	// DefaultThrottleDelay delays every completion to keep requests apart.
	DefaultThrottleDelay = time.Second
	// ContentType is reported for every resource.
	ContentType = "audio/mpeg"
	// OptionHTTPHeaders is the load option key holding headers to send with
	// every fetch (http.Header, map[string][]string or map[string]string).
	OptionHTTPHeaders = "httpHeaders"

	probeLength = 2
)

// Probe reports the playback facts the budget is computed from.
type Probe interface {
	CurrentTime() time.Duration
	// IndicatedBitrate returns bits per second, or 0 when unknown.
	IndicatedBitrate() float64
}

// Options configures a Loader. Zero values fall back to defaults.
type Options struct {
	Client            *http.Client
	Header            http.Header
	MaxBufferDuration time.Duration
	ThrottleDelay     time.Duration
	DefaultBitrate    float64
	Executor          dispatch.Executor
	Probe             Probe
	Logger            hclog.Logger
}

// Loader implements engine.ResourceLoader for one URL.
type Loader struct {
	url            string
	client         *http.Client
	header         http.Header
	throttle       time.Duration
	defaultBitrate float64
	exec           dispatch.Executor
	probe          Probe
	logger         hclog.Logger

	maxBuffer     atomic.Int64
	contentLength atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

// Verify Loader implements engine.ResourceLoader at compile time.
var _ engine.ResourceLoader = (*Loader)(nil)

// New creates a loader for url.
func New(url string, opts Options) *Loader {
	l := &Loader{
		url:            url,
		client:         opts.Client,
		header:         opts.Header.Clone(),
		throttle:       opts.ThrottleDelay,
		defaultBitrate: opts.DefaultBitrate,
		exec:           opts.Executor,
		probe:          opts.Probe,
		logger:         opts.Logger,
	}
	if l.client == nil {
		l.client = http.DefaultClient
	}
	if l.header == nil {
		l.header = http.Header{}
	}
	if l.throttle <= 0 {
		l.throttle = DefaultThrottleDelay
	}
	if l.defaultBitrate <= 0 {
		l.defaultBitrate = DefaultBitrate
	}
	if l.exec == nil {
		l.exec = dispatch.ExecutorFunc(func(fn func()) { go fn() })
	}
	if l.logger == nil {
		l.logger = hclog.NewNullLogger()
	}
	l.SetMaxBufferDuration(opts.MaxBufferDuration)
	l.ctx, l.cancel = context.WithCancel(context.Background())
	return l
}

// SetMaxBufferDuration changes the forward ceiling for later requests.
func (l *Loader) SetMaxBufferDuration(d time.Duration) {
	if d <= 0 {
		d = DefaultMaxBufferDuration
	}
	l.maxBuffer.Store(int64(d))
}

// MaxBufferDuration returns the current forward ceiling.
func (l *Loader) MaxBufferDuration() time.Duration {
	return time.Duration(l.maxBuffer.Load())
}

// ContentLength returns the total length learned from a content-info
// request, or 0.
func (l *Loader) ContentLength() int64 {
	return l.contentLength.Load()
}

// Budget returns the budget in effect right now.
func (l *Loader) Budget() BufferBudget {
	b := BufferBudget{
		MaxBufferDuration: l.MaxBufferDuration(),
		Bitrate:           l.defaultBitrate,
	}
	if l.probe != nil {
		b.CurrentTime = l.probe.CurrentTime()
		if br := l.probe.IndicatedBitrate(); br > 0 {
			b.Bitrate = br
		}
	}
	return b
}

// LoadContentInfo resolves the resource's length and type.
func (l *Loader) LoadContentInfo(req engine.ContentInfoRequest) {
	l.exec.Post(func() { l.serveContentInfo(req) })
}

// LoadData serves as much of the requested range as the budget allows.
func (l *Loader) LoadData(req engine.DataRequest) {
	l.exec.Post(func() { l.serveData(req) })
}

// Cancel aborts in-flight fetches and pending completions. Requests still
// open finish with context.Canceled.
func (l *Loader) Cancel() {
	l.cancel()
}

func (l *Loader) serveContentInfo(req engine.ContentInfoRequest) {
	ctx, cancel := l.requestContext(req.Context())
	defer cancel()

	probe := RequestedRange(0, probeLength)
	resp, err := l.fetch(ctx, probe)
	if err != nil {
		req.Finish(err)
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, probeLength))
	resp.Body.Close()

	total, err := ParseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		l.logger.Warn("content info rejected", "url", l.url, "error", err)
		req.Finish(err)
		return
	}
	l.contentLength.Store(total)
	l.logger.Debug("content info", "url", l.url, "length", humanize.IBytes(uint64(total)))

	req.SetContentInfo(engine.ContentInfo{
		ContentLength:            total,
		ContentType:              ContentType,
		ByteRangeAccessSupported: true,
	})
	req.Finish(nil)
}

func (l *Loader) serveData(req engine.DataRequest) {
	if err := l.ctx.Err(); err != nil {
		req.Finish(err)
		return
	}

	requested := RequestedRange(req.RequestedOffset(), req.RequestedLength())
	if total := l.contentLength.Load(); total > 0 && requested.End > total-1 {
		requested.End = total - 1
	}
	budget := l.Budget()
	window, ok := budget.Clamp(requested)
	if !ok {
		// Usually paused: the playhead is not moving, so the window is not
		// growing either. Come back later instead of polling the origin.
		l.logger.Trace("nothing to fetch", "requested", requested, "max_end", budget.MaxEnd())
		l.finishLater(req)
		return
	}

	ctx, cancel := l.requestContext(req.Context())
	defer cancel()

	resp, err := l.fetch(ctx, window)
	if err != nil {
		req.Finish(err)
		return
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, window.Len()))
	resp.Body.Close()
	if ctx.Err() != nil {
		req.Finish(ctx.Err())
		return
	}
	if err != nil {
		req.Finish(&FetchError{Range: window, Err: err})
		return
	}

	l.logger.Trace("fetched", "range", window, "size", humanize.IBytes(uint64(len(data))))
	req.Respond(data)
	l.finishLater(req)
}

// fetch issues a GET for r with the configured headers. The caller closes
// the body.
func (l *Loader) fetch(ctx context.Context, r ByteRange) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, http.NoBody)
	if err != nil {
		return nil, &FetchError{Range: r, Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header = l.header.Clone()
	httpReq.Header.Set("Range", r.Header())

	resp, err := l.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &FetchError{Range: r, Err: fmt.Errorf("http request: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode == http.StatusOK && r.Start == 0:
	default:
		resp.Body.Close()
		return nil, &FetchError{Range: r, StatusCode: resp.StatusCode, Err: ErrUnexpectedStatus}
	}
	return resp, nil
}

// finishLater completes req after the throttle delay, or as soon as the
// loader or the request is cancelled.
func (l *Loader) finishLater(req engine.LoadingRequest) {
	reqCtx := req.Context()
	if reqCtx == nil {
		reqCtx = context.Background()
	}
	go func() {
		t := time.NewTimer(l.throttle)
		defer t.Stop()
		select {
		case <-t.C:
			req.Finish(nil)
		case <-l.ctx.Done():
			req.Finish(l.ctx.Err())
		case <-reqCtx.Done():
			req.Finish(reqCtx.Err())
		}
	}()
}

// requestContext is cancelled when either the request or the loader is.
func (l *Loader) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(l.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// HeadersFromOptions extracts OptionHTTPHeaders from load options.
func HeadersFromOptions(options map[string]any) http.Header {
	h := http.Header{}
	switch v := options[OptionHTTPHeaders].(type) {
	case http.Header:
		for k, vals := range v {
			for _, val := range vals {
				h.Add(k, val)
			}
		}
	case map[string][]string:
		for k, vals := range v {
			for _, val := range vals {
				h.Add(k, val)
			}
		}
	case map[string]string:
		for k, val := range v {
			h.Set(k, val)
		}
	}
	return h
}
