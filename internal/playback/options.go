package playback

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/llehouerou/wavestream/internal/dispatch"
	"github.com/llehouerou/wavestream/internal/streaming"
	"github.com/llehouerou/wavestream/internal/timeevent"
)

// DefaultLoadTimeout bounds how long a load may take to reach ready.
const DefaultLoadTimeout = 30 * time.Second

// DefaultBufferDuration is the preferred forward buffer of new items.
const DefaultBufferDuration = 5 * time.Second

type options struct {
	logger            hclog.Logger
	client            *http.Client
	loadQueue         *dispatch.Queue
	bufferDuration    time.Duration
	maxBufferDuration time.Duration
	throttleDelay     time.Duration
	defaultBitrate    float64
	timeEventInterval time.Duration
	loadTimeout       time.Duration
	preferredLocales  []string
	rate              float64
	volume            float64
	muted             bool
	autoWait          bool
}

func defaultOptions() options {
	return options{
		logger:            hclog.NewNullLogger(),
		client:            http.DefaultClient,
		bufferDuration:    DefaultBufferDuration,
		maxBufferDuration: streaming.DefaultMaxBufferDuration,
		throttleDelay:     streaming.DefaultThrottleDelay,
		defaultBitrate:    streaming.DefaultBitrate,
		timeEventInterval: timeevent.DefaultInterval,
		loadTimeout:       DefaultLoadTimeout,
		rate:              1,
		volume:            1,
		autoWait:          true,
	}
}

// Option configures a Controller.
type Option func(*options)

// WithLogger sets the logger. A "controller" sub-logger is derived from it.
func WithLogger(l hclog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithHTTPClient sets the client used by streaming loaders.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.client = c
		}
	}
}

// WithLoadQueue sets the queue loaders run their network work on. The
// controller closes it on Close.
func WithLoadQueue(q *dispatch.Queue) Option {
	return func(o *options) { o.loadQueue = q }
}

// WithBufferDuration sets the preferred forward buffer of new items.
func WithBufferDuration(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.bufferDuration = d
		}
	}
}

// WithMaxBufferDuration sets the forward fetch ceiling of the loaders.
func WithMaxBufferDuration(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.maxBufferDuration = d
		}
	}
}

// WithThrottleDelay sets how long loaders wait before finishing a request.
func WithThrottleDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.throttleDelay = d
		}
	}
}

// WithDefaultBitrate sets the bitrate assumed before one is measured.
func WithDefaultBitrate(bps float64) Option {
	return func(o *options) {
		if bps > 0 {
			o.defaultBitrate = bps
		}
	}
}

// WithTimeEventFrequency sets the elapsed event interval.
func WithTimeEventFrequency(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeEventInterval = d
		}
	}
}

// WithLoadTimeout sets how long a load may take to reach ready.
func WithLoadTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.loadTimeout = d
		}
	}
}

// WithPreferredLocales sets the locale order used to pick chapters.
func WithPreferredLocales(locales ...string) Option {
	return func(o *options) { o.preferredLocales = locales }
}

// WithVolume sets the initial volume (0.0 to 1.0).
func WithVolume(v float64) Option {
	return func(o *options) { o.volume = clampVolume(v) }
}

// WithMuted sets the initial mute state.
func WithMuted(muted bool) Option {
	return func(o *options) { o.muted = muted }
}

// WithRate sets the initial playback rate.
func WithRate(rate float64) Option {
	return func(o *options) {
		if rate > 0 {
			o.rate = rate
		}
	}
}

func clampVolume(v float64) float64 {
	return max(0, min(1, v))
}
