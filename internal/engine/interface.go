// Package engine defines the capabilities the playback controller needs from
// an underlying media engine. Times reported by the engine are in seconds and
// may be NaN when the engine does not know them yet.
package engine

import (
	"context"
	"time"
)

// Transport is the media engine: it plays one item at a time and reports its
// time-control status.
type Transport interface {
	// NewAsset creates an asset whose bytes are served by loader.
	// Options are passed through unchanged.
	NewAsset(url string, options map[string]any, loader ResourceLoader) (Asset, error)
	// NewItem wraps a validated asset into something the transport can play.
	NewItem(asset Asset) (Item, error)
	// ReplaceCurrentItem attaches item; nil releases the current item entirely.
	ReplaceCurrentItem(item Item)
	CurrentItem() Item

	Play()
	Pause()
	// Seek moves the playhead. done is called exactly once, with finished
	// false when a later seek superseded this one.
	Seek(to float64, done func(finished bool))

	CurrentTime() float64
	TimeControlStatus() TimeControlStatus
	ObserveTimeControlStatus(fn func(TimeControlStatus)) (cancel func())

	SetRate(rate float64)
	Rate() float64
	SetVolume(volume float64)
	Volume() float64
	SetMuted(muted bool)
	Muted() bool
	SetAutomaticallyWaitsToMinimizeStalling(wait bool)
	AutomaticallyWaitsToMinimizeStalling() bool

	Close() error
}

// Factory builds a fresh transport. It is called once at start and again
// whenever a transport must be recreated after an unrecoverable failure.
type Factory func() (Transport, error)

// Item is an asset attached (or attachable) to a transport.
type Item interface {
	Asset() Asset
	Status() ItemStatus
	// Err returns the failure cause once Status is ItemFailed.
	Err() error
	Duration() float64
	LoadedTimeRanges() []TimeRange
	SeekableTimeRanges() []TimeRange
	AccessLog() []AccessLogEvent
	PreferredForwardBufferDuration() time.Duration
	SetPreferredForwardBufferDuration(d time.Duration)
	Observe(o ItemObserver) (cancel func())
}

// ItemObserver receives item level signals. Nil fields are ignored.
type ItemObserver struct {
	StatusChanged    func(ItemStatus)
	DurationChanged  func(seconds float64)
	MetadataReceived func([]MetadataGroup)
	Ended            func()
}

// Asset is a remote resource under validation.
type Asset interface {
	URL() string
	// LoadPlayable blocks until the asset is known to be playable or not.
	LoadPlayable(ctx context.Context) error
	Duration() float64
	// Chapters returns chapter groups for the best matching locale, or nil.
	Chapters(preferredLocales []string) []MetadataGroup
	MetadataFormats() []string
	Metadata(format string) []MetadataItem
	// Cancel aborts validation and any network activity of the asset.
	Cancel()
}

// ResourceLoader serves the byte requests an asset makes while it is
// validated and played.
type ResourceLoader interface {
	LoadContentInfo(req ContentInfoRequest)
	LoadData(req DataRequest)
	Cancel()
}

// LoadingRequest is the common part of content-info and data requests.
type LoadingRequest interface {
	Context() context.Context
	// Finish completes the request. A nil error means success.
	Finish(err error)
}

// ContentInfoRequest asks for the length and type of the resource.
type ContentInfoRequest interface {
	LoadingRequest
	SetContentInfo(info ContentInfo)
}

// DataRequest asks for length bytes starting at offset.
type DataRequest interface {
	LoadingRequest
	RequestedOffset() int64
	RequestedLength() int64
	Respond(data []byte)
}
