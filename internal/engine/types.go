package engine

import (
	"math"
	"time"
)

// TimeControlStatus is what the transport is doing with the playhead.
type TimeControlStatus int

const (
	Paused TimeControlStatus = iota
	WaitingToPlay
	Playing
)

// String returns the status name for debugging.
func (s TimeControlStatus) String() string {
	switch s {
	case Paused:
		return "Paused"
	case WaitingToPlay:
		return "WaitingToPlay"
	case Playing:
		return "Playing"
	default:
		return "Unknown"
	}
}

// ItemStatus is the readiness of an item.
type ItemStatus int

const (
	ItemUnknown ItemStatus = iota
	ItemReady
	ItemFailed
)

// String returns the status name for debugging.
func (s ItemStatus) String() string {
	switch s {
	case ItemUnknown:
		return "Unknown"
	case ItemReady:
		return "Ready"
	case ItemFailed:
		return "Failed"
	default:
		return "Invalid"
	}
}

// TimeRange is a span of media time in seconds.
type TimeRange struct {
	Start    float64
	Duration float64
}

// End returns Start+Duration.
func (r TimeRange) End() float64 {
	return r.Start + r.Duration
}

// AccessLogEvent describes how an item's bytes have been arriving.
type AccessLogEvent struct {
	IndicatedBitrate float64 // bits per second, 0 if unknown
	BytesTransferred int64
	Duration         time.Duration
}

// ContentInfo describes a remote resource.
type ContentInfo struct {
	ContentLength            int64
	ContentType              string
	ByteRangeAccessSupported bool
}

// MetadataItem is a single key/value tag.
type MetadataItem struct {
	Key   string
	Value string
}

// MetadataGroup is a set of tags that applies to a span of the asset.
type MetadataGroup struct {
	Locale   string
	Title    string
	Start    time.Duration
	Duration time.Duration
	Items    []MetadataItem
}

// Known reports whether seconds is a usable time value.
func Known(seconds float64) bool {
	return !math.IsNaN(seconds) && !math.IsInf(seconds, 0)
}

// Seconds converts an engine time to a Duration, mapping unknown values to 0.
func Seconds(seconds float64) time.Duration {
	if !Known(seconds) {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
