package streaming

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ByteRange is an inclusive span of byte offsets.
type ByteRange struct {
	Start int64
	End   int64
}

// RequestedRange returns the range covering length bytes from offset.
func RequestedRange(offset, length int64) ByteRange {
	return ByteRange{Start: offset, End: offset + length - 1}
}

// Empty reports whether the range is inverted.
func (r ByteRange) Empty() bool {
	return r.End < r.Start
}

// Len returns the number of bytes in the range.
func (r ByteRange) Len() int64 {
	if r.Empty() {
		return 0
	}
	return r.End - r.Start + 1
}

// Header returns the value of a Range request header for r.
func (r ByteRange) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

func (r ByteRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// BufferBudget bounds how far ahead of the playhead bytes may be fetched.
type BufferBudget struct {
	CurrentTime       time.Duration
	MaxBufferDuration time.Duration
	Bitrate           float64 // bits per second
}

// ForwardByteWindow returns how many bytes MaxBufferDuration is worth.
func (b BufferBudget) ForwardByteWindow() int64 {
	return bytesFor(b.MaxBufferDuration, b.Bitrate)
}

// MaxEnd returns the highest byte offset that may be fetched right now.
func (b BufferBudget) MaxEnd() int64 {
	return bytesFor(b.CurrentTime, b.Bitrate) + b.ForwardByteWindow()
}

// Clamp limits r to MaxEnd. It returns false when nothing may be fetched:
// either r is inverted or clamping left end <= start.
func (b BufferBudget) Clamp(r ByteRange) (ByteRange, bool) {
	if maxEnd := b.MaxEnd(); r.End > maxEnd {
		r.End = maxEnd
		if r.End <= r.Start {
			return r, false
		}
	}
	return r, !r.Empty()
}

func bytesFor(d time.Duration, bitrate float64) int64 {
	if d <= 0 || bitrate <= 0 {
		return 0
	}
	return int64(math.Floor(d.Seconds() * bitrate / 8))
}

// ParseContentRange extracts the total length from a Content-Range header
// value of the form "bytes 0-999/5000".
func ParseContentRange(header string) (int64, error) {
	if header == "" {
		return 0, fmt.Errorf("%w: missing Content-Range", ErrInvalidContentLength)
	}
	i := strings.LastIndexByte(header, '/')
	if i < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidContentLength, header)
	}
	total, err := strconv.ParseInt(strings.TrimSpace(header[i+1:]), 10, 64)
	if err != nil || total < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidContentLength, header)
	}
	return total, nil
}
