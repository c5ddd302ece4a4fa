package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gopxl/beep/v2"
	"github.com/hashicorp/go-hclog"

	"github.com/llehouerou/wavestream/internal/engine"
)

// RemoteAsset is a remote MP3 or FLAC resource read through a
// ResourceLoader.
type RemoteAsset struct {
	url    string
	loader engine.ResourceLoader
	logger hclog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	reader    *streamReader
	codec     codec
	dataStart int64
	tags      assetTags
	duration  float64
	playable  bool

	format beep.Format
	mp3    *goMP3Decoder
	flac   beep.StreamSeekCloser
	fresh  bool // the decoder opened during validation has not been used
}

// Verify RemoteAsset implements engine.Asset at compile time.
var _ engine.Asset = (*RemoteAsset)(nil)

func newRemoteAsset(url string, loader engine.ResourceLoader, logger hclog.Logger) *RemoteAsset {
	ctx, cancel := context.WithCancel(context.Background())
	return &RemoteAsset{
		url:      url,
		loader:   loader,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		duration: math.NaN(),
	}
}

func (a *RemoteAsset) URL() string { return a.url }

// LoadPlayable reads the content info, the leading tags and the first
// frame of audio.
func (a *RemoteAsset) LoadPlayable(ctx context.Context) error {
	stop := context.AfterFunc(ctx, a.cancel)
	defer stop()

	info, err := loadContentInfo(a.ctx, a.loader)
	if err != nil {
		return fmt.Errorf("content info: %w", err)
	}
	if info.ContentLength <= 0 {
		return errors.New("empty resource")
	}
	r := newStreamReader(a.ctx, a.loader, info.ContentLength)

	head := make([]byte, id3HeaderSize)
	if _, err := io.ReadFull(r, head); err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	var tags assetTags
	dataStart := id3TagSize(head)
	switch {
	case dataStart > maxTagSize:
		a.logger.Debug("skipping large tag", "url", a.url, "size", humanize.IBytes(uint64(dataStart)))
	case dataStart > 0:
		raw := make([]byte, dataStart)
		copy(raw, head)
		if _, err := io.ReadFull(r, raw[id3HeaderSize:]); err != nil {
			return fmt.Errorf("read tag: %w", err)
		}
		tags = readID3(raw)
	}

	body := &offsetReader{r: r, base: dataStart}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return err
	}
	marker := make([]byte, 4)
	if _, err := io.ReadFull(body, marker); err != nil {
		return fmt.Errorf("read stream marker: %w", err)
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return err
	}

	var (
		c          = sniffCodec(marker)
		format     beep.Format
		duration   = math.NaN()
		mp3Stream  *goMP3Decoder
		flacStream beep.StreamSeekCloser
	)
	switch c {
	case codecFLAC:
		st := readStreamTags(body)
		for _, f := range st.formats {
			tags.add(f, st.metadata[f])
		}
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return err
		}
		flacStream, format, err = decodeFLAC(body)
		if err != nil {
			return fmt.Errorf("open flac: %w", err)
		}
		if n := flacStream.Len(); n > 0 {
			duration = format.SampleRate.D(n).Seconds()
		}
	default:
		mp3Stream, format, err = decodeGoMP3(plainReader{body})
		if err != nil {
			return fmt.Errorf("open mp3: %w", err)
		}
	}

	a.mu.Lock()
	a.reader = r
	a.dataStart = dataStart
	a.codec = c
	a.format = format
	a.duration = duration
	a.mp3, a.flac = mp3Stream, flacStream
	a.tags = tags
	a.playable = true
	a.fresh = true
	a.mu.Unlock()

	a.logger.Debug("asset playable",
		"url", a.url,
		"codec", c,
		"size", humanize.IBytes(uint64(info.ContentLength)),
		"sample_rate", int(format.SampleRate),
		"formats", tags.formats,
		"chapters", len(tags.chapters),
	)
	return nil
}

func (a *RemoteAsset) Playable() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.playable
}

// Duration is known up front for FLAC only; MP3 durations come from the
// item's estimate.
func (a *RemoteAsset) Duration() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.duration
}

func (a *RemoteAsset) Chapters(preferredLocales []string) []engine.MetadataGroup {
	a.mu.Lock()
	defer a.mu.Unlock()
	return chaptersFor(a.tags.chapters, a.tags.locale, preferredLocales)
}

func (a *RemoteAsset) MetadataFormats() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.tags.formats...)
}

func (a *RemoteAsset) Metadata(format string) []engine.MetadataItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tags.metadata[format]
}

// Cancel stops every fetch of the asset.
func (a *RemoteAsset) Cancel() {
	a.cancel()
}

func (a *RemoteAsset) Format() beep.Format {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.format
}

// stream returns a decoder positioned at at. MP3 positions are located by
// byte offset from bitrate, which is in bits per second. Only one caller
// may use the returned decoder at a time.
func (a *RemoteAsset) stream(at time.Duration, bitrate float64) (beep.Streamer, error) {
	a.mu.Lock()
	playable, fresh := a.playable, a.fresh
	a.fresh = false
	c, flacStream, mp3Stream := a.codec, a.flac, a.mp3
	format, dataStart, reader := a.format, a.dataStart, a.reader
	a.mu.Unlock()

	if !playable {
		return nil, errors.New("asset not playable")
	}
	if at <= 0 && fresh {
		if c == codecFLAC {
			return flacStream, nil
		}
		return mp3Stream, nil
	}

	if c == codecFLAC {
		n := format.SampleRate.N(at)
		if l := flacStream.Len(); l > 0 {
			n = min(n, l)
		}
		if err := flacStream.Seek(max(0, n)); err != nil {
			return nil, fmt.Errorf("seek flac: %w", err)
		}
		return flacStream, nil
	}

	offset := dataStart
	if at > 0 && bitrate > 0 {
		offset += int64(at.Seconds() * bitrate / 8)
	}
	offset = min(offset, reader.Len()-1)
	if _, err := reader.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	d, _, err := decodeGoMP3(plainReader{reader})
	if err != nil {
		return nil, fmt.Errorf("reopen mp3 at %s: %w", at, err)
	}
	return d, nil
}
