package player

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/llehouerou/go-mp3"
)

type codec int

const (
	codecMP3 codec = iota
	codecFLAC
)

func (c codec) String() string {
	if c == codecFLAC {
		return "FLAC"
	}
	return "MP3"
}

// sniffCodec recognises FLAC by its stream marker; anything else is
// handed to the MP3 decoder, which resynchronises on frame headers.
func sniffCodec(head []byte) codec {
	if len(head) >= 4 && string(head[:4]) == "fLaC" {
		return codecFLAC
	}
	return codecMP3
}

// goMP3Decoder wraps llehouerou/go-mp3 to implement beep.Streamer over a
// forward-only reader.
type goMP3Decoder struct {
	decoder *mp3.Decoder
	format  beep.Format
	err     error
	readBuf []byte // reusable buffer for reading
}

// decodeGoMP3 starts decoding at the first frame found in r. r must not be
// an io.Seeker, otherwise the decoder scans the whole stream up front.
func decodeGoMP3(r io.Reader) (*goMP3Decoder, beep.Format, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, beep.Format{}, err
	}

	sampleRate := decoder.SampleRate()
	if sampleRate == 0 {
		return nil, beep.Format{}, errors.New("mp3: invalid sample rate")
	}

	format := beep.Format{
		SampleRate:  beep.SampleRate(sampleRate),
		NumChannels: 2, // go-mp3 always outputs stereo
		Precision:   2, // 16-bit
	}

	d := &goMP3Decoder{
		decoder: decoder,
		format:  format,
		readBuf: make([]byte, 8192),
	}
	return d, format, nil
}

// Stream reads audio samples into the provided buffer.
func (d *goMP3Decoder) Stream(samples [][2]float64) (n int, ok bool) {
	if d.err != nil {
		return 0, false
	}

	// 4 bytes per sample (stereo 16-bit)
	bytesNeeded := len(samples) * 4
	if len(d.readBuf) < bytesNeeded {
		d.readBuf = make([]byte, bytesNeeded)
	}

	bytesRead, err := io.ReadFull(d.decoder, d.readBuf[:bytesNeeded])
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		d.err = err
	}

	samplesRead := bytesRead / 4
	for i := range samplesRead {
		offset := i * 4
		left := int16(binary.LittleEndian.Uint16(d.readBuf[offset:]))    //nolint:gosec // audio samples
		right := int16(binary.LittleEndian.Uint16(d.readBuf[offset+2:])) //nolint:gosec // audio samples
		samples[i][0] = float64(left) / 32768.0
		samples[i][1] = float64(right) / 32768.0
	}

	if samplesRead == 0 {
		return 0, false
	}
	return samplesRead, true
}

// Err returns any error that occurred during streaming.
func (d *goMP3Decoder) Err() error {
	return d.err
}

// decodeFLAC opens a FLAC stream. rs must start at the "fLaC" marker; it is
// seekable so that the decoder can seek by sample.
func decodeFLAC(rs io.ReadSeeker) (beep.StreamSeekCloser, beep.Format, error) {
	return flac.Decode(rs)
}
