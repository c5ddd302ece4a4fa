package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/llehouerou/wavestream/internal/engine"
	"github.com/llehouerou/wavestream/internal/errmsg"
	"github.com/llehouerou/wavestream/internal/playback"
	"github.com/llehouerou/wavestream/internal/state"
)

const skipStep = 15 * time.Second

// A tag larger than the initial fetch window stalls validation until the
// load times out.
const loadTimeoutHint = " (large leading tags need a higher streaming.default_bitrate or streaming.max_buffer_duration)"

// session plays one URL and keeps its resume position.
type session struct {
	ctrl   *playback.Controller
	store  state.Interface
	url    string
	logger hclog.Logger
	resume bool

	outMu sync.Mutex
	out   io.Writer

	mu       sync.Mutex
	position time.Duration
	duration time.Duration
	chapters []engine.MetadataGroup
}

func newSession(ctrl *playback.Controller, store state.Interface, url string, out io.Writer, logger hclog.Logger) *session {
	return &session{
		ctrl:   ctrl,
		store:  store,
		url:    url,
		out:    out,
		logger: logger,
		resume: true,
	}
}

// initialTime returns the offset to start at. A negative start means
// resume from the saved position, if any.
func (s *session) initialTime(start time.Duration) *time.Duration {
	if start >= 0 {
		return &start
	}
	if !s.resume {
		return nil
	}
	p, err := s.store.GetPosition(s.url)
	if err != nil {
		s.logger.Warn("read resume position", "url", s.url, "error", err)
		return nil
	}
	if p == nil || p.Offset <= 0 || p.Finished() {
		return nil
	}
	s.printf("resuming at %s\n", clock(p.Offset))
	return &p.Offset
}

// watch prints events until the item ends, a load fails or ctx is done.
func (s *session) watch(ctx context.Context, sub *playback.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Done:
			return nil
		case e := <-sub.StateChanged:
			s.printf("%s\n", strings.ToLower(e.Current.String()))
		case e := <-sub.DurationUpdated:
			s.mu.Lock()
			s.duration = e.Duration
			s.mu.Unlock()
			s.printf("duration %s\n", clock(e.Duration))
		case e := <-sub.Elapsed:
			s.elapsed(e.Position)
		case e := <-sub.SeekCompleted:
			s.logger.Debug("seek completed", "offset", e.Offset, "finished", e.Finished)
			if e.Finished {
				s.elapsed(e.Offset)
			}
		case e := <-sub.MetadataReceived:
			s.metadata(e.Groups)
		case e := <-sub.BoundaryCrossed:
			if ch, ok := s.chapterAt(e.Time); ok {
				s.printf("chapter %q\n", ch.Title)
			}
		case <-sub.TransportRecreated:
			s.logger.Info("audio output recreated")
		case <-sub.ItemEnded:
			s.printf("ended\n")
			if err := s.store.ForgetPosition(s.url); err != nil {
				s.logger.Warn("forget resume position", "url", s.url, "error", err)
			}
			s.mu.Lock()
			s.position = 0
			s.mu.Unlock()
			return nil
		case e := <-sub.LoadFailed:
			msg := errmsg.FormatWith(e.Operation, e.URL, e.Err)
			if e.Operation == errmsg.OpLoad {
				if errors.Is(e.Err, playback.ErrLoadTimeout) {
					msg += loadTimeoutHint
				}
				return errors.New(msg)
			}
			s.printf("%s\n", msg)
		}
	}
}

func (s *session) elapsed(pos time.Duration) {
	s.mu.Lock()
	s.position = pos
	duration := s.duration
	s.mu.Unlock()

	s.printf("%s / %s\n", clock(pos), clock(duration))
	if s.resume && pos > 0 {
		s.store.SavePosition(state.Position{URL: s.url, Offset: pos, Duration: duration})
	}
}

// metadata prints the groups and sets a boundary at every chapter start.
func (s *session) metadata(groups []engine.MetadataGroup) {
	var starts []time.Duration
	for _, g := range groups {
		s.printf("[%s] %s\n", clock(g.Start), g.Title)
		for _, item := range g.Items {
			s.printf("  %s: %s\n", item.Key, item.Value)
		}
		if g.Start > 0 {
			starts = append(starts, g.Start)
		}
	}
	if len(starts) == 0 {
		return
	}
	s.mu.Lock()
	s.chapters = slices.Clone(groups)
	s.mu.Unlock()
	s.ctrl.SetBoundaryTimes(starts)
}

func (s *session) chapterAt(t time.Duration) (engine.MetadataGroup, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.chapters {
		if ch.Start == t {
			return ch, true
		}
	}
	return engine.MetadataGroup{}, false
}

// command runs one stdin command and reports whether to quit.
func (s *session) command(line string) bool {
	name, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "", "p":
		s.ctrl.TogglePlaying()
	case "s":
		s.ctrl.Stop()
	case "f", "b":
		step := skipStep
		if arg != "" {
			secs, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				s.printf("%s\n", errmsg.Format(errmsg.OpSeek, fmt.Errorf("invalid step %q", arg)))
				return false
			}
			step = time.Duration(secs * float64(time.Second))
		}
		if name == "b" {
			step = -step
		}
		s.ctrl.Seek(max(0, s.ctrl.CurrentTime()+step))
	case "g":
		to, err := parseOffset(arg)
		if err != nil {
			s.printf("%s\n", errmsg.Format(errmsg.OpSeek, err))
			return false
		}
		s.ctrl.Seek(to)
	case "v":
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			s.printf("invalid volume %q\n", arg)
			return false
		}
		s.ctrl.SetVolume(v)
		s.saveVolume()
	case "m":
		s.ctrl.SetMuted(!s.ctrl.Muted())
		s.saveVolume()
	case "r":
		r, err := strconv.ParseFloat(arg, 64)
		if err != nil || r <= 0 {
			s.printf("invalid rate %q\n", arg)
			return false
		}
		s.ctrl.SetRate(r)
		s.saveVolume()
	case "q":
		return true
	default:
		s.printf("unknown command %q\n", name)
	}
	return false
}

// parseOffset accepts a Go duration ("1m30s"), seconds ("90") or a clock
// ("1:30", "1:02:03").
func parseOffset(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return max(0, d), nil
	}
	var total time.Duration
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid offset %q", s)
	}
	for _, p := range parts {
		n, err := strconv.ParseFloat(p, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid offset %q", s)
		}
		total = total*60 + time.Duration(n*float64(time.Second))
	}
	return total, nil
}

func (s *session) saveVolume() {
	err := s.store.SaveVolume(state.VolumeState{
		Volume: s.ctrl.Volume(),
		Muted:  s.ctrl.Muted(),
		Rate:   s.ctrl.Rate(),
	})
	if err != nil {
		s.logger.Warn(errmsg.Format(errmsg.OpStateSave, err))
	}
}

// persist saves the settings and the resume position.
func (s *session) persist() {
	s.saveVolume()

	s.mu.Lock()
	pos, duration := s.position, s.duration
	s.mu.Unlock()
	if s.resume && pos > 0 {
		s.store.SavePosition(state.Position{URL: s.url, Offset: pos, Duration: duration})
	}
}

func (s *session) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

// clock formats d as m:ss or h:mm:ss.
func clock(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	sec := int(d % time.Minute / time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}
