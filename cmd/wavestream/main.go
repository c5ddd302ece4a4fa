// Command wavestream plays a remote MP3 or FLAC URL, printing playback
// events and reading simple commands from stdin.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/llehouerou/wavestream/internal/config"
	"github.com/llehouerou/wavestream/internal/errmsg"
	"github.com/llehouerou/wavestream/internal/playback"
	"github.com/llehouerou/wavestream/internal/player"
	"github.com/llehouerou/wavestream/internal/state"
	"github.com/llehouerou/wavestream/internal/stderr"
)

func main() {
	var (
		configPath = flag.String("config", "", "config file (default: XDG config, then ./config.toml)")
		paused     = flag.Bool("paused", false, "load without starting playback")
		start      = flag.Duration("start", -1, "start offset, e.g. 1m30s (default: resume where stopped)")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <url>\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintln(flag.CommandLine.Output(), "\ncommands: p (toggle), s (stop), f/b [secs], g <offset>, v <0-1>, m (mute), r <rate>, q (quit)")
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(flag.Arg(0), *configPath, !*paused, *start); err != nil {
		stderr.WriteOriginal(err.Error() + "\n")
		os.Exit(1)
	}
}

func run(url, configPath string, playWhenReady bool, start time.Duration) error {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return errors.New(errmsg.Format(errmsg.OpConfigLoad, err))
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return errors.New(errmsg.Format(errmsg.OpInitialize, err))
	}
	defer closeLog()

	if err := stderr.Start(logger); err != nil {
		logger.Warn("stderr capture unavailable", "error", err)
	}
	defer stderr.Stop()

	store, err := state.Open()
	if err != nil {
		return errors.New(errmsg.Format(errmsg.OpStateOpen, err))
	}
	defer store.Close()

	saved, err := store.GetVolume()
	if err != nil {
		logger.Warn("read saved volume", "error", err)
		saved = &state.VolumeState{Volume: 1, Rate: 1}
	}

	ctrl, err := playback.New(player.NewFactory(logger), controllerOptions(cfg, saved, logger)...)
	if err != nil {
		return errors.New(errmsg.Format(errmsg.OpInitialize, err))
	}
	defer ctrl.Close()
	ctrl.SetAutomaticallyWaitsToMinimizeStalling(*cfg.GetPlaybackConfig().AutoWait)

	s := newSession(ctrl, store, url, os.Stdout, logger)
	s.resume = *cfg.GetPlaybackConfig().ResumePositions

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sub := ctrl.Subscribe()
	ctrl.Load(url, playWhenReady, s.initialTime(start), cfg.LoadOptions())

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if s.command(scanner.Text()) {
				cancel()
				return
			}
		}
	}()

	err = s.watch(ctx, sub)
	s.persist()
	return err
}

func newLogger(cfg *config.Config) (hclog.Logger, func(), error) {
	var out io.Writer = stderr.Original()
	closeLog := func() {}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		out = f
		closeLog = func() { f.Close() }
	}
	level := hclog.LevelFromString(cfg.LogLevel)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "wavestream",
		Level:  level,
		Output: out,
	}), closeLog, nil
}

// controllerOptions merges the configuration with the saved settings. A rate
// set in the configuration overrides the saved one.
func controllerOptions(cfg *config.Config, saved *state.VolumeState, logger hclog.Logger) []playback.Option {
	pb := cfg.GetPlaybackConfig()
	st := cfg.GetStreamingConfig()

	rate := saved.Rate
	if cfg.Playback.Rate > 0 || rate <= 0 {
		rate = pb.Rate
	}

	return []playback.Option{
		playback.WithLogger(logger),
		playback.WithHTTPClient(&http.Client{Timeout: st.RequestTimeout}),
		playback.WithBufferDuration(pb.BufferDuration),
		playback.WithMaxBufferDuration(st.MaxBufferDuration),
		playback.WithThrottleDelay(st.ThrottleDelay),
		playback.WithDefaultBitrate(st.DefaultBitrate),
		playback.WithTimeEventFrequency(pb.TimeEventFrequency),
		playback.WithLoadTimeout(pb.LoadTimeout),
		playback.WithPreferredLocales(pb.PreferredLocales...),
		playback.WithVolume(saved.Volume),
		playback.WithMuted(saved.Muted),
		playback.WithRate(rate),
	}
}
