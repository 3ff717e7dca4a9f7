// Package app wires the counter, the announcer and their outputs together
// from a config.Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"golang.org/x/sync/errgroup"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/announcer"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/audio"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/counter"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/detector"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/journal"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/notify"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/shm"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/smoothing"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/trigger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/webmonitor"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/webrtc"
)

// Options replace collaborators that would otherwise be built from the
// configuration. Zero values mean "build from config".
type Options struct {
	Source   counter.FrameSource
	Detector detector.Detector
	Output   audio.Output
	Clock    trigger.Clock
	Metrics  *metrics.Metrics
}

// App owns every long-running component
type App struct {
	cfg       *config.Config
	metrics   *metrics.Metrics
	cell      *counter.Cell
	producer  *counter.Producer
	announcer *announcer.Announcer
	sink      audio.Sink
	journal   *journal.Journal
	mqtt      *notify.MQTTPublisher
	web       *webmonitor.Server
	ingest    *webrtc.Server

	closers []io.Closer
}

// SetupLogging installs the global logger described by cfg
func SetupLogging(cfg *config.Config) error {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	if cfg.LogJSON {
		logger.InitWith(logger.NewJSON(level, os.Stderr))
	} else {
		logger.Init(level, os.Stderr, isatty.IsTerminal(os.Stderr.Fd()))
	}
	return nil
}

// New builds the application. ctx bounds the startup waits (shared memory
// segments, broker connection).
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	a := &App{cfg: cfg, metrics: m, cell: &counter.Cell{}}
	built := false
	defer func() {
		if !built {
			a.Close()
		}
	}()

	filter, err := smoothing.New(cfg.Smoothing.HistoryCapacity)
	if err != nil {
		return nil, err
	}

	source := opts.Source
	if source == nil {
		if source, err = a.buildSource(ctx); err != nil {
			return nil, err
		}
	}

	det := opts.Detector
	if det == nil {
		if det, err = a.buildDetector(); err != nil {
			return nil, err
		}
	}

	a.producer = counter.NewProducer(counter.Config{
		Subsample:     cfg.Counter.Subsample,
		MinConfidence: cfg.Detector.MinConfidence,
		DetectRate:    cfg.Counter.DetectRate,
		RetryBackoff:  counter.DefaultConfig().RetryBackoff,
	}, source, det, filter, a.cell, m)

	if a.sink, err = a.buildSink(opts.Output); err != nil {
		return nil, err
	}

	clock := opts.Clock
	if clock == nil {
		clock = trigger.SystemClock{}
	}
	tr := trigger.New(trigger.Config{
		StabilityThreshold: cfg.Trigger.StabilityThreshold,
		Cooldown:           cfg.Trigger.Cooldown(),
		ReplaySuppressed:   cfg.Trigger.ReplaySuppressed,
	}, clock)

	deps := announcer.Deps{
		Cell:     a.cell,
		Trigger:  tr,
		Sink:     a.sink,
		Displays: []announcer.Display{&consoleDisplay{}},
		Metrics:  m,
		Clock:    clock,
	}

	if cfg.Journal.Path != "" {
		if a.journal, err = journal.Open(cfg.Journal.Path); err != nil {
			return nil, err
		}
		deps.Journal = a.journal
		deps.Session = a.journal.Session()
	}

	if cfg.MQTT.Enabled {
		a.mqtt = notify.NewMQTT(notify.Config{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      byte(cfg.MQTT.QoS),
			Retain:   cfg.MQTT.Retain,
		})
		if err := a.mqtt.Connect(); err != nil {
			// paho keeps retrying in the background
			logger.Warn("App", "MQTT broker not reachable yet: %v", err)
		}
		deps.Notifier = a.mqtt
	}

	if cfg.Web.Addr != "" {
		src := webmonitor.Sources{
			History: a.producer.History,
			Metrics: m,
		}
		if a.ingest != nil {
			src.Ingest = a.ingest
		}
		if a.journal != nil {
			src.Journal = a.journal
		}
		if a.mqtt != nil {
			src.MQTT = a.mqtt
		}
		a.web = webmonitor.NewServer(webmonitor.Config{
			Addr:              cfg.Web.Addr,
			KeepaliveInterval: cfg.Web.KeepaliveInterval,
		}, src)
		deps.Displays = append(deps.Displays, a.web.Display())
	}

	if a.announcer, err = announcer.New(cfg.Counter.TickInterval, deps); err != nil {
		return nil, err
	}
	if a.web != nil {
		a.web.SetAnnouncer(a.announcer)
	}
	built = true
	return a, nil
}

func (a *App) buildSource(ctx context.Context) (counter.FrameSource, error) {
	switch a.cfg.Source.Type {
	case config.SourceSHM:
		src, err := shm.Open(ctx, a.cfg.Source.SHMName, a.cfg.Source.PollInterval, a.metrics)
		if err != nil {
			return nil, fmt.Errorf("frame source: %w", err)
		}
		a.closers = append(a.closers, src)
		return src, nil

	case config.SourceWebRTC:
		a.ingest = webrtc.NewServer(webrtc.Config{
			STUNServers: a.cfg.Web.STUNServers,
			MaxClients:  a.cfg.Web.MaxPublishers,
		}, a.metrics)
		a.closers = append(a.closers, a.ingest)
		return a.ingest, nil

	default:
		return nil, fmt.Errorf("unknown source type %q", a.cfg.Source.Type)
	}
}

func (a *App) buildDetector() (detector.Detector, error) {
	switch a.cfg.Detector.Type {
	case config.DetectorHTTP:
		return detector.NewHTTP(detector.HTTPConfig{
			URL:       a.cfg.Detector.URL,
			Timeout:   a.cfg.Detector.Timeout,
			ImageSize: a.cfg.Detector.ImageSize,
		})

	case config.DetectorSHM:
		det, err := detector.NewSHM(a.cfg.Detector.SHMName)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, det)
		return det, nil

	default:
		return nil, fmt.Errorf("unknown detector type %q", a.cfg.Detector.Type)
	}
}

func (a *App) buildSink(out audio.Output) (audio.Sink, error) {
	clips, err := audio.LoadClips(a.cfg.Audio.ClipDir, a.cfg.Audio.Clips)
	if err != nil {
		// Missing clips only disable their counts
		logger.Warn("App", "Some clips failed to load: %v", err)
	}
	logger.Info("App", "Clips loaded for counts %v", clips.Loaded())

	if out == nil {
		err = nil
		switch a.cfg.Audio.Backend {
		case config.AudioMalgo:
			out, err = audio.NewMalgoOutput()
		case config.AudioPulse:
			out, err = audio.NewPulseOutput()
		case config.AudioNull:
			out = audio.LogOutput{}
		default:
			err = fmt.Errorf("unknown audio backend %q", a.cfg.Audio.Backend)
		}
		if err != nil {
			logger.Warn("App", "Audio backend %s unavailable, logging instead: %v", a.cfg.Audio.Backend, err)
			out = audio.LogOutput{}
		}
	}
	return audio.NewClipSink(clips, out), nil
}

// Metrics returns the shared metrics
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Announcer returns the consumer
func (a *App) Announcer() *announcer.Announcer { return a.announcer }

// Run starts every component and blocks until ctx is cancelled, the frame
// stream ends or a component fails. Resources are released before it returns.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.producer.Run(ctx) })
	g.Go(func() error { return a.announcer.Run(ctx) })
	if a.mqtt != nil {
		g.Go(func() error { return a.mqtt.Run(ctx) })
	}
	if a.web != nil {
		g.Go(func() error { return a.web.Run(ctx) })
	}

	logger.Info("App", "Running (preset=%s, source=%s, detector=%s, audio=%s)",
		a.cfg.Preset, a.cfg.Source.Type, a.cfg.Detector.Type, a.cfg.Audio.Backend)

	err := g.Wait()
	if errors.Is(err, counter.ErrStreamEnded) {
		logger.Info("App", "Frame stream ended, shutting down")
		err = nil
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// Close releases every resource; it is safe to call more than once
func (a *App) Close() error {
	var errs []error
	if a.sink != nil {
		errs = append(errs, a.sink.Close())
		a.sink = nil
	}
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
		a.journal = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// consoleDisplay logs the display line whenever it changes
type consoleDisplay struct {
	shown  bool
	stable int
	status string
}

func (d *consoleDisplay) Show(stable int, status string) {
	if d.shown && stable == d.stable && status == d.status {
		return
	}
	d.shown, d.stable, d.status = true, stable, status
	logger.Info("Display", "%d | %s", stable, status)
}
