package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/affirmloop/internal/api"
	"github.com/satindergrewal/affirmloop/internal/audio"
	"github.com/satindergrewal/affirmloop/internal/config"
	"github.com/satindergrewal/affirmloop/internal/control"
	"github.com/satindergrewal/affirmloop/internal/coordinator"
	"github.com/satindergrewal/affirmloop/internal/device"
	"github.com/satindergrewal/affirmloop/internal/filestore"
	"github.com/satindergrewal/affirmloop/internal/logging"
	"github.com/satindergrewal/affirmloop/internal/playback"
	"github.com/satindergrewal/affirmloop/internal/processing"
	"github.com/satindergrewal/affirmloop/internal/recorder"
	"github.com/satindergrewal/affirmloop/internal/session"
	"github.com/satindergrewal/affirmloop/internal/store"
	"github.com/satindergrewal/affirmloop/internal/timer"
	"github.com/satindergrewal/affirmloop/internal/transcribe"
	"github.com/satindergrewal/affirmloop/internal/tui"
)

func main() {
	os.Exit(start())
}

// start returns the exit code once every deferred cleanup has run.
func start() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("config: %v", err)
		return 1
	}

	logger, err := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		Dir:     cfg.LogDir,
		Console: cfg.UI == "tui",
	})
	if err != nil {
		log.Printf("logging: %v", err)
		return 1
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return exitCode(logger, run(ctx, cfg, logger))
}

func exitCode(logger *zap.SugaredLogger, err error) int {
	if err != nil {
		logger.Errorf("affirm: %v", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) error {
	logger.Infof("affirm starting up (format=%s sensitivity=%s transcriber=%s)", cfg.Format, cfg.Sensitivity, cfg.Transcriber)

	scripts, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer scripts.Close()

	codec, err := audio.CodecFor(cfg.Format)
	if err != nil {
		return err
	}
	files, err := filestore.New(cfg.RecordingsDir, codec)
	if err != nil {
		return err
	}

	profile, err := audio.ProfileFor(cfg.Sensitivity)
	if err != nil {
		return err
	}

	backend, err := transcriber(cfg)
	if err != nil {
		return err
	}

	dev, err := device.NewPortAudio(logger.Named("device"), cfg.RoutePoll)
	if err != nil {
		return err
	}
	defer dev.Close()

	loop := control.New(256)
	sess := session.New(dev, logger.Named("session"))
	clock := timer.System()

	rec := recorder.New(dev, sess, files, recorder.Options{
		Clock:          clock,
		Post:           loop.Post,
		Log:            logger.Named("recorder"),
		Profile:        profile,
		SampleInterval: cfg.SampleInterval,
	})
	play := playback.New(sess, files, playback.Options{
		Clock:         clock,
		Post:          loop.Post,
		Log:           logger.Named("playback"),
		Players:       playback.DevicePlayers(dev, logger.Named("player")),
		ProgressEvery: cfg.ProgressInterval,
	})
	pipe := processing.New(files, processing.Options{
		Log:               logger.Named("processing"),
		Profile:           profile,
		KeepOriginal:      cfg.KeepOriginal,
		Transcriber:       backend,
		TranscribeTimeout: cfg.TranscribeTimeout,
	})

	coord := coordinator.New(coordinator.Deps{
		Loop:     loop,
		Session:  sess,
		Recorder: rec,
		Playback: play,
		Pipeline: pipe,
		Files:    files,
		Scripts:  scripts,
		Log:      logger.Named("coordinator"),
		Language: cfg.Language,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		coord.Run(ctx)
		return nil
	})
	g.Go(func() error {
		sess.Run(ctx)
		return nil
	})

	if cfg.UI == "tui" {
		g.Go(func() error {
			p := tea.NewProgram(tui.New(ctx, coord, scripts), tea.WithAltScreen(), tea.WithContext(ctx))
			_, err := p.Run()
			if errors.Is(err, tea.ErrProgramKilled) {
				err = nil
			}
			// quitting the TUI ends the process
			return errors.Join(err, errQuit)
		})
	} else {
		g.Go(func() error {
			return serve(ctx, cfg.Addr(), api.New(coord, scripts, logger.Named("api")).Handler(), logger)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	logger.Info("Shut down cleanly")
	return nil
}

var errQuit = errors.New("quit")

func serve(ctx context.Context, addr string, handler http.Handler, logger *zap.SugaredLogger) error {
	server := &http.Server{Addr: addr, Handler: handler}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down...")
		server.Close()
	}()

	logger.Infof("affirm live on %s", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server: %w", err)
	}
	return nil
}

func transcriber(cfg config.Config) (transcribe.Backend, error) {
	switch cfg.Transcriber {
	case "openai":
		return transcribe.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL), nil
	case "command":
		return transcribe.NewCommand(cfg.TranscribeCommand)
	}
	return transcribe.Disabled{}, nil
}
