package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/zpipeio/zpipe/config"
	"github.com/zpipeio/zpipe/internal/adapters/engine"
	"github.com/zpipeio/zpipe/internal/adapters/metrics"
	"github.com/zpipeio/zpipe/internal/adapters/sink"
	"github.com/zpipeio/zpipe/internal/core/domain"
	"github.com/zpipeio/zpipe/internal/core/services/pipeline"
	"github.com/zpipeio/zpipe/pkg/buffer"
	"github.com/zpipeio/zpipe/pkg/errors"
	"github.com/zpipeio/zpipe/pkg/logger"
)

func main() {
	log := logger.New("zpipe")
	defer log.Sync()

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		if errors.IsValidationError(err) {
			ve := errors.AsValidationError(err)
			log.Errorw(config.Usage, "field", ve.Field, "value", ve.Value, "error", ve.Err)
		} else {
			log.Errorw(config.Usage, "error", err)
		}
		os.Exit(1)
	}

	if path := os.Getenv("ZPIPE_CONFIG"); path != "" {
		if err := config.LoadTuning(path, cfg); err != nil {
			log.Errorw("error loading tuning config", "path", path, "error", err)
			os.Exit(1)
		}
	}

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Errorw("metrics listener failed", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
	}

	out := buffer.NewOutput(cfg.OutputBufferSize)

	eng, err := engine.NewZstd(out, &domain.EngineOptions{Level: cfg.Level, Workers: cfg.Workers})
	if err != nil {
		log.Errorw("error creating compression engine", "error", err)
		os.Exit(1)
	}

	snk, err := sink.New(&domain.SinkOptions{PathPrefix: cfg.PathPrefix})
	if err != nil {
		log.Errorw("error opening output file", "prefix", cfg.PathPrefix, "error", err)
		os.Exit(1)
	}
	log.Infow("output file open", "file", snk.Path(), "level", cfg.Level, "workers", cfg.Workers)

	p, err := pipeline.New(&pipeline.Config{
		Input:           os.Stdin,
		Control:         os.Stdout,
		Engine:          eng,
		Sink:            snk,
		Output:          out,
		Logger:          log,
		Metrics:         m,
		InputBufferSize: cfg.InputBufferSize,
	})
	if err != nil {
		log.Errorw("error wiring pipeline", "error", err)
		os.Exit(1)
	}

	// Rotation trigger: SIGHUP means "flush the frame, switch files now".
	// The request is serviced by the record loop between records; a
	// rotation failure also surfaces as a terminal error from Run.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	go func() {
		for range sigCh {
			if err := p.Rotate(); err != nil {
				log.Errorw("can not rotate output file", "error", err)
			}
		}
	}()

	runErr := p.Run(context.Background())

	if err := p.Close(context.Background()); err != nil {
		log.Errorw("error during cleanup", "error", err)
	}

	if runErr != nil {
		log.Errorw("stream terminated", "error", runErr, "category", errors.Category(runErr).String())
		os.Exit(1)
	}

	log.Infow("stream finished")
}
