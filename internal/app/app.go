package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"sawit/internal/capture"
	"sawit/internal/config"
	"sawit/internal/logger"
	"sawit/internal/repository/sqlite"
	"sawit/internal/route"
	"sawit/internal/service"
	"sawit/internal/service/ai"
	"sawit/internal/service/pipeline"
	"sawit/internal/service/storage"
	"sawit/internal/service/websocket"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

type App struct {
	config   *config.Config
	logger   *logger.Logger
	db       *sqlite.DB
	detector *ai.YOLODetector
	pipeline *pipeline.Pipeline
	recorder *storage.Recorder
	hub      *websocket.HubService
	manager  *service.Manager
}

// NewApp loads configuration and builds every service. It fails when the
// database cannot be opened or the model cannot be loaded.
func NewApp() (*App, error) {
	cfg := config.Load()
	log := logger.NewLogger(cfg)

	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		log.Close()
		return nil, err
	}

	store, err := storage.NewDetectionStore(sqlite.NewDetectionRepository(db), cfg.Timezone, log)
	if err != nil {
		return nil, multierr.Combine(err, db.Close(), log.Close())
	}

	labels, err := ai.LoadLabels(cfg.LabelsPath)
	if err != nil {
		return nil, multierr.Combine(err, db.Close(), log.Close())
	}

	detector, err := ai.NewYOLODetector(ai.YOLOConfig{
		ModelPath:    cfg.ModelPath,
		InputSize:    cfg.InputSize,
		MinScore:     cfg.DetectorMinScore,
		NMSThreshold: cfg.NMSThreshold,
	}, log)
	if err != nil {
		return nil, multierr.Combine(err, db.Close(), log.Close())
	}

	p, err := pipeline.New(detector, labels.Lookup, log, pipeline.Options{
		QueueSize:     cfg.StreamQueueSize,
		MaxReadErrors: cfg.MaxReadErrors,
	})
	if err != nil {
		return nil, multierr.Combine(err, detector.Close(), db.Close(), log.Close())
	}

	hub := websocket.NewHubService(log)
	recorder := storage.NewRecorder(cfg, store, log)
	threshold := pipeline.NewThreshold(cfg.Confidence)
	mng := service.NewManager(p, store, recorder, hub, threshold, cfg, log)

	return &App{
		config:   cfg,
		logger:   log,
		db:       db,
		detector: detector,
		pipeline: p,
		recorder: recorder,
		hub:      hub,
		manager:  mng,
	}, nil
}

// Run serves HTTP and runs the background services until ctx is done or one
// of them fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	cameras, err := a.openCameras()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.Port),
		Handler:           route.SetupRoutes(a.manager, a.config, a.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error { return a.hub.Run(ctx) })
	g.Go(func() error { return a.recorder.Run(ctx) })

	// a failing camera is logged and does not stop the server
	for _, cam := range cameras {
		g.Go(func() error {
			if err := a.manager.RunCamera(ctx, cam.name, cam.src); err != nil {
				a.logger.Error("%v", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		a.logger.Info("Palm fruit detection server listening on %s", server.Addr)
		a.logger.Info("Model: %s, threshold %.2f, database: %s", a.config.ModelPath, a.manager.Threshold().Load(), a.config.DatabasePath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(a.config.ShutdownTimeout)*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)

		// websocket sessions are hijacked and not tracked by Shutdown
		a.manager.Stop()
		return err
	})

	return g.Wait()
}

type camera struct {
	name string
	src  capture.Source
}

// openCameras opens the server-side sources that are configured.
func (a *App) openCameras() ([]camera, error) {
	var cameras []camera

	if a.config.CameraSource != "" {
		src, err := capture.OpenVideo(a.config.CameraSource)
		if err != nil {
			return nil, err
		}
		cameras = append(cameras, camera{name: "camera " + a.config.CameraSource, src: src})
	}

	if a.config.UDPCameraPort > 0 {
		src, err := capture.ListenUDP(":"+strconv.Itoa(a.config.UDPCameraPort), a.config.StreamQueueSize, a.logger)
		if err != nil {
			var errs error
			for _, c := range cameras {
				errs = multierr.Append(errs, c.src.Close())
			}
			return nil, multierr.Append(err, errs)
		}
		cameras = append(cameras, camera{name: "udp", src: src})
	}

	return cameras, nil
}

// Close persists frames still buffered for auto-save, then releases the
// detector, the database and the log files. Call it after Run has returned.
func (a *App) Close() error {
	a.manager.Stop()
	a.recorder.Close()

	return multierr.Combine(
		a.pipeline.Close(),
		a.db.Close(),
		a.logger.Close(),
	)
}
