// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-co-op/gocron"

	"github.com/relabs-tech/mylocations/internal/config"
	"github.com/relabs-tech/mylocations/internal/refiner"
	"github.com/relabs-tech/mylocations/internal/store"
)

// RunWeb hosts the location refiner: HTTP API, WebSocket status stream,
// MQTT state topic and the saved-location store.
func RunWeb(logger *slog.Logger) error {
	cfg := config.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The broker is optional unless readings arrive over it.
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDRefiner, logger)
	if err != nil {
		if cfg.GPSSource == config.SourceMQTT {
			return err
		}
		logger.Warn("running without MQTT, state will not be published", "error", err)
		client = nil
	} else {
		defer client.Disconnect(250)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open location store: %w", err)
	}
	defer st.Close()
	logger.Info("location store opened", "path", cfg.DBPath)

	src, err := newPositionSource(cfg, client, logger)
	if err != nil {
		return err
	}
	geo, err := NewGeocoder(cfg)
	if err != nil {
		return err
	}
	logger.Info("refiner configured", "source", cfg.GPSSource, "geocoder", geo.Name(),
		"desired_accuracy_m", cfg.DesiredAccuracy, "timeout", cfg.AcquisitionTimeout)

	svc := NewLocationService(ctx, cfg.RefinerConfig(), src, geo, logger)
	hub := NewHub(logger.With("component", "ws"))

	loopDone := make(chan error, 1)
	go func() { loopDone <- svc.Run(ctx) }()

	pub := newStatusPublisher(client, cfg.TopicRefinerState, hub, logger)
	go pub.run(ctx)
	if _, err := svc.Subscribe(ctx, pub.publish); err != nil {
		return err
	}

	if cfg.AutoAcquireInterval > 0 {
		sched, err := scheduleAutoAcquire(svc, cfg.AutoAcquireInterval, logger)
		if err != nil {
			return err
		}
		defer sched.Stop()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler:           NewHandler(svc, st, hub, cfg.StaticDir, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("web server listening", "addr", srv.Addr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("web: shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	stop()
	<-loopDone
	return nil
}

// scheduleAutoAcquire starts a cycle every interval unless one is running.
func scheduleAutoAcquire(loc Locator, interval time.Duration, logger *slog.Logger) (*gocron.Scheduler, error) {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	_, err := s.Every(interval).WaitForSchedule().Do(func() {
		if loc.Snapshot().Active {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := loc.Start(ctx); err != nil {
			logger.Warn("auto acquisition not started", "error", err)
			return
		}
		logger.Info("auto acquisition started")
	})
	if err != nil {
		return nil, fmt.Errorf("schedule auto acquisition: %w", err)
	}
	s.StartAsync()
	logger.Info("auto acquisition scheduled", "interval", interval)
	return s, nil
}

// statusPublisher forwards refiner snapshots to MQTT and WebSocket clients
// off the refiner goroutine.
type statusPublisher struct {
	client mqtt.Client
	topic  string
	hub    *Hub
	logger *slog.Logger
	queue  chan refiner.Status
}

func newStatusPublisher(client mqtt.Client, topic string, hub *Hub, logger *slog.Logger) *statusPublisher {
	return &statusPublisher{
		client: client,
		topic:  topic,
		hub:    hub,
		logger: logger,
		queue:  make(chan refiner.Status, 64),
	}
}

func (p *statusPublisher) publish(snap refiner.Snapshot) {
	select {
	case p.queue <- snap.Status():
	default:
		p.logger.Warn("status queue full, update dropped", "cycle", snap.Cycle, "phase", snap.Phase.String())
	}
}

func (p *statusPublisher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-p.queue:
			payload, err := json.Marshal(st)
			if err != nil {
				p.logger.Error("status marshal", "error", err)
				continue
			}
			if p.hub != nil {
				p.hub.Broadcast(payload)
			}
			if p.client != nil {
				publishJSON(p.client, p.topic, true, payload, p.logger)
			}
		}
	}
}
