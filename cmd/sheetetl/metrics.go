package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"sheetetl/internal/config"
	"sheetetl/internal/metrics"
	"sheetetl/internal/metrics/datadog"
	"sheetetl/internal/metrics/prompush"
)

const defaultPushgatewayURL = "http://localhost:9091"

// closableBackend is a metrics backend with its own shutdown.
type closableBackend interface {
	metrics.Backend
	Close() error
}

// Seams for tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (closableBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	newPushBackend = func(job, url string) (metrics.Backend, error) {
		return prompush.NewBackend(job, url)
	}
	setMetricsBackend = metrics.SetBackend
)

// initMetrics installs the configured backend. The returned cleanup is never
// nil; it flushes, then restores the no-op backend. Flush failures are
// logged, not returned.
func initMetrics(ctx context.Context, mc config.MetricsConfig, log *zap.Logger) (func(), error) {
	noop := func() {}
	job := mc.Job
	if job == "" {
		job = "sheetetl"
	}

	switch mc.Backend {
	case "", "none":
		return noop, nil

	case "pushgateway":
		url := mc.PushgatewayURL
		if url == "" {
			url = defaultPushgatewayURL
		}
		b, err := newPushBackend(job, url)
		if err != nil {
			return noop, fmt.Errorf("pushgateway: %w", err)
		}
		setMetricsBackend(b)
		log.Debug("metrics enabled", zap.String("backend", mc.Backend), zap.String("url", url), zap.String("job", job))
		return func() {
			if err := b.Flush(); err != nil {
				log.Warn("metrics: pushgateway flush error", zap.Error(err))
			}
			setMetricsBackend(nil)
		}, nil

	case "datadog":
		tags := datadog.ParseTagsCSV(mc.Tags)
		b, err := newDatadogBackend(ctx, datadog.Options{JobName: job, Tags: tags})
		if err != nil {
			return noop, fmt.Errorf("datadog: %w", err)
		}
		setMetricsBackend(b)
		log.Debug("metrics enabled", zap.String("backend", mc.Backend), zap.String("job", job), zap.Strings("tags", tags))
		return func() {
			if err := b.Close(); err != nil {
				log.Warn("metrics: datadog close error", zap.Error(err))
			}
			setMetricsBackend(nil)
		}, nil

	default:
		return noop, fmt.Errorf("unknown metrics backend %q", mc.Backend)
	}
}
