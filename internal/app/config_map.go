package app

import (
	"customeragent/internal/config"
	"customeragent/internal/storage"
	"customeragent/internal/worker"
	"customeragent/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	console := true
	if cfg.Logging.Console != nil {
		console = *cfg.Logging.Console
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	sc := storage.Config{
		Driver:        cfg.Storage.Driver,
		Path:          cfg.Storage.Path,
		BusyTimeout:   busy,
		RetentionDays: cfg.Storage.RetentionDays,
	}
	enabled := sc.Driver != "" && sc.Driver != "none"
	return sc, enabled, nil
}

func mapWorkerConfig(cfg *config.Config) (worker.Config, error) {
	base, err := config.ParseDurationField("worker.retry_base", cfg.Worker.RetryBase)
	if err != nil {
		return worker.Config{}, err
	}
	health, err := config.ParseDurationField("worker.health_interval", cfg.Worker.HealthInterval)
	if err != nil {
		return worker.Config{}, err
	}
	probe, err := config.ParseDurationField("worker.probe_timeout", cfg.Worker.ProbeTimeout)
	if err != nil {
		return worker.Config{}, err
	}
	return worker.Config{
		Scope:          cfg.Worker.Scope,
		MaxAttempts:    cfg.Worker.MaxAttempts,
		RetryBase:      base,
		RetryGrowth:    cfg.Worker.RetryGrowth,
		HealthInterval: health,
		ProbeTimeout:   probe,
	}, nil
}

func workerChanged(prev, next config.WorkerConfig) bool {
	prevSupported, nextSupported := true, true
	if prev.Supported != nil {
		prevSupported = *prev.Supported
	}
	if next.Supported != nil {
		nextSupported = *next.Supported
	}
	prev.Supported, next.Supported = nil, nil
	return prevSupported != nextSupported || prev != next
}

func storageChanged(prev, next *config.StorageConfig) bool {
	if (prev == nil) != (next == nil) {
		return true
	}
	if prev == nil {
		return false
	}
	return prev.Driver != next.Driver || prev.Path != next.Path
}
