package config

import "github.com/spf13/viper"

// setDefaults registers every key so environment overrides apply even when
// the file does not mention it
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)

	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.quota", d.Storage.Quota)
	v.SetDefault("storage.namespace", d.Storage.Namespace)

	v.SetDefault("cache.max_size", d.Cache.MaxSize)
	v.SetDefault("cache.max_entries", d.Cache.MaxEntries)
	v.SetDefault("cache.default_ttl", d.Cache.DefaultTTL)
	v.SetDefault("cache.max_ttl", d.Cache.MaxTTL)
	v.SetDefault("cache.cleanup_interval", d.Cache.CleanupInterval)
	v.SetDefault("cache.persistent", d.Cache.Persistent)
	v.SetDefault("cache.compression", d.Cache.Compression)
	v.SetDefault("cache.compression_threshold", d.Cache.CompressionThreshold)

	v.SetDefault("batcher.default.batchable", d.Batcher.Default.Batchable)
	v.SetDefault("batcher.default.max_batch_size", d.Batcher.Default.MaxBatchSize)
	v.SetDefault("batcher.default.max_wait_time", d.Batcher.Default.MaxWaitTime)
	v.SetDefault("batcher.concurrency", d.Batcher.Concurrency)
	v.SetDefault("batcher.cache_ttl", d.Batcher.CacheTTL)

	v.SetDefault("sync.namespace", d.Sync.Namespace)
	v.SetDefault("sync.sync_interval", d.Sync.SyncInterval)
	v.SetDefault("sync.settle_delay", d.Sync.SettleDelay)
	v.SetDefault("sync.batch_size", d.Sync.BatchSize)
	v.SetDefault("sync.inter_batch_delay", d.Sync.InterBatchDelay)
	v.SetDefault("sync.max_retries", d.Sync.MaxRetries)
	v.SetDefault("sync.retry_delay", d.Sync.RetryDelay)
	v.SetDefault("sync.max_retry_delay", d.Sync.MaxRetryDelay)

	v.SetDefault("connectivity.health_url", d.Connectivity.HealthURL)
	v.SetDefault("connectivity.method", d.Connectivity.Method)
	v.SetDefault("connectivity.timeout", d.Connectivity.Timeout)
	v.SetDefault("connectivity.retries", d.Connectivity.Retries)
	v.SetDefault("connectivity.retry_interval", d.Connectivity.RetryInterval)
	v.SetDefault("connectivity.interval", d.Connectivity.Interval)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen", d.Metrics.Listen)

	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.timeout", d.API.Timeout)
}
