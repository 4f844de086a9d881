package config

import (
	"fmt"

	"github.com/spf13/cast"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "SENSORQ_"

// ApplyEnv overrides fields from environment variables found by lookup,
// usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	var err error
	set := func(key string, apply func(string) error) {
		v, ok := lookup(EnvPrefix + key)
		if !ok || err != nil {
			return
		}
		if aerr := apply(v); aerr != nil {
			err = fmt.Errorf("%s%s: %w", EnvPrefix, key, aerr)
		}
	}

	str("RPC_ADDR", &c.Coordinator.RPCAddr)
	set("LEASE_TIMEOUT", func(v string) (e error) { c.Coordinator.LeaseTimeout, e = cast.ToDurationE(v); return })
	set("REAP_INTERVAL", func(v string) (e error) { c.Coordinator.ReapInterval, e = cast.ToDurationE(v); return })

	str("FILES_DIR", &c.Files.Dir)
	str("HTTP_ADDR", &c.Files.HTTPAddr)
	str("ORIGIN", &c.Files.Origin)
	set("SECTION_SIZE", func(v string) (e error) { c.Files.SectionSize, e = ParseByteSize(v); return })
	set("HANDLE_CACHE", func(v string) (e error) { c.Files.HandleCache, e = cast.ToIntE(v); return })

	str("REDIS_ADDR", &c.Ingest.RedisAddr)
	str("INGEST_QUEUE", &c.Ingest.Queue)
	set("INGEST_CONCURRENCY", func(v string) (e error) { c.Ingest.Concurrency, e = cast.ToIntE(v); return })

	str("JOURNAL_DSN", &c.Journal.DSN)

	str("COORDINATOR", &c.Worker.Coordinator)
	set("WORKERS", func(v string) (e error) { c.Worker.Count, e = cast.ToIntE(v); return })
	set("POLL_INTERVAL", func(v string) (e error) { c.Worker.PollInterval, e = cast.ToDurationE(v); return })

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	return err
}
