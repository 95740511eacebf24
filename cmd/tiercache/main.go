// Command tiercache is a maintenance tool for a persistent cache
// store: inspect it, prune it, or invalidate entries, without going
// through the owning application.
//
// Usage:
//
//	tiercache -dir /var/cache/app stats
//	tiercache -dir /var/cache/app prune
//	tiercache -dir /var/cache/app prune-older 168h
//	tiercache -dir /var/cache/app invalidate /api/v1/
//	tiercache -provider sqlite -dir /var/cache/app.db invalidate all
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tiercache/tiercache/core"
)

var (
	configFilenameFlag string
	dirFlag            string
	providerFlag       string
	defaultTTLFlag     time.Duration
	verbosityTraceFlag bool
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&dirFlag, "dir", "", "Cache directory (or database file for sqlite)")
	flag.StringVar(&providerFlag, "provider", "disk", "Persistent provider to use (disk or sqlite)")
	flag.DurationVar(&defaultTTLFlag, "default-ttl", 0, "Default TTL for responses without freshness headers")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
}

func main() {
	flag.Parse()

	logLevel := zerolog.InfoLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}
	log.Logger = log.Level(logLevel).Output(zerolog.ConsoleWriter{Out: os.Stdout})

	config := Config{
		Provider:   providerFlag,
		DefaultTTL: defaultTTLFlag,
	}
	if configFilenameFlag != "" {
		var err error
		config, err = getConfig(configFilenameFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not read config file")
		}
	}
	if dirFlag != "" {
		config.Directory = dirFlag
	}
	if config.Directory == "" {
		log.Fatal().Msg("Please specify a cache directory")
	}

	store, err := openStore(config)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open cache store")
	}
	defer closeStore(store)

	switch cmd := flag.Arg(0); cmd {
	case "stats":
		stats(store)
	case "prune":
		fmt.Printf("Pruned %d expired entries\n", store.PruneExpired())
	case "prune-older":
		age, err := time.ParseDuration(flag.Arg(1))
		if err != nil {
			log.Fatal().Err(err).Msg("prune-older needs a duration, e.g. 168h")
		}
		ap, ok := store.(core.AgePruner)
		if !ok {
			log.Fatal().Msg("Provider does not track access age")
		}
		fmt.Printf("Pruned %d entries older than %s\n", ap.PruneOlderThan(age), age)
	case "invalidate":
		invalidate(store, flag.Arg(1))
	default:
		log.Fatal().Msgf("Unknown command: %q (expected stats, prune, prune-older or invalidate)", cmd)
	}
}

func openStore(config Config) (core.Provider, error) {
	policy := core.Policy{DefaultTTL: config.DefaultTTL}
	switch config.Provider {
	case "disk", "":
		return core.OpenDiskCache(config.Directory, policy, core.DiskOptions{
			MaxSize:      config.MaxSize,
			MaxEntrySize: config.MaxEntrySize,
		})
	case "sqlite":
		return core.OpenSQLite(config.Directory, policy)
	default:
		return nil, fmt.Errorf("unsupported cache provider: %s", config.Provider)
	}
}

func closeStore(store core.Provider) {
	if cl, ok := store.(interface{ Close() error }); ok {
		if err := cl.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing cache store")
		}
	}
}

func stats(store core.Provider) {
	fmt.Printf("Entries: %d\n", store.Len())
	if dc, ok := store.(*core.DiskCache); ok {
		fmt.Printf("Total size: %d bytes\n", dc.TotalSize())
	}
}

func invalidate(store core.Provider, pattern string) {
	if pattern == "" {
		log.Fatal().Msg("invalidate needs a key pattern or \"all\"")
	}
	if pattern == "all" {
		store.InvalidateAll()
		fmt.Println("Invalidated all entries")
		return
	}
	pi, ok := store.(core.PatternInvalidator)
	if !ok {
		log.Fatal().Msg("Provider does not support pattern invalidation")
	}
	fmt.Printf("Invalidated %d entries matching %q\n", pi.InvalidateMatching(pattern), pattern)
}
