// Package telemetry wires continuous profiling into the fleet controller,
// alongside (not instead of) the request/session metrics internal/metrics
// exposes for scraping.
package telemetry

import (
	"fmt"
	"runtime"

	"github.com/grafana/pyroscope-go"
)

// profileTypeTable maps the config's plain-string profile names to the
// library's typed constants, and flips on the runtime sampling knobs that
// mutex/block profiles need before any sample can be captured.
var profileTypeTable = map[string]pyroscope.ProfileType{
	"cpu":            pyroscope.ProfileCPU,
	"alloc_objects":  pyroscope.ProfileAllocObjects,
	"alloc_space":    pyroscope.ProfileAllocSpace,
	"inuse_objects":  pyroscope.ProfileInuseObjects,
	"inuse_space":    pyroscope.ProfileInuseSpace,
	"goroutines":     pyroscope.ProfileGoroutines,
	"mutex_count":    pyroscope.ProfileMutexCount,
	"mutex_duration": pyroscope.ProfileMutexDuration,
	"block_count":    pyroscope.ProfileBlockCount,
	"block_duration": pyroscope.ProfileBlockDuration,
}

const (
	mutexProfileFraction = 5
	blockProfileRate     = 5
)

// StartProfiling starts a Pyroscope profiler tagged with this process's
// fleet identity, returning a shutdown func. An empty endpoint yields a
// no-op shutdown; an unknown profile type or a profiler start error is
// returned as an error.
func StartProfiling(serviceName, endpoint string, profileTypes []string) (shutdown func() error, err error) {
	noop := func() error { return nil }
	if endpoint == "" {
		return noop, nil
	}

	types := make([]pyroscope.ProfileType, 0, len(profileTypes))
	for _, name := range profileTypes {
		pt, ok := profileTypeTable[name]
		if !ok {
			return nil, fmt.Errorf("telemetry: unknown profile type %q", name)
		}
		types = append(types, pt)
		switch name {
		case "mutex_count", "mutex_duration":
			runtime.SetMutexProfileFraction(mutexProfileFraction)
		case "block_count", "block_duration":
			runtime.SetBlockProfileRate(blockProfileRate)
		}
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: serviceName,
		ServerAddress:   endpoint,
		ProfileTypes:    types,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: starting profiler: %w", err)
	}

	return profiler.Stop, nil
}
