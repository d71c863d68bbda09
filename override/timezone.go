package override

import (
	"context"
	"log/slog"
	"time"

	settings "github.com/goliatone/go-settings"
)

// DefaultTimezoneKey is the config key TimezoneListener watches when no key
// is given.
const DefaultTimezoneKey = "app.timezone"

// TimezoneListener returns a sink that points time.Local at the zone written
// by an override of one of configKeys. Names time.LoadLocation rejects are
// logged and leave time.Local untouched.
//
// time.Local is process wide; attach the listener before other goroutines
// start formatting local times.
func TimezoneListener(logger *slog.Logger, configKeys ...string) settings.EventSinkFunc {
	if logger == nil {
		logger = slog.Default()
	}
	if len(configKeys) == 0 {
		configKeys = []string{DefaultTimezoneKey}
	}
	watched := make(map[string]string, len(configKeys))
	for _, key := range configKeys {
		watched[settings.EventName(settings.VerbOverride, key)] = key
	}

	return func(ctx context.Context, name string, payload []any) {
		key, ok := watched[name]
		if !ok || len(payload) < 4 {
			return
		}
		zone, ok := payload[3].(string)
		if !ok || zone == "" {
			logger.WarnContext(ctx, "timezone override ignored", "config", key, "value", payload[3])
			return
		}
		loc, err := time.LoadLocation(zone)
		if err != nil {
			logger.WarnContext(ctx, "timezone override failed", "config", key, "zone", zone, "error", err)
			return
		}
		time.Local = loc
		logger.DebugContext(ctx, "timezone override applied", "config", key, "zone", zone)
	}
}
