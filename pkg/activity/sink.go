package activity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	settings "github.com/goliatone/go-settings"
)

// Object types attached to emitted events.
const (
	ObjectSetting = "setting"
	ObjectConfig  = "config"
)

// Identity names who performed a settings operation.
type Identity struct {
	ActorID  string
	UserID   string
	TenantID string
}

// IdentityFunc extracts the identity for a call from its context.Context.
type IdentityFunc func(ctx context.Context) Identity

// Sink implements settings.EventSink by translating settings events into
// activity events and emitting them. Emission is fire-and-forget: failures
// are logged, never returned to the settings call.
type Sink struct {
	emitter        *Emitter
	logger         *slog.Logger
	identity       IdentityFunc
	tenantArgument string
	verbs          map[string]bool
	now            func() time.Time
}

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithLogger sets the logger used for emission failures.
func WithLogger(logger *slog.Logger) SinkOption {
	return func(s *Sink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithIdentity resolves actor, user and tenant IDs per call.
func WithIdentity(fn IdentityFunc) SinkOption {
	return func(s *Sink) {
		s.identity = fn
	}
}

// WithTenantArgument uses the named settings context argument as tenant ID
// when the identity does not provide one.
func WithTenantArgument(name string) SinkOption {
	return func(s *Sink) {
		s.tenantArgument = strings.TrimSpace(name)
	}
}

// WithVerbs restricts emission to the given settings verbs, e.g. only
// settings.VerbSet and settings.VerbForget for an audit trail.
func WithVerbs(verbs ...string) SinkOption {
	return func(s *Sink) {
		if len(verbs) == 0 {
			s.verbs = nil
			return
		}
		s.verbs = make(map[string]bool, len(verbs))
		for _, verb := range verbs {
			s.verbs[strings.TrimSpace(verb)] = true
		}
	}
}

// NewSink builds a Sink emitting through emitter.
func NewSink(emitter *Emitter, opts ...SinkOption) *Sink {
	s := &Sink{
		emitter: emitter,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Fire implements settings.EventSink.
func (s *Sink) Fire(ctx context.Context, name string, payload []any) {
	if s == nil || !s.emitter.Enabled() {
		return
	}
	verb, _, ok := settings.ParseEventName(name)
	if !ok || (s.verbs != nil && !s.verbs[verb]) {
		return
	}
	event, ok := BuildSettingEvent(name, payload)
	if !ok {
		s.logger.Warn("activity: unrecognized settings event", slog.String("event", name))
		return
	}
	event.OccurredAt = s.now().UTC()
	s.applyIdentity(ctx, &event, payload)

	if err := s.emitter.Emit(ctx, event); err != nil {
		s.logger.Warn("activity: emit failed",
			slog.String("event", name),
			slog.String("object_id", event.ObjectID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Sink) applyIdentity(ctx context.Context, event *Event, payload []any) {
	if s.identity != nil {
		id := s.identity(ctx)
		event.ActorID = id.ActorID
		event.UserID = id.UserID
		event.TenantID = id.TenantID
	}
	if event.TenantID != "" || s.tenantArgument == "" || len(payload) == 0 {
		return
	}
	c, ok := payload[len(payload)-1].(*settings.Context)
	if !ok {
		return
	}
	if value, err := c.Get(s.tenantArgument); err == nil && value != nil {
		event.TenantID = fmt.Sprint(value)
	}
}

// BuildSettingEvent converts a settings event name and payload into an
// activity event. Settings verbs produce "setting" objects keyed by logical
// key; override verbs produce "config" objects keyed by config key.
func BuildSettingEvent(name string, payload []any) (Event, bool) {
	verb, key, ok := settings.ParseEventName(name)
	if !ok {
		return Event{}, false
	}
	metadata := map[string]any{"event": name}
	objectType := ObjectSetting

	at := func(i int) any {
		if i < len(payload) {
			return payload[i]
		}
		return nil
	}
	want := 0
	switch verb {
	case settings.VerbChecking, settings.VerbForgetting, settings.VerbForget:
		want = 2
		metadata["key"] = at(0)
		addContext(metadata, at(1))
	case settings.VerbHas:
		want = 3
		metadata["key"] = at(0)
		metadata["status"] = at(1)
		addContext(metadata, at(2))
	case settings.VerbGetting:
		want = 3
		metadata["key"] = at(0)
		metadata["default"] = at(1)
		addContext(metadata, at(2))
	case settings.VerbGet:
		want = 4
		metadata["key"] = at(0)
		metadata["value"] = at(1)
		metadata["default"] = at(2)
		addContext(metadata, at(3))
	case settings.VerbSetting, settings.VerbSet:
		want = 3
		metadata["key"] = at(0)
		metadata["value"] = at(1)
		addContext(metadata, at(2))
	case settings.VerbOverriding:
		want = 2
		objectType = ObjectConfig
		metadata["config_key"] = at(0)
		metadata["setting_key"] = at(1)
	case settings.VerbOverride:
		want = 4
		objectType = ObjectConfig
		metadata["config_key"] = at(0)
		metadata["old_value"] = at(1)
		metadata["setting_key"] = at(2)
		metadata["new_value"] = at(3)
	default:
		return Event{}, false
	}
	if len(payload) != want {
		return Event{}, false
	}

	return Event{
		Verb:       "settings." + verb,
		ObjectType: objectType,
		ObjectID:   key,
		Metadata:   metadata,
	}, true
}

func addContext(metadata map[string]any, value any) {
	if c, ok := value.(*settings.Context); ok && c != nil {
		metadata["context"] = c.Arguments()
	}
}
