package usersink_test

import (
	"context"
	"errors"
	"testing"
	"time"

	settings "github.com/goliatone/go-settings"
	"github.com/goliatone/go-settings/pkg/activity"
	"github.com/goliatone/go-settings/pkg/activity/usersink"
	usertypes "github.com/goliatone/go-users/pkg/types"
	"github.com/google/uuid"
)

type recordingSink struct {
	records []usertypes.ActivityRecord
	err     error
}

func (s *recordingSink) Log(_ context.Context, record usertypes.ActivityRecord) error {
	s.records = append(s.records, record)
	return s.err
}

func TestHookNotifyMapsEvent(t *testing.T) {
	sink := &recordingSink{}
	hook := usersink.Hook{Sink: sink}

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	actorID := uuid.New()
	userID := uuid.New()
	tenantID := uuid.New()

	event := activity.Event{
		Verb:       "settings.set",
		ActorID:    actorID.String(),
		UserID:     userID.String(),
		TenantID:   tenantID.String(),
		ObjectType: activity.ObjectSetting,
		ObjectID:   "site.title",
		Channel:    activity.DefaultChannel,
		Metadata:   map[string]any{"value": "Hello"},
		OccurredAt: now,
	}
	if err := hook.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if len(sink.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(sink.records))
	}
	record := sink.records[0]
	if record.ActorID != actorID || record.UserID != userID || record.TenantID != tenantID {
		t.Fatalf("unexpected identity: %+v", record)
	}
	if record.Verb != "settings.set" || record.ObjectType != "setting" || record.ObjectID != "site.title" {
		t.Fatalf("unexpected record payload: %+v", record)
	}
	if record.Channel != "settings" || !record.OccurredAt.Equal(now) {
		t.Fatalf("unexpected channel or time: %+v", record)
	}
	if record.Data["value"] != "Hello" {
		t.Fatalf("expected metadata passthrough got %v", record.Data)
	}
}

func TestHookNotifyKeepsNonUUIDIdentity(t *testing.T) {
	sink := &recordingSink{}
	hook := usersink.Hook{Sink: sink}

	err := hook.Notify(context.Background(), activity.Event{
		Verb:       "settings.forget",
		TenantID:   "acme",
		ObjectType: activity.ObjectSetting,
		ObjectID:   "a",
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	record := sink.records[0]
	if record.TenantID != uuid.Nil || record.Data["tenant"] != "acme" {
		t.Fatalf("expected raw tenant in data, got %+v", record)
	}
	if record.OccurredAt.IsZero() {
		t.Fatalf("expected occurred_at to be defaulted")
	}
}

func TestHookNotifySkipsIncompleteEvents(t *testing.T) {
	sink := &recordingSink{}
	hook := usersink.Hook{Sink: sink}

	_ = hook.Notify(context.Background(), activity.Event{})

	if len(sink.records) != 0 {
		t.Fatalf("expected no records for empty event, got %d", len(sink.records))
	}
}

func TestHookThroughSettingsSink(t *testing.T) {
	sink := &recordingSink{err: errors.New("db down")}
	emitter := activity.NewEmitter(activity.Hooks{usersink.Hook{Sink: sink}}, activity.Config{Enabled: true})
	eventSink := activity.NewSink(emitter)

	eventSink.Fire(context.Background(), settings.EventName(settings.VerbSet, "mail.from"), []any{"mail.from", "ops@example.com", nil})

	if len(sink.records) != 1 || sink.records[0].ObjectID != "mail.from" {
		t.Fatalf("expected record forwarded despite error, got %+v", sink.records)
	}
}
