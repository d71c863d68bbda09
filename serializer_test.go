package settings

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"
)

func TestValueSerializerRoundTrip(t *testing.T) {
	s := NewValueSerializer()
	cases := []struct {
		name  string
		value any
		want  any
	}{
		{name: "nil", value: nil, want: nil},
		{name: "bool", value: true, want: true},
		{name: "int", value: 42, want: int64(42)},
		{name: "negative", value: -7, want: int64(-7)},
		{name: "float", value: 1.5, want: 1.5},
		{name: "string", value: "hello", want: "hello"},
		{name: "empty string", value: "", want: ""},
		{name: "list", value: []any{"a", 1, false}, want: []any{"a", int64(1), false}},
		{
			name:  "nested map",
			value: map[string]any{"smtp": map[string]any{"host": "mail", "port": 25}},
			want:  map[string]any{"smtp": map[string]any{"host": "mail", "port": int64(25)}},
		},
		{
			name:  "int keyed map",
			value: map[int]string{1: "one", 2: "two"},
			want:  map[any]any{int64(1): "one", int64(2): "two"},
		},
		{
			name:  "mixed keyed map",
			value: map[any]any{"name": "backup", 7: []any{map[any]any{"port": 25}}},
			want:  map[any]any{"name": "backup", int64(7): []any{map[string]any{"port": int64(25)}}},
		},
		{name: "empty map", value: map[any]any{}, want: map[string]any{}},
		{name: "max int64", value: int64(math.MaxInt64), want: int64(math.MaxInt64)},
		{name: "max uint64", value: uint64(math.MaxUint64), want: uint64(math.MaxUint64)},
		{name: "min int64", value: int64(math.MinInt64), want: int64(math.MinInt64)},
		{
			name:  "time",
			value: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			want:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			serialized, err := s.Serialize(tc.value)
			if err != nil {
				t.Fatalf("serialize: %v", err)
			}
			got, err := s.Unserialize(serialized)
			if err != nil {
				t.Fatalf("unserialize: %v", err)
			}
			if !equalDecoded(got, tc.want) {
				t.Fatalf("expected %#v, got %#v", tc.want, got)
			}
		})
	}
}

func equalDecoded(got, want any) bool {
	if wantTime, ok := want.(time.Time); ok {
		gotTime, ok := got.(time.Time)
		return ok && gotTime.Equal(wantTime)
	}
	return reflect.DeepEqual(got, want)
}

func TestSettingsRoundTripsEveryStoredShape(t *testing.T) {
	ctx := context.Background()
	s := New(newMemoryRepository())
	values := map[string]any{
		"int keyed":   map[int]string{10: "ten"},
		"mixed keyed": map[any]any{"a": 1, 2: "b"},
		"max uint64":  uint64(math.MaxUint64),
		"time":        time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	wants := map[string]any{
		"int keyed":   map[any]any{int64(10): "ten"},
		"mixed keyed": map[any]any{"a": int64(1), int64(2): "b"},
		"max uint64":  uint64(math.MaxUint64),
		"time":        time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	for key, value := range values {
		if err := s.Set(ctx, key, value); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
		got, err := s.Get(ctx, key, "default")
		if err != nil {
			t.Fatalf("get %s: %v", key, err)
		}
		if !equalDecoded(got, wants[key]) {
			t.Fatalf("%s: expected %#v, got %#v", key, wants[key], got)
		}
	}

	var when time.Time
	found, err := s.GetInto(ctx, "time", &when)
	if err != nil || !found || !when.Equal(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected GetInto %v %v %v", when, found, err)
	}
}

func TestValueSerializerUnserializeIntoStruct(t *testing.T) {
	type schedule struct {
		Name  string
		Days  []string
		Start time.Time
	}
	s := NewValueSerializer()
	want := schedule{
		Name:  "backup",
		Days:  []string{"mon", "thu"},
		Start: time.Date(2026, 3, 1, 2, 30, 0, 0, time.UTC),
	}
	serialized, err := s.Serialize(want)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	var got schedule
	if err := s.UnserializeInto(serialized, &got); err != nil {
		t.Fatalf("unserialize: %v", err)
	}
	if got.Name != want.Name || !reflect.DeepEqual(got.Days, want.Days) || !got.Start.Equal(want.Start) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestValueSerializerErrors(t *testing.T) {
	s := NewValueSerializer()

	_, err := s.Serialize(make(chan int))
	if !errors.Is(err, ErrSerialization) {
		t.Fatalf("expected ErrSerialization, got %v", err)
	}
	var serErr *SerializationError
	if !errors.As(err, &serErr) || serErr.Op != "serialize value" {
		t.Fatalf("expected SerializationError for serialize, got %#v", err)
	}

	if _, err := s.Unserialize("%%%"); !errors.Is(err, ErrSerialization) {
		t.Fatalf("expected ErrSerialization for bad base64, got %v", err)
	}
	if _, err := s.Unserialize("/w"); !errors.Is(err, ErrSerialization) {
		t.Fatalf("expected ErrSerialization for bad payload, got %v", err)
	}
}

func TestContextSerializerDistinguishesNilAndEmpty(t *testing.T) {
	s := NewContextSerializer()
	none, err := s.Serialize(nil)
	if err != nil {
		t.Fatalf("serialize nil: %v", err)
	}
	empty, err := s.Serialize(NewContext(nil))
	if err != nil {
		t.Fatalf("serialize empty: %v", err)
	}
	if none == empty {
		t.Fatalf("expected nil and empty contexts to differ, both %q", none)
	}
	again, _ := s.Serialize(NewContext(map[string]any{}))
	if again != empty {
		t.Fatalf("expected empty contexts to agree, got %q and %q", empty, again)
	}
}

func TestContextSerializerIgnoresOrderButNotTypes(t *testing.T) {
	s := NewContextSerializer()

	a := NewContext(nil)
	a.Set("tenant", "acme")
	a.Set("locale", "en")
	a.Set("user", 1)
	b := NewContext(nil)
	b.Set("user", 1)
	b.Set("locale", "en")
	b.Set("tenant", "acme")

	left, err := s.Serialize(a)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	right, err := s.Serialize(b)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if left != right {
		t.Fatalf("expected order independence, got %q and %q", left, right)
	}

	typed, _ := s.Serialize(NewContext(map[string]any{"tenant": "acme", "locale": "en", "user": "1"}))
	if typed == left {
		t.Fatalf("expected int and string arguments to serialize differently")
	}
}

func TestContextSerializerRejectsUnencodableArguments(t *testing.T) {
	_, err := NewContextSerializer().Serialize(NewContext(map[string]any{"fn": func() {}}))
	if !errors.Is(err, ErrSerialization) {
		t.Fatalf("expected ErrSerialization, got %v", err)
	}
}
