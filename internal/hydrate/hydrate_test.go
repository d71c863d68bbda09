package hydrate

import (
	"errors"
	"strings"
	"testing"
)

type databaseBlock struct {
	Dialect     string `json:"dialect"`
	DSN         string `json:"dsn"`
	Table       string `json:"table"`
	EnsureTable bool   `json:"ensure_table"`
}

func TestDecodeAppliesHooks(t *testing.T) {
	decoder := NewDecoder[databaseBlock](
		WithPreHook[databaseBlock](DropKeys("driver")),
		WithDisallowUnknownFields[databaseBlock](),
		WithPostHook[databaseBlock](func(_ Context, block *databaseBlock) error {
			if block.Table == "" {
				block.Table = "settings"
			}
			return nil
		}),
	)

	payload := map[string]any{"driver": "database", "dialect": "sqlite", "dsn": ":memory:", "ensure_table": true}
	got, err := decoder.Decode(Context{Repository: "primary", Driver: "database"}, payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := databaseBlock{Dialect: "sqlite", DSN: ":memory:", Table: "settings", EnsureTable: true}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if payload["driver"] != "database" {
		t.Fatalf("expected caller payload untouched")
	}
}

func TestDecodeNilPayload(t *testing.T) {
	got, err := NewDecoder[databaseBlock]().Decode(Context{Repository: "memory"}, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != (databaseBlock{}) {
		t.Fatalf("expected zero block, got %+v", got)
	}
}

func TestDecodeErrors(t *testing.T) {
	strict := NewDecoder[databaseBlock](WithDisallowUnknownFields[databaseBlock]())
	_, err := strict.Decode(Context{Repository: "primary", Driver: "database"}, map[string]any{"tabel": "typo"})
	if err == nil || !strings.Contains(err.Error(), `repository "primary" (driver database)`) {
		t.Fatalf("expected unknown field error with label, got %v", err)
	}

	_, err = NewDecoder[databaseBlock]().Decode(Context{Repository: "primary"}, map[string]any{"ensure_table": "yes"})
	if err == nil {
		t.Fatalf("expected type mismatch error")
	}

	invalid := errors.New("dsn required")
	validating := NewDecoder[databaseBlock](WithPostHook[databaseBlock](func(Context, *databaseBlock) error { return invalid }))
	if _, err := validating.Decode(Context{Repository: "primary"}, map[string]any{}); !errors.Is(err, invalid) {
		t.Fatalf("expected post-hook error, got %v", err)
	}

	failing := NewDecoder[databaseBlock](WithPreHook[databaseBlock](func(Context, map[string]any) (map[string]any, error) {
		return nil, invalid
	}))
	if _, err := failing.Decode(Context{Repository: "primary"}, map[string]any{}); !errors.Is(err, invalid) {
		t.Fatalf("expected pre-hook error, got %v", err)
	}
}
