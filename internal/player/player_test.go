package player

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bowmanmike/libsync/internal/app"
)

func TestAutomationGet(t *testing.T) {
	var scripts []string
	a := New(Config{Runner: func(_ context.Context, script string) (string, error) {
		scripts = append(scripts, script)
		if strings.Contains(script, "genre") {
			return "missing value", nil
		}
		return "12", nil
	}})

	got, err := a.Get(context.Background(), app.FieldPlays, "00000000000000AA")
	if err != nil {
		t.Fatalf("get plays: %v", err)
	}
	if got != "12" {
		t.Fatalf("unexpected plays %q", got)
	}
	want := `tell application "Music" to get played count of (first file track whose persistent ID is "00000000000000AA")`
	if scripts[0] != want {
		t.Fatalf("unexpected script:\n%s\nwant:\n%s", scripts[0], want)
	}

	got, err = a.Get(context.Background(), app.FieldGenre, "00000000000000AA")
	if err != nil || got != "" {
		t.Fatalf("expected missing value to read as empty, got %q (%v)", got, err)
	}

	if _, err := a.Get(context.Background(), app.FieldArtwork, "00000000000000AA"); err != nil {
		t.Fatalf("get artwork: %v", err)
	}
	if !strings.Contains(scripts[2], "count of artworks") {
		t.Fatalf("unexpected artwork script %q", scripts[2])
	}
}

func TestAutomationSet(t *testing.T) {
	tests := []struct {
		name    string
		field   app.Field
		value   string
		want    string
		wantErr bool
	}{
		{
			name:  "quotes text",
			field: app.FieldName,
			value: `Say "Hi" \ Bye`,
			want:  `set name of (first file track whose persistent ID is "00000000000000AA") to "Say \"Hi\" \\ Bye"`,
		},
		{
			name:  "numeric rating",
			field: app.FieldRating,
			value: "80",
			want:  `set rating of (first file track whose persistent ID is "00000000000000AA") to 80`,
		},
		{
			name:  "fractional start",
			field: app.FieldStart,
			value: "1.50",
			want:  `set start of (first file track whose persistent ID is "00000000000000AA") to 1.5`,
		},
		{
			name:    "rejects script injection in numbers",
			field:   app.FieldYear,
			value:   `1999 & (do shell script "rm")`,
			wantErr: true,
		},
		{
			name:  "artwork replaces existing",
			field: app.FieldArtwork,
			value: "/tmp/art/abc.jpg",
			want:  `set data of artwork 1 of t to (read (POSIX file "/tmp/art/abc.jpg") as picture)`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var script string
			a := New(Config{Application: "Music", Runner: func(_ context.Context, s string) (string, error) {
				script = s
				return "", nil
			}})
			err := a.Set(context.Background(), tt.field, "00000000000000AA", tt.value)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				if script != "" {
					t.Fatalf("runner must not be called, got %q", script)
				}
				return
			}
			if err != nil {
				t.Fatalf("set: %v", err)
			}
			if !strings.Contains(script, tt.want) {
				t.Fatalf("script %q does not contain %q", script, tt.want)
			}
			if tt.field == app.FieldArtwork && !strings.Contains(script, "delete artworks of t") {
				t.Fatalf("expected existing artworks to be deleted: %q", script)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	err := classify(`execution error: Music got an error: Can’t get file track 1 whose persistent ID = "X". Invalid index. (-1728)`, errors.New("exit status 1"))
	if !errors.Is(err, app.ErrTrackNotFound) {
		t.Fatalf("expected track not found, got %v", err)
	}

	err = classify("", errors.New("exec: not found"))
	if errors.Is(err, app.ErrTrackNotFound) {
		t.Fatalf("unexpected track not found for %v", err)
	}
}

func TestRunnerErrorPropagates(t *testing.T) {
	a := New(Config{Runner: func(context.Context, string) (string, error) {
		return "", app.ErrTrackNotFound
	}})
	if _, err := a.Get(context.Background(), app.FieldName, "00000000000000AA"); !errors.Is(err, app.ErrTrackNotFound) {
		t.Fatalf("expected wrapped not found, got %v", err)
	}
}
