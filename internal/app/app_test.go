package app

import (
	"errors"
	"testing"
)

func TestFormatPersistentID(t *testing.T) {
	t.Run("pads and upper-cases", func(t *testing.T) {
		got, err := FormatPersistentID("a1b2c3")
		if err != nil {
			t.Fatalf("format: %v", err)
		}
		if got != "0000000000A1B2C3" {
			t.Fatalf("unexpected id %s", got)
		}
	})

	t.Run("rejects garbage", func(t *testing.T) {
		if _, err := FormatPersistentID("not-hex"); err == nil {
			t.Fatalf("expected error")
		}
		if _, err := FormatPersistentID(""); err == nil {
			t.Fatalf("expected error for empty id")
		}
	})
}

func TestMediaItemExportable(t *testing.T) {
	base := MediaItem{TrackType: "File", Kind: "MPEG audio file", Path: "/music/a.mp3"}
	if !base.Exportable() {
		t.Fatalf("expected local audio file to be exportable")
	}

	cases := map[string]func(m *MediaItem){
		"remote":    func(m *MediaItem) { m.TrackType = "Remote" },
		"video":     func(m *MediaItem) { m.HasVideo = true },
		"protected": func(m *MediaItem) { m.Protected = true },
		"no path":   func(m *MediaItem) { m.Path = "" },
		"pdf":       func(m *MediaItem) { m.Kind = "PDF document" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			item := base
			mutate(&item)
			if item.Exportable() {
				t.Fatalf("expected %s item to be skipped", name)
			}
		})
	}
}

func TestEditValidate(t *testing.T) {
	const id = "00000000000000AB"

	valid := []Edit{
		{Field: FieldRating, TrackID: id, Value: "0"},
		{Field: FieldRating, TrackID: id, Value: "100"},
		{Field: FieldPlays, TrackID: id, Value: "12"},
		{Field: FieldName, TrackID: id, Value: "Song"},
		{Field: FieldGenre, TrackID: id, Value: ""},
		{Field: FieldYear, TrackID: id, Value: "1999"},
		{Field: FieldStart, TrackID: id, Value: "1.5"},
		{Field: FieldArtwork, TrackID: id, Value: "0123456789abcdef0123456789abcdef.png"},
	}
	for _, e := range valid {
		if err := e.Validate(); err != nil {
			t.Fatalf("expected %s=%q to be valid: %v", e.Field, e.Value, err)
		}
	}

	invalid := []Edit{
		{Field: FieldRating, TrackID: id, Value: "150"},
		{Field: FieldRating, TrackID: id, Value: "-1"},
		{Field: FieldRating, TrackID: id, Value: "five"},
		{Field: FieldName, TrackID: id, Value: "  "},
		{Field: FieldFinish, TrackID: id, Value: "-3"},
		{Field: FieldArtwork, TrackID: id, Value: "../etc/passwd"},
		{Field: FieldRating, TrackID: "xyz", Value: "10"},
		{Field: FieldRating, TrackID: "0x00000000000000", Value: "10"},
		{Field: FieldRating, TrackID: "00000000000000ab", Value: "10"},
	}
	for _, e := range invalid {
		err := e.Validate()
		if !errors.Is(err, ErrInvalidEdit) {
			t.Fatalf("expected %s=%q for %s to be rejected, got %v", e.Field, e.Value, e.TrackID, err)
		}
	}
}

func TestParseField(t *testing.T) {
	for _, f := range DrainOrder {
		got, err := ParseField(f.String())
		if err != nil {
			t.Fatalf("parse %s: %v", f, err)
		}
		if got != f {
			t.Fatalf("round trip mismatch for %s", f)
		}
	}
	if _, err := ParseField("bpm"); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestPendingUpdateValidate(t *testing.T) {
	const id = "00000000000000AB"

	valid := []PendingUpdate{
		{Field: FieldPlays, TrackID: id, Value: "7"},
		{Field: FieldPlays, TrackID: id},
		{Field: FieldRating, TrackID: id, Value: "60"},
		{Field: FieldArtwork, TrackID: id, Value: "0123456789abcdef0123456789abcdef.jpg"},
	}
	for _, p := range valid {
		if err := p.Validate(); err != nil {
			t.Fatalf("expected %s=%q to be valid: %v", p.Field, p.Value, err)
		}
	}

	invalid := []PendingUpdate{
		{Field: FieldPlays, TrackID: id, Value: "-2"},
		{Field: FieldRating, TrackID: id, Value: "150"},
		{Field: FieldArtwork, TrackID: id, Value: "../secret.txt"},
		{Field: FieldName, TrackID: "not-an-id", Value: "Song"},
	}
	for _, p := range invalid {
		if err := p.Validate(); !errors.Is(err, ErrInvalidEdit) {
			t.Fatalf("expected %s=%q to be rejected, got %v", p.Field, p.Value, err)
		}
	}
}

func TestEditNormalize(t *testing.T) {
	const id = "00000000000000AB"

	got := Edit{Field: FieldArtist, TrackID: id, Value: "\ufeffBand "}.Normalize()
	if got.Value != "Band" {
		t.Fatalf("expected normalized artist, got %q", got.Value)
	}
	rating := Edit{Field: FieldRating, TrackID: id, Value: " 40"}.Normalize()
	if rating.Value != " 40" {
		t.Fatalf("expected non-name values untouched, got %q", rating.Value)
	}
}
