// Package player drives the media player through AppleScript.
package player

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/bowmanmike/libsync/internal/app"
)

// DefaultApplication is the scripting name of the player.
const DefaultApplication = "Music"

// Runner executes one AppleScript program and returns its trimmed output.
type Runner func(ctx context.Context, script string) (string, error)

// Config wires an Automation.
type Config struct {
	Application string
	Runner      Runner
}

// Automation implements app.Player over a Runner.
type Automation struct {
	application string
	run         Runner
}

var _ app.Player = (*Automation)(nil)

// New builds an Automation. The default runner shells out to osascript.
func New(cfg Config) *Automation {
	if cfg.Application == "" {
		cfg.Application = DefaultApplication
	}
	if cfg.Runner == nil {
		cfg.Runner = OSAScript
	}
	return &Automation{application: cfg.Application, run: cfg.Runner}
}

type property struct {
	name    string
	numeric bool
}

var properties = map[app.Field]property{
	app.FieldPlays:       {"played count", true},
	app.FieldRating:      {"rating", true},
	app.FieldName:        {"name", false},
	app.FieldArtist:      {"artist", false},
	app.FieldAlbum:       {"album", false},
	app.FieldAlbumArtist: {"album artist", false},
	app.FieldGenre:       {"genre", false},
	app.FieldYear:        {"year", true},
	app.FieldStart:       {"start", true},
	app.FieldFinish:      {"finish", true},
}

// Get reads a field. Artwork reports the number of attached artworks.
func (a *Automation) Get(ctx context.Context, field app.Field, trackID string) (string, error) {
	var expr string
	if field == app.FieldArtwork {
		expr = "count of artworks"
	} else {
		prop, ok := properties[field]
		if !ok {
			return "", fmt.Errorf("unsupported field %s", field)
		}
		expr = prop.name
	}

	script := fmt.Sprintf("tell application %s to get %s of %s", quote(a.application), expr, trackRef(trackID))
	out, err := a.run(ctx, script)
	if err != nil {
		return "", fmt.Errorf("get %s of %s: %w", field, trackID, err)
	}
	if out == "missing value" {
		return "", nil
	}
	return out, nil
}

// Set writes a field. For artwork, value is a local image path; existing
// artworks are removed first.
func (a *Automation) Set(ctx context.Context, field app.Field, trackID, value string) error {
	var script string
	if field == app.FieldArtwork {
		script = strings.Join([]string{
			"tell application " + quote(a.application),
			"set t to " + trackRef(trackID),
			"delete artworks of t",
			"set data of artwork 1 of t to (read (POSIX file " + quote(value) + ") as picture)",
			"end tell",
		}, "\n")
	} else {
		prop, ok := properties[field]
		if !ok {
			return fmt.Errorf("unsupported field %s", field)
		}
		literal, err := scriptLiteral(prop, value)
		if err != nil {
			return fmt.Errorf("set %s of %s: %w", field, trackID, err)
		}
		script = fmt.Sprintf("tell application %s to set %s of %s to %s", quote(a.application), prop.name, trackRef(trackID), literal)
	}

	if _, err := a.run(ctx, script); err != nil {
		return fmt.Errorf("set %s of %s: %w", field, trackID, err)
	}
	return nil
}

func scriptLiteral(prop property, value string) (string, error) {
	if !prop.numeric {
		return quote(value), nil
	}
	if value == "" {
		return "0", nil
	}
	n, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return "", fmt.Errorf("%s is not numeric: %q", prop.name, value)
	}
	return strconv.FormatFloat(n, 'f', -1, 64), nil
}

func trackRef(trackID string) string {
	return "(first file track whose persistent ID is " + quote(trackID) + ")"
}

// quote renders s as an AppleScript string literal.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// errNoSuchObject is AppleScript's errAENoSuchObject.
const errNoSuchObject = "(-1728)"

// OSAScript runs script with osascript. A reference to a missing track maps
// to app.ErrTrackNotFound.
func OSAScript(ctx context.Context, script string) (string, error) {
	cmd := exec.CommandContext(ctx, "osascript", "-e", script)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return "", classify(stderr.String(), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func classify(stderr string, err error) error {
	msg := strings.TrimSpace(stderr)
	if strings.Contains(msg, errNoSuchObject) {
		return fmt.Errorf("%w: %s", app.ErrTrackNotFound, msg)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && msg != "" {
		return fmt.Errorf("osascript: %s", msg)
	}
	return fmt.Errorf("osascript: %w", err)
}
