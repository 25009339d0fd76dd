package app

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Field names a mutable track field.
type Field int

const (
	FieldPlays Field = iota
	FieldRating
	FieldName
	FieldArtist
	FieldAlbum
	FieldAlbumArtist
	FieldGenre
	FieldYear
	FieldStart
	FieldFinish
	FieldArtwork
)

// DrainOrder is the order in which fields are pushed to the player.
var DrainOrder = []Field{
	FieldPlays,
	FieldRating,
	FieldName,
	FieldArtist,
	FieldAlbum,
	FieldAlbumArtist,
	FieldGenre,
	FieldYear,
	FieldStart,
	FieldFinish,
	FieldArtwork,
}

var fieldNames = map[Field]string{
	FieldPlays:       "plays",
	FieldRating:      "rating",
	FieldName:        "name",
	FieldArtist:      "artist",
	FieldAlbum:       "album",
	FieldAlbumArtist: "album_artist",
	FieldGenre:       "genre",
	FieldYear:        "year",
	FieldStart:       "start",
	FieldFinish:      "finish",
	FieldArtwork:     "artwork",
}

func (f Field) String() string {
	if name, ok := fieldNames[f]; ok {
		return name
	}
	return fmt.Sprintf("field(%d)", int(f))
}

// ParseField maps a field name back to its Field.
func ParseField(name string) (Field, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for f, n := range fieldNames {
		if n == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown field %q", ErrInvalidEdit, name)
}

// ErrInvalidEdit marks an edit rejected before it reaches the update log.
var ErrInvalidEdit = errors.New("invalid edit")

// Edit is a user change to one field of one track.
type Edit struct {
	Field   Field
	TrackID string `validate:"required,persistentid"`
	Value   string
}

var (
	validate        = newValidator()
	persistentID    = regexp.MustCompile(`^[0-9A-F]{16}$`)
	artworkFilename = regexp.MustCompile(`^[0-9a-f]{32}\.(png|jpg)$`)
)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("persistentid", func(fl validator.FieldLevel) bool {
		return persistentID.MatchString(fl.Field().String())
	})
	return v
}

// NormalizeName strips byte-order marks and surrounding whitespace from a name.
func NormalizeName(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\ufeff", ""))
}

// Normalize returns the edit with name-like values normalized the same way
// the catalogue normalizes them on export.
func (e Edit) Normalize() Edit {
	switch e.Field {
	case FieldName, FieldArtist, FieldAlbum, FieldAlbumArtist, FieldGenre:
		e.Value = NormalizeName(e.Value)
	}
	return e
}

// ValidArtworkFilename reports whether name is a content-addressed artwork file name.
func ValidArtworkFilename(name string) bool {
	return artworkFilename.MatchString(name)
}

// Validate checks the edit value against the rules of its field.
func (e Edit) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: track id: %v", ErrInvalidEdit, err)
	}

	switch e.Field {
	case FieldPlays:
		// empty means "one more play"
		if e.Value == "" {
			return nil
		}
		return e.intInRange("min=0")
	case FieldRating:
		return e.intInRange("min=0,max=100")
	case FieldYear:
		return e.intInRange("min=0,max=9999")
	case FieldStart, FieldFinish:
		v, err := strconv.ParseFloat(e.Value, 64)
		if err != nil {
			return fmt.Errorf("%w: %s must be a number", ErrInvalidEdit, e.Field)
		}
		if err := validate.Var(v, "min=0"); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidEdit, e.Field, err)
		}
	case FieldName:
		if err := validate.Var(strings.TrimSpace(e.Value), "required"); err != nil {
			return fmt.Errorf("%w: name must not be empty", ErrInvalidEdit)
		}
	case FieldArtist, FieldAlbum, FieldAlbumArtist, FieldGenre:
	case FieldArtwork:
		if !artworkFilename.MatchString(e.Value) {
			return fmt.Errorf("%w: artwork %q is not a content-addressed filename", ErrInvalidEdit, e.Value)
		}
	default:
		return fmt.Errorf("%w: unknown field %d", ErrInvalidEdit, int(e.Field))
	}
	return nil
}

func (e Edit) intInRange(tag string) error {
	v, err := strconv.Atoi(strings.TrimSpace(e.Value))
	if err != nil {
		return fmt.Errorf("%w: %s must be an integer", ErrInvalidEdit, e.Field)
	}
	if err := validate.Var(v, tag); err != nil {
		return fmt.Errorf("%w: %s %d out of range", ErrInvalidEdit, e.Field, v)
	}
	return nil
}

// Validate applies the edit rules to an update about to reach the player.
func (p PendingUpdate) Validate() error {
	return Edit{Field: p.Field, TrackID: p.TrackID, Value: p.Value}.Validate()
}
