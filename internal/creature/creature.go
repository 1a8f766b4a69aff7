package creature

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Asset references for the built-in art. Synthesized art is served from
// /images/{id} instead.
const (
	DefaultImage  = "assets/images/default_cory.png"
	SmallPattern  = "assets/images/small_pattern_cory.png"
	MediumPattern = "assets/images/midieum_pattern_cory.png"
)

// ErrInvalid is wrapped by Validate failures.
var ErrInvalid = errors.New("invalid creature record")

// Color is an RGB triple with its canonical hex encoding.
type Color struct {
	R   uint8  `json:"r"`
	G   uint8  `json:"g"`
	B   uint8  `json:"b"`
	Hex string `json:"hex"`
}

// DefaultColor is the pink used for seed creatures.
var DefaultColor = Color{R: 228, G: 149, B: 164, Hex: "#E495A4"}

// RGB builds a Color whose hex matches r, g, b.
func RGB(r, g, b uint8) Color {
	return Color{R: r, G: g, B: b, Hex: fmt.Sprintf("#%02X%02X%02X", r, g, b)}
}

// ParseHex parses "#RRGGBB" (the leading # is optional).
func ParseHex(s string) (Color, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return Color{}, fmt.Errorf("hex color %q: want 6 digits", s)
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(s, "%02x%02x%02x", &r, &g, &b); err != nil {
		return Color{}, fmt.Errorf("hex color %q: %w", s, err)
	}
	return RGB(r, g, b), nil
}

// Canonical returns c with Hex recomputed from the channels. When the
// channels are all zero but Hex parses, the channels are taken from Hex.
func (c Color) Canonical() Color {
	if c.R == 0 && c.G == 0 && c.B == 0 && c.Hex != "" {
		if parsed, err := ParseHex(c.Hex); err == nil {
			return parsed
		}
	}
	return RGB(c.R, c.G, c.B)
}

type Personality struct {
	Traits      []string `json:"traits"`
	Description string   `json:"description"`
}

type Story struct {
	Summary string   `json:"summary"`
	Lines   []string `json:"lines"`
}

// PhotoRef points back at the upload a creature was generated from.
type PhotoRef struct {
	Name     string `json:"name"`
	MIMEType string `json:"type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Record is a single creature in a collection. JSON tags match the persisted
// account payload.
type Record struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	ImageRef         string      `json:"imageUrl"`
	DesignFile       string      `json:"designFile,omitempty"`
	Color            Color       `json:"color"`
	Personality      Personality `json:"personality"`
	Story            Story       `json:"story"`
	SourcePhoto      *PhotoRef   `json:"sourcePhoto"`
	CreatedAt        time.Time   `json:"createdAt"`
	IsRepresentative bool        `json:"isRepresentative"`
}

// Attributes is the generated part of a creature: everything an analysis
// backend decides about it.
type Attributes struct {
	Name        string      `json:"name"`
	Color       Color       `json:"color"`
	Personality Personality `json:"personality"`
	Story       Story       `json:"story"`
}

// NewID returns a fresh creature identifier.
func NewID() string {
	return "cory-" + uuid.NewString()
}

// Normalize fills missing fields with defaults so that every stored record
// is displayable. CreatedAt is set to now only when it is zero.
func (r *Record) Normalize(now time.Time) {
	if r.ID == "" {
		r.ID = NewID()
	}
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		r.Name = "Unnamed Cory"
	}
	if r.ImageRef == "" {
		r.ImageRef = DefaultImage
	}
	if r.DesignFile == "" {
		r.DesignFile = r.ImageRef
	}
	if r.Color == (Color{}) {
		r.Color = DefaultColor
	}
	r.Color = r.Color.Canonical()

	traits := r.Personality.Traits[:0:0]
	for _, t := range r.Personality.Traits {
		if t = strings.TrimSpace(t); t != "" {
			traits = append(traits, t)
		}
	}
	if len(traits) == 0 {
		traits = []string{"friendly", "curious"}
		if r.Personality.Description == "" {
			r.Personality.Description = "A gentle default personality."
		}
	}
	r.Personality.Traits = traits

	if r.Story.Summary == "" && len(r.Story.Lines) == 0 {
		r.Story = Story{
			Summary: "A brand new Cory.",
			Lines:   []string{"Hello!", "I'm a brand new Cory."},
		}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.CreatedAt = r.CreatedAt.UTC()
}

// Validate reports structural problems that Normalize cannot repair.
func (r Record) Validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalid)
	case strings.TrimSpace(r.Name) == "":
		return fmt.Errorf("%w: missing name", ErrInvalid)
	case len(r.Personality.Traits) == 0:
		return fmt.Errorf("%w: no personality traits", ErrInvalid)
	case r.Color.Hex != RGB(r.Color.R, r.Color.G, r.Color.B).Hex:
		return fmt.Errorf("%w: color hex %s does not match rgb", ErrInvalid, r.Color.Hex)
	}
	return nil
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	c := r
	c.Personality.Traits = append([]string(nil), r.Personality.Traits...)
	c.Story.Lines = append([]string(nil), r.Story.Lines...)
	if r.SourcePhoto != nil {
		p := *r.SourcePhoto
		c.SourcePhoto = &p
	}
	return c
}

// FromAttributes builds a new record from generated attributes. The caller
// decides the art reference.
func FromAttributes(a Attributes, photo *PhotoRef, imageRef string, now time.Time) Record {
	r := Record{
		ID:          NewID(),
		Name:        a.Name,
		ImageRef:    imageRef,
		DesignFile:  imageRef,
		Color:       a.Color,
		Personality: a.Personality,
		Story:       a.Story,
		SourcePhoto: photo,
		CreatedAt:   now,
	}
	r = r.Clone()
	r.Normalize(now)
	return r
}
