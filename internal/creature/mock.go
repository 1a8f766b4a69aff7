package creature

import (
	"fmt"
	"time"
)

// SeedID identifies the creature handed to every new account.
const SeedID = "default-cory-001"

var mockColors = []Color{
	RGB(255, 182, 193),
	RGB(173, 216, 230),
	RGB(221, 160, 221),
	RGB(240, 230, 140),
	RGB(152, 251, 152),
}

var mockPersonalities = []Personality{
	{
		Traits:      []string{"playful", "energetic", "bright"},
		Description: "Always brings laughter and fun wherever it goes.",
	},
	{
		Traits:      []string{"calm", "thoughtful", "gentle"},
		Description: "A quiet soul with deep thoughts and a warm heart.",
	},
	{
		Traits:      []string{"curious", "adventurous", "creative"},
		Description: "Loves exploring and discovering new things.",
	},
	{
		Traits:      []string{"loyal", "protective", "dependable"},
		Description: "Always stays close and can be counted on.",
	},
}

var mockImages = []string{SmallPattern, MediumPattern, DefaultImage}

// Mock builds the offline fallback creature for the seq-th member of a
// collection (1-based). The result depends only on its arguments.
func Mock(seq int, photo *PhotoRef, now time.Time) Record {
	if seq < 1 {
		seq = 1
	}
	i := seq - 1
	origin := "somewhere unknown"
	if photo != nil && photo.Name != "" {
		origin = photo.Name
	}
	p := mockPersonalities[i%len(mockPersonalities)]
	img := mockImages[i%len(mockImages)]

	r := Record{
		ID:         NewID(),
		Name:       fmt.Sprintf("Cory #%03d", seq),
		ImageRef:   img,
		DesignFile: img,
		Color:      mockColors[i%len(mockColors)],
		Personality: Personality{
			Traits:      append([]string(nil), p.Traits...),
			Description: p.Description,
		},
		Story: Story{
			Summary: fmt.Sprintf("A special Cory born from %s.", origin),
			Lines: []string{
				"Hello!",
				fmt.Sprintf("I was born from %s.", origin),
				"Your photo inspired me a lot!",
				"Nice to meet you!",
			},
		},
		CreatedAt: now.UTC(),
	}
	if photo != nil {
		ph := *photo
		r.SourcePhoto = &ph
	}
	return r
}

// Seed returns the default creature for an empty account.
func Seed(now time.Time) Record {
	return Record{
		ID:         SeedID,
		Name:       "Cory",
		ImageRef:   DefaultImage,
		DesignFile: DefaultImage,
		Color:      DefaultColor,
		Personality: Personality{
			Traits:      []string{"friendly", "curious"},
			Description: "The very first Cory, always happy to see you.",
		},
		Story: Story{
			Summary: "The first Cory that came to live with you.",
			Lines:   []string{"Hello!", "I'm your first Cory.", "Let's explore together!"},
		},
		CreatedAt: now.UTC(),
	}
}
