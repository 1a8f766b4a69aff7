// Package generation turns photos into creature attributes and sprites.
package generation

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/cory/internal/creature"
	"github.com/kalambet/cory/internal/llm"
	"github.com/kalambet/cory/internal/storage"
)

//go:embed assets/base_cory.png
var defaultBaseImage []byte

// ImagePathPrefix is where stored sprites are served from.
const ImagePathPrefix = "/images/"

// ImageStore persists synthesized sprites.
type ImageStore interface {
	SaveImage(img storage.Image) error
}

// Service combines analysis and image synthesis. Either half may be
// unconfigured; its calls then fail with llm.ErrUnconfigured.
type Service struct {
	analyzer *Analyzer
	synth    *Synthesizer
	images   ImageStore
	base     []byte
	logger   *slog.Logger
}

// NewService builds a Service. baseImagePath overrides the embedded base art
// when non-empty.
func NewService(analyzer *Analyzer, synth *Synthesizer, images ImageStore, baseImagePath string) (*Service, error) {
	base := defaultBaseImage
	if baseImagePath != "" {
		data, err := os.ReadFile(baseImagePath)
		if err != nil {
			return nil, fmt.Errorf("reading base image: %w", err)
		}
		base = data
	}
	return &Service{
		analyzer: analyzer,
		synth:    synth,
		images:   images,
		base:     base,
		logger:   slog.Default(),
	}, nil
}

func (s *Service) Analyze(ctx context.Context, photo Photo) (creature.Attributes, error) {
	if s.analyzer == nil {
		return creature.Attributes{}, llm.ErrUnconfigured
	}
	return s.analyzer.Analyze(ctx, photo)
}

// SynthesizeImage draws, mattes and stores a sprite for recordID and returns
// its image reference. Failures other than a missing key are
// *ImageSynthesisError.
func (s *Service) SynthesizeImage(ctx context.Context, recordID string, attrs creature.Attributes) (string, error) {
	if s.synth == nil {
		return "", llm.ErrUnconfigured
	}
	raw, err := s.synth.Generate(ctx, s.base, attrs)
	if err != nil {
		if errors.Is(err, llm.ErrUnconfigured) {
			return "", err
		}
		return "", &ImageSynthesisError{Err: err}
	}

	sprite, err := MattePNG(raw)
	if err != nil {
		return "", &ImageSynthesisError{Err: err}
	}

	img := storage.Image{
		ID:        uuid.NewString(),
		RecordID:  recordID,
		MIMEType:  "image/png",
		Data:      sprite,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.images.SaveImage(img); err != nil {
		return "", &ImageSynthesisError{Err: fmt.Errorf("storing image: %w", err)}
	}
	s.logger.Debug("sprite stored", "record_id", recordID, "image_id", img.ID, "bytes", len(sprite))
	return ImagePathPrefix + img.ID, nil
}
