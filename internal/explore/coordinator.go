// Package explore drives an exploration: a photo goes in, a countdown runs,
// and a creature is generated in the background and added to the collection.
//
// Only one exploration runs at a time. The countdown and the generation are
// independent; either may finish first.
package explore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/kalambet/cory/internal/creature"
	"github.com/kalambet/cory/internal/generation"
	"github.com/kalambet/cory/internal/llm"
	"github.com/kalambet/cory/internal/notify"
)

type State string

const (
	Idle      State = "idle"
	Exploring State = "exploring"
)

var (
	ErrAlreadyExploring = errors.New("an exploration is already in progress")
	ErrNotExploring     = errors.New("no exploration in progress")
)

// Analyzer derives creature attributes from a photo.
type Analyzer interface {
	Analyze(ctx context.Context, photo generation.Photo) (creature.Attributes, error)
}

// Artist requests a sprite for a record that was just added. It must not
// block on the drawing itself.
type Artist interface {
	Commission(ctx context.Context, recordID string, attrs creature.Attributes) error
}

// Collection is the part of the collection store the coordinator writes to.
type Collection interface {
	Add(rec creature.Record) (creature.Record, error)
	Remove(id string) (creature.Record, bool, error)
	Count() int
}

// Config bounds the randomized countdown and the background generation.
type Config struct {
	MinDuration time.Duration
	MaxDuration time.Duration
	// GenerationTimeout caps analysis for one exploration. A timed out
	// analysis yields an offline creature.
	GenerationTimeout time.Duration
}

const (
	DefaultMinDuration = 60 * time.Second
	DefaultMaxDuration = 120 * time.Second

	DefaultGenerationTimeout = 5 * time.Minute
)

// Point is a screen position for an explore affordance.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Affordances are scattered inside this circle.
const (
	areaCenterX = 251
	areaCenterY = 406
	areaRadius  = 90
)

// Snapshot is a point-in-time view of the coordinator.
type Snapshot struct {
	State      State              `json:"state"`
	Photo      *creature.PhotoRef `json:"photo,omitempty"`
	StartedAt  time.Time          `json:"startedAt,omitzero"`
	Duration   time.Duration      `json:"duration,omitempty"`
	Remaining  time.Duration      `json:"remaining,omitempty"`
	ProducedID string             `json:"producedId,omitempty"`
	Positions  [2]Point           `json:"positions"`
}

// run is one exploration. Its background generation keeps a reference to it
// after the coordinator has moved on.
type run struct {
	photo     *generation.Photo
	startedAt time.Time
	duration  time.Duration
	timer     *time.Timer
	produced  string
	cancelled bool
}

type Coordinator struct {
	analyzer Analyzer
	artist   Artist
	records  Collection
	notifier notify.Notifier
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	rng       *rand.Rand
	current   *run
	positions [2]Point

	wg sync.WaitGroup
}

// New creates an idle Coordinator. A nil analyzer or artist means that
// capability is unavailable.
func New(analyzer Analyzer, artist Artist, records Collection, notifier notify.Notifier, cfg Config) *Coordinator {
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = DefaultMinDuration
	}
	if cfg.MaxDuration < cfg.MinDuration {
		cfg.MaxDuration = max(cfg.MinDuration, DefaultMaxDuration)
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = DefaultGenerationTimeout
	}
	if notifier == nil {
		notifier = notify.Discard{}
	}
	c := &Coordinator{
		analyzer: analyzer,
		artist:   artist,
		records:  records,
		notifier: notifier,
		cfg:      cfg,
		logger:   slog.Default(),
		now:      time.Now,
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x636f7279)),
	}
	c.positions = c.scatterLocked()
	return c
}

// Submit starts an exploration. photo may be nil, in which case an offline
// creature is produced. Submitting while exploring returns
// ErrAlreadyExploring and leaves the running exploration untouched.
func (c *Coordinator) Submit(ctx context.Context, photo *generation.Photo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.notifier.Notify(notify.Notice{Kind: notify.KindBusy, Message: "Already exploring. Please wait until it's done."})
		return ErrAlreadyExploring
	}

	r := &run{
		photo:     photo,
		startedAt: c.now(),
		duration:  c.durationLocked(),
	}
	r.timer = time.AfterFunc(r.duration, func() { c.elapse(r) })
	c.current = r

	c.logger.Info("exploration started", "duration", r.duration, "has_photo", photo != nil && len(photo.Data) > 0)

	// Generation outlives the submitting request but not GenerationTimeout.
	gctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.GenerationTimeout)
	c.wg.Add(1)
	go func() {
		defer cancel()
		c.generate(gctx, r)
	}()
	return nil
}

// Cancel stops the running exploration and removes any creature it already
// added. Generation still in flight finishes and is then discarded.
func (c *Coordinator) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.current
	if r == nil {
		return ErrNotExploring
	}
	r.cancelled = true
	r.timer.Stop()
	if r.produced != "" {
		if _, _, err := c.records.Remove(r.produced); err != nil {
			c.logger.Error("failed to remove cancelled creature", "id", r.produced, "error", err)
		}
	}
	c.resetLocked()
	c.notifier.Notify(notify.Notice{Kind: notify.KindCancelled, Message: "Exploration cancelled."})
	c.logger.Info("exploration cancelled", "removed", r.produced)
	return nil
}

func (c *Coordinator) Status() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{State: Idle, Positions: c.positions}
	if r := c.current; r != nil {
		s.State = Exploring
		if r.photo != nil {
			s.Photo = r.photo.Ref()
		}
		s.StartedAt = r.startedAt
		s.Duration = r.duration
		s.Remaining = max(0, r.duration-c.now().Sub(r.startedAt))
		s.ProducedID = r.produced
	}
	return s
}

// Positions returns the current explore affordance positions.
func (c *Coordinator) Positions() [2]Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positions
}

// Wait blocks until all background generation has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) elapse(r *run) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != r {
		return
	}
	c.resetLocked()
	c.notifier.Notify(notify.Notice{Kind: notify.KindReady, Message: "Your exploration is complete! Check your collection.", RecordID: r.produced})
	c.logger.Info("exploration complete", "produced", r.produced)
}

func (c *Coordinator) generate(ctx context.Context, r *run) {
	defer c.wg.Done()
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("exploration generation panicked", "panic", fmt.Sprint(p))
		}
	}()

	if r.photo == nil || len(r.photo.Data) == 0 {
		c.insertMock(r)
		return
	}
	if c.analyzer == nil {
		c.insertMock(r)
		return
	}

	attrs, err := c.analyzer.Analyze(ctx, *r.photo)
	var parseErr *generation.AnalysisParseError
	switch {
	case err == nil:
		rec := creature.FromAttributes(attrs, r.photo.Ref(), creature.DefaultImage, c.now())
		kept, err := c.insert(r, rec)
		if err != nil {
			c.logger.Warn("generated creature rejected, using offline creature", "name", rec.Name, "error", err)
			c.notifier.Notify(notify.Notice{Kind: notify.KindMockFallback, Message: "The AI's design didn't work out, so a surprise Cory came instead."})
			c.insertMock(r)
			return
		}
		if kept {
			c.commission(ctx, rec.ID, attrs)
		}
	case errors.As(err, &parseErr):
		c.escape(r, err)
	case errors.Is(err, llm.ErrUnconfigured):
		c.logger.Info("analysis unconfigured, using offline creature")
		c.insertMock(r)
	default:
		c.logger.Warn("analysis failed, using offline creature", "error", err)
		c.notifier.Notify(notify.Notice{Kind: notify.KindMockFallback, Message: "The AI couldn't be reached, so a surprise Cory came instead."})
		c.insertMock(r)
	}
}

func (c *Coordinator) insertMock(r *run) {
	var ref *creature.PhotoRef
	if r.photo != nil {
		ref = r.photo.Ref()
	}
	if _, err := c.insert(r, creature.Mock(c.records.Count()+1, ref, c.now())); err != nil {
		c.logger.Error("failed to add offline creature", "error", err)
	}
}

// insert adds rec unless the exploration was cancelled. It reports whether
// the record was kept; err is set only when the collection rejected rec.
// A record that was added but not persisted counts as kept.
func (c *Coordinator) insert(r *run, rec creature.Record) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r.cancelled {
		c.logger.Info("discarding creature from cancelled exploration", "name", rec.Name)
		return false, nil
	}
	added, err := c.records.Add(rec)
	if errors.Is(err, creature.ErrInvalid) {
		return false, err
	}
	if err != nil {
		c.logger.Error("creature added but not saved", "id", added.ID, "error", err)
	}
	r.produced = added.ID
	c.logger.Info("creature added", "id", added.ID, "name", added.Name)
	return true, nil
}

func (c *Coordinator) commission(ctx context.Context, recordID string, attrs creature.Attributes) {
	if c.artist == nil {
		return
	}
	if err := c.artist.Commission(ctx, recordID, attrs); err != nil {
		c.logger.Warn("could not request artwork", "id", recordID, "error", err)
		c.notifier.Notify(notify.Notice{Kind: notify.KindImageFallback, Message: "Couldn't draw your new Cory. It keeps its default look.", RecordID: recordID})
	}
}

// escape aborts the exploration after an unusable analysis.
func (c *Coordinator) escape(r *run, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r.cancelled {
		return
	}
	c.logger.Warn("creature escaped", "error", cause)
	r.timer.Stop()
	if r.produced != "" {
		if _, _, err := c.records.Remove(r.produced); err != nil {
			c.logger.Error("failed to remove escaped creature", "id", r.produced, "error", err)
		}
		r.produced = ""
	}
	if c.current == r {
		c.resetLocked()
	}
	c.notifier.Notify(notify.Notice{Kind: notify.KindEscaped, Message: "Oh no, the Cory escaped! Try exploring again."})
}

func (c *Coordinator) resetLocked() {
	c.current = nil
	c.positions = c.scatterLocked()
}

func (c *Coordinator) durationLocked() time.Duration {
	span := c.cfg.MaxDuration - c.cfg.MinDuration
	if span <= 0 {
		return c.cfg.MinDuration
	}
	return c.cfg.MinDuration + time.Duration(c.rng.Int64N(int64(span)+1))
}

func (c *Coordinator) scatterLocked() [2]Point {
	var pts [2]Point
	for i := range pts {
		r := areaRadius * math.Sqrt(c.rng.Float64())
		theta := 2 * math.Pi * c.rng.Float64()
		pts[i] = Point{X: areaCenterX + r*math.Cos(theta), Y: areaCenterY + r*math.Sin(theta)}
	}
	return pts
}
