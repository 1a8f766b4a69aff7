// Package app builds the service graph once and hands it to the
// presentation layers.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/cory/internal/artwork"
	"github.com/kalambet/cory/internal/chat"
	"github.com/kalambet/cory/internal/collection"
	"github.com/kalambet/cory/internal/config"
	"github.com/kalambet/cory/internal/creature"
	"github.com/kalambet/cory/internal/explore"
	"github.com/kalambet/cory/internal/generation"
	"github.com/kalambet/cory/internal/keys"
	"github.com/kalambet/cory/internal/llm"
	"github.com/kalambet/cory/internal/notify"
	"github.com/kalambet/cory/internal/storage"
)

// ErrNoRepresentative is returned when there is nobody to talk to.
var ErrNoRepresentative = errors.New("no representative creature")

// Deps overrides backends that would otherwise be built from config.
type Deps struct {
	Vision     llm.Vision
	Chatter    llm.Chatter
	HTTPClient *http.Client
}

// App is the root object. Every component is created once here and shared by
// reference.
type App struct {
	Config     config.Config
	Storage    *storage.Store
	Collection *collection.Store
	Generation *generation.Service
	Artwork    *artwork.Worker
	Explorer   *explore.Coordinator
	Chat       *chat.Session
	Notices    *notify.Feed

	logger *slog.Logger
}

// New opens storage, restores the account and wires the services.
func New(cfg config.Config, deps Deps) (*App, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	coll := collection.New(cfg.Account.ID, store)
	if err := coll.Load(); err != nil {
		store.Close()
		return nil, fmt.Errorf("loading account: %w", err)
	}
	if seeded, err := coll.SeedDefault(); err != nil {
		store.Close()
		return nil, err
	} else if seeded {
		slog.Info("new account seeded with default creature", "account", cfg.Account.ID)
	}

	retry := llm.RetryPolicy{Attempts: cfg.AI.RetryAttempts, BaseDelay: cfg.AI.RetryBaseDelay}
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.AI.RequestTimeout}
	}
	options := func(provider, model, baseURL string) llm.Options {
		return llm.Options{
			Model:      model,
			BaseURL:    baseURL,
			Keys:       keys.For(provider, cfg.APIKey(provider), cfg.AI.KeyRelayURL),
			Retry:      retry,
			HTTPClient: httpClient,
		}
	}

	vision := deps.Vision
	if vision == nil {
		vision, err = llm.NewVision(cfg.Analysis.Provider, options(cfg.Analysis.Provider, cfg.Analysis.Model, cfg.Analysis.BaseURL))
		if err != nil {
			store.Close()
			return nil, err
		}
	}
	chatter := deps.Chatter
	if chatter == nil {
		chatter, err = llm.NewChatter(cfg.Chat.Provider, options(cfg.Chat.Provider, cfg.Chat.Model, cfg.Chat.BaseURL))
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	synth := generation.NewSynthesizer(generation.SynthOptions{
		BaseURL:    cfg.Image.BaseURL,
		Model:      cfg.Image.Model,
		Keys:       keys.For(llm.ProviderGemini, cfg.AI.GeminiAPIKey, cfg.AI.KeyRelayURL),
		Retry:      retry,
		HTTPClient: httpClient,
	})
	gen, err := generation.NewService(generation.NewAnalyzer(vision), synth, store, cfg.Image.BaseImage)
	if err != nil {
		store.Close()
		return nil, err
	}

	feed := notify.NewFeed(0)
	queue := artwork.NewQueue(store, cfg.Image.MaxAttempts)

	return &App{
		Config:     cfg,
		Storage:    store,
		Collection: coll,
		Generation: gen,
		Artwork:    artwork.NewWorker(store, gen, coll, feed, 0),
		Explorer: explore.New(gen, queue, coll, feed, explore.Config{
			MinDuration:       cfg.Explore.MinDuration,
			MaxDuration:       cfg.Explore.MaxDuration,
			GenerationTimeout: generationTimeout(cfg.AI),
		}),
		Chat:    chat.NewSession(chatter, feed, cfg.Chat.HistoryLimit),
		Notices: feed,
		logger:  slog.Default(),
	}, nil
}

// generationTimeout leaves room for every retry of one analysis request.
func generationTimeout(ai config.AIConfig) time.Duration {
	return time.Duration(ai.RetryAttempts)*(ai.RequestTimeout+ai.RetryBaseDelay) + ai.RequestTimeout
}

// Run drives the background loops until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Artwork.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return a.Collection.RunAutoSave(gctx, a.Config.AutoSave.Interval)
	})
	return g.Wait()
}

// Close waits for in-flight generation, saves the account and closes storage.
func (a *App) Close() error {
	a.Explorer.Wait()
	if err := a.Collection.Save(); err != nil {
		a.logger.Error("final save failed", "error", err)
	}
	return a.Storage.Close()
}

// SetRepresentative switches the companion. The conversation starts over when
// the companion changes.
func (a *App) SetRepresentative(id string) (creature.Record, bool, error) {
	prev, hadPrev := a.Collection.Representative()
	rec, ok, err := a.Collection.SetRepresentative(id)
	if err != nil || !ok {
		return rec, ok, err
	}
	if !hadPrev || prev.ID != rec.ID {
		a.Chat.Reset()
	}
	return rec, true, nil
}

// Talk sends text to the representative creature.
func (a *App) Talk(ctx context.Context, text string) (string, creature.Record, error) {
	rep, ok := a.Collection.Representative()
	if !ok {
		return "", creature.Record{}, ErrNoRepresentative
	}
	reply, err := a.Chat.Send(ctx, rep, text)
	return reply, rep, err
}

// Export is a full snapshot of the account.
type Export struct {
	Account   collection.Summary `json:"account"`
	Creatures []creature.Record  `json:"creatures"`
	Chat      []chat.Message     `json:"chat"`
}

func (a *App) Export() Export {
	return Export{
		Account:   a.Collection.Summary(),
		Creatures: a.Collection.All(),
		Chat:      a.Chat.History(),
	}
}

// Reset wipes the account: creatures, sprites, pending jobs and the chat.
// The default creature is seeded again.
func (a *App) Reset() error {
	if err := a.Explorer.Cancel(); err != nil && !errors.Is(err, explore.ErrNotExploring) {
		return err
	}
	a.Explorer.Wait()
	if err := a.Collection.Reset(); err != nil {
		return err
	}
	if err := a.Storage.Purge(); err != nil {
		return fmt.Errorf("purging storage: %w", err)
	}
	a.Chat.Reset()
	if _, err := a.Collection.SeedDefault(); err != nil {
		return err
	}
	a.logger.Info("account reset", "account", a.Collection.AccountID())
	return nil
}
