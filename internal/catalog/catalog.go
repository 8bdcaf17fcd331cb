// Package catalog generates the fixed set of charts for a dataset snapshot
// and picks the ones relevant to a question.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ignite/marketing-analyst/internal/dataset"
	"github.com/ignite/marketing-analyst/internal/pkg/logger"
	"github.com/ignite/marketing-analyst/internal/reasoning"
	"github.com/ignite/marketing-analyst/internal/storage"
	"github.com/ignite/marketing-analyst/prompts"
	"github.com/patrickmn/go-cache"
)

// MaxSelected caps how many charts accompany one answer.
const MaxSelected = 3

// Descriptor describes one generated chart.
type Descriptor struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Path        string `json:"path"`
}

// Catalog owns the charts of one session. Charts are regenerated only when
// the snapshot version changes.
type Catalog struct {
	store    storage.ArtifactStore
	provider reasoning.Provider
	payloads *cache.Cache

	mu          sync.RWMutex
	version     int64
	generated   bool
	descriptors []Descriptor
}

// New creates an empty catalog.
func New(store storage.ArtifactStore, provider reasoning.Provider) *Catalog {
	return &Catalog{
		store:    store,
		provider: provider,
		payloads: cache.New(30*time.Minute, 10*time.Minute),
	}
}

// Generate builds and stores every chart for snap. It does nothing when the
// catalog already holds charts for the same snapshot version.
func (c *Catalog) Generate(ctx context.Context, snap *dataset.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generated && c.version == snap.Version {
		return nil
	}

	descs := make([]Descriptor, 0, len(charts))
	for _, ch := range charts {
		data, err := json.Marshal(ch.build(snap))
		if err != nil {
			return fmt.Errorf("encoding %s: %w", ch.title, err)
		}
		loc, err := c.store.Put(ctx, File(ch.title), data)
		if err != nil {
			return fmt.Errorf("storing %s: %w", ch.title, err)
		}
		descs = append(descs, Descriptor{Title: ch.title, Description: ch.description, Path: loc})
	}

	c.payloads.Flush()
	c.descriptors = descs
	c.version = snap.Version
	c.generated = true
	logger.Info("Chart catalog generated", "charts", len(descs), "version", snap.Version)
	return nil
}

// Version is the snapshot version the charts were built from.
func (c *Catalog) Version() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Descriptors returns a copy of the catalog.
func (c *Catalog) Descriptors() []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Descriptor(nil), c.descriptors...)
}

// GetByTitle finds a chart by its exact title.
func (c *Catalog) GetByTitle(title string) (Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, d := range c.descriptors {
		if d.Title == title {
			return d, true
		}
	}
	return Descriptor{}, false
}

// LoadPayload returns the stored chart document.
func (c *Catalog) LoadPayload(ctx context.Context, d Descriptor) (string, error) {
	key := fmt.Sprintf("%s@%d", d.Path, c.Version())
	if v, ok := c.payloads.Get(key); ok {
		return v.(string), nil
	}
	data, err := c.store.Get(ctx, d.Path)
	if err != nil {
		return "", fmt.Errorf("loading chart %q: %w", d.Title, err)
	}
	c.payloads.SetDefault(key, string(data))
	return string(data), nil
}

type selection struct {
	SelectedPlots []string `json:"selected_plots"`
	Paths         []string `json:"paths"`
}

// Select asks the reasoning service which charts fit the question. It never
// fails: any problem yields no charts. Titles outside the catalog and
// duplicates are dropped, and at most MaxSelected are returned.
func (c *Catalog) Select(ctx context.Context, question, model, credential string) []Descriptor {
	descs := c.Descriptors()
	if len(descs) == 0 || strings.TrimSpace(question) == "" {
		return nil
	}

	plots := make([]map[string]any, 0, len(descs))
	for _, d := range descs {
		plots = append(plots, map[string]any{"title": d.Title, "description": d.Description, "path": d.Path})
	}
	prompt, err := prompts.Render(prompts.PlotSelection, map[string]any{"question": question, "plots": plots})
	if err != nil {
		logger.Warn("Plot selection prompt failed", "error", err)
		return nil
	}
	out, err := c.provider.Complete(ctx, reasoning.Request{
		Model:      model,
		Credential: credential,
		Prompt:     prompt,
		JSON:       true,
	})
	if err != nil {
		logger.Warn("Plot selection failed", "error", err)
		return nil
	}
	js, err := reasoning.ExtractJSON(out)
	if err != nil {
		logger.Warn("Plot selection returned no JSON object", "error", err)
		return nil
	}
	var sel selection
	if err := json.Unmarshal([]byte(js), &sel); err != nil {
		logger.Warn("Plot selection malformed", "error", err)
		return nil
	}

	var picked []Descriptor
	seen := make(map[string]bool)
	for _, title := range sel.SelectedPlots {
		if len(picked) == MaxSelected {
			break
		}
		d, ok := c.GetByTitle(strings.TrimSpace(title))
		if !ok {
			logger.Warn("Plot selection named an unknown chart", "title", title)
			continue
		}
		if seen[d.Title] {
			continue
		}
		seen[d.Title] = true
		picked = append(picked, d)
	}
	return picked
}
