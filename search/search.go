// Package search coordinates content indexing and querying. The coordinator
// owns no index of its own: plugins implement the search-index and search
// hooks, while the coordinator drives fetching, normalization, scheduling,
// and score filtering.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/strata-cms/strata/hook"
	"github.com/strata-cms/strata/pulse"
	"github.com/strata-cms/strata/state"
	"github.com/strata-cms/strata/structs"
)

// Hook names dispatched by the coordinator.
const (
	HookIndexConfig   = "search-index-config"
	HookItemNormalize = "search-index-item-normalize"
	HookIndex         = "search-index"
	HookSearch        = "search"
)

// IndexTaskID is the pulse task driving recurring re-indexing.
const IndexTaskID = "content-search-indexing"

// SettingIndexFrequency is the cron-expression setting for the re-index
// schedule.
const SettingIndexFrequency = "index-frequency"

// DefaultIndexFrequency re-indexes daily at midnight.
const DefaultIndexFrequency = "0 0 * * *"

// RichTextFieldType marks fields stored as rich-text trees.
const RichTextFieldType = "RichText"

// IndexParams describes one indexing pass.
type IndexParams struct {
	Type string
}

// IndexConfig is the mutable configuration of an indexing pass. Plugins
// adjust it in the search-index-config hook.
type IndexConfig struct {
	ShouldIndex   bool
	PrefetchItems bool

	// Fields maps field names to their declared types, pre-filled from the
	// content-type record.
	Fields map[string]string
}

// Request is a search query.
type Request struct {
	Index     string
	Search    string
	Page      int
	Limit     int
	Threshold float64
}

// Hit is one scored result.
type Hit struct {
	Item  *structs.Content
	Score float64
}

// Result is the mutable payload of a search dispatch. Indexer plugins
// populate it; the coordinator filters Results by score afterwards.
type Result struct {
	Count   int
	Page    int
	Pages   int
	Next    int
	Prev    int
	Results []*Hit
}

// Coordinator drives indexing and search across whatever indexer plugins
// are active.
type Coordinator struct {
	logger    hclog.Logger
	hooks     *hook.Engine
	triggered *state.TriggeredStore
	settings  *state.Settings
	scheduler *pulse.Scheduler
}

// New returns a coordinator and registers the default rich-text normalizer.
func New(logger hclog.Logger, hooks *hook.Engine, triggered *state.TriggeredStore, settings *state.Settings, scheduler *pulse.Scheduler) *Coordinator {
	c := &Coordinator{
		logger:    logger.Named("search"),
		hooks:     hooks,
		triggered: triggered,
		settings:  settings,
		scheduler: scheduler,
	}
	c.installNormalizer()
	return c
}

// Index runs one indexing pass for a content type: configure, fetch,
// normalize per item, then hand the batch to indexer plugins.
func (c *Coordinator) Index(ctx context.Context, params *IndexParams) error {
	defer metrics.MeasureSince([]string{"strata", "search", "index"}, time.Now())

	if params == nil || params.Type == "" {
		return fmt.Errorf("index requires a content type")
	}

	cfg := &IndexConfig{
		ShouldIndex:   true,
		PrefetchItems: true,
		Fields:        make(map[string]string),
	}
	ct, err := c.triggered.Store().ContentTypeByName(params.Type)
	if err != nil {
		return err
	}
	if ct != nil {
		for _, f := range ct.Fields {
			cfg.Fields[f.Name] = f.Type
		}
	}

	c.hooks.Run(ctx, HookIndexConfig, cfg, params)
	if !cfg.ShouldIndex {
		c.logger.Debug("indexing skipped by config hook", "type", params.Type)
		return nil
	}

	var items []*structs.Content
	if cfg.PrefetchItems {
		items, err = c.triggered.Store().ContentByType(params.Type)
		if err != nil {
			return err
		}
	}

	for _, item := range items {
		c.hooks.Run(ctx, HookItemNormalize, item, params, params.Type, cfg.Fields, cfg)
	}

	c.hooks.Run(ctx, HookIndex, items, params, params.Type, cfg.Fields, cfg)
	c.logger.Debug("indexed content type", "type", params.Type, "items", len(items))
	return nil
}

// Search dispatches the query to indexer plugins and filters the populated
// results by the request threshold.
func (c *Coordinator) Search(ctx context.Context, req *Request) (*Result, error) {
	defer metrics.MeasureSince([]string{"strata", "search", "query"}, time.Now())

	if req == nil {
		return nil, fmt.Errorf("search request must not be nil")
	}

	result := &Result{Page: req.Page}
	c.hooks.Run(ctx, HookSearch, req, result)

	if req.Threshold > 0 {
		kept := result.Results[:0]
		for _, hit := range result.Results {
			if hit.Score >= req.Threshold {
				kept = append(kept, hit)
			}
		}
		result.Results = kept
	}
	return result, nil
}

// Start indexes every content type once and schedules the recurring
// re-index task. Changes to the frequency setting reschedule it.
func (c *Coordinator) Start(ctx context.Context) error {
	types, err := c.triggered.Store().ContentTypes()
	if err != nil {
		return err
	}
	for _, ct := range types {
		if err := c.Index(ctx, &IndexParams{Type: ct.MachineName}); err != nil {
			c.logger.Error("initial indexing failed", "type", ct.MachineName, "error", err)
		}
	}

	if err := c.schedule(); err != nil {
		return err
	}

	_, err = c.hooks.Register("setting-set", func(_ context.Context, hc *hook.Context) error {
		if key, _ := hc.Param(0).(string); key != SettingIndexFrequency {
			return nil
		}
		return c.schedule()
	}, hook.WithID("search-reschedule"))
	return err
}

// schedule installs or replaces the re-index pulse task from the frequency
// setting.
func (c *Coordinator) schedule() error {
	expr := c.settings.GetString(SettingIndexFrequency, DefaultIndexFrequency)

	_, err := c.scheduler.Replace(IndexTaskID, func(ctx context.Context, _ *pulse.Task) error {
		types, err := c.triggered.Store().ContentTypes()
		if err != nil {
			return err
		}
		for _, ct := range types {
			if err := c.Index(ctx, &IndexParams{Type: ct.MachineName}); err != nil {
				return err
			}
		}
		return nil
	}, pulse.WithCron(expr))
	if err != nil {
		return fmt.Errorf("scheduling re-index task: %w", err)
	}
	c.logger.Debug("scheduled content re-indexing", "cron", expr)
	return nil
}

// installNormalizer registers the default search-index-item-normalize
// handler: rich-text fields are replaced with the plaintext of their tree.
func (c *Coordinator) installNormalizer() {
	c.hooks.Register(HookItemNormalize, func(_ context.Context, hc *hook.Context) error {
		item, ok := hc.Param(0).(*structs.Content)
		if !ok || item.Fields == nil {
			return nil
		}
		fields, ok := hc.Param(3).(map[string]string)
		if !ok {
			return nil
		}

		for name, fieldType := range fields {
			if !strings.EqualFold(fieldType, RichTextFieldType) {
				continue
			}
			if value, exists := item.Fields[name]; exists {
				item.Fields[name] = FlattenRichText(value)
			}
		}
		return nil
	}, hook.WithOrder(hook.Core), hook.WithID("search-default-normalize"))
}

// FlattenRichText extracts the plaintext of a rich-text tree by joining its
// text leaves in document order. Strings pass through unchanged.
func FlattenRichText(value interface{}) string {
	var leaves []string
	collectLeaves(value, &leaves)
	return strings.Join(leaves, " ")
}

func collectLeaves(node interface{}, leaves *[]string) {
	switch v := node.(type) {
	case string:
		if v != "" {
			*leaves = append(*leaves, v)
		}
	case []interface{}:
		for _, child := range v {
			collectLeaves(child, leaves)
		}
	case map[string]interface{}:
		if text, ok := v["text"].(string); ok {
			if text != "" {
				*leaves = append(*leaves, text)
			}
			return
		}
		collectLeaves(v["children"], leaves)
	}
}
