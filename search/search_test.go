package search

import (
	"context"
	"testing"

	"github.com/shoenig/test/must"
	"github.com/stretchr/testify/require"

	"github.com/strata-cms/strata/ci"
	"github.com/strata-cms/strata/helper/testlog"
	"github.com/strata-cms/strata/hook"
	"github.com/strata-cms/strata/pulse"
	"github.com/strata-cms/strata/state"
	"github.com/strata-cms/strata/structs"
)

func testCoordinator(t *testing.T) (*Coordinator, *state.TriggeredStore, *hook.Engine, *pulse.Scheduler) {
	logger := testlog.HCLogger(t)

	store, err := state.NewStore(logger)
	require.NoError(t, err)

	hooks := hook.NewEngine(logger)
	triggered := state.NewTriggeredStore(logger, store, hooks)
	settings := state.NewSettings(triggered, hooks)
	scheduler := pulse.NewScheduler(logger)
	t.Cleanup(scheduler.Shutdown)

	return New(logger, hooks, triggered, settings, scheduler), triggered, hooks, scheduler
}

func richText(texts ...string) map[string]interface{} {
	children := make([]interface{}, 0, len(texts))
	for _, s := range texts {
		children = append(children, map[string]interface{}{"text": s})
	}
	return map[string]interface{}{
		"children": []interface{}{
			map[string]interface{}{"type": "paragraph", "children": children},
		},
	}
}

func seedArticles(t *testing.T, triggered *state.TriggeredStore) {
	t.Helper()
	store := triggered.Store()

	require.NoError(t, store.UpsertContentType(&structs.ContentType{
		MachineName: "article",
		Label:       "Article",
		Fields: []structs.FieldType{
			{Name: "body", Type: RichTextFieldType},
			{Name: "summary", Type: "Text"},
		},
	}))

	require.NoError(t, store.UpsertContent(&structs.Content{
		ID:    "a1",
		Type:  "article",
		Slug:  "hello",
		Title: "Hello",
		Fields: map[string]interface{}{
			"body":    richText("Hello", "world"),
			"summary": "a greeting",
		},
	}))
}

func TestFlattenRichText(t *testing.T) {
	ci.Parallel(t)

	must.Eq(t, "Hello world", FlattenRichText(richText("Hello", "world")))
	must.Eq(t, "plain", FlattenRichText("plain"))
	must.Eq(t, "", FlattenRichText(nil))
	must.Eq(t, "", FlattenRichText(map[string]interface{}{"children": []interface{}{}}))

	// Nested trees flatten in document order.
	nested := map[string]interface{}{
		"children": []interface{}{
			map[string]interface{}{"children": []interface{}{
				map[string]interface{}{"text": "one"},
				map[string]interface{}{"children": []interface{}{
					map[string]interface{}{"text": "two"},
				}},
			}},
			map[string]interface{}{"text": "three"},
		},
	}
	must.Eq(t, "one two three", FlattenRichText(nested))
}

func TestCoordinator_Index_NormalizesRichText(t *testing.T) {
	ci.Parallel(t)
	c, triggered, hooks, _ := testCoordinator(t)
	seedArticles(t, triggered)

	var indexed []*structs.Content
	_, err := hooks.Register(HookIndex, func(_ context.Context, hc *hook.Context) error {
		indexed = hc.Param(0).([]*structs.Content)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, c.Index(context.Background(), &IndexParams{Type: "article"}))

	require.Len(t, indexed, 1)
	must.Eq(t, "Hello world", indexed[0].Fields["body"].(string))
	must.Eq(t, "a greeting", indexed[0].Fields["summary"].(string))
}

func TestCoordinator_Index_ConfigHookSkips(t *testing.T) {
	ci.Parallel(t)
	c, triggered, hooks, _ := testCoordinator(t)
	seedArticles(t, triggered)

	_, err := hooks.Register(HookIndexConfig, func(_ context.Context, hc *hook.Context) error {
		cfg := hc.Param(0).(*IndexConfig)
		cfg.ShouldIndex = false
		return nil
	})
	require.NoError(t, err)

	var indexRan bool
	_, err = hooks.Register(HookIndex, func(context.Context, *hook.Context) error {
		indexRan = true
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, c.Index(context.Background(), &IndexParams{Type: "article"}))
	must.False(t, indexRan)
}

func TestCoordinator_Index_NoPrefetch(t *testing.T) {
	ci.Parallel(t)
	c, triggered, hooks, _ := testCoordinator(t)
	seedArticles(t, triggered)

	_, err := hooks.Register(HookIndexConfig, func(_ context.Context, hc *hook.Context) error {
		hc.Param(0).(*IndexConfig).PrefetchItems = false
		return nil
	})
	require.NoError(t, err)

	var indexed []*structs.Content
	_, err = hooks.Register(HookIndex, func(_ context.Context, hc *hook.Context) error {
		indexed = hc.Param(0).([]*structs.Content)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, c.Index(context.Background(), &IndexParams{Type: "article"}))
	must.SliceEmpty(t, indexed)
}

func TestCoordinator_Index_Validation(t *testing.T) {
	ci.Parallel(t)
	c, _, _, _ := testCoordinator(t)

	require.Error(t, c.Index(context.Background(), nil))
	require.Error(t, c.Index(context.Background(), &IndexParams{}))
}

func TestCoordinator_Search_ThresholdFilter(t *testing.T) {
	ci.Parallel(t)
	c, _, hooks, _ := testCoordinator(t)

	_, err := hooks.Register(HookSearch, func(_ context.Context, hc *hook.Context) error {
		result := hc.Param(1).(*Result)
		result.Count = 3
		result.Results = []*Hit{
			{Item: &structs.Content{ID: "a"}, Score: 0.9},
			{Item: &structs.Content{ID: "b"}, Score: 0.4},
			{Item: &structs.Content{ID: "c"}, Score: 0.6},
		}
		return nil
	})
	require.NoError(t, err)

	result, err := c.Search(context.Background(), &Request{Search: "q", Threshold: 0.5})
	require.NoError(t, err)
	require.Len(t, result.Results, 2)
	must.Eq(t, "a", result.Results[0].Item.ID)
	must.Eq(t, "c", result.Results[1].Item.ID)

	// Zero threshold keeps everything.
	result, err = c.Search(context.Background(), &Request{Search: "q"})
	require.NoError(t, err)
	require.Len(t, result.Results, 3)
}

func TestCoordinator_Start_SchedulesAndReschedules(t *testing.T) {
	ci.Parallel(t)
	c, triggered, hooks, scheduler := testCoordinator(t)
	seedArticles(t, triggered)

	var indexedTypes []string
	_, err := hooks.Register(HookIndex, func(_ context.Context, hc *hook.Context) error {
		indexedTypes = append(indexedTypes, hc.Param(2).(string))
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	must.Eq(t, []string{"article"}, indexedTypes)

	task := scheduler.Get(IndexTaskID)
	require.NotNil(t, task)

	// Changing the frequency setting replaces the task.
	settings := state.NewSettings(triggered, hooks)
	require.NoError(t, settings.Set(context.Background(), SettingIndexFrequency, "30 2 * * *"))

	replacement := scheduler.Get(IndexTaskID)
	require.NotNil(t, replacement)
	must.True(t, task != replacement)
}

func TestCoordinator_Start_BadCronSetting(t *testing.T) {
	ci.Parallel(t)
	c, triggered, hooks, _ := testCoordinator(t)

	settings := state.NewSettings(triggered, hooks)
	require.NoError(t, settings.Set(context.Background(), SettingIndexFrequency, "junk"))

	require.Error(t, c.Start(context.Background()))
}
