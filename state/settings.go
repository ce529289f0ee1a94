package state

import (
	"context"

	"github.com/strata-cms/strata/hook"
	"github.com/strata-cms/strata/structs"
)

// Settings is the typed accessor for the settings table. Writes go through
// the triggered store and fire the setting-set hook afterwards, so
// subsystems (e.g. the search re-index schedule) can react to changes.
type Settings struct {
	triggered *TriggeredStore
	hooks     *hook.Engine
}

// NewSettings returns a Settings accessor over the triggered store.
func NewSettings(triggered *TriggeredStore, hooks *hook.Engine) *Settings {
	return &Settings{triggered: triggered, hooks: hooks}
}

// Get returns the setting value, or def when unset.
func (s *Settings) Get(key string, def interface{}) interface{} {
	st, err := s.triggered.Store().SettingByKey(key)
	if err != nil || st == nil {
		return def
	}
	return st.Value
}

// GetString returns a string setting, or def when unset or of another type.
func (s *Settings) GetString(key, def string) string {
	v, ok := s.Get(key, def).(string)
	if !ok {
		return def
	}
	return v
}

// GetBool returns a bool setting, or def when unset or of another type.
func (s *Settings) GetBool(key string, def bool) bool {
	v, ok := s.Get(key, def).(bool)
	if !ok {
		return def
	}
	return v
}

// GetStringMapBool returns a map[string]bool setting, or nil when unset.
func (s *Settings) GetStringMapBool(key string) map[string]bool {
	raw := s.Get(key, nil)
	switch v := raw.(type) {
	case map[string]bool:
		return v
	case map[string]interface{}:
		out := make(map[string]bool, len(v))
		for k, val := range v {
			b, _ := val.(bool)
			out[k] = b
		}
		return out
	default:
		return nil
	}
}

// Set writes a setting and fires the setting-set hook with (key, value).
func (s *Settings) Set(ctx context.Context, key string, value interface{}) error {
	st := &structs.Setting{Key: key, Value: value}
	if err := s.triggered.Save(ctx, ClassSetting, st, nil); err != nil {
		return err
	}
	s.hooks.Run(ctx, "setting-set", key, value)
	return nil
}
