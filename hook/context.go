package hook

import "sync"

// Context is the shared object threaded through a hook chain. Callbacks
// observe and mutate the same Context by reference; mutations made by an
// earlier callback are visible to later ones and to the dispatcher's caller.
type Context struct {
	// Hook is the name the chain was dispatched under.
	Hook string

	// Params are the dispatch arguments, in order.
	Params []interface{}

	mu     sync.Mutex
	values map[string]interface{}
}

func newContext(name string, params []interface{}) *Context {
	return &Context{
		Hook:   name,
		Params: params,
		values: make(map[string]interface{}),
	}
}

// Set stores a custom value on the context.
func (c *Context) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Get returns a custom value previously stored with Set.
func (c *Context) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

// GetString returns a string value, or "" when absent or of another type.
func (c *Context) GetString(key string) string {
	v, ok := c.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// GetBool returns a bool value, with def when absent or of another type.
func (c *Context) GetBool(key string, def bool) bool {
	v, ok := c.Get(key)
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// Param returns the i'th dispatch argument, or nil when out of range.
func (c *Context) Param(i int) interface{} {
	if i < 0 || i >= len(c.Params) {
		return nil
	}
	return c.Params[i]
}
