// Package middleware assembles the HTTP pipeline from registered entries:
// an ordered registry of installers, replacements, and removals, applied at
// boot. Plugins inject via per-id middleware hooks instead of competing at
// the top level.
package middleware

import "net/http"

// Wrapper decorates an http.Handler, e.g. logging or panic recovery.
type Wrapper func(http.Handler) http.Handler

// App is the target of middleware assembly: a mux plus a stack of wrappers
// applied around it.
type App struct {
	mux      *http.ServeMux
	wrappers []Wrapper
}

// NewApp returns an empty app.
func NewApp() *App {
	return &App{mux: http.NewServeMux()}
}

// Handle registers a route on the underlying mux.
func (a *App) Handle(pattern string, h http.Handler) {
	a.mux.Handle(pattern, h)
}

// HandleFunc registers a route on the underlying mux.
func (a *App) HandleFunc(pattern string, h http.HandlerFunc) {
	a.mux.HandleFunc(pattern, h)
}

// Use pushes a wrapper onto the stack. Wrappers registered earlier end up
// outermost, seeing the request first.
func (a *App) Use(w Wrapper) {
	if w == nil {
		return
	}
	a.wrappers = append(a.wrappers, w)
}

// Handler returns the assembled handler: the mux wrapped by the stack.
func (a *App) Handler() http.Handler {
	var h http.Handler = a.mux
	for i := len(a.wrappers) - 1; i >= 0; i-- {
		h = a.wrappers[i](h)
	}
	return h
}
