package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shoenig/test/must"
	"github.com/stretchr/testify/require"

	"github.com/strata-cms/strata/ci"
	"github.com/strata-cms/strata/helper/testlog"
	"github.com/strata-cms/strata/hook"
)

func testChain(t *testing.T) (*Chain, *hook.Engine) {
	logger := testlog.HCLogger(t)
	hooks := hook.NewEngine(logger)
	return NewChain(logger, hooks), hooks
}

func tagEntry(id string, order hook.Priority, tags *[]string) *Entry {
	return &Entry{
		ID:    id,
		Order: order,
		Fn: func(*App) error {
			*tags = append(*tags, id)
			return nil
		},
	}
}

func TestChain_Assemble_SortsByOrder(t *testing.T) {
	ci.Parallel(t)
	c, _ := testChain(t)

	var ran []string
	require.NoError(t, c.Register(tagEntry("late", hook.Low, &ran)))
	require.NoError(t, c.Register(tagEntry("early", hook.High, &ran)))
	require.NoError(t, c.Register(tagEntry("middle", hook.Neutral, &ran)))

	require.NoError(t, c.Assemble(NewApp()))
	must.Eq(t, []string{"early", "middle", "late"}, ran)
}

func TestChain_ReplaceAndUnregister(t *testing.T) {
	ci.Parallel(t)
	c, _ := testChain(t)

	var ran []string
	require.NoError(t, c.Register(tagEntry("keep", hook.Neutral, &ran)))
	require.NoError(t, c.Register(tagEntry("swap", hook.Neutral, &ran)))
	require.NoError(t, c.Register(tagEntry("drop", hook.Neutral, &ran)))

	c.Replace("swap", func(*App) error {
		ran = append(ran, "swapped")
		return nil
	})
	c.Unregister("drop")

	require.NoError(t, c.Assemble(NewApp()))
	must.Eq(t, []string{"keep", "swapped"}, ran)
}

func TestChain_Assemble_ContainsFailures(t *testing.T) {
	ci.Parallel(t)
	c, _ := testChain(t)

	var ran []string
	require.NoError(t, c.Register(&Entry{
		ID:    "broken",
		Order: hook.High,
		Fn:    func(*App) error { return errors.New("boom") },
	}))
	require.NoError(t, c.Register(tagEntry("healthy", hook.Neutral, &ran)))

	err := c.Assemble(NewApp())
	require.Error(t, err)
	require.Contains(t, err.Error(), "broken")

	// The failure did not stop the rest of the chain.
	must.Eq(t, []string{"healthy"}, ran)
}

func TestChain_Register_Validation(t *testing.T) {
	ci.Parallel(t)
	c, _ := testChain(t)

	require.Error(t, c.Register(nil))
	require.Error(t, c.Register(&Entry{ID: ""}))
	require.Error(t, c.Register(&Entry{ID: "x"}))
}

func TestChain_RegisterHook_DispatchesMiddlewareHook(t *testing.T) {
	ci.Parallel(t)
	c, hooks := testChain(t)

	_, err := hooks.Register("api-middleware", func(_ context.Context, hc *hook.Context) error {
		mw := hc.Param(0).(*MW)
		mw.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-Plugin", "yes")
				next.ServeHTTP(w, r)
			})
		})
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, c.RegisterHook("api", hook.Neutral))

	app := NewApp()
	app.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	require.NoError(t, c.Assemble(app))

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	must.Eq(t, http.StatusOK, rec.Code)
	must.Eq(t, "yes", rec.Header().Get("X-Plugin"))
}

func TestChain_CoreRecovery(t *testing.T) {
	ci.Parallel(t)
	c, _ := testChain(t)

	require.NoError(t, c.RegisterCore(io.Discard))

	app := NewApp()
	app.HandleFunc("/panic", func(http.ResponseWriter, *http.Request) {
		panic("handler exploded")
	})
	require.NoError(t, c.Assemble(app))

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))

	must.Eq(t, http.StatusInternalServerError, rec.Code)
}

func TestApp_WrapperOrder(t *testing.T) {
	ci.Parallel(t)

	app := NewApp()
	var order []string
	tag := func(name string) Wrapper {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	app.Use(tag("outer"))
	app.Use(tag("inner"))
	app.HandleFunc("/", func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	})

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	must.Eq(t, []string{"outer", "inner", "handler"}, order)
}
