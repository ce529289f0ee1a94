package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/strata-cms/strata/capability"
	"github.com/strata-cms/strata/gateway"
	"github.com/strata-cms/strata/middleware"
	"github.com/strata-cms/strata/search"
	"github.com/strata-cms/strata/structs"
	"github.com/strata-cms/strata/version"
)

// HTTPCodedError is an error carrying the HTTP status it should produce.
type HTTPCodedError interface {
	error
	Code() int
}

type codedError struct {
	s    string
	code int
}

func (e *codedError) Error() string { return e.s }
func (e *codedError) Code() int     { return e.code }

// CodedError returns an HTTPCodedError.
func CodedError(c int, s string) HTTPCodedError {
	return &codedError{s, c}
}

var (
	errInvalidMethod = CodedError(http.StatusMethodNotAllowed, "Invalid method")
	errNotFound      = CodedError(http.StatusNotFound, "Not found")
)

// HTTPServer serves the v1 API over the assembled middleware pipeline.
type HTTPServer struct {
	logger hclog.Logger
	agent  *Agent
	app    *middleware.App
	srv    *http.Server
	ln     net.Listener
}

// NewHTTPServer registers the v1 routes and assembles the middleware chain.
// Listening starts in Serve.
func NewHTTPServer(a *Agent) (*HTTPServer, error) {
	s := &HTTPServer{
		logger: a.logger.Named("http"),
		agent:  a,
		app:    middleware.NewApp(),
	}
	s.registerHandlers()

	if err := a.rt.Middleware.Assemble(s.app); err != nil {
		// Installer failures are contained; the surviving pipeline serves.
		s.logger.Error("middleware assembly reported errors", "error", err)
	}

	s.srv = &http.Server{
		Handler:           s.app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *HTTPServer) registerHandlers() {
	s.app.HandleFunc("/v1/status", s.wrap(s.StatusRequest))
	s.app.HandleFunc("/v1/plugins", s.wrap(s.PluginsRequest))
	s.app.HandleFunc("/v1/plugin/", s.wrap(s.PluginRequest))
	s.app.HandleFunc("/v1/function/", s.wrap(s.FunctionRequest))
	s.app.HandleFunc("/v1/syndicate/client", s.wrap(s.SyndicateClientRequest))
	s.app.HandleFunc("/v1/syndicate/token", s.wrap(s.SyndicateTokenRequest))
	s.app.HandleFunc("/v1/syndicate/types", s.wrap(s.SyndicateTypesRequest))
	s.app.HandleFunc("/v1/syndicate/content", s.wrap(s.SyndicateContentRequest))
	s.app.HandleFunc("/v1/syndicate/media", s.wrap(s.SyndicateMediaRequest))
	s.app.HandleFunc("/v1/syndicate/taxonomies", s.wrap(s.SyndicateTaxonomiesRequest))
	s.app.HandleFunc("/v1/search", s.wrap(s.SearchRequest))
}

// Serve binds the listener and serves in the background.
func (s *HTTPServer) Serve() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.agent.config.Port))
	if err != nil {
		return fmt.Errorf("http listen failed: %w", err)
	}
	s.ln = ln

	go func() {
		var serveErr error
		if s.agent.config.TLSCert != "" {
			serveErr = s.srv.ServeTLS(ln, s.agent.config.TLSCert, s.agent.config.TLSKey)
		} else {
			serveErr = s.srv.Serve(ln)
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("http server failed", "error", serveErr)
		}
	}()
	return nil
}

// Addr returns the bound address, empty before Serve.
func (s *HTTPServer) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown drains and stops the server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// wrap adapts an (interface{}, error) handler into an http.HandlerFunc with
// JSON encoding and coded-error mapping.
func (s *HTTPServer) wrap(handler func(resp http.ResponseWriter, req *http.Request) (interface{}, error)) http.HandlerFunc {
	return func(resp http.ResponseWriter, req *http.Request) {
		start := time.Now()
		defer func() {
			s.logger.Debug("request complete", "method", req.Method,
				"path", req.URL.Path, "duration", time.Since(start))
		}()

		obj, err := handler(resp, req)
		if err != nil {
			code := http.StatusInternalServerError
			var coded HTTPCodedError
			switch {
			case errors.As(err, &coded):
				code = coded.Code()
			case errors.Is(err, structs.ErrPermissionDenied):
				code = http.StatusForbidden
			}
			resp.WriteHeader(code)
			fmt.Fprint(resp, err.Error())
			return
		}
		if obj == nil {
			resp.WriteHeader(http.StatusNoContent)
			return
		}

		buf, err := json.Marshal(obj)
		if err != nil {
			resp.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(resp, err.Error())
			return
		}
		resp.Header().Set("Content-Type", "application/json")
		resp.Write(buf)
	}
}

// identity resolves the caller from the master key header. Anything else is
// anonymous.
func (s *HTTPServer) identity(req *http.Request) *capability.Identity {
	if key := req.Header.Get("X-Master-Key"); key != "" && key == s.agent.config.MasterKey {
		return capability.MasterIdentity()
	}
	if user := req.Header.Get("X-Username"); user != "" {
		return capability.NewIdentity(user, false)
	}
	return nil
}

// bearerToken extracts the Authorization bearer token.
func bearerToken(req *http.Request) string {
	auth := req.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return ""
	}
	return token
}

func (s *HTTPServer) StatusRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, errInvalidMethod
	}
	return map[string]interface{}{
		"version": version.Version,
		"plugins": len(s.agent.rt.Catalog.List()),
		"adapter": s.agent.rt.Filestore.CurrentID(),
	}, nil
}

func (s *HTTPServer) PluginsRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, errInvalidMethod
	}
	return s.agent.rt.Catalog.List(), nil
}

// PluginRequest serves /v1/plugin/<id> and its activate/deactivate actions.
func (s *HTTPServer) PluginRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	path := strings.TrimPrefix(req.URL.Path, "/v1/plugin/")
	id, action, _ := strings.Cut(path, "/")
	if id == "" {
		return nil, errNotFound
	}

	switch req.Method {
	case http.MethodGet:
		if action != "" {
			return nil, errNotFound
		}
		p, ok := s.agent.rt.Catalog.Get(id)
		if !ok {
			return nil, errNotFound
		}
		return p, nil

	case http.MethodPost:
		if !s.identity(req).Has(capability.PluginsManage) {
			return nil, structs.ErrPermissionDenied
		}
		switch action {
		case "activate":
			return nil, s.agent.rt.Catalog.Activate(req.Context(), id)
		case "deactivate":
			return nil, s.agent.rt.Catalog.Deactivate(req.Context(), id)
		default:
			return nil, errNotFound
		}

	case http.MethodDelete:
		if !s.identity(req).Has(capability.PluginsManage) {
			return nil, structs.ErrPermissionDenied
		}
		if action != "" {
			return nil, errNotFound
		}
		if err := s.agent.rt.Catalog.Delete(req.Context(), id); err != nil {
			if errors.Is(err, structs.ErrBuiltinDelete) {
				return nil, CodedError(http.StatusBadRequest, structs.ErrBuiltinDelete.Error())
			}
			return nil, err
		}
		return nil, nil

	default:
		return nil, errInvalidMethod
	}
}

// FunctionRequest invokes a gateway function: POST /v1/function/<name> with
// a JSON parameter object.
func (s *HTTPServer) FunctionRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodPost {
		return nil, errInvalidMethod
	}
	name := strings.TrimPrefix(req.URL.Path, "/v1/function/")
	if name == "" || strings.Contains(name, "/") {
		return nil, errNotFound
	}

	params := make(map[string]interface{})
	if err := json.NewDecoder(req.Body).Decode(&params); err != nil && !errors.Is(err, io.EOF) {
		return nil, CodedError(http.StatusBadRequest, err.Error())
	}

	return s.agent.rt.Gateway.Call(req.Context(), name, &gateway.Request{
		Params:   params,
		Identity: s.identity(req),
	})
}

func (s *HTTPServer) SyndicateClientRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodPost {
		return nil, errInvalidMethod
	}

	var body struct {
		Client string `json:"client"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return nil, CodedError(http.StatusBadRequest, err.Error())
	}
	return s.agent.rt.Syndicate.Create(req.Context(), body.Client, s.identity(req))
}

func (s *HTTPServer) SyndicateTokenRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodPost {
		return nil, errInvalidMethod
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return nil, CodedError(http.StatusBadRequest, err.Error())
	}
	access, err := s.agent.rt.Syndicate.Token(req.Context(), body.Token)
	if err != nil {
		return nil, err
	}
	return map[string]string{"token": access}, nil
}

func (s *HTTPServer) SyndicateTypesRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, errInvalidMethod
	}
	return s.agent.rt.Content.Types(req.Context(), bearerToken(req), s.identity(req))
}

func (s *HTTPServer) SyndicateContentRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, errInvalidMethod
	}
	machineName := req.URL.Query().Get("type")
	if machineName == "" {
		return nil, CodedError(http.StatusBadRequest, "missing type parameter")
	}
	return s.agent.rt.Content.List(req.Context(), bearerToken(req), s.identity(req), machineName)
}

func (s *HTTPServer) SyndicateMediaRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, errInvalidMethod
	}
	return s.agent.rt.Content.Media(req.Context(), bearerToken(req), s.identity(req))
}

func (s *HTTPServer) SyndicateTaxonomiesRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, errInvalidMethod
	}
	return s.agent.rt.Content.Taxonomies(req.Context(), bearerToken(req), s.identity(req))
}

func (s *HTTPServer) SearchRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodPost {
		return nil, errInvalidMethod
	}

	var body search.Request
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return nil, CodedError(http.StatusBadRequest, err.Error())
	}
	return s.agent.rt.Search.Search(req.Context(), &body)
}
