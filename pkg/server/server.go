// Package server exposes the overlay engine's public operations over
// HTTP: an http.Server plus a single path-dispatching handler that
// accepts an overlay blob or a changeset id and returns a JSON status
// body.
package server

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"gopkg.in/yaml.v3"

	"github.com/nirmata/dtoverlay/pkg/overlay"
)

const (
	applyPath     = "/overlay"
	removePrefix  = "/overlay/"
	removeAllPath = "/overlay/remove-all"
)

// Server is the HTTP front door for a Manager: the process boundary an
// out-of-process caller uses to reach fdt_apply/remove/remove_all without
// linking the Go package directly.
type Server struct {
	httpServer http.Server
	manager    *overlay.Manager
}

// Option configures optional TLS on the listener. Without an Option the
// server listens over plain HTTP, useful for local tooling and tests.
type Option func(*Server)

// WithTLS configures the server to terminate TLS using the given
// certificate pair.
func WithTLS(certPEM, keyPEM []byte) Option {
	return func(s *Server) {
		pair, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			glog.Errorf("server: invalid TLS certificate, falling back to plain HTTP: %v", err)
			return
		}
		s.httpServer.TLSConfig = &tls.Config{Certificates: []tls.Certificate{pair}}
	}
}

// New builds a Server bound to addr, dispatching every overlay operation
// through mgr.
func New(addr string, mgr *overlay.Manager, opts ...Option) *Server {
	s := &Server{manager: mgr}
	mux := http.NewServeMux()
	mux.HandleFunc(applyPath, s.serve)
	mux.HandleFunc(removePrefix, s.serve)

	s.httpServer = http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// statusResponse is the JSON body returned from every endpoint.
type statusResponse struct {
	OverlayID int    `json:"overlayId,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// serve is the single dispatching handler: one entrypoint, a switch on
// method+path, a JSON body out.
func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == applyPath:
		s.handleApply(w, r)
	case r.Method == http.MethodPost && r.URL.Path == removeAllPath:
		s.handleRemoveAll(w, r)
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, removePrefix):
		s.handleRemove(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	blob, err := applyBlob(r.Header.Get("Content-Type"), body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, err := s.manager.Apply(blob, nil)
	if err != nil {
		writeError(w, classifyStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{OverlayID: id, Status: "applied"})
}

// applyRequest is the declarative envelope accepted alongside a raw FDT
// blob body, matching the manifest-file shape pkg/config already reads
// with the same library: a YAML document naming a base64-encoded overlay
// blob, for callers that would rather send one request body than juggle a
// separate Content-Type per overlay source.
type applyRequest struct {
	Overlay string `yaml:"overlay"`
}

// applyBlob extracts the raw FDT bytes to apply from a request body, either
// because it already is one (the default, raw-octet-stream case) or by
// decoding a YAML envelope when contentType names a YAML media type.
func applyBlob(contentType string, body []byte) ([]byte, error) {
	if !strings.Contains(contentType, "yaml") {
		return body, nil
	}
	var req applyRequest
	if err := yaml.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decoding yaml apply request: %w", err)
	}
	if req.Overlay == "" {
		return nil, errors.New("yaml apply request missing \"overlay\" field")
	}
	blob, err := base64.StdEncoding.DecodeString(req.Overlay)
	if err != nil {
		return nil, fmt.Errorf("decoding base64 overlay field: %w", err)
	}
	return blob, nil
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, removePrefix)
	id, err := strconv.Atoi(idStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid overlay id %q", idStr))
		return
	}
	if err := s.manager.Remove(id); err != nil {
		writeError(w, classifyStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{OverlayID: id, Status: "removed"})
}

func (s *Server) handleRemoveAll(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.RemoveAll(); err != nil {
		writeError(w, classifyStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "all overlays removed"})
}

// classifyStatus maps a boundary error to an HTTP status.
func classifyStatus(err error) int {
	switch {
	case errors.Is(err, overlay.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, overlay.ErrNoDev):
		return http.StatusNotFound
	case errors.Is(err, overlay.ErrBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, errors.New("empty body")
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty body")
	}
	return data, nil
}

func writeJSON(w http.ResponseWriter, status int, body statusResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		glog.Errorf("server: encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	glog.Warningf("server: request failed: %v", err)
	writeJSON(w, status, statusResponse{Status: "error", Error: err.Error()})
}

// RunAsync starts the HTTP server in a separate goroutine and returns
// control immediately.
func (s *Server) RunAsync() {
	go func() {
		glog.V(3).Infof("server: serving on %s", s.httpServer.Addr)
		var err error
		if s.httpServer.TLSConfig != nil {
			err = s.httpServer.ListenAndServeTLS("", "")
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			glog.Errorf("server: HTTP server error: %v", err)
		}
	}()
	glog.Info("server: started overlay HTTP server")
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		glog.Warningf("server: shutdown error: %v", err)
		s.httpServer.Close()
	}
}
