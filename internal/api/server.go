// Package api exposes the generator over HTTP: document management,
// validation and roll endpoints. The engine stays a pure in-process
// library; this package is the host around it.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/RolldeoDev/rolldeo-go/internal/engine"
	"github.com/RolldeoDev/rolldeo-go/internal/httputil"
	"github.com/RolldeoDev/rolldeo-go/internal/storage"
	"github.com/RolldeoDev/rolldeo-go/internal/tables"
	"github.com/RolldeoDev/rolldeo-go/pkg/logger"
	"github.com/RolldeoDev/rolldeo-go/pkg/metrics"
)

const maxDocumentSize = 4 << 20 // 4 MiB per uploaded document

// Server wires the engine, the document store and the HTTP routes.
type Server struct {
	engine *engine.Engine
	store  storage.DocumentStore
	log    *logger.Logger

	metricsEnabled bool
}

// New creates a server.
func New(eng *engine.Engine, store storage.DocumentStore, log *logger.Logger, metricsEnabled bool) *Server {
	return &Server{engine: eng, store: store, log: log, metricsEnabled: metricsEnabled}
}

// LoadStored loads every stored document into the engine and resolves
// imports. Called once at startup.
func (s *Server) LoadStored(ctx context.Context) error {
	recs, err := s.store.List(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		doc, err := tables.Decode(rec.Raw)
		if err != nil {
			s.log.Component("api").WithField("document", rec.ID).Warnf("skipping stored document: %v", err)
			continue
		}
		if err := s.engine.LoadCollection(doc, rec.ID, true); err != nil {
			return err
		}
	}
	s.engine.ResolveImports(nil)
	return nil
}

// Router builds the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	s.handle(r, http.MethodGet, "/healthz", s.handleHealth)
	s.handle(r, http.MethodPost, "/api/documents", s.handleCreateDocument)
	s.handle(r, http.MethodGet, "/api/documents", s.handleListDocuments)
	s.handle(r, http.MethodPost, "/api/documents/validate", s.handleValidate)
	s.handle(r, http.MethodGet, "/api/documents/{id}", s.handleGetDocument)
	s.handle(r, http.MethodPut, "/api/documents/{id}", s.handleUpdateDocument)
	s.handle(r, http.MethodDelete, "/api/documents/{id}", s.handleDeleteDocument)
	s.handle(r, http.MethodGet, "/api/documents/{id}/tables", s.handleListTables)
	s.handle(r, http.MethodGet, "/api/documents/{id}/templates", s.handleListTemplates)
	s.handle(r, http.MethodPost, "/api/documents/{id}/roll/{tableId}", s.handleRoll)
	s.handle(r, http.MethodPost, "/api/documents/{id}/roll-template/{templateId}", s.handleRollTemplate)
	s.handle(r, http.MethodPost, "/api/documents/{id}/preview", s.handlePreview)

	if s.metricsEnabled {
		r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}
	return r
}

func (s *Server) handle(r *mux.Router, method, path string, h http.HandlerFunc) {
	var handler http.Handler = h
	if s.metricsEnabled {
		handler = metrics.InstrumentHandler(path, handler)
	}
	r.Handle(path, handler).Methods(method)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readDocument reads and decodes the request body as a JSON or YAML
// document, returning the canonical JSON raw form for storage.
func readDocument(r *http.Request) (*tables.Document, []byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentSize))
	if err != nil {
		return nil, nil, err
	}
	doc, err := tables.Decode(body)
	if err != nil {
		return nil, nil, err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, err
	}
	return doc, raw, nil
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	doc, raw, err := readDocument(r)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if res := tables.Validate(doc); !res.Valid {
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, res)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		id = doc.Metadata.Namespace
	}
	rec, err := s.store.Put(r.Context(), storage.Record{
		ID:        id,
		Name:      doc.Metadata.Name,
		Namespace: doc.Metadata.Namespace,
		Version:   doc.Metadata.Version,
		Raw:       raw,
	})
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.engine.LoadCollection(doc, id, false); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Component("api").WithField("document", id).Info("document loaded")
	httputil.WriteJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.List(r.Context())
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Raw payloads are large; listings return metadata only.
	for i := range recs {
		recs[i].Raw = nil
	}
	httputil.WriteJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.store.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(rec.Raw)
}

func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	doc, raw, err := readDocument(r)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if res := tables.Validate(doc); !res.Valid {
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	if _, err := s.store.Get(r.Context(), id); errors.Is(err, storage.ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "document not found")
		return
	}
	rec, err := s.store.Put(r.Context(), storage.Record{
		ID:        id,
		Name:      doc.Metadata.Name,
		Namespace: doc.Metadata.Namespace,
		Version:   doc.Metadata.Version,
		Raw:       raw,
	})
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.engine.UpdateDocument(id, doc); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.store.Delete(r.Context(), id); errors.Is(err, storage.ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "document not found")
		return
	} else if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.engine.UnloadCollection(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentSize))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.HasPrefix(strings.TrimLeft(string(body), " \t\r\n"), "{") {
		if res := tables.ValidateRaw(body); !res.Valid {
			httputil.WriteJSON(w, http.StatusOK, res)
			return
		}
	}
	doc, err := tables.Decode(body)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tables.Validate(doc))
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	infos, err := s.engine.ListTables(id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, infos)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	infos, err := s.engine.ListTemplates(id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, infos)
}

func (s *Server) handleRoll(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	opts := engine.RollOptions{EnableTrace: r.URL.Query().Get("trace") == "true"}
	res, err := s.engine.Roll(vars["tableId"], vars["id"], opts)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleRollTemplate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	opts := engine.RollOptions{EnableTrace: r.URL.Query().Get("trace") == "true"}
	res, err := s.engine.RollTemplate(vars["templateId"], vars["id"], opts)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

type previewRequest struct {
	Pattern string            `json:"pattern"`
	Shared  map[string]string `json:"shared,omitempty"`
	Trace   bool              `json:"trace,omitempty"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.engine.EvaluateRawPattern(req.Pattern, id, engine.RawPatternOptions{
		RollOptions: engine.RollOptions{EnableTrace: req.Trace},
		Shared:      req.Shared,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// writeEngineError maps engine errors to HTTP statuses: lookup failures are
// 404, evaluation limits, non-simple inheritance and shadowing are 422, the
// rest 500.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrCollectionNotFound),
		errors.Is(err, engine.ErrTableNotFound),
		errors.Is(err, engine.ErrTemplateNotFound):
		httputil.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrRecursionLimit),
		errors.Is(err, engine.ErrInheritanceDepth),
		errors.Is(err, engine.ErrInheritanceNotSimple),
		errors.Is(err, engine.ErrShadowedVariable):
		httputil.WriteError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
