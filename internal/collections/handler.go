package collections

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/crestline/renewals/pkg/handlers"
	"github.com/crestline/renewals/pkg/routes"
	"github.com/crestline/renewals/pkg/storage"
)

type Handler struct {
	sys       System
	cfg       Config
	maxUpload int64
	logger    *slog.Logger
}

func NewHandler(sys System, cfg Config, maxUpload int64, logger *slog.Logger) *Handler {
	return &Handler{
		sys:       sys,
		cfg:       cfg,
		maxUpload: maxUpload,
		logger:    logger.With("handler", "collections"),
	}
}

func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/collections",
		Routes: []routes.Route{
			{Method: http.MethodGet, Pattern: "/{collection}", Handler: h.list},
			{Method: http.MethodGet, Pattern: "/{collection}/context", Handler: h.context},
			{Method: http.MethodGet, Pattern: "/{collection}/documents/{name}", Handler: h.download},
			{Method: http.MethodHead, Pattern: "/{collection}/documents/{name}", Handler: h.head},
			{Method: http.MethodPut, Pattern: "/{collection}/documents/{name}", Handler: h.upload},
			{Method: http.MethodDelete, Pattern: "/{collection}/documents/{name}", Handler: h.remove},
		},
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	maxResults, err := storage.ParseMaxResults(r.URL.Query().Get("max_results"), h.cfg.ListPageSize)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	result, err := h.sys.List(r.Context(), r.PathValue("collection"), r.URL.Query().Get("marker"), maxResults)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) context(w http.ResponseWriter, r *http.Request) {
	content, err := h.sys.Context(r.Context(), r.PathValue("collection"))
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, content)
}

func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	doc, err := h.sys.Download(r.Context(), r.PathValue("collection"), r.PathValue("name"))
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	defer doc.Body.Close()

	if doc.ContentType != "" {
		w.Header().Set("Content-Type", doc.ContentType)
	}
	if doc.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(doc.ContentLength, 10))
	}

	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, doc.Body); err != nil {
		h.logger.Error("document stream failed", "error", err)
	}
}

func (h *Handler) head(w http.ResponseWriter, r *http.Request) {
	info, err := h.sys.Find(r.Context(), r.PathValue("collection"), r.PathValue("name"))
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(info.ContentLength, 10))
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	defer r.Body.Close()

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	collection := r.PathValue("collection")
	name := r.PathValue("name")

	if err := h.sys.Upload(r.Context(), collection, name, r.Body, contentType); err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	info, err := h.sys.Find(r.Context(), collection, name)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusCreated, info)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.sys.Delete(r.Context(), r.PathValue("collection"), r.PathValue("name")); err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
