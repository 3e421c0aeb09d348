package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"qrlink/pkg/analytics"
	"qrlink/pkg/enrich"
	"qrlink/pkg/ingest"
	"qrlink/pkg/middleware"
	"qrlink/pkg/render"
	"qrlink/pkg/service"
	"qrlink/pkg/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const maxUploadBytes = 10 << 20

type Handler struct {
	codes     *service.CodeService
	enricher  *enrich.Enricher
	pipeline  *ingest.Pipeline
	analytics *analytics.Aggregator
	renderer  render.Renderer
	baseURL   string
	validate  *validator.Validate
}

func NewHandler(codes *service.CodeService, enricher *enrich.Enricher, pipeline *ingest.Pipeline, aggregator *analytics.Aggregator, renderer render.Renderer, baseURL string) *Handler {
	return &Handler{
		codes:     codes,
		enricher:  enricher,
		pipeline:  pipeline,
		analytics: aggregator,
		renderer:  renderer,
		baseURL:   strings.TrimRight(baseURL, "/"),
		validate:  validator.New(),
	}
}

type codeResponse struct {
	ID          uuid.UUID  `json:"id"`
	PublicToken string     `json:"public_token"`
	Variant     string     `json:"variant"`
	Destination string     `json:"destination,omitempty"`
	BlobID      *uuid.UUID `json:"blob_id,omitempty"`
	DisplayName *string    `json:"display_name,omitempty"`
	IsActive    bool       `json:"is_active"`
	ScanURL     string     `json:"scan_url"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (h *Handler) toResponse(code *storage.Code) codeResponse {
	return codeResponse{
		ID:          code.ID,
		PublicToken: code.PublicToken,
		Variant:     string(code.Variant),
		Destination: code.Destination,
		BlobID:      code.BlobID,
		DisplayName: code.DisplayName,
		IsActive:    code.IsActive,
		ScanURL:     h.scanURL(code.PublicToken),
		CreatedAt:   code.CreatedAt,
		UpdatedAt:   code.UpdatedAt,
	}
}

// scanURL is the QR payload: the public resolution URL for a token. Any
// generic reader that scans the code lands on the resolution endpoint.
func (h *Handler) scanURL(token string) string {
	return h.baseURL + "/" + token
}

// Resolve serves GET /{token}: redirect, file download, disabled page, or a
// uniform not-found. The scan is recorded off the response path.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	code, err := h.codes.Resolve(r.Context(), token)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			h.renderNotFound(w)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	dest, err := h.codes.CurrentDestination(code)
	if err != nil {
		if errors.Is(err, service.ErrInactive) {
			h.renderDisabled(w)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.trackScan(r, code.ID)

	if dest.IsBlob() {
		blob, err := h.codes.GetBlob(r.Context(), dest.BlobID)
		if err != nil {
			if errors.Is(err, service.ErrNotFound) {
				h.renderNotFound(w)
				return
			}
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", blob.ContentType)
		w.Header().Set("Content-Length", strconv.FormatInt(blob.Size, 10))
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", blob.OriginalFilename))
		w.Write(blob.Data)
		return
	}

	http.Redirect(w, r, dest.URL, http.StatusFound)
}

// trackScan enriches and records the scan in a short-lived goroutine so a
// slow geo lookup or a stalled queue can never delay the redirect.
func (h *Handler) trackScan(r *http.Request, codeID uuid.UUID) {
	ip := enrich.ClientIP(r)
	userAgent := r.UserAgent()
	var referrer *string
	if ref := r.Referer(); ref != "" {
		referrer = &ref
	}

	ctx := context.WithoutCancel(r.Context())
	go func() {
		facts := h.enricher.Enrich(ctx, ip, userAgent)
		h.pipeline.Record(codeID, facts, ip, userAgent, referrer)
	}()
}

type createCodeRequest struct {
	Variant     string  `json:"variant" validate:"required,oneof=static_url dynamic"`
	Destination string  `json:"destination" validate:"required"`
	DisplayName *string `json:"display_name,omitempty" validate:"omitempty,max=255"`
}

func (h *Handler) CreateCode(w http.ResponseWriter, r *http.Request) {
	var req createCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, validationMessage(err), http.StatusBadRequest)
		return
	}

	var code *storage.Code
	var err error
	switch storage.CodeVariant(req.Variant) {
	case storage.VariantDynamic:
		code, err = h.codes.CreateDynamic(r.Context(), req.Destination, req.DisplayName)
	default:
		code, err = h.codes.CreateStaticURL(r.Context(), req.Destination)
	}
	if err != nil {
		if errors.Is(err, service.ErrInvalidOperation) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, h.toResponse(code))
}

func (h *Handler) CreateFileCode(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read upload", http.StatusBadRequest)
		return
	}

	code, err := h.codes.CreateFile(r.Context(), header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		if errors.Is(err, service.ErrInvalidOperation) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, h.toResponse(code))
}

func (h *Handler) GetCode(w http.ResponseWriter, r *http.Request) {
	code, ok := h.codeFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(code))
}

func (h *Handler) ListCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := h.codes.List(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	responses := make([]codeResponse, 0, len(codes))
	for _, code := range codes {
		responses = append(responses, h.toResponse(code))
	}
	writeJSON(w, http.StatusOK, responses)
}

func (h *Handler) UpdateCode(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	var req service.UpdateCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	code, err := h.codes.Update(r.Context(), id, &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			http.Error(w, "not found", http.StatusNotFound)
		case errors.Is(err, service.ErrInvalidOperation):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, h.toResponse(code))
}

func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	code, ok := h.codeFromPath(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filters := analytics.Filters{
		Country:    q.Get("country"),
		City:       q.Get("city"),
		DeviceType: q.Get("device"),
		Browser:    q.Get("browser"),
	}

	stats, err := h.analytics.Summarize(r.Context(), code.ID, filters)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	code, ok := h.codeFromPath(w, r)
	if !ok {
		return
	}

	format, err := render.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := h.renderer.Render(h.scanURL(code.PublicToken), format)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("qr_%s.%s", code.ID, format)))
	w.Write(data)
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) codeFromPath(w http.ResponseWriter, r *http.Request) (*storage.Code, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return nil, false
	}
	code, err := h.codes.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return nil, false
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil, false
	}
	return code, true
}

// renderNotFound is the single outcome for malformed and unknown tokens.
func (h *Handler) renderNotFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(`<html><head><title>Not Found</title></head><body><h2>This code does not exist.</h2></body></html>`))
}

func (h *Handler) renderDisabled(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusGone)
	w.Write([]byte(`<html><head><title>Code Deactivated</title></head><body><h2>This code has been deactivated.</h2></body></html>`))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
		return "invalid request: " + strings.Join(fields, ", ")
	}
	return "invalid request"
}

func SetupRoutes(r *chi.Mux, handler *Handler, oauthMiddleware *middleware.OAuthMiddleware) {
	r.Use(middleware.CorrelationID)
	r.Get("/health", handler.HealthCheck)
	r.Route("/v1", func(r chi.Router) {
		if oauthMiddleware != nil {
			r.With(oauthMiddleware.Authenticate("codes:write")).Post("/codes", handler.CreateCode)
			r.With(oauthMiddleware.Authenticate("codes:write")).Post("/codes/file", handler.CreateFileCode)
			r.With(oauthMiddleware.Authenticate("codes:read")).Get("/codes", handler.ListCodes)
			r.With(oauthMiddleware.Authenticate("codes:read")).Get("/codes/{id}", handler.GetCode)
			r.With(oauthMiddleware.Authenticate("codes:write")).Patch("/codes/{id}", handler.UpdateCode)
			r.With(oauthMiddleware.Authenticate("codes:read")).Get("/codes/{id}/analytics", handler.Analytics)
			r.With(oauthMiddleware.Authenticate("codes:read")).Get("/codes/{id}/download/{format}", handler.Download)
		} else {
			r.Post("/codes", handler.CreateCode)
			r.Post("/codes/file", handler.CreateFileCode)
			r.Get("/codes", handler.ListCodes)
			r.Get("/codes/{id}", handler.GetCode)
			r.Patch("/codes/{id}", handler.UpdateCode)
			r.Get("/codes/{id}/analytics", handler.Analytics)
			r.Get("/codes/{id}/download/{format}", handler.Download)
		}
	})
	r.Get("/{token}", handler.Resolve)
}
