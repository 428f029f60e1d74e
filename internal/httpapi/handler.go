// Package httpapi exposes the storefront pages and the REST API.
package httpapi

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/mhollis/bookstore/internal/auth"
	"github.com/mhollis/bookstore/internal/bookstore/order"
	"github.com/mhollis/bookstore/internal/metrics"
	"github.com/mhollis/bookstore/internal/middleware"
	"github.com/mhollis/bookstore/internal/services/catalog"
	"github.com/mhollis/bookstore/internal/services/checkout"
	"github.com/mhollis/bookstore/internal/services/orders"
	"github.com/mhollis/bookstore/internal/storage"
	"github.com/mhollis/bookstore/internal/vision"
	"github.com/mhollis/bookstore/pkg/logger"
)

//go:embed templates/*.html
var templateFS embed.FS

// maxUploadBytes bounds cover uploads and webhook payloads.
const maxUploadBytes = 10 << 20

// Handler bundles the HTTP endpoints over the application services.
type Handler struct {
	catalog   *catalog.Service
	orders    *orders.Service
	checkout  *checkout.Service
	vision    *vision.Analyzer
	auth      *auth.Authenticator
	metrics   *metrics.Metrics
	mediaDir  string
	ping      func(context.Context) error
	log       *logger.Logger
	templates *template.Template
}

// Config carries the handler's collaborators.
type Config struct {
	Catalog  *catalog.Service
	Orders   *orders.Service
	Checkout *checkout.Service
	Vision   *vision.Analyzer
	Auth     *auth.Authenticator
	Metrics  *metrics.Metrics
	MediaDir string
	// Ping checks backing-store connectivity for /healthz. Optional.
	Ping func(context.Context) error
	// RequestsPerSecond throttles public endpoints per client IP.
	RequestsPerSecond float64
	Burst             int
}

// NewHandler builds the router with all routes and middleware attached.
func NewHandler(cfg Config) (http.Handler, error) {
	tpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	h := &Handler{
		catalog:   cfg.Catalog,
		orders:    cfg.Orders,
		checkout:  cfg.Checkout,
		vision:    cfg.Vision,
		auth:      cfg.Auth,
		metrics:   cfg.Metrics,
		mediaDir:  cfg.MediaDir,
		ping:      cfg.Ping,
		log:       logger.NewDefault("httpapi"),
		templates: tpl,
	}

	r := mux.NewRouter()
	r.Use(cfg.Metrics.Middleware())
	r.Use(middleware.CORS)

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", cfg.Metrics.Handler()).Methods(http.MethodGet)

	// Webhook deliveries come from the payment provider, not shoppers, so
	// they bypass the per-IP limiter.
	r.HandleFunc("/stripe/webhook", h.stripeWebhook).Methods(http.MethodPost)

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 20
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 40
	}
	limiter := middleware.NewRateLimiter(rps, burst)

	public := r.NewRoute().Subrouter()
	public.Use(limiter.Handler)
	public.HandleFunc("/", h.bookListPage).Methods(http.MethodGet)
	public.HandleFunc("/api/books", h.listBooks).Methods(http.MethodGet)
	public.HandleFunc("/api/books/{id}", h.getBook).Methods(http.MethodGet)
	public.HandleFunc("/books/{id}/buy", h.buyBook).Methods(http.MethodPost)
	public.HandleFunc("/checkout/success", h.checkoutSuccess).Methods(http.MethodGet)
	public.HandleFunc("/checkout/cancel", h.checkoutCancel).Methods(http.MethodGet)
	public.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)

	admin := r.NewRoute().Subrouter()
	admin.Use(middleware.RequireAdmin(cfg.Auth))
	admin.HandleFunc("/api/books", h.createBook).Methods(http.MethodPost)
	admin.HandleFunc("/api/books/{id}", h.updateBook).Methods(http.MethodPatch)
	admin.HandleFunc("/api/books/{id}/cover", h.uploadCover).Methods(http.MethodPost)
	admin.HandleFunc("/api/covers/analyze", h.analyzeCover).Methods(http.MethodPost)
	admin.HandleFunc("/api/orders", h.listOrders).Methods(http.MethodGet)
	admin.HandleFunc("/api/orders/{id}", h.getOrder).Methods(http.MethodGet)
	admin.HandleFunc("/api/orders/{id}/fulfill", h.fulfillOrder).Methods(http.MethodPost)

	r.PathPrefix("/media/").Handler(
		http.StripPrefix("/media/", http.FileServer(http.Dir(cfg.MediaDir))))

	return r, nil
}

// Storefront pages ------------------------------------------------------------

func (h *Handler) bookListPage(w http.ResponseWriter, r *http.Request) {
	books, err := h.catalog.ListBooks(r.Context(), false)
	if err != nil {
		h.log.WithError(err).Error("failed to list books for storefront")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	data := map[string]interface{}{"Books": books}
	if r.URL.Query().Get("error") == "checkout" {
		data["Flash"] = "Sorry, we could not start your checkout. Please try again."
	}
	h.renderPage(w, "book_list.html", data)
}

func (h *Handler) checkoutSuccess(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{}
	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
		if o, err := h.checkout.SessionOrder(r.Context(), sessionID); err == nil {
			data["Order"] = o
		}
	}
	h.renderPage(w, "checkout_success.html", data)
}

func (h *Handler) checkoutCancel(w http.ResponseWriter, _ *http.Request) {
	h.renderPage(w, "checkout_cancel.html", nil)
}

func (h *Handler) renderPage(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.ExecuteTemplate(w, name, data); err != nil {
		h.log.WithError(err).WithField("template", name).Error("template render failed")
	}
}

// Catalog API -----------------------------------------------------------------

func (h *Handler) listBooks(w http.ResponseWriter, r *http.Request) {
	includeUnavailable := r.URL.Query().Get("include_unavailable") == "true"
	if includeUnavailable && !h.isAdmin(r) {
		writeError(w, http.StatusUnauthorized, errors.New("admin token required"))
		return
	}
	books, err := h.catalog.ListBooks(r.Context(), includeUnavailable)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (h *Handler) getBook(w http.ResponseWriter, r *http.Request) {
	b, err := h.catalog.GetBook(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) createBook(w http.ResponseWriter, r *http.Request) {
	var in catalog.BookInput
	if err := decodeJSON(r.Body, &in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	b, err := h.catalog.CreateBook(r.Context(), in)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *Handler) updateBook(w http.ResponseWriter, r *http.Request) {
	var patch catalog.BookPatch
	if err := decodeJSON(r.Body, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	b, err := h.catalog.UpdateBook(r.Context(), mux.Vars(r)["id"], patch)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) uploadCover(w http.ResponseWriter, r *http.Request) {
	data, err := readUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	b, err := h.catalog.AttachCover(r.Context(), mux.Vars(r)["id"], data)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) analyzeCover(w http.ResponseWriter, r *http.Request) {
	data, err := readUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	details, err := h.vision.Analyze(r.Context(), data)
	switch {
	case errors.Is(err, vision.ErrNotConfigured):
		writeError(w, http.StatusInternalServerError, err)
		return
	case errors.Is(err, vision.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err)
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// readUpload extracts the cover_image part of a multipart request.
func readUpload(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, fmt.Errorf("parse upload: %w", err)
	}
	file, _, err := r.FormFile("cover_image")
	if err != nil {
		return nil, errors.New("no image provided")
	}
	defer file.Close()
	return io.ReadAll(io.LimitReader(file, maxUploadBytes))
}

// Checkout --------------------------------------------------------------------

func (h *Handler) buyBook(w http.ResponseWriter, r *http.Request) {
	url, err := h.checkout.Begin(r.Context(), mux.Vars(r)["id"])
	switch {
	case err == nil:
		http.Redirect(w, r, url, http.StatusSeeOther)
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrBookUnavailable):
		writeError(w, statusFor(err), err)
	default:
		// Gateway hiccups send the shopper back to the storefront with a
		// notice instead of a bare 500.
		h.log.WithError(err).Error("checkout initiation failed")
		http.Redirect(w, r, "/?error=checkout", http.StatusSeeOther)
	}
}

func (h *Handler) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.log.Warn("webhook delivery without signature header")
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "error", "message": "Missing signature header",
		})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result := h.checkout.HandleWebhook(r.Context(), payload, sigHeader)
	writeJSON(w, result.Code, map[string]string{
		"status": result.Status, "message": result.Message,
	})
}

// Orders API ------------------------------------------------------------------

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	status := order.Status(r.URL.Query().Get("status"))
	list, err := h.orders.List(r.Context(), status)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) fulfillOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Fulfill(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// Auth ------------------------------------------------------------------------

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	token, err := h.auth.Login(payload.Username, payload.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) isAdmin(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	_, err := h.auth.Verify(token)
	return err == nil
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		if err := h.ping(r.Context()); err != nil {
			h.log.WithError(err).Error("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Helpers ---------------------------------------------------------------------

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrDuplicate),
		errors.Is(err, storage.ErrBookUnavailable),
		errors.Is(err, orders.ErrNotPaid):
		return http.StatusConflict
	case errors.Is(err, catalog.ErrInvalid),
		errors.Is(err, orders.ErrInvalidStatus):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
