package projects

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/MuistotKartalla/muistot-backend-sub001/internal/platform/cache"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/platform/httpx"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/rbac"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/shared"
)

// Cache names of the read endpoints.
const (
	CacheProjects = "projects"
	CacheProject  = "project"
	CacheSite     = "site"
	CacheMemory   = "memory"
)

// Caches are the named response caches of the read endpoints.
type Caches struct {
	Projects *cache.Cache
	Project  *cache.Cache
	Site     *cache.Cache
	Memory   *cache.Cache
}

// NewCaches declares the caches and the eviction graph between them on reg.
func NewCaches(reg *cache.Registry) Caches {
	return Caches{
		Projects: reg.Named(CacheProjects, CacheProject),
		Project:  reg.Named(CacheProject, CacheProjects, CacheSite),
		Site:     reg.Named(CacheSite, CacheProject, CacheMemory),
		Memory:   reg.Named(CacheMemory, CacheSite),
	}
}

// Handler wires project, content and admin endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	caches    Caches
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, caches Caches) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, caches: caches, validator: validator.New()}
}

// personalised requests bypass the caches.
func personalised(r *http.Request) bool {
	return shared.UserFromContext(r.Context()).IsAuthenticated()
}

func language(r *http.Request) any {
	return httpx.LanguageFromContext(r.Context())
}

// MountRoutes registers project routes.
func (h *Handler) MountRoutes(r chi.Router) {
	anonymous := cache.Exclude(personalised)
	byLanguage := cache.Derive(language)

	r.Route("/projects", func(r chi.Router) {
		r.With(h.caches.Projects.Populate(byLanguage, anonymous)).Get("/", h.listProjects)

		r.Route("/{project}", func(r chi.Router) {
			r.With(h.caches.Project.Populate(cache.Key("project"), byLanguage, anonymous)).Get("/", h.getProject)
			r.Group(func(r chi.Router) {
				r.Use(rbac.RequireAdminIn("project"), h.caches.Project.Evict)
				r.Put("/publish", h.publish(true))
				r.Put("/unpublish", h.publish(false))
			})

			r.Route("/sites/{site}", func(r chi.Router) {
				r.With(h.caches.Site.Populate(cache.Key("project", "site"), byLanguage, anonymous)).Get("/", h.getSite)
				r.Group(func(r chi.Router) {
					r.Use(rbac.RequireModeratorIn("project"), h.caches.Site.Evict)
					r.Put("/publish", h.publish(true))
					r.Put("/unpublish", h.publish(false))
				})

				r.Route("/memories/{memory}", func(r chi.Router) {
					r.With(h.caches.Memory.Populate(cache.Key("project", "site", "memory"), byLanguage, anonymous)).Get("/", h.getMemory)
					r.Group(func(r chi.Router) {
						r.Use(rbac.RequireModeratorIn("project"), h.caches.Memory.Evict)
						r.Put("/publish", h.publish(true))
						r.Put("/unpublish", h.publish(false))
					})

					r.Route("/comments/{comment}", func(r chi.Router) {
						r.Get("/", h.getComment)
						r.Group(func(r chi.Router) {
							r.Use(rbac.RequireModeratorIn("project"), h.caches.Memory.Evict)
							r.Put("/publish", h.publish(true))
							r.Put("/unpublish", h.publish(false))
						})
					})
				})
			})
		})
	})
}

// MountAdminRoutes registers administration routes.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	r.With(rbac.RequireScopes(shared.ScopeAdmin)).Get("/projects", h.listAdministered)
	r.With(rbac.RequireAdminIn("project")).Post("/projects/{project}/admins", h.grantAdmin)
	r.With(rbac.RequireScopes(shared.ScopeSuperuser)).Delete("/users/{username}/sessions", h.purgeSessions)
}

type projectResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Published bool      `json:"published"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status,omitempty"`
}

type siteResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Lat       *float64  `json:"lat,omitempty"`
	Lon       *float64  `json:"lon,omitempty"`
	Published bool      `json:"published"`
	Own       bool      `json:"own"`
	CreatedAt time.Time `json:"created_at"`
}

type memoryResponse struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Story     string    `json:"story"`
	Published bool      `json:"published"`
	Own       bool      `json:"own"`
	CreatedAt time.Time `json:"created_at"`
}

type commentResponse struct {
	ID        int64     `json:"id"`
	Comment   string    `json:"comment"`
	Published bool      `json:"published"`
	Own       bool      `json:"own"`
	CreatedAt time.Time `json:"created_at"`
}

func projectView(p Project) projectResponse {
	return projectResponse{ID: p.Name, Title: p.Title, Published: p.Published, CreatedAt: p.CreatedAt}
}

func (h *Handler) listProjects(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListProjects(r.Context())
	if err != nil {
		h.respond(w, err)
		return
	}
	out := make([]projectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectView(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) getProject(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.Project(r.Context(), shared.UserFromContext(r.Context()), chi.URLParam(r, "project"))
	if err != nil {
		h.respond(w, err)
		return
	}
	out := projectView(v.Item)
	if v.Status.Privileged() {
		out.Status = v.Status.String()
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getSite(w http.ResponseWriter, r *http.Request) {
	t, err := target(r)
	if err != nil {
		h.respond(w, err)
		return
	}
	v, err := h.service.Site(r.Context(), shared.UserFromContext(r.Context()), t)
	if err != nil {
		h.respond(w, err)
		return
	}
	s := v.Item
	httpx.JSON(w, http.StatusOK, siteResponse{
		ID: s.Name, Title: s.Title, Lat: s.Lat, Lon: s.Lon,
		Published: s.Published, Own: v.Status.Has(rbac.Own), CreatedAt: s.CreatedAt,
	})
}

func (h *Handler) getMemory(w http.ResponseWriter, r *http.Request) {
	t, err := target(r)
	if err != nil {
		h.respond(w, err)
		return
	}
	v, err := h.service.Memory(r.Context(), shared.UserFromContext(r.Context()), t)
	if err != nil {
		h.respond(w, err)
		return
	}
	m := v.Item
	httpx.JSON(w, http.StatusOK, memoryResponse{
		ID: m.ID, Title: m.Title, Story: m.Story,
		Published: m.Published, Own: v.Status.Has(rbac.Own), CreatedAt: m.CreatedAt,
	})
}

func (h *Handler) getComment(w http.ResponseWriter, r *http.Request) {
	t, err := target(r)
	if err != nil {
		h.respond(w, err)
		return
	}
	v, err := h.service.Comment(r.Context(), shared.UserFromContext(r.Context()), t)
	if err != nil {
		h.respond(w, err)
		return
	}
	c := v.Item
	httpx.JSON(w, http.StatusOK, commentResponse{
		ID: c.ID, Comment: c.Comment,
		Published: c.Published, Own: v.Status.Has(rbac.Own), CreatedAt: c.CreatedAt,
	})
}

func (h *Handler) publish(published bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := target(r)
		if err != nil {
			h.respond(w, err)
			return
		}
		changed, err := h.service.SetPublished(r.Context(), shared.UserFromContext(r.Context()), t, published)
		if err != nil {
			h.respond(w, err)
			return
		}
		if !changed {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		httpx.NoContent(w)
	}
}

func (h *Handler) listAdministered(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.AdminProjects(r.Context(), shared.UserFromContext(r.Context()))
	if err != nil {
		h.respond(w, err)
		return
	}
	out := make([]projectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectView(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": out})
}

type grantRequest struct {
	Username string `json:"username" validate:"required"`
}

func (h *Handler) grantAdmin(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respond(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		h.respond(w, err)
		return
	}
	project := chi.URLParam(r, "project")
	if err := h.service.GrantAdmin(r.Context(), project, req.Username); err != nil {
		h.respond(w, err)
		return
	}
	httpx.Created(w, fmt.Sprintf("/admin/projects/%s/admins/%s", project, req.Username), nil)
}

func (h *Handler) purgeSessions(w http.ResponseWriter, r *http.Request) {
	if err := h.service.PurgeSessions(r.Context(), chi.URLParam(r, "username")); err != nil {
		h.respond(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) respond(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrAlreadyAdmin):
		httpx.Problem(w, http.StatusConflict, "User is already an admin")
	case errors.Is(err, ErrUnknownUser):
		httpx.Problem(w, http.StatusNotFound, "User not found")
	default:
		var nf *rbac.NotFoundError
		if !errors.As(err, &nf) && !errors.Is(err, httpx.ErrValidation) {
			h.logger.Error("projects request failed", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}

// target reads the resource path from the route.
func target(r *http.Request) (rbac.Target, error) {
	t := rbac.Target{Project: chi.URLParam(r, "project"), Site: chi.URLParam(r, "site")}
	var err error
	if t.Memory, err = pathID(r, "memory"); err != nil {
		return t, err
	}
	if t.Comment, err = pathID(r, "comment"); err != nil {
		return t, err
	}
	return t, nil
}

func pathID(r *http.Request, param string) (int64, error) {
	raw := chi.URLParam(r, param)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s id %q", httpx.ErrValidation, param, raw)
	}
	return id, nil
}
