package projects

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MuistotKartalla/muistot-backend-sub001/internal/rbac"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/shared"
)

// Service applies visibility rules on top of the repository.
type Service struct {
	repo     Repository
	status   StatusSource
	sessions *shared.SessionManager
	logger   *slog.Logger
}

// NewService constructs a Service. sessions may be nil, in which case grants
// take effect on the grantee's next login only.
func NewService(repo Repository, status StatusSource, sessions *shared.SessionManager, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, status: status, sessions: sessions, logger: logger}
}

// Viewed pairs a resource with the viewer-relative status it was resolved with.
type Viewed[T any] struct {
	Item   T
	Status rbac.Status
}

// visible resolves t and rejects resources the viewer may not see.
func (s *Service) visible(ctx context.Context, user *shared.User, t rbac.Target, resource string) (rbac.Status, error) {
	status, err := s.status.Resolve(ctx, user, t)
	if err != nil {
		return status, err
	}
	if !status.Visible() {
		return status, &rbac.NotFoundError{Resource: resource}
	}
	return status, nil
}

// ListProjects returns the published projects.
func (s *Service) ListProjects(ctx context.Context) ([]Project, error) {
	return s.repo.ListPublished(ctx)
}

// Project returns a project visible to user.
func (s *Service) Project(ctx context.Context, user *shared.User, name string) (Viewed[Project], error) {
	t := rbac.Target{Project: name}
	status, err := s.visible(ctx, user, t, rbac.ResourceProject)
	if err != nil {
		return Viewed[Project]{}, err
	}
	p, err := s.repo.GetProject(ctx, name)
	return Viewed[Project]{Item: p, Status: status}, s.missing(err, rbac.ResourceProject)
}

// Site returns a site visible to user.
func (s *Service) Site(ctx context.Context, user *shared.User, t rbac.Target) (Viewed[Site], error) {
	status, err := s.visible(ctx, user, t, rbac.ResourceSite)
	if err != nil {
		return Viewed[Site]{}, err
	}
	site, err := s.repo.GetSite(ctx, t.Project, t.Site)
	return Viewed[Site]{Item: site, Status: status}, s.missing(err, rbac.ResourceSite)
}

// Memory returns a memory visible to user.
func (s *Service) Memory(ctx context.Context, user *shared.User, t rbac.Target) (Viewed[Memory], error) {
	status, err := s.visible(ctx, user, t, rbac.ResourceMemory)
	if err != nil {
		return Viewed[Memory]{}, err
	}
	m, err := s.repo.GetMemory(ctx, t.Project, t.Site, t.Memory)
	return Viewed[Memory]{Item: m, Status: status}, s.missing(err, rbac.ResourceMemory)
}

// Comment returns a comment visible to user.
func (s *Service) Comment(ctx context.Context, user *shared.User, t rbac.Target) (Viewed[Comment], error) {
	status, err := s.visible(ctx, user, t, rbac.ResourceComment)
	if err != nil {
		return Viewed[Comment]{}, err
	}
	c, err := s.repo.GetComment(ctx, t.Project, t.Site, t.Memory, t.Comment)
	return Viewed[Comment]{Item: c, Status: status}, s.missing(err, rbac.ResourceComment)
}

// SetPublished publishes or hides the deepest resource of t. The caller's
// role is checked by the route; the target must exist for the caller.
func (s *Service) SetPublished(ctx context.Context, user *shared.User, t rbac.Target, published bool) (bool, error) {
	if _, err := s.status.Resolve(ctx, user, t); err != nil {
		return false, err
	}
	changed, err := s.repo.SetPublished(ctx, t, published)
	if err != nil {
		return false, err
	}
	if changed {
		s.logger.Info("publish state changed",
			slog.String("project", t.Project), slog.String("site", t.Site),
			slog.Int64("memory", t.Memory), slog.Int64("comment", t.Comment),
			slog.Bool("published", published), slog.String("by", user.Username))
	}
	return changed, nil
}

// AdminProjects lists the projects user administers. Superusers see all.
func (s *Service) AdminProjects(ctx context.Context, user *shared.User) ([]Project, error) {
	name, err := user.Identity()
	if err != nil {
		return nil, err
	}
	return s.repo.ListAdministered(ctx, name, user.IsSuperuser())
}

// GrantAdmin makes username an admin of project and ends the grantee's
// sessions so the new scope is loaded on the next login.
func (s *Service) GrantAdmin(ctx context.Context, project, username string) error {
	if _, err := s.repo.GetProject(ctx, project); err != nil {
		return s.missing(err, rbac.ResourceProject)
	}
	if err := s.repo.AddAdmin(ctx, project, username); err != nil {
		return err
	}
	if s.sessions != nil {
		if err := s.sessions.ClearSessions(ctx, username); err != nil {
			return fmt.Errorf("projects: clear grantee sessions: %w", err)
		}
	}
	s.logger.Info("project admin granted", slog.String("project", project), slog.String("username", username))
	return nil
}

// PurgeSessions ends every session of username.
func (s *Service) PurgeSessions(ctx context.Context, username string) error {
	if s.sessions == nil {
		return errors.New("projects: no session store configured")
	}
	return s.sessions.ClearSessions(ctx, username)
}

// missing names the resource a repository miss refers to.
func (s *Service) missing(err error, resource string) error {
	if errors.Is(err, shared.ErrNotFound) {
		return &rbac.NotFoundError{Resource: resource}
	}
	return err
}
