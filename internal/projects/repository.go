package projects

import (
	"context"

	"github.com/MuistotKartalla/muistot-backend-sub001/internal/rbac"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/shared"
)

// Repository defines persistence operations for projects and their content.
type Repository interface {
	ListPublished(ctx context.Context) ([]Project, error)
	ListAdministered(ctx context.Context, username string, all bool) ([]Project, error)
	GetProject(ctx context.Context, name string) (Project, error)
	GetSite(ctx context.Context, project, site string) (Site, error)
	GetMemory(ctx context.Context, project, site string, memory int64) (Memory, error)
	GetComment(ctx context.Context, project, site string, memory, comment int64) (Comment, error)
	SetPublished(ctx context.Context, t rbac.Target, published bool) (changed bool, err error)
	AddAdmin(ctx context.Context, project, username string) error
}

// StatusSource resolves the viewer-relative status of a target.
type StatusSource interface {
	Resolve(ctx context.Context, user *shared.User, t rbac.Target) (rbac.Status, error)
}

var _ StatusSource = (*rbac.StatusResolver)(nil)
