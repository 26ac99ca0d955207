package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MuistotKartalla/muistot-backend-sub001/internal/platform/db"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/shared"
)

// Target addresses a resource. Fields after the first empty one are ignored;
// Memory and Comment are zero when absent.
type Target struct {
	Project string
	Site    string
	Memory  int64
	Comment int64
}

func (t Target) depth() int {
	switch {
	case t.Site == "":
		return 1
	case t.Memory == 0:
		return 2
	case t.Comment == 0:
		return 3
	default:
		return 4
	}
}

type level struct {
	resource string
	column   string
	alias    string
	join     string
}

var levels = []level{
	{ResourceProject, "project_published", "p", "LEFT JOIN projects p ON p.name = :project"},
	{ResourceSite, "site_published", "s", "LEFT JOIN sites s ON s.project_id = p.id AND s.name = :site"},
	{ResourceMemory, "memory_published", "m", "LEFT JOIN memories m ON m.site_id = s.id AND m.id = :memory"},
	{ResourceComment, "comment_published", "c", "LEFT JOIN comments c ON c.memory_id = m.id AND c.id = :comment"},
}

// StatusResolver computes the Status of a Target for a viewer.
type StatusResolver struct {
	db db.Querier
}

// NewStatusResolver constructs a StatusResolver.
func NewStatusResolver(q db.Querier) *StatusResolver {
	return &StatusResolver{db: q}
}

// StatusQuery returns the summary query for a target of the given depth (1..4).
func StatusQuery(depth int) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	for i, l := range levels {
		if i < depth {
			fmt.Fprintf(&b, "%s.published AS %s, ", l.alias, l.column)
		} else {
			fmt.Fprintf(&b, "NULL AS %s, ", l.column)
		}
	}
	inner := levels[depth-1].alias
	fmt.Fprintf(&b, "COALESCE(%s.user_id = (SELECT id FROM users WHERE username = :user), FALSE) AS is_creator, ", inner)
	b.WriteString("EXISTS (SELECT 1 FROM project_admins pa JOIN users au ON au.id = pa.user_id " +
		"WHERE pa.project_id = p.id AND au.username = :user) AS is_admin ")
	b.WriteString("FROM (SELECT 1) AS root")
	for _, l := range levels[:depth] {
		b.WriteString(" ")
		b.WriteString(l.join)
	}
	return b.String()
}

// Resolve returns the viewer-relative status of t. A missing resource, or an
// unpublished project or intermediate resource the viewer may not see,
// yields *NotFoundError naming the outermost such resource.
func (s *StatusResolver) Resolve(ctx context.Context, user *shared.User, t Target) (Status, error) {
	depth := t.depth()
	username := ""
	if user.IsAuthenticated() {
		username = user.Username
	}
	args := db.Args{"project": t.Project, "user": username}
	if depth >= 2 {
		args["site"] = t.Site
	}
	if depth >= 3 {
		args["memory"] = t.Memory
	}
	if depth >= 4 {
		args["comment"] = t.Comment
	}
	row, err := s.db.FetchOne(ctx, StatusQuery(depth), args)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return DoesNotExist, &NotFoundError{Resource: ResourceProject}
		}
		return DoesNotExist, fmt.Errorf("rbac: resolve status: %w", err)
	}
	return Decide(row, depth, user.IsSuperuser())
}

// Decide applies the visibility rules to a summary row.
func Decide(row db.Row, depth int, superuser bool) (Status, error) {
	flags := make([]Status, depth)
	for i := 0; i < depth; i++ {
		flags[i] = ResolveStatus(row.NullableInt(levels[i].column))
		if flags[i] == DoesNotExist {
			return DoesNotExist, &NotFoundError{Resource: levels[i].resource}
		}
	}
	if row.Bool("is_creator") {
		return Own, nil
	}
	if row.Bool("is_admin") || superuser {
		return Admin, nil
	}
	if flags[0] != Published {
		return DoesNotExist, &NotFoundError{Resource: ResourceProject}
	}
	for i := 1; i < depth-1; i++ {
		if flags[i] != Published {
			return DoesNotExist, &NotFoundError{Resource: levels[i].resource}
		}
	}
	if depth == 1 {
		return Published, nil
	}
	return flags[depth-1], nil
}
