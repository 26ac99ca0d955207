package projects

import (
	"context"
	"errors"
	"time"

	"github.com/MuistotKartalla/muistot-backend-sub001/internal/platform/db"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/rbac"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/shared"
)

// SQLRepository implements Repository on the database pool.
type SQLRepository struct {
	db db.Database
}

// NewRepository constructs a repository.
func NewRepository(database db.Database) *SQLRepository {
	return &SQLRepository{db: database}
}

const (
	projectColumns = `p.id, p.name, p.title, p.published, p.created_at`

	listPublishedSQL    = `SELECT ` + projectColumns + ` FROM projects p WHERE p.published ORDER BY p.name`
	listAllSQL          = `SELECT ` + projectColumns + ` FROM projects p ORDER BY p.name`
	listAdministeredSQL = `SELECT ` + projectColumns + ` FROM projects p ` +
		`JOIN project_admins pa ON pa.project_id = p.id JOIN users u ON u.id = pa.user_id ` +
		`WHERE u.username = :username ORDER BY p.name`
	getProjectSQL = `SELECT ` + projectColumns + ` FROM projects p WHERE p.name = :project`

	getSiteSQL = `SELECT s.id, s.name, s.title, s.lat, s.lon, s.published, s.created_at, u.username AS creator ` +
		`FROM sites s JOIN projects p ON p.id = s.project_id LEFT JOIN users u ON u.id = s.user_id ` +
		`WHERE p.name = :project AND s.name = :site`
	getMemorySQL = `SELECT m.id, m.title, m.story, m.published, m.created_at, u.username AS creator ` +
		`FROM memories m JOIN sites s ON s.id = m.site_id JOIN projects p ON p.id = s.project_id ` +
		`LEFT JOIN users u ON u.id = m.user_id ` +
		`WHERE p.name = :project AND s.name = :site AND m.id = :memory`
	getCommentSQL = `SELECT c.id, c.comment, c.published, c.created_at, u.username AS creator ` +
		`FROM comments c JOIN memories m ON m.id = c.memory_id JOIN sites s ON s.id = m.site_id ` +
		`JOIN projects p ON p.id = s.project_id LEFT JOIN users u ON u.id = c.user_id ` +
		`WHERE p.name = :project AND s.name = :site AND m.id = :memory AND c.id = :comment`

	publishProjectSQL = `UPDATE projects SET published = :published WHERE name = :project AND published <> :published`
	publishSiteSQL    = `UPDATE sites s SET published = :published FROM projects p ` +
		`WHERE p.id = s.project_id AND p.name = :project AND s.name = :site AND s.published <> :published`
	publishMemorySQL = `UPDATE memories m SET published = :published FROM sites s JOIN projects p ON p.id = s.project_id ` +
		`WHERE s.id = m.site_id AND p.name = :project AND s.name = :site AND m.id = :memory AND m.published <> :published`
	publishCommentSQL = `UPDATE comments c SET published = :published ` +
		`FROM memories m JOIN sites s ON s.id = m.site_id JOIN projects p ON p.id = s.project_id ` +
		`WHERE m.id = c.memory_id AND p.name = :project AND s.name = :site AND m.id = :memory ` +
		`AND c.id = :comment AND c.published <> :published`

	addAdminSQL = `INSERT INTO project_admins (project_id, user_id) ` +
		`SELECT p.id, u.id FROM projects p, users u WHERE p.name = :project AND u.username = :username`
)

var publishSQL = map[Level]string{
	LevelProject: publishProjectSQL,
	LevelSite:    publishSiteSQL,
	LevelMemory:  publishMemorySQL,
	LevelComment: publishCommentSQL,
}

// ListPublished returns the published projects.
func (r *SQLRepository) ListPublished(ctx context.Context) ([]Project, error) {
	return r.listProjects(ctx, listPublishedSQL, nil)
}

// ListAdministered returns the projects username administers, or every
// project when all is set.
func (r *SQLRepository) ListAdministered(ctx context.Context, username string, all bool) ([]Project, error) {
	if all {
		return r.listProjects(ctx, listAllSQL, nil)
	}
	return r.listProjects(ctx, listAdministeredSQL, db.Args{"username": username})
}

func (r *SQLRepository) listProjects(ctx context.Context, query string, args db.Args) ([]Project, error) {
	rows, err := r.db.FetchAll(ctx, query, args)
	if err != nil {
		return nil, err
	}
	out := make([]Project, 0, len(rows))
	for _, row := range rows {
		out = append(out, projectFromRow(row))
	}
	return out, nil
}

// GetProject fetches a project by name.
func (r *SQLRepository) GetProject(ctx context.Context, name string) (Project, error) {
	row, err := r.fetchOne(ctx, getProjectSQL, db.Args{"project": name})
	if err != nil {
		return Project{}, err
	}
	return projectFromRow(row), nil
}

// GetSite fetches a site of a project.
func (r *SQLRepository) GetSite(ctx context.Context, project, site string) (Site, error) {
	row, err := r.fetchOne(ctx, getSiteSQL, db.Args{"project": project, "site": site})
	if err != nil {
		return Site{}, err
	}
	id, _ := row.Int64("id")
	return Site{
		ID:        id,
		Name:      row.String("name"),
		Title:     row.String("title"),
		Lat:       floatOf(row, "lat"),
		Lon:       floatOf(row, "lon"),
		Published: row.Bool("published"),
		Creator:   row.String("creator"),
		CreatedAt: timeOf(row, "created_at"),
	}, nil
}

// GetMemory fetches a memory of a site.
func (r *SQLRepository) GetMemory(ctx context.Context, project, site string, memory int64) (Memory, error) {
	row, err := r.fetchOne(ctx, getMemorySQL, db.Args{"project": project, "site": site, "memory": memory})
	if err != nil {
		return Memory{}, err
	}
	id, _ := row.Int64("id")
	return Memory{
		ID:        id,
		Title:     row.String("title"),
		Story:     row.String("story"),
		Published: row.Bool("published"),
		Creator:   row.String("creator"),
		CreatedAt: timeOf(row, "created_at"),
	}, nil
}

// GetComment fetches a comment of a memory.
func (r *SQLRepository) GetComment(ctx context.Context, project, site string, memory, comment int64) (Comment, error) {
	row, err := r.fetchOne(ctx, getCommentSQL, db.Args{"project": project, "site": site, "memory": memory, "comment": comment})
	if err != nil {
		return Comment{}, err
	}
	id, _ := row.Int64("id")
	return Comment{
		ID:        id,
		Comment:   row.String("comment"),
		Published: row.Bool("published"),
		Creator:   row.String("creator"),
		CreatedAt: timeOf(row, "created_at"),
	}, nil
}

// SetPublished flips the published flag of the deepest resource of t. It
// reports false when the flag already had the requested value.
func (r *SQLRepository) SetPublished(ctx context.Context, t rbac.Target, published bool) (bool, error) {
	args := db.Args{
		"published": published,
		"project":   t.Project,
		"site":      t.Site,
		"memory":    t.Memory,
		"comment":   t.Comment,
	}
	n, err := r.db.Execute(ctx, publishSQL[LevelOf(t)], args)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AddAdmin grants project admin rights to username.
func (r *SQLRepository) AddAdmin(ctx context.Context, project, username string) error {
	n, err := r.db.Execute(ctx, addAdminSQL, db.Args{"project": project, "username": username})
	if err != nil {
		if errors.Is(err, db.ErrIntegrity) {
			return ErrAlreadyAdmin
		}
		return err
	}
	if n == 0 {
		return ErrUnknownUser
	}
	return nil
}

func (r *SQLRepository) fetchOne(ctx context.Context, query string, args db.Args) (db.Row, error) {
	row, err := r.db.FetchOne(ctx, query, args)
	if errors.Is(err, db.ErrNoRows) {
		return db.Row{}, shared.ErrNotFound
	}
	return row, err
}

func projectFromRow(row db.Row) Project {
	id, _ := row.Int64("id")
	return Project{
		ID:        id,
		Name:      row.String("name"),
		Title:     row.String("title"),
		Published: row.Bool("published"),
		CreatedAt: timeOf(row, "created_at"),
	}
}

func timeOf(row db.Row, name string) time.Time {
	v, _ := row.Get(name)
	t, _ := v.(time.Time)
	return t
}

func floatOf(row db.Row, name string) *float64 {
	v, _ := row.Get(name)
	switch t := v.(type) {
	case float64:
		return &t
	case float32:
		f := float64(t)
		return &f
	default:
		return nil
	}
}

var _ Repository = (*SQLRepository)(nil)
