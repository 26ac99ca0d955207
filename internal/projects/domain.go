package projects

import (
	"errors"
	"time"

	"github.com/MuistotKartalla/muistot-backend-sub001/internal/rbac"
)

// Project is the top-level container of sites.
type Project struct {
	ID        int64
	Name      string
	Title     string
	Published bool
	CreatedAt time.Time
}

// Site is a place on the map inside a project.
type Site struct {
	ID        int64
	Name      string
	Title     string
	Lat       *float64
	Lon       *float64
	Published bool
	Creator   string
	CreatedAt time.Time
}

// Memory is a story attached to a site.
type Memory struct {
	ID        int64
	Title     string
	Story     string
	Published bool
	Creator   string
	CreatedAt time.Time
}

// Comment is a reply to a memory.
type Comment struct {
	ID        int64
	Comment   string
	Published bool
	Creator   string
	CreatedAt time.Time
}

// Level names the resource a publish operation addresses.
type Level int

const (
	LevelProject Level = iota + 1
	LevelSite
	LevelMemory
	LevelComment
)

// LevelOf returns the deepest addressed level of t.
func LevelOf(t rbac.Target) Level {
	switch {
	case t.Site == "":
		return LevelProject
	case t.Memory == 0:
		return LevelSite
	case t.Comment == 0:
		return LevelMemory
	default:
		return LevelComment
	}
}

var (
	// ErrAlreadyAdmin indicates a grant for a user who already administers the project.
	ErrAlreadyAdmin = errors.New("projects: user is already an admin")
	// ErrUnknownUser indicates a grant naming a user that does not exist.
	ErrUnknownUser = errors.New("projects: unknown user")
)
