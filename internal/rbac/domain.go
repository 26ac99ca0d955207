package rbac

import (
	"fmt"
	"strings"

	"github.com/MuistotKartalla/muistot-backend-sub001/internal/platform/httpx"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/shared"
)

// Status is the viewer-relative visibility of a resource.
type Status uint8

const (
	DoesNotExist Status = 0
	NotPublished Status = 1 << (iota - 1)
	Published
	Own
	Admin

	OwnAndAdmin = Own | Admin
)

// ResolveStatus maps a nullable published flag to a Status.
func ResolveStatus(published *int) Status {
	switch {
	case published == nil:
		return DoesNotExist
	case *published == 1:
		return Published
	default:
		return NotPublished
	}
}

// Has reports whether every bit of flag is set.
func (s Status) Has(flag Status) bool {
	return flag != 0 && s&flag == flag
}

// Privileged reports whether the viewer owns or administers the resource.
func (s Status) Privileged() bool {
	return s&(Own|Admin) != 0
}

// Visible reports whether the resource may be shown to the viewer.
func (s Status) Visible() bool {
	return s.Privileged() || s.Has(Published)
}

func (s Status) String() string {
	if s == DoesNotExist {
		return "DOES_NOT_EXIST"
	}
	var parts []string
	for _, f := range []struct {
		flag Status
		name string
	}{{NotPublished, "NOT_PUBLISHED"}, {Published, "PUBLISHED"}, {Own, "OWN"}, {Admin, "ADMIN"}} {
		if s.Has(f.flag) {
			parts = append(parts, f.name)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
	return strings.Join(parts, "|")
}

// NotFoundError reports the outermost resource on a path that is missing or
// hidden from the viewer.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return e.Resource + " not found"
}

// Is matches shared.ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == shared.ErrNotFound
}

// Response renders the error as a 404 naming the resource.
func (e *NotFoundError) Response() *httpx.Error {
	return httpx.APIError(404, e.Error())
}

// Resource names used in NotFoundError.
const (
	ResourceProject = "Project"
	ResourceSite    = "Site"
	ResourceMemory  = "Memory"
	ResourceComment = "Comment"
)
