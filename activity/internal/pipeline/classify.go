package pipeline

import (
	"net/http"
	"strings"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/models"
)

// Classification is the activity type and description derived from a
// route, its method and an optional action name.
type Classification struct {
	Type        models.ActivityType
	Description string
	AdminPanel  bool
}

// Classifier maps requests to activity types.
type Classifier struct {
	adminPrefix string
}

func NewClassifier(adminPrefix string) Classifier {
	p := strings.ToLower(strings.TrimSpace(adminPrefix))
	p = strings.TrimSuffix(p, "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return Classifier{adminPrefix: p}
}

// IsAdminPath reports whether path lies under the admin namespace. The
// prefix matches a whole path segment anywhere in the path, so both
// /admin/users and /api/v1/admin/users qualify but /administrator does not.
func (c Classifier) IsAdminPath(path string) bool {
	if c.adminPrefix == "" {
		return false
	}
	return strings.Contains(strings.ToLower(path)+"/", c.adminPrefix+"/")
}

func (c Classifier) Classify(method, path, action string) Classification {
	admin := c.IsAdminPath(path)
	subject := strings.ToLower(action + " " + path)

	var cl Classification
	switch {
	case strings.Contains(subject, "logout"):
		cl = Classification{Type: models.ActivityLogout, Description: "User logout"}
		if admin {
			cl.Description = "Admin logout"
		}
	case strings.Contains(subject, "login"):
		cl = Classification{Type: models.ActivityLogin, Description: "User login"}
		if admin {
			cl.Description = "Admin login"
		}
	case strings.Contains(subject, "search"):
		cl = Classification{Type: models.ActivitySearch}
	case strings.Contains(subject, "export"):
		cl = Classification{Type: models.ActivityExport}
	case strings.Contains(subject, "import"):
		cl = Classification{Type: models.ActivityImport}
	default:
		cl = Classification{Type: methodType(method)}
	}

	if cl.Description == "" {
		cl.Description = describe(method, path, action, admin)
	}
	cl.AdminPanel = admin
	return cl
}

func methodType(method string) models.ActivityType {
	switch strings.ToUpper(method) {
	case http.MethodPost:
		return models.ActivityCreate
	case http.MethodGet:
		return models.ActivityView
	case http.MethodPut, http.MethodPatch:
		return models.ActivityUpdate
	case http.MethodDelete:
		return models.ActivityDelete
	default:
		return models.ActivityOther
	}
}

func describe(method, path, action string, admin bool) string {
	target := path
	if action != "" {
		target = action
	}
	d := strings.ToUpper(method) + " " + target
	if admin {
		return "Admin " + d
	}
	return d
}
