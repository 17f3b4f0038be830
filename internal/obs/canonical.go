package obs

import "strings"

// CanonicalPath collapses per-record path segments so metric labels stay
// bounded. Only routes that embed identifiers are rewritten.
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 && parts[0] == "v1" && parts[1] == "staged-edits" {
		if len(parts) == 3 {
			return "/v1/staged-edits/:id"
		}
		if len(parts) == 4 {
			return "/v1/staged-edits/:id/" + parts[3]
		}
	}
	if len(parts) == 4 && parts[0] == "v1" && parts[1] == "period-locks" {
		return "/v1/period-locks/:year/:entity"
	}
	return path
}
