// Package auth implements component F: mapping the Authorization header
// to an application principal and assembling the full effective
// principal set for a request (spec §4.F).
package auth

import (
	"strings"

	"github.com/queuey-io/queuey/internal/apierr"
	"github.com/queuey-io/queuey/internal/queue"
)

// Everyone is re-exported for callers that only import auth.
const Everyone = queue.Everyone

// KeyTable maps an opaque application key to the application name it
// authenticates. It is a process-wide table that cmd/queueyd loads once
// at startup; nothing mutates it in place.
type KeyTable map[string]string

// Principals resolves the effective principal set for authHeader, the
// raw `Authorization` header value. The header may carry multiple
// `;`-separated lines; only lines beginning with "Application " are
// recognized. A recognized key that isn't in table fails with
// invalid-application-key (401). No recognized line yields only the
// anonymous everyone principal.
func Principals(authHeader string, table KeyTable) ([]string, error) {
	if authHeader == "" {
		return []string{Everyone}, nil
	}

	for _, line := range strings.Split(authHeader, ";") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Application ") {
			continue
		}
		key := strings.TrimSpace(strings.TrimPrefix(line, "Application "))
		app, ok := table[key]
		if !ok {
			return nil, apierr.New(apierr.InvalidApplicationKey, "unrecognized application key")
		}
		return []string{Everyone, "application", "app:" + app}, nil
	}

	return []string{Everyone}, nil
}

// ApplicationOf extracts the authenticated application name from a
// principal set built by Principals, or "" if the caller is anonymous.
func ApplicationOf(principals []string) string {
	for _, p := range principals {
		if strings.HasPrefix(p, "app:") {
			return strings.TrimPrefix(p, "app:")
		}
	}
	return ""
}
