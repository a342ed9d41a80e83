package queue

import "github.com/queuey-io/queuey/internal/metadata"

// Permission is a grantable action on a queue resource.
type Permission string

const (
	PermCreate      Permission = "create"
	PermCreateQueue Permission = "create_queue"
	PermDeleteQueue Permission = "delete_queue"
	PermView        Permission = "view"
	PermDelete      Permission = "delete"
)

// Everyone is the synthetic principal granted to every caller, including
// unauthenticated ones.
const Everyone = "everyone"

// ACLEntry is one (principal, permission) grant.
type ACLEntry struct {
	Principal  string
	Permission Permission
}

// ACL is the set of grants attached to one queue resource for the
// lifetime of a single request.
type ACL []ACLEntry

// Allows reports whether any of the given principals holds perm.
func (acl ACL) Allows(principals []string, perm Permission) bool {
	have := make(map[string]bool, len(principals))
	for _, p := range principals {
		have[p] = true
	}
	for _, e := range acl {
		if e.Permission != perm {
			continue
		}
		if e.Principal == Everyone || have[e.Principal] {
			return true
		}
	}
	return false
}

// AssembleACL computes a queue resource's ACL from its attributes,
// per spec §4.D:
//
//   - app:<application> always gets create, create_queue, delete_queue.
//   - if principals is non-empty, every listed principal gets view and
//     delete, and the owning application is NOT additionally granted
//     view/delete.
//   - if principals is empty, the owning application additionally gets
//     view and delete.
//   - if type == public, everyone gets view.
func AssembleACL(attrs metadata.Attrs) ACL {
	appPrincipal := "app:" + attrs.Application
	acl := ACL{
		{Principal: appPrincipal, Permission: PermCreate},
		{Principal: appPrincipal, Permission: PermCreateQueue},
		{Principal: appPrincipal, Permission: PermDeleteQueue},
	}

	if len(attrs.Principals) > 0 {
		for _, p := range attrs.Principals {
			acl = append(acl, ACLEntry{Principal: p, Permission: PermView})
			acl = append(acl, ACLEntry{Principal: p, Permission: PermDelete})
		}
	} else {
		acl = append(acl, ACLEntry{Principal: appPrincipal, Permission: PermView})
		acl = append(acl, ACLEntry{Principal: appPrincipal, Permission: PermDelete})
	}

	if attrs.Type == "public" {
		acl = append(acl, ACLEntry{Principal: Everyone, Permission: PermView})
	}

	return acl
}
