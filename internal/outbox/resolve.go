package outbox

import (
	"strings"

	"github.com/matheus3301/wpprelay/internal/transport"
)

// Directory reports whether a fully qualified chat id is known.
type Directory interface {
	Has(id string) bool
}

// maxPersonIDLen is the longest unqualified id still treated as a phone number.
const maxPersonIDLen = 15

// ResolveJID turns a user-supplied identifier into a fully qualified chat id.
// Qualified ids are returned unchanged. Unqualified ids prefer a person chat
// known to dir, then a known group chat, and otherwise fall back to a shape
// heuristic: a hyphen or more than 15 characters means a group.
func ResolveJID(id string, dir Directory) string {
	if strings.Contains(id, "@") {
		return id
	}
	person := id + "@" + transport.PersonServer
	group := id + "@" + transport.GroupServer
	if dir != nil {
		if dir.Has(person) {
			return person
		}
		if dir.Has(group) {
			return group
		}
	}
	if strings.Contains(id, "-") || len(id) > maxPersonIDLen {
		return group
	}
	return person
}
