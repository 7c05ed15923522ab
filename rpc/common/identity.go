package common

import (
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Identity
// --------------------------------------------------------------------------

// Identity identifies a remote object independent of the proxy or connection
// used to reach it. Two identities are equal if name and category are equal,
// so Identity can be used as a map key.
type Identity struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

// IsValid reports whether the identity can address an object (non-empty name)
func (id Identity) IsValid() bool {
	return id.Name != ""
}

// String renders the identity as "category/name" or just "name".
// Slashes inside the name or category are escaped with a backslash.
func (id Identity) String() string {
	name := escapeIdentityPart(id.Name)
	if id.Category == "" {
		return name
	}
	return escapeIdentityPart(id.Category) + "/" + name
}

// ParseIdentity is the inverse of Identity.String
func ParseIdentity(s string) (Identity, error) {
	slash := -1
	escaped := false
	for i := 0; i < len(s); i++ {
		switch {
		case escaped:
			escaped = false
		case s[i] == '\\':
			escaped = true
		case s[i] == '/':
			if slash != -1 {
				return Identity{}, fmt.Errorf("invalid identity %q: more than one unescaped '/'", s)
			}
			slash = i
		}
	}

	var id Identity
	if slash == -1 {
		id.Name = unescapeIdentityPart(s)
	} else {
		id.Category = unescapeIdentityPart(s[:slash])
		id.Name = unescapeIdentityPart(s[slash+1:])
	}

	if !id.IsValid() {
		return Identity{}, &IllegalIdentityError{Identity: id}
	}
	return id, nil
}

func escapeIdentityPart(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "/", `\/`)
}

func unescapeIdentityPart(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	escaped := false
	for i := 0; i < len(s); i++ {
		if !escaped && s[i] == '\\' {
			escaped = true
			continue
		}
		escaped = false
		sb.WriteByte(s[i])
	}
	return sb.String()
}
