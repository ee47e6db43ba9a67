package zk

import (
	"fmt"
	"strings"
)

// Scope decides what a nullifier is unique over: each piece of content
// ("content") or one fixed tag such as an epoch name ("tag:<value>").
type Scope struct {
	tag string
}

// ContentScope is the default scope.
var ContentScope = Scope{}

func ParseScope(s string) (Scope, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || s == "content":
		return ContentScope, nil
	case strings.HasPrefix(s, "tag:"):
		tag := strings.TrimPrefix(s, "tag:")
		if tag == "" {
			return Scope{}, fmt.Errorf("scope tag must be non-empty")
		}
		return Scope{tag: tag}, nil
	default:
		return Scope{}, fmt.Errorf("unknown nullifier scope %q", s)
	}
}

func (s Scope) String() string {
	if s.tag == "" {
		return "content"
	}
	return "tag:" + s.tag
}

// ActionContext returns the action context a report on ref must be proven for.
func (s Scope) ActionContext(ref [32]byte) (Hash, error) {
	if s.tag == "" {
		return ActionContextForContent(ref)
	}
	return ActionContextForTag(s.tag)
}
