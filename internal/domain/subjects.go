package domain

import "strings"

// DefaultNamespace prefixes every bus subject unless configured otherwise.
const DefaultNamespace = "prtl"

// Subjects derives bus subjects from a namespace and service name.
type Subjects struct {
	Namespace string
}

// NewSubjects returns Subjects for ns, falling back to DefaultNamespace.
func NewSubjects(ns string) Subjects {
	if ns == "" {
		ns = DefaultNamespace
	}
	return Subjects{Namespace: ns}
}

// Register is the subject a service announces its descriptor on.
func (s Subjects) Register(service string) string {
	return s.Namespace + ".proxy." + service + ".register"
}

// RPC is the request/reply subject for a service.
func (s Subjects) RPC(service string) string {
	return s.Namespace + ".proxy." + service + ".rpc"
}

// Discovery is the shared broadcast subject.
func (s Subjects) Discovery() string {
	return s.Namespace + ".discovery"
}

// AllRegistrations matches the register subject of every service.
func (s Subjects) AllRegistrations() string {
	return s.Namespace + ".proxy.*.register"
}

// IsSubjectToken reports whether s is usable as a single subject token: not
// empty, no separators, wildcards or whitespace.
func IsSubjectToken(s string) bool {
	return s != "" && !strings.ContainsAny(s, ".*> \t\r\n")
}
