// Package policy holds the deny-by-default API access tree and the filter
// that decides whether a namespace, type or member reference is allowed.
package policy

import (
	"fmt"
	"sort"
	"strings"
)

// Access is the stance of a policy node.
type Access string

const (
	Allowed Access = "allowed"
	Denied  Access = "denied"
	Neutral Access = "neutral"
)

// level normalizes a namespace or type access. Empty means neutral; unknown
// strings fail closed.
func (a Access) level() Access {
	switch strings.ToLower(string(a)) {
	case "", "neutral":
		return Neutral
	case "allowed", "allow":
		return Allowed
	default:
		return Denied
	}
}

// memberLevel normalizes a member access. A listed member with no access is
// allowed.
func (a Access) memberLevel() Access {
	if a == "" {
		return Allowed
	}
	return a.level()
}

// RewriterName names a call-site rewriter attached to a member.
type RewriterName string

const (
	RewriteGrowth              RewriterName = "growth"
	RewriteCapacity            RewriterName = "capacity"
	RewriteDisposable          RewriterName = "disposable"
	RewriteEnumerableIterated  RewriterName = "enumerable_iterated"
	RewriteEnumerableCollected RewriterName = "enumerable_collected"
)

// KnownRewriters lists every rewriter name a policy may reference.
var KnownRewriters = []RewriterName{
	RewriteGrowth,
	RewriteCapacity,
	RewriteDisposable,
	RewriteEnumerableIterated,
	RewriteEnumerableCollected,
}

// ApiPolicy maps namespaces to their rules.
type ApiPolicy struct {
	Namespaces map[string]*NamespaceRule `yaml:"namespaces"`
}

// NamespaceRule is the access stance of a namespace and its listed types,
// keyed by short type name (nested types as Outer+Inner).
type NamespaceRule struct {
	Access Access               `yaml:"access,omitempty"`
	Types  map[string]*TypeRule `yaml:"types,omitempty"`
}

// TypeRule is the access stance of a type and its listed members.
type TypeRule struct {
	Access  Access                 `yaml:"access,omitempty"`
	Members map[string]*MemberRule `yaml:"members,omitempty"`
}

// MemberRule allows a member and names the rewriters applied to its call
// sites, in order.
type MemberRule struct {
	Access    Access         `yaml:"access,omitempty"`
	Rewriters []RewriterName `yaml:"rewriters,omitempty,flow"`
}

// New returns an empty policy, which denies everything.
func New() *ApiPolicy {
	return &ApiPolicy{Namespaces: make(map[string]*NamespaceRule)}
}

// Namespace returns the rule for name, creating it if needed, and sets its
// access.
func (p *ApiPolicy) Namespace(name string, access Access) *NamespaceRule {
	if p.Namespaces == nil {
		p.Namespaces = make(map[string]*NamespaceRule)
	}
	rule, ok := p.Namespaces[name]
	if !ok {
		rule = &NamespaceRule{}
		p.Namespaces[name] = rule
	}
	rule.Access = access
	return rule
}

// Type returns the rule for a type in the namespace, creating it if needed,
// and sets its access.
func (n *NamespaceRule) Type(name string, access Access) *TypeRule {
	if n.Types == nil {
		n.Types = make(map[string]*TypeRule)
	}
	rule, ok := n.Types[name]
	if !ok {
		rule = &TypeRule{}
		n.Types[name] = rule
	}
	rule.Access = access
	return rule
}

// Member allows a member with the given rewriters.
func (t *TypeRule) Member(name string, rewriters ...RewriterName) *TypeRule {
	if t.Members == nil {
		t.Members = make(map[string]*MemberRule)
	}
	t.Members[name] = &MemberRule{Rewriters: rewriters}
	return t
}

// DenyMember explicitly denies a member.
func (t *TypeRule) DenyMember(name string) *TypeRule {
	if t.Members == nil {
		t.Members = make(map[string]*MemberRule)
	}
	t.Members[name] = &MemberRule{Access: Denied}
	return t
}

// Validate reports rewriter names the rewriter does not know.
func (p *ApiPolicy) Validate() error {
	known := make(map[RewriterName]bool, len(KnownRewriters))
	for _, r := range KnownRewriters {
		known[r] = true
	}
	var bad []string
	for ns, nr := range p.Namespaces {
		if nr == nil {
			continue
		}
		for tn, tr := range nr.Types {
			if tr == nil {
				continue
			}
			for mn, mr := range tr.Members {
				if mr == nil {
					continue
				}
				for _, r := range mr.Rewriters {
					if !known[r] {
						bad = append(bad, fmt.Sprintf("%s.%s::%s: %s", ns, tn, mn, r))
					}
				}
			}
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return fmt.Errorf("unknown rewriters: %s", strings.Join(bad, "; "))
	}
	return nil
}
