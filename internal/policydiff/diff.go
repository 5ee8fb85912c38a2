// Package policydiff compares two API policies node by node.
package policydiff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ppiankov/sandguard/internal/policy"
)

// Level names the tree depth of a changed node.
type Level string

const (
	LevelNamespace Level = "namespace"
	LevelType      Level = "type"
	LevelMember    Level = "member"
)

// Change is one added, removed or modified policy node.
type Change struct {
	Level   Level  `json:"level"`
	Path    string `json:"path"`
	Type    string `json:"type"` // "added", "removed", "changed"
	Old     string `json:"old,omitempty"`
	New     string `json:"new,omitempty"`
	Comment string `json:"comment,omitempty"` // "stricter" or "looser"
}

// DiffResult holds the comparison of two policies.
type DiffResult struct {
	OldPath    string   `json:"old_path"`
	NewPath    string   `json:"new_path"`
	Changes    []Change `json:"changes"`
	HasChanges bool     `json:"has_changes"`
}

type node struct {
	level     Level
	access    policy.Access
	rewriters []policy.RewriterName
}

func (n node) String() string {
	if len(n.rewriters) == 0 {
		return string(n.access)
	}
	names := make([]string, len(n.rewriters))
	for i, r := range n.rewriters {
		names[i] = string(r)
	}
	return fmt.Sprintf("%s [%s]", n.access, strings.Join(names, ", "))
}

// Diff compares two policies and returns the differences, ordered by path.
func Diff(old, new *policy.ApiPolicy) *DiffResult {
	r := &DiffResult{}
	oldNodes, newNodes := flatten(old), flatten(new)

	for _, path := range sortedKeys(newNodes) {
		n := newNodes[path]
		o, exists := oldNodes[path]
		switch {
		case !exists:
			r.Changes = append(r.Changes, Change{
				Level:   n.level,
				Path:    path,
				Type:    "added",
				New:     n.String(),
				Comment: compare(absent(n.level), n),
			})
		case o.String() != n.String():
			r.Changes = append(r.Changes, Change{
				Level:   n.level,
				Path:    path,
				Type:    "changed",
				Old:     o.String(),
				New:     n.String(),
				Comment: compare(o, n),
			})
		}
	}
	for _, path := range sortedKeys(oldNodes) {
		o := oldNodes[path]
		if _, exists := newNodes[path]; !exists {
			r.Changes = append(r.Changes, Change{
				Level:   o.level,
				Path:    path,
				Type:    "removed",
				Old:     o.String(),
				Comment: compare(o, absent(o.level)),
			})
		}
	}
	sort.SliceStable(r.Changes, func(i, j int) bool { return r.Changes[i].Path < r.Changes[j].Path })

	r.HasChanges = len(r.Changes) > 0
	return r
}

// flatten keys every node by its path: "Ns", "Ns.Type", "Ns.Type::Member".
func flatten(p *policy.ApiPolicy) map[string]node {
	out := make(map[string]node)
	if p == nil {
		return out
	}
	for ns, nr := range p.Namespaces {
		if nr == nil {
			continue
		}
		out[ns] = node{level: LevelNamespace, access: normalize(nr.Access)}
		for tn, tr := range nr.Types {
			if tr == nil {
				continue
			}
			typePath := ns + "." + tn
			out[typePath] = node{level: LevelType, access: normalize(tr.Access)}
			for mn, mr := range tr.Members {
				n := node{level: LevelMember, access: policy.Allowed}
				if mr != nil {
					if mr.Access != "" {
						n.access = normalize(mr.Access)
					}
					n.rewriters = mr.Rewriters
				}
				out[typePath+"::"+mn] = n
			}
		}
	}
	return out
}

func normalize(a policy.Access) policy.Access {
	switch strings.ToLower(string(a)) {
	case "", "neutral":
		return policy.Neutral
	case "allowed", "allow":
		return policy.Allowed
	default:
		return policy.Denied
	}
}

// absent is how a missing node behaves: a missing namespace denies, a
// missing type or member defers to its parent.
func absent(level Level) node {
	if level == LevelNamespace {
		return node{level: level, access: policy.Denied}
	}
	return node{level: level, access: policy.Neutral}
}

func rank(a policy.Access) int {
	switch a {
	case policy.Denied:
		return 0
	case policy.Neutral:
		return 1
	default:
		return 2
	}
}

// compare labels the move from o to n. Dropping rewriters from a member
// removes metering, so it counts as looser.
func compare(o, n node) string {
	switch ro, rn := rank(o.access), rank(n.access); {
	case rn < ro:
		return "stricter"
	case rn > ro:
		return "looser"
	}
	switch {
	case len(n.rewriters) > len(o.rewriters):
		return "stricter"
	case len(n.rewriters) < len(o.rewriters):
		return "looser"
	}
	return ""
}

func sortedKeys(m map[string]node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
