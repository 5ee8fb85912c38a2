package policy

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultAllowsCommonAPIs(t *testing.T) {
	p := Default()

	for _, ref := range [][3]string{
		{"System", "Console", "WriteLine"},
		{"System", "Math", "Max"},
		{"System", "Int64", ""},
		{"System.Collections.Generic", "List`1", "Add"},
		{"System.Linq", "Enumerable", "Range"},
		{"System.IO", "StringWriter", ".ctor"},
	} {
		assert.True(t, p.Filter(ref[0], ref[1], TypeExternal, ref[2]).Allowed(), "%v", ref)
	}
}

func TestDefaultDeniesDangerousAPIs(t *testing.T) {
	p := Default()

	for _, ref := range [][3]string{
		{"System", "GC", "Collect"},
		{"System", "Environment", "Exit"},
		{"System.IO", "File", "ReadAllText"},
		{"System.Reflection", "Assembly", "Load"},
		{"System.Threading", "Thread", ".ctor"},
		{"Sandguard.Runtime", "RuntimeGuard", "GuardJump"},
	} {
		assert.False(t, p.Filter(ref[0], ref[1], TypeExternal, ref[2]).Allowed(), "%v", ref)
	}
}

func TestDefaultGrowthMembersHaveGrowthRewriter(t *testing.T) {
	p := Default()
	growth := regexp.MustCompile(`^(Add|Insert|Enqueue|Push)$`)

	for nsName, ns := range p.Namespaces {
		for typeName, typ := range ns.Types {
			for memberName, m := range typ.Members {
				if !growth.MatchString(memberName) {
					continue
				}
				assert.Contains(t, m.Rewriters, RewriteGrowth, "%s.%s::%s", nsName, typeName, memberName)
			}
		}
	}
}
