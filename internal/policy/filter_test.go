package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() *ApiPolicy {
	p := New()
	p.Namespace("Open", Allowed)
	p.Namespace("Closed", Denied).Type("Inside", Allowed).Member("Run")
	ns := p.Namespace("Mixed", Neutral)
	ns.Type("Listed", Neutral).Member("Go", RewriteGrowth).DenyMember("Stop")
	ns.Type("Wide", Allowed).DenyMember("Secret")
	ns.Type("Blocked", Denied).Member("Go")
	ns.Type("Weird", Access("sometimes"))
	return p
}

func TestFilter(t *testing.T) {
	p := testPolicy()

	tests := []struct {
		name   string
		ns     string
		typ    string
		kind   TypeKind
		member string
		want   ResultKind
	}{
		{"missing namespace", "Nowhere", "T", TypeExternal, "", ResultDeniedNamespace},
		{"allowed namespace, unlisted type", "Open", "Anything", TypeExternal, "Any", ResultAllowed},
		{"namespace deny beats member allow", "Closed", "Inside", TypeExternal, "Run", ResultDeniedNamespace},
		{"neutral namespace, unlisted type", "Mixed", "Other", TypeExternal, "", ResultDeniedType},
		{"type only under neutral type", "Mixed", "Listed", TypeExternal, "", ResultAllowed},
		{"listed member", "Mixed", "Listed", TypeExternal, "Go", ResultAllowed},
		{"unlisted member under neutral type", "Mixed", "Listed", TypeExternal, "Other", ResultDeniedMember},
		{"explicitly denied member", "Mixed", "Listed", TypeExternal, "Stop", ResultDeniedMember},
		{"unlisted member under allowed type", "Mixed", "Wide", TypeExternal, "Other", ResultAllowed},
		{"denied member under allowed type", "Mixed", "Wide", TypeExternal, "Secret", ResultDeniedMember},
		{"type deny beats member allow", "Mixed", "Blocked", TypeExternal, "Go", ResultDeniedType},
		{"unknown access fails closed", "Mixed", "Weird", TypeExternal, "", ResultDeniedType},
		{"array passes", "Nowhere", "T[]", TypeArray, "", ResultAllowed},
		{"delegate passes", "Nowhere", "Callback", TypeDelegate, "Invoke", ResultAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Filter(tt.ns, tt.typ, tt.kind, tt.member)
			assert.Equal(t, tt.want, got.Kind, "got %s", got.Kind)
		})
	}
}

func TestFilterReturnsMemberRule(t *testing.T) {
	p := testPolicy()

	res := p.Filter("Mixed", "Listed", TypeExternal, "Go")
	require.True(t, res.Allowed())
	require.NotNil(t, res.Member)
	assert.Equal(t, []RewriterName{RewriteGrowth}, res.Member.Rewriters)

	res = p.Filter("Mixed", "Wide", TypeExternal, "Other")
	require.True(t, res.Allowed())
	assert.Nil(t, res.Member)
}

func TestFilterNilPolicyDenies(t *testing.T) {
	var p *ApiPolicy
	assert.Equal(t, ResultDeniedNamespace, p.Filter("System", "Object", TypeExternal, "").Kind)
}

func TestEmptyPolicyDeniesEverything(t *testing.T) {
	p := New()
	assert.False(t, p.Filter("System", "Console", TypeExternal, "WriteLine").Allowed())
}

func TestBuilderUpdatesExistingRules(t *testing.T) {
	p := New()
	p.Namespace("A", Neutral).Type("T", Neutral).Member("M")
	p.Namespace("A", Allowed)

	require.Contains(t, p.Namespaces["A"].Types, "T")
	assert.Equal(t, Allowed, p.Namespaces["A"].Access)
}

func TestValidateUnknownRewriter(t *testing.T) {
	p := New()
	p.Namespace("A", Neutral).Type("T", Neutral).Member("M", "explode")
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "A.T::M: explode")

	assert.NoError(t, Default().Validate())
}

func TestResultKindString(t *testing.T) {
	assert.Equal(t, "denied_member", ResultDeniedMember.String())
	assert.Equal(t, "allowed", ResultAllowed.String())
}
