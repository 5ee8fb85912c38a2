package rewrite

import (
	"regexp"

	"go.uber.org/zap"

	"github.com/ppiankov/sandguard/internal/bytecode"
	"github.com/ppiankov/sandguard/internal/denylist"
	"github.com/ppiankov/sandguard/internal/policy"
)

// Default limits and exemption patterns.
const (
	DefaultMethodLocalsSizeLimit    = bytecode.PointerSize * 32
	DefaultMethodStackPushSizeLimit = 64
	DefaultExplicitLayoutPattern    = `^<PrivateImplementationDetails>(/.*)?$`
	DefaultPointerOperationsPattern = `^<>f__AnonymousType.+$`
)

// Settings controls one rewrite. Zero fields take defaults.
type Settings struct {
	Policy   *policy.ApiPolicy
	Denylist *denylist.Denylist

	// MethodLocalsSizeLimit bounds the summed byte size of a method's locals.
	MethodLocalsSizeLimit int64
	// MethodStackPushSizeLimit bounds a method's evaluation stack depth.
	MethodStackPushSizeLimit int

	// Types whose full name matches may use explicit layout.
	ExplicitLayoutPattern *regexp.Regexp
	// Types whose full name matches may use pointer opcodes.
	PointerOperationsPattern *regexp.Regexp

	Logger *zap.Logger
}

// DefaultSettings returns settings with the built-in policy and denylist.
func DefaultSettings() *Settings {
	return &Settings{
		Policy:                   policy.Default(),
		Denylist:                 denylist.NewDefault(),
		MethodLocalsSizeLimit:    DefaultMethodLocalsSizeLimit,
		MethodStackPushSizeLimit: DefaultMethodStackPushSizeLimit,
		ExplicitLayoutPattern:    regexp.MustCompile(DefaultExplicitLayoutPattern),
		PointerOperationsPattern: regexp.MustCompile(DefaultPointerOperationsPattern),
		Logger:                   zap.NewNop(),
	}
}

func (s *Settings) withDefaults() *Settings {
	d := DefaultSettings()
	if s == nil {
		return d
	}
	out := *s
	if out.Policy == nil {
		out.Policy = d.Policy
	}
	if out.Denylist == nil {
		out.Denylist = d.Denylist
	}
	if out.MethodLocalsSizeLimit <= 0 {
		out.MethodLocalsSizeLimit = d.MethodLocalsSizeLimit
	}
	if out.MethodStackPushSizeLimit <= 0 {
		out.MethodStackPushSizeLimit = d.MethodStackPushSizeLimit
	}
	if out.ExplicitLayoutPattern == nil {
		out.ExplicitLayoutPattern = d.ExplicitLayoutPattern
	}
	if out.PointerOperationsPattern == nil {
		out.PointerOperationsPattern = d.PointerOperationsPattern
	}
	if out.Logger == nil {
		out.Logger = d.Logger
	}
	return &out
}
