package denylist

import (
	"testing"
)

func FuzzIsBlocked(f *testing.F) {
	dl := NewDefault()

	seeds := []string{
		"System.Console::WriteLine",
		"System.Reflection.Assembly::Load",
		"System.GC::Collect",
		"System.Collections.Generic.List`1<System.Int64>",
		"Sandguard.Runtime.RuntimeGuard::GuardJump",
		"Demo.Program/Inner::Run",
		"",
		"::",
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, api string) {
		// Must not panic on any input
		dl.IsBlocked(api)
		dl.IsReservedNamespace(api)
	})
}
