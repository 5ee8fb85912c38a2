package denylist

// DefaultPatterns contains the hardcoded denylist patterns.
// These are the boundaries that are always enforced, whatever the policy says.
var DefaultPatterns = Patterns{
	Namespaces: []string{
		"System",
		"System.*",
		"Sandguard",
		"Sandguard.*",
	},
	APIs: []string{
		"System.Reflection.**",
		"System.Runtime.InteropServices.**",
		"System.Runtime.CompilerServices.Unsafe**",
		"System.Threading.Thread**",
		"System.Threading.Tasks.**",
		"System.IO.File**",
		"System.IO.Directory**",
		"System.Diagnostics.Process**",
		"System.Environment::Exit",
		"System.Environment::FailFast",
		"System.GC::*",
		"System.Activator::*",
		"System.AppDomain**",
		"Sandguard.**",
	},
}
