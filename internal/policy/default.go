package policy

// Default returns the built-in allow-list: the pure, bounded parts of the
// host library, with rewriters on every member that grows a collection,
// sizes an allocation, returns a disposable or consumes a sequence.
func Default() *ApiPolicy {
	p := New()

	sys := p.Namespace("System", Neutral)
	sys.Type("Object", Neutral).
		Member(".ctor").
		Member("ToString").
		Member("Equals").
		Member("GetHashCode")
	sys.Type("String", Neutral).
		Member(".ctor", RewriteCapacity).
		Member("Concat").
		Member("get_Length").
		Member("get_Chars").
		Member("Substring").
		Member("Equals").
		Member("IsNullOrEmpty").
		Member("ToString")
	sys.Type("Console", Neutral).
		Member("WriteLine").
		Member("Write")
	sys.Type("Environment", Neutral).
		Member("get_NewLine")
	for _, name := range []string{"Math", "Boolean", "Char", "Int32", "Int64", "Double", "Void", "ValueType", "Enum", "Delegate", "MulticastDelegate"} {
		sys.Type(name, Allowed)
	}
	sys.Type("Exception", Neutral).
		Member(".ctor").
		Member("get_Message")
	sys.Type("InvalidOperationException", Neutral).
		Member(".ctor")
	sys.Type("ArgumentException", Neutral).
		Member(".ctor")
	sys.Type("IDisposable", Neutral).
		Member("Dispose")
	sys.Type("GC", Denied)

	col := p.Namespace("System.Collections", Neutral)
	col.Type("IEnumerator", Neutral).
		Member("MoveNext")
	col.Type("IEnumerable", Neutral).
		Member("GetEnumerator")

	gen := p.Namespace("System.Collections.Generic", Neutral)
	gen.Type("List`1", Neutral).
		Member(".ctor", RewriteCapacity).
		Member("Add", RewriteGrowth).
		Member("Insert", RewriteGrowth).
		Member("AddRange", RewriteEnumerableCollected).
		Member("get_Count").
		Member("get_Item").
		Member("set_Item").
		Member("Clear").
		Member("Contains").
		Member("RemoveAt").
		Member("ToArray").
		Member("GetEnumerator")
	gen.Type("Stack`1", Neutral).
		Member(".ctor", RewriteCapacity).
		Member("Push", RewriteGrowth).
		Member("Pop").
		Member("Peek").
		Member("get_Count")
	gen.Type("Queue`1", Neutral).
		Member(".ctor", RewriteCapacity).
		Member("Enqueue", RewriteGrowth).
		Member("Dequeue").
		Member("get_Count")
	gen.Type("Dictionary`2", Neutral).
		Member(".ctor", RewriteCapacity).
		Member("Add", RewriteGrowth).
		Member("set_Item", RewriteGrowth).
		Member("get_Item").
		Member("ContainsKey").
		Member("Remove").
		Member("get_Count")
	gen.Type("IEnumerable`1", Neutral).
		Member("GetEnumerator")
	gen.Type("IEnumerator`1", Neutral).
		Member("get_Current")

	linq := p.Namespace("System.Linq", Neutral)
	linq.Type("Enumerable", Neutral).
		Member("Range", RewriteCapacity).
		Member("Repeat", RewriteCapacity).
		Member("ToList", RewriteEnumerableCollected).
		Member("ToArray", RewriteEnumerableCollected).
		Member("Count", RewriteEnumerableIterated).
		Member("Sum", RewriteEnumerableIterated).
		Member("Max", RewriteEnumerableIterated).
		Member("Min", RewriteEnumerableIterated).
		Member("Contains", RewriteEnumerableIterated).
		Member("Concat", RewriteEnumerableIterated)

	io := p.Namespace("System.IO", Neutral)
	io.Type("StringWriter", Neutral).
		Member(".ctor", RewriteDisposable).
		Member("Write").
		Member("WriteLine").
		Member("ToString").
		Member("Dispose")

	text := p.Namespace("System.Text", Neutral)
	text.Type("StringBuilder", Neutral).
		Member(".ctor", RewriteCapacity).
		Member("Append", RewriteGrowth).
		Member("Insert", RewriteGrowth).
		Member("ToString").
		Member("get_Length")

	cs := p.Namespace("System.Runtime.CompilerServices", Neutral)
	for _, name := range []string{"CompilerGeneratedAttribute", "CompilationRelaxationsAttribute", "RuntimeCompatibilityAttribute", "NullableAttribute", "NullableContextAttribute", "IsReadOnlyAttribute"} {
		cs.Type(name, Allowed)
	}

	diag := p.Namespace("System.Diagnostics", Neutral)
	for _, name := range []string{"DebuggableAttribute", "DebuggerHiddenAttribute", "DebuggerStepThroughAttribute", "DebuggerBrowsableAttribute"} {
		diag.Type(name, Allowed)
	}

	return p
}
