package runguard

// Sequence is a lazily enumerated collection handed to a guarded API.
type Sequence interface {
	Cursor() Cursor
}

// Cursor walks a Sequence. Current is valid after MoveNext returns true.
type Cursor interface {
	MoveNext() (bool, error)
	Current() any
}

// Disposable is a resource released when its scope closes.
type Disposable interface {
	Dispose() error
}

// guardedSequence charges the guard as elements are pulled.
type guardedSequence struct {
	inner   Sequence
	guard   *Guard
	collect bool
}

func (s *guardedSequence) Cursor() Cursor {
	return &guardedCursor{inner: s.inner.Cursor(), guard: s.guard, collect: s.collect}
}

// Unwrap returns the sequence being guarded.
func (s *guardedSequence) Unwrap() Sequence { return s.inner }

type guardedCursor struct {
	inner   Cursor
	guard   *Guard
	collect bool
}

func (c *guardedCursor) MoveNext() (bool, error) {
	ok, err := c.inner.MoveNext()
	if err != nil || !ok {
		return ok, err
	}
	if err := c.guard.Jump(); err != nil {
		return false, err
	}
	if c.collect {
		if err := c.guard.Grow(); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (c *guardedCursor) Current() any { return c.inner.Current() }
