// Package rewrite validates untrusted modules against an API policy and
// instruments them with runtime guard calls.
package rewrite

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/sandguard/internal/bytecode"
	"github.com/ppiankov/sandguard/internal/runguard"
)

// ErrHolderExists rejects modules that already define the guard holder.
var ErrHolderExists = errors.New("module already defines the guard holder type")

// Result describes a successful rewrite.
type Result struct {
	Token  runguard.Token
	Module *bytecode.Module
	Stats  Stats
}

// Rewrite reads a module from src, validates and instruments it, and writes
// the result to dst. Nothing is written unless the whole module passes.
// The returned token names the slot the module's guard calls resolve to.
func Rewrite(src io.Reader, dst io.Writer, settings *Settings) (runguard.Token, error) {
	if SameStream(src, dst) {
		return runguard.Token{}, ErrSameStream
	}
	m, err := bytecode.Decode(src)
	if err != nil {
		return runguard.Token{}, err
	}
	res, err := RewriteModule(m, settings)
	if err != nil {
		return runguard.Token{}, err
	}
	var buf bytes.Buffer
	if err := bytecode.Encode(&buf, res.Module); err != nil {
		return runguard.Token{}, fmt.Errorf("encode module: %w", err)
	}
	if _, err := dst.Write(buf.Bytes()); err != nil {
		return runguard.Token{}, fmt.Errorf("write module: %w", err)
	}
	return res.Token, nil
}

// Check validates a module from src without instrumenting or writing it.
func Check(src io.Reader, settings *Settings) error {
	m, err := bytecode.Decode(src)
	if err != nil {
		return err
	}
	return CheckModule(m, settings)
}

// CheckModule runs every check Rewrite runs, leaving m untouched.
func CheckModule(m *bytecode.Module, settings *Settings) error {
	s := settings.withDefaults()
	v := newValidator(m, s)
	if err := v.checkModule(m); err != nil {
		return err
	}
	return walkTypes(m.Types, v.checkTypeDef, func(md *bytecode.MethodDef) error {
		if err := v.checkMethodDef(md); err != nil {
			return err
		}
		if md.Body == nil {
			return nil
		}
		for i, in := range md.Body.Instructions {
			v.location = fmt.Sprintf("%s at IL_%04d", md.FullName(), i)
			if _, err := v.checkOperand(in); err != nil {
				return err
			}
		}
		return nil
	})
}

// walkTypes visits each type, then its nested types, then its methods.
func walkTypes(types []*bytecode.TypeDef, typeFn func(*bytecode.TypeDef) error, methodFn func(*bytecode.MethodDef) error) error {
	for _, t := range types {
		if err := typeFn(t); err != nil {
			return err
		}
		if err := walkTypes(t.Nested, typeFn, methodFn); err != nil {
			return err
		}
		for _, md := range t.Methods {
			if err := methodFn(md); err != nil {
				return err
			}
		}
	}
	return nil
}

// RewriteModule validates and instruments m in place. On error m may be
// partially rewritten and must be discarded.
func RewriteModule(m *bytecode.Module, settings *Settings) (*Result, error) {
	s := settings.withDefaults()
	start := time.Now()
	log := s.Logger.With(zap.String("module", m.Name))

	res, err := rewriteModule(m, s)
	if err != nil {
		var pv *PolicyViolation
		if errors.As(err, &pv) {
			log.Warn("module rejected",
				zap.String("kind", string(pv.Kind)),
				zap.String("subject", pv.Subject()),
				zap.String("location", pv.Location),
				zap.String("reason", pv.Reason),
			)
		} else {
			log.Warn("module rewrite failed", zap.Error(err))
		}
		return nil, err
	}

	log.Info("module rewritten",
		zap.String("token", res.Token.String()),
		zap.Int("types", res.Stats.Types),
		zap.Int("methods", res.Stats.Methods),
		zap.Int("bodies", res.Stats.Bodies),
		zap.Int("instructions_added", res.Stats.Instructions),
		zap.Int("jump_guards", res.Stats.JumpGuards),
		zap.Int("array_guards", res.Stats.ArrayGuards),
		zap.Int("call_rewrites", res.Stats.CallRewrites),
		zap.Duration("took", time.Since(start)),
	)
	return res, nil
}

func rewriteModule(m *bytecode.Module, s *Settings) (*Result, error) {
	if m.FindType(HolderNamespace+"."+HolderName) != nil {
		return nil, ErrHolderExists
	}

	token := runguard.NewToken()
	holder, slot := newHolder(token)
	v := newValidator(m, s)
	j := &injector{v: v, slot: slot}

	if err := v.checkModule(m); err != nil {
		return nil, err
	}
	err := walkTypes(m.Types,
		func(t *bytecode.TypeDef) error {
			if err := v.checkTypeDef(t); err != nil {
				return err
			}
			j.stats.Types++
			return nil
		},
		func(md *bytecode.MethodDef) error {
			if err := v.checkMethodDef(md); err != nil {
				return err
			}
			j.stats.Methods++
			if md.Body == nil || len(md.Body.Instructions) == 0 {
				return nil
			}
			return j.instrument(md)
		})
	if err != nil {
		return nil, err
	}

	m.Types = append(m.Types, holder)
	m.Link()
	return &Result{Token: token, Module: m, Stats: j.stats}, nil
}

// SameStream reports whether src and dst are the same underlying object.
func SameStream(src io.Reader, dst io.Writer) bool {
	rv, wv := reflect.ValueOf(src), reflect.ValueOf(dst)
	if !rv.IsValid() || !wv.IsValid() {
		return false
	}
	if rv.Kind() != reflect.Pointer || wv.Kind() != reflect.Pointer {
		return false
	}
	return rv.Pointer() == wv.Pointer()
}
