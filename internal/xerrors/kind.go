package xerrors

import "errors"

// Kind classifies a failure by how callers should degrade.
type Kind string

const (
	KindUnknown       Kind = ""
	KindNotConfigured Kind = "not_configured"
	KindUpstream      Kind = "upstream"
	KindInvalid       Kind = "invalid"
	KindNotFound      Kind = "not_found"
)

type kinded struct {
	err  error
	kind Kind
}

func (k *kinded) Error() string     { return k.err.Error() }
func (k *kinded) Unwrap() error     { return k.err }
func (k *kinded) Kind() Kind        { return k.kind }
func (k *kinded) IsXerrorsWrapper() {}

// WithKind tags err. The outermost tag wins in KindOf.
func WithKind(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return &kinded{err: err, kind: kind}
}

// KindOf returns the first Kind found walking the chain.
func KindOf(err error) Kind {
	var k interface{ Kind() Kind }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindUnknown
}

// IsKind reports whether err is tagged with kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
