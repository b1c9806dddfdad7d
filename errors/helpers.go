package errors

// WrapOpComponent provides a convenience helper to wrap errors with consistent Op and Component propagation.
// It avoids repetition when creating structured errors throughout the codebase.
// If err is nil, returns nil.
func WrapOpComponent(err error, op Operation, component string) error {
	if err == nil {
		return nil
	}
	return &MutationError{Op: op, Component: component, Kind: KindOf(err), Err: err}
}

// WrapOpComponentKind provides a convenience helper to wrap errors with Op, Component, and Kind.
// If err is nil, returns nil.
func WrapOpComponentKind(err error, op Operation, component string, kind Kind) error {
	if err == nil {
		return nil
	}
	return &MutationError{Op: op, Component: component, Kind: kind, Err: err}
}
