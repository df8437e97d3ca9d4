package errors

// WrapOpComponent provides a convenience helper to wrap errors with consistent
// Op and Component propagation. If err is nil, returns nil.
func WrapOpComponent(err error, op Operation, component string) error {
	if err == nil {
		return nil
	}
	return NewWithComponent(op, component, err)
}

// WrapOpComponentCode wraps err with Op, Component, and a failure Code.
// If err is nil, returns nil.
func WrapOpComponentCode(err error, op Operation, component string, code Code) error {
	if err == nil {
		return nil
	}
	qe := NewWithComponent(op, component, err)
	qe.Code = code
	return qe
}
