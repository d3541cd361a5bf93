package crypto

type FieldState int

const (
	FieldOK FieldState = iota
	FieldAbsent
	FieldFailed
)

// FieldResult is the outcome of opening one sealed field. It replaces the
// pattern of threading a "silent" flag through every read path: the opener
// always reports what happened and each caller decides whether to log.
type FieldResult struct {
	State FieldState
	Value string
	Err   error
}

func (r FieldResult) OK() bool     { return r.State == FieldOK }
func (r FieldResult) Absent() bool { return r.State == FieldAbsent }
func (r FieldResult) Failed() bool { return r.State == FieldFailed }

// OpenField opens a single nullable sealed field.
func (k *Keyring) OpenField(sealed *string) FieldResult {
	if sealed == nil || *sealed == "" {
		return FieldResult{State: FieldAbsent}
	}
	plaintext, err := k.Open(*sealed)
	if err != nil {
		return FieldResult{State: FieldFailed, Err: err}
	}
	return FieldResult{State: FieldOK, Value: plaintext}
}
