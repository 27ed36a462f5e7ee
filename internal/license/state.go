package license

// State is the outcome of one EnsureValid pass.
type State int

const (
	// StateNeedKey means no license key is on record; the caller must obtain
	// one and retry.
	StateNeedKey State = iota
	// StateChecking is the transient in-progress state.
	StateChecking
	// StateCachedOk means the cached credential satisfied validation, either
	// on the fresh fast path or under offline grace.
	StateCachedOk
	// StateOnlineOk means the issuer minted a fresh token that passed local
	// verification.
	StateOnlineOk
	// StateDenied means validation failed terminally for this attempt.
	StateDenied
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateNeedKey:
		return "need_key"
	case StateChecking:
		return "checking"
	case StateCachedOk:
		return "cached_ok"
	case StateOnlineOk:
		return "online_ok"
	case StateDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Valid reports whether the state grants access to the host tool.
func (s State) Valid() bool {
	return s == StateCachedOk || s == StateOnlineOk
}
