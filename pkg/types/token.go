package types

// TokenID is the effective identity of a token type. For records minted
// on chain it is the string form of the minting outpoint.
type TokenID string

// String returns the identity as a string.
func (t TokenID) String() string {
	return string(t)
}

// Short returns an abbreviated form for display: first and last 8 characters.
func (t TokenID) Short() string {
	s := string(t)
	if len(s) <= 19 {
		return s
	}
	return s[:8] + "..." + s[len(s)-8:]
}

// IsZero returns true for the empty identity.
func (t TokenID) IsZero() bool {
	return t == ""
}
