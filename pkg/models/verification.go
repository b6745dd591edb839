package models

// VerificationState is the identity-verification state of a contact.
type VerificationState string

const (
	VerificationDefault          VerificationState = "default"
	VerificationVerified         VerificationState = "verified"
	VerificationNoLongerVerified VerificationState = "no_longer_verified"
)

// Valid reports whether s is a member of the closed state set.
func (s VerificationState) Valid() bool {
	switch s {
	case VerificationDefault, VerificationVerified, VerificationNoLongerVerified:
		return true
	}
	return false
}

// ContactVerification is the current verification state of a contact.
// Historical changes are recorded as verification-change interactions;
// Counter orders out-of-order remote notifications.
type ContactVerification struct {
	Contact   string            `json:"contact"`
	State     VerificationState `json:"state"`
	Counter   uint64            `json:"counter"`
	UpdatedTS int64             `json:"updated_ts,omitempty"`
}
