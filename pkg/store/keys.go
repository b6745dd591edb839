package store

import "fmt"

// Key construction for every persisted entity. Sort keys are zero-padded
// so Pebble's byte order matches numeric order within a thread.

// ThreadKey addresses a thread record.
func ThreadKey(threadID string) string {
	return "thread:" + threadID
}

// InteractionKey addresses an interaction within its thread.
func InteractionKey(threadID string, sortKey uint64) string {
	return fmt.Sprintf("thread:%s:int:%020d", threadID, sortKey)
}

// InteractionPrefix is the range prefix for a thread's interactions.
func InteractionPrefix(threadID string) string {
	return "thread:" + threadID + ":int:"
}

// InteractionIndexKey maps an interaction id to its thread and sort key.
func InteractionIndexKey(interactionID string) string {
	return "intidx:" + interactionID
}

// PaymentKey addresses a payment model.
func PaymentKey(paymentID string) string {
	return "payment:" + paymentID
}

// LedgerIndexKey maps a ledger transaction id to its payment id.
func LedgerIndexKey(ledgerTxID string) string {
	return "payidx:ledger:" + ledgerTxID
}

// ContactVerificationKey addresses a contact's current verification state.
func ContactVerificationKey(contact string) string {
	return "contact:" + contact + ":verify"
}

// DirectThreadIndexKey maps a contact identity to its direct thread.
func DirectThreadIndexKey(contact string) string {
	return "thridx:direct:" + contact
}

// GroupThreadIndexKey maps a group identity to its thread.
func GroupThreadIndexKey(groupID string) string {
	return "thridx:group:" + groupID
}

// StoryThreadIndexKey maps a story distribution identity to its thread.
func StoryThreadIndexKey(storyID string) string {
	return "thridx:story:" + storyID
}
