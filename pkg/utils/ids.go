package utils

import (
	"time"

	"github.com/google/uuid"
)

// GenThreadID returns a new unique thread identifier.
func GenThreadID() string { return "th_" + uuid.NewString() }

// GenInteractionID returns a new unique interaction identifier.
func GenInteractionID() string { return "in_" + uuid.NewString() }

// GenPaymentID returns a new unique payment identifier.
func GenPaymentID() string { return "pay_" + uuid.NewString() }

// NowNS returns the current wall clock in UTC nanoseconds, the timestamp
// unit used throughout the store.
func NowNS() int64 { return time.Now().UTC().UnixNano() }
