package delivery

import (
	"fmt"
	"slices"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
)

// Trigger is an event that can move a message through its lifecycle.
type Trigger string

const (
	Ack             Trigger = "ack"
	DeliveryReceipt Trigger = "delivery_receipt"
	ReadReceipt     Trigger = "read_receipt"
	RetryExhausted  Trigger = "retry_exhausted"
	Resend          Trigger = "resend"
)

var targets = map[Trigger]chat.Status{
	Ack:             chat.Sent,
	DeliveryReceipt: chat.Delivered,
	ReadReceipt:     chat.Read,
	RetryExhausted:  chat.Failed,
	Resend:          chat.Queued,
}

// validTransitions defines allowed forward moves. read is terminal; failed
// only leaves through an explicit resend.
var validTransitions = map[chat.Status][]chat.Status{
	chat.Queued:    {chat.Sent, chat.Failed},
	chat.Sent:      {chat.Delivered, chat.Read, chat.Failed},
	chat.Delivered: {chat.Read},
	chat.Read:      {},
	chat.Failed:    {chat.Queued},
}

// Next returns the status reached from `from` when trigger fires. changed is
// false when the trigger is a duplicate of the current state. Any other
// disallowed move returns chat.ErrInvalidTransition.
func Next(from chat.Status, trigger Trigger) (to chat.Status, changed bool, err error) {
	target, ok := targets[trigger]
	if !ok {
		return from, false, fmt.Errorf("unknown trigger %q", trigger)
	}
	if target == from {
		return from, false, nil
	}
	if !slices.Contains(validTransitions[from], target) {
		return from, false, fmt.Errorf("%w: %s -> %s (%s)", chat.ErrInvalidTransition, from, target, trigger)
	}
	return target, true, nil
}

// Apply advances m in place and stamps the lifecycle timestamps. A read
// receipt on a message that was never marked delivered fills DeliveredAt too.
func Apply(m *chat.Message, trigger Trigger, at time.Time) (bool, error) {
	to, changed, err := Next(m.Status, trigger)
	if err != nil || !changed {
		return false, err
	}
	switch to {
	case chat.Delivered:
		m.DeliveredAt = at
	case chat.Read:
		if m.DeliveredAt.IsZero() {
			m.DeliveredAt = at
		}
		m.ReadAt = at
	case chat.Queued:
		m.AckAt = time.Time{}
	}
	m.Status = to
	return true, nil
}

// Rank orders statuses along the happy path. failed ranks below queued so it
// never compares as progress.
func Rank(s chat.Status) int {
	switch s {
	case chat.Queued:
		return 1
	case chat.Sent:
		return 2
	case chat.Delivered:
		return 3
	case chat.Read:
		return 4
	}
	return 0
}

// AtLeast reports whether s has progressed to or beyond min on the happy path.
func AtLeast(s, min chat.Status) bool {
	return Rank(s) >= Rank(min)
}
