package chat

import "fmt"

// SeqRef is either pending (no server sequence yet) or committed to a
// server-assigned sequence. The zero value is pending.
type SeqRef struct {
	seq int64
}

// Pending returns an uncommitted reference.
func Pending() SeqRef { return SeqRef{} }

// Committed returns a reference committed to seq. seq must be positive.
func Committed(seq int64) SeqRef {
	if seq <= 0 {
		panic(fmt.Sprintf("chat: invalid committed seq %d", seq))
	}
	return SeqRef{seq: seq}
}

// Committed reports whether the reference carries a server sequence.
func (r SeqRef) Committed() bool { return r.seq > 0 }

// Seq returns the sequence and whether the reference is committed.
func (r SeqRef) Seq() (int64, bool) { return r.seq, r.seq > 0 }

func (r SeqRef) String() string {
	if r.seq == 0 {
		return "pending"
	}
	return fmt.Sprintf("seq=%d", r.seq)
}
