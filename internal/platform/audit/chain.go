package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

const Genesis = "GENESIS"

var ErrCorruptChain = errors.New("audit chain corruption detected")

func ComputeHash(prev string, e Event) string {
	h := sha256.New()
	_, _ = h.Write([]byte(prev))
	_, _ = h.Write([]byte("|" + e.ID))
	_, _ = h.Write([]byte("|" + e.RecordedAt.UTC().Format("2006-01-02T15:04:05.999999999Z")))
	_, _ = h.Write([]byte("|" + e.ActorID + "|" + e.ActorRole))
	_, _ = h.Write([]byte("|" + e.ObjectType + "|" + e.ObjectID + "|" + e.Action + "|" + string(e.Result) + "|" + e.Reason))
	_, _ = h.Write([]byte(fmt.Sprintf("|%x|%x", canonicalJSON(e.Before), canonicalJSON(e.After))))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalJSON re-encodes a snapshot with sorted keys and no insignificant
// whitespace, so a JSONB round trip hashes the same as the appended bytes.
func canonicalJSON(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte(`{}`)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}

// Walker streams the whole chain in append order.
type Walker interface {
	Walk(ctx context.Context, fn func(Event) error) error
}

type chainCheck struct {
	prev string
	n    int
}

func (c *chainCheck) next(e Event) error {
	if e.HashPrev != c.prev {
		return fmt.Errorf("%w: event %d (%s) links to %s, want %s", ErrCorruptChain, c.n, e.ID, e.HashPrev, c.prev)
	}
	if got := ComputeHash(c.prev, e); got != e.HashCurr {
		return fmt.Errorf("%w: event %d (%s) hash mismatch", ErrCorruptChain, c.n, e.ID)
	}
	c.prev = e.HashCurr
	c.n++
	return nil
}

// Verify walks events in append order and reports the first broken link.
func Verify(events []Event) error {
	c := &chainCheck{prev: Genesis}
	for _, e := range events {
		if err := c.next(e); err != nil {
			return err
		}
	}
	return nil
}

// VerifyStore checks the stored chain and returns how many events were
// verified before the first broken link.
func VerifyStore(ctx context.Context, w Walker) (int, error) {
	c := &chainCheck{prev: Genesis}
	err := w.Walk(ctx, c.next)
	return c.n, err
}
