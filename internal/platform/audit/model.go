package audit

import "time"

type Result string

const (
	ResultSuccess Result = "success"
	ResultDenied  Result = "denied"
	ResultFailed  Result = "failed"
)

// Event is one entry of the money-movement audit trail. Before and After hold
// JSON snapshots of the object the action touched.
type Event struct {
	ID         string
	RecordedAt time.Time
	ActorID    string
	ActorRole  string
	ObjectType string
	ObjectID   string
	Action     string
	Before     []byte
	After      []byte
	Result     Result
	Reason     string
	HashPrev   string
	HashCurr   string
}
