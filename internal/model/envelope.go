package model

// Op is the routing outcome of an envelope.
type Op string

const (
	OpPending Op = ""
	OpSkip    Op = "skip"
	OpInsert  Op = "insert"
	OpUpdate  Op = "update"
)

func (o Op) String() string {
	if o == OpPending {
		return "pending"
	}
	return string(o)
}

// Envelope is the per-entity unit of work carried through a sync batch.
type Envelope struct {
	Kind    EntityKind
	Message UpdateMessage

	// Internal snapshot; users carry their account nested under "account".
	Internal *Record

	CachedExternalID       string
	ParentCachedExternalID string

	// Outbound is the CRM write payload; Inbound is the CRM record returned
	// by a successful dispatch.
	Outbound *Record
	Inbound  *Record

	Op         Op
	SkipReason string
	Err        error
}

func (e *Envelope) InternalID() string {
	id, _ := e.Internal.String("id")
	return id
}

// Skip is terminal: later classification calls are ignored.
func (e *Envelope) Skip(reason string) {
	if e.Op != OpPending {
		return
	}
	if reason == "" {
		reason = "skipped"
	}
	e.Op = OpSkip
	e.SkipReason = reason
}

// MarkUpdate classifies the envelope as an update of externalID and stamps
// the id on the write payload.
func (e *Envelope) MarkUpdate(externalID string) {
	if e.Op != OpPending {
		return
	}
	e.Op = OpUpdate
	if e.Outbound == nil {
		e.Outbound = NewRecord()
	}
	e.Outbound.Set("id", externalID)
}

func (e *Envelope) MarkInsert() {
	if e.Op != OpPending {
		return
	}
	e.Op = OpInsert
}

// ExternalID returns the id of the CRM record the envelope addresses, from
// the returned record first, then the write payload.
func (e *Envelope) ExternalID() string {
	if id, ok := e.Inbound.String("id"); ok && id != "" {
		return id
	}
	id, _ := e.Outbound.String("id")
	return id
}
