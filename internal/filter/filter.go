// Package filter deduplicates platform notifications and routes each
// envelope to skip, insert or update.
package filter

import (
	"github.com/aureeaubert/hull-closeio/internal/mapping"
	"github.com/aureeaubert/hull-closeio/internal/model"
)

// Reasons is the catalog of skip messages.
type Reasons struct {
	SegmentMismatch string
	NotLinked       string
}

func (r Reasons) withDefaults() Reasons {
	if r.SegmentMismatch == "" {
		r.SegmentMismatch = "segment mismatch"
	}
	if r.NotLinked == "" {
		r.NotLinked = "not linked to an account"
	}
	return r
}

type Filter struct {
	accountSegments []string
	userSegments    []string
	reasons         Reasons
}

func New(accountSegments, userSegments []string, reasons Reasons) *Filter {
	return &Filter{
		accountSegments: accountSegments,
		userSegments:    userSegments,
		reasons:         reasons.withDefaults(),
	}
}

// Deduplicate keeps one message per entity id: the one with the latest
// indexed_at, carrying every distinct event seen for that entity.
// Messages without an entity id are dropped.
func Deduplicate(kind model.EntityKind, messages []model.UpdateMessage) []model.UpdateMessage {
	type group struct {
		rep    model.UpdateMessage
		order  []string
		events map[string]model.Event
		anon   []model.Event
	}
	groups := make(map[string]*group, len(messages))
	ids := make([]string, 0, len(messages))

	for _, msg := range messages {
		id := msg.EntityID(kind)
		if id == "" {
			continue
		}
		g, ok := groups[id]
		if !ok {
			g = &group{rep: msg, events: make(map[string]model.Event)}
			groups[id] = g
			ids = append(ids, id)
		} else if !msg.IndexedAt(kind).Before(g.rep.IndexedAt(kind)) {
			g.rep = msg
		}
		for _, ev := range msg.Events {
			if ev.EventID == "" {
				g.anon = append(g.anon, ev)
				continue
			}
			if _, seen := g.events[ev.EventID]; !seen {
				g.order = append(g.order, ev.EventID)
			}
			g.events[ev.EventID] = ev
		}
	}

	out := make([]model.UpdateMessage, 0, len(ids))
	for _, id := range ids {
		g := groups[id]
		msg := g.rep
		msg.Events = make([]model.Event, 0, len(g.order)+len(g.anon))
		for _, eid := range g.order {
			msg.Events = append(msg.Events, g.events[eid])
		}
		msg.Events = append(msg.Events, g.anon...)
		out = append(out, msg)
	}
	return out
}

// MatchesSegment reports whether the entity belongs to at least one allowed
// segment. An empty allow-list matches nothing.
func MatchesSegment(env *model.Envelope, segmentField string, allowed []string) bool {
	if len(allowed) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(allowed))
	for _, s := range allowed {
		set[s] = struct{}{}
	}
	for _, id := range env.Message.SegmentIDs(segmentField) {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

// FilterAccounts classifies lead envelopes in place.
func (f *Filter) FilterAccounts(envs []*model.Envelope) {
	for _, env := range envs {
		if env.Op != model.OpPending {
			continue
		}
		if !MatchesSegment(env, model.KindAccount.SegmentField(), f.accountSegments) {
			env.Skip(f.reasons.SegmentMismatch)
			continue
		}
		if id := resolveExternalID(env); id != "" {
			env.MarkUpdate(id)
			env.Outbound.Delete("status_id")
			continue
		}
		env.MarkInsert()
	}
}

// FilterUsers classifies contact envelopes in place. A contact needs its
// lead to exist before it can be created.
func (f *Filter) FilterUsers(envs []*model.Envelope) {
	for _, env := range envs {
		if env.Op != model.OpPending {
			continue
		}
		if !MatchesSegment(env, model.KindUser.SegmentField(), f.userSegments) {
			env.Skip(f.reasons.SegmentMismatch)
			continue
		}
		leadID := resolveParentExternalID(env)
		if leadID != "" && env.Outbound != nil {
			if _, ok := env.Outbound.Lookup("lead_id"); !ok {
				env.Outbound.Set("lead_id", leadID)
			}
		}
		if id := resolveExternalID(env); id != "" {
			env.MarkUpdate(id)
			continue
		}
		if leadID == "" {
			env.Skip(f.reasons.NotLinked)
			continue
		}
		env.MarkInsert()
	}
}

func resolveExternalID(env *model.Envelope) string {
	if id, ok := env.Internal.String(mapping.ExternalIDAttr); ok && id != "" {
		return id
	}
	return env.CachedExternalID
}

func resolveParentExternalID(env *model.Envelope) string {
	if id, ok := env.Internal.String("account." + mapping.ExternalIDAttr); ok && id != "" {
		return id
	}
	return env.ParentCachedExternalID
}
