package agent

import (
	"context"

	"github.com/aureeaubert/hull-closeio/internal/logger"
	"github.com/aureeaubert/hull-closeio/internal/model"
	"go.uber.org/zap"
)

// BuildEnvelope snapshots the entity, attaches cached CRM ids and the
// outbound payload. Lookup and mapping failures leave the envelope skipped
// with Err set; Initialize must have succeeded.
func (a *Agent) BuildEnvelope(ctx context.Context, kind model.EntityKind, msg model.UpdateMessage) *model.Envelope {
	env := &model.Envelope{Kind: kind, Message: msg}

	internal := msg.Entity(kind).Clone()
	if internal == nil {
		internal = model.NewRecord()
	}
	if kind == model.KindUser && msg.Account != nil {
		internal.Set("account", msg.Account.Clone())
	}
	env.Internal = internal
	log := logger.ForEntity(a.log, kind.String(), env.InternalID())

	cached, ok, err := a.ids.Lookup(ctx, kind, env.InternalID())
	if err != nil {
		a.failLookup(log, env, err)
		return env
	}
	if ok {
		env.CachedExternalID = cached
	}

	if kind == model.KindUser {
		accountID, _ := msg.Account.String("id")
		parent, ok, err := a.ids.Lookup(ctx, model.KindAccount, accountID)
		if err != nil {
			a.failLookup(log, env, err)
			return env
		}
		if ok {
			env.ParentCachedExternalID = parent
		}
	}

	out, err := a.currentMapper().MapOutbound(kind, internal)
	if err != nil {
		log.Error("outbound mapping failed", zap.Error(err))
		env.Err = err
		env.Skip(err.Error())
		return env
	}
	env.Outbound = out
	return env
}

func (a *Agent) failLookup(log *zap.Logger, env *model.Envelope, err error) {
	log.Error("identity lookup failed", zap.Error(err))
	env.Err = err
	reason := a.cfg.Messages.LookupFailed
	if reason == "" {
		reason = "identity lookup failed"
	}
	env.Skip(reason)
}
