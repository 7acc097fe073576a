package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aureeaubert/hull-closeio/internal/crm"
	"github.com/aureeaubert/hull-closeio/internal/logger"
	"github.com/aureeaubert/hull-closeio/internal/metrics"
	"github.com/aureeaubert/hull-closeio/internal/model"
	"github.com/aureeaubert/hull-closeio/internal/util"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var errNoResult = errors.New("no result returned for payload")

// dispatch sends one uniform batch and applies every result independently.
func (a *Agent) dispatch(ctx context.Context, kind model.EntityKind, op model.Op, envs []*model.Envelope) {
	if len(envs) == 0 {
		return
	}

	payloads := make([]*model.Record, len(envs))
	for i, env := range envs {
		payloads[i] = env.Outbound
	}

	var results []crm.Result
	if op == model.OpUpdate {
		results = a.crm.Put(ctx, kind, payloads)
	} else {
		results = a.crm.Post(ctx, kind, payloads)
	}

	var g errgroup.Group
	g.SetLimit(a.cfg.Concurrency)
	for i, env := range envs {
		res := crm.Result{Err: errNoResult}
		if i < len(results) {
			res = results[i]
		}
		g.Go(func() error {
			a.apply(ctx, env, res)
			return nil
		})
	}
	_ = g.Wait()
}

// apply writes a CRM answer back to the platform. Failures stay on env.
func (a *Agent) apply(ctx context.Context, env *model.Envelope, res crm.Result) {
	kind, op := env.Kind, env.Op
	log := logger.ForEntity(a.log, kind.String(), env.InternalID()).With(zap.String("op", op.String()))

	if res.Err == nil && res.Record == nil {
		res.Err = errNoResult
	}
	if res.Err != nil {
		env.Err = &model.DispatchError{Kind: kind, ID: env.InternalID(), Op: op, Err: res.Err}
		metrics.DispatchTotal.WithLabelValues(kind.String(), op.String(), "error").Inc()
		log.Error("dispatch failed", zap.Error(res.Err))
		return
	}
	metrics.DispatchTotal.WithLabelValues(kind.String(), op.String(), "success").Inc()
	env.Inbound = res.Record

	// link first so the next notification updates instead of inserting again
	if op == model.OpInsert {
		if extID := env.ExternalID(); extID != "" {
			if err := a.ids.Link(ctx, kind, env.InternalID(), extID); err != nil {
				env.Err = err
				log.Error("identity link failed", zap.Error(err))
			}
		}
	}

	m := a.currentMapper()
	ident := m.MapInboundIdentity(kind, res.Record)
	ident.ID = env.InternalID()
	attrs := m.MapInboundAttributes(kind, res.Record)

	if err := a.platform.ApplyTraits(ctx, kind, ident, attrs); err != nil {
		env.Err = fmt.Errorf("apply traits: %w", err)
		log.Error("write back failed", zap.Error(err))
		return
	}
	log.Debug("write back done", zap.Int("attributes", len(attrs)))
}

// report logs and records one event per envelope. Recording errors are
// logged only.
func (a *Agent) report(ctx context.Context, log *zap.Logger, batchID string, envs []*model.Envelope) {
	now := time.Now().UTC()
	events := make([]model.SyncEvent, 0, len(envs))

	for _, env := range envs {
		ev := model.SyncEvent{
			ID:         util.NewID(),
			BatchID:    batchID,
			Kind:       env.Kind.String(),
			InternalID: env.InternalID(),
			ExternalID: env.ExternalID(),
			Op:         env.Op.String(),
			CreatedAt:  now,
		}
		elog := logger.ForEntity(log, ev.Kind, ev.InternalID).With(zap.String("op", ev.Op))

		switch {
		case env.Err != nil:
			ev.Outcome = model.OutcomeError
			ev.Message = env.Err.Error()
			elog.Warn("sync failed", zap.String("error", ev.Message))
		case env.Op == model.OpSkip:
			ev.Outcome = model.OutcomeSkipped
			ev.Message = env.SkipReason
			elog.Info("sync skipped", zap.String("reason", ev.Message))
		default:
			ev.Outcome = model.OutcomeSuccess
			elog.Info("sync succeeded", zap.String("external_id", ev.ExternalID))
		}
		events = append(events, ev)
	}

	if a.events == nil {
		return
	}
	if err := a.events.InsertBatch(ctx, events); err != nil {
		log.Warn("record sync events failed", zap.Error(err))
	}
}
