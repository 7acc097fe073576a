// Package agent runs sync batches: dedup, envelope construction,
// classification, CRM dispatch and write-back.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aureeaubert/hull-closeio/internal/cache"
	"github.com/aureeaubert/hull-closeio/internal/config"
	"github.com/aureeaubert/hull-closeio/internal/crm"
	"github.com/aureeaubert/hull-closeio/internal/filter"
	"github.com/aureeaubert/hull-closeio/internal/mapping"
	"github.com/aureeaubert/hull-closeio/internal/metrics"
	"github.com/aureeaubert/hull-closeio/internal/model"
	"github.com/aureeaubert/hull-closeio/internal/util"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	leadStatusesKey = "closeio:lead_statuses"
	customFieldsKey = "closeio:custom_fields"
)

// Platform receives attributes mapped back from the CRM.
type Platform interface {
	ApplyTraits(ctx context.Context, kind model.EntityKind, ident model.Identity, attrs map[string]model.Attribute) error
}

// EventRecorder stores per-entity outcomes. Optional.
type EventRecorder interface {
	InsertBatch(ctx context.Context, events []model.SyncEvent) error
}

type Agent struct {
	cfg      config.SyncConfig
	apiKey   string
	crm      crm.Client
	cache    cache.Cache
	ids      *cache.Identities
	platform Platform
	events   EventRecorder
	filter   *filter.Filter
	log      *zap.Logger

	mu     sync.Mutex
	mapper *mapping.Mapper
}

// New wires an agent. events may be nil.
func New(
	cfg config.SyncConfig,
	apiKey string,
	client crm.Client,
	c cache.Cache,
	platform Platform,
	events EventRecorder,
	log *zap.Logger,
) *Agent {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	return &Agent{
		cfg:      cfg,
		apiKey:   apiKey,
		crm:      client,
		cache:    c,
		ids:      cache.NewIdentities(c),
		platform: platform,
		events:   events,
		filter: filter.New(cfg.AccountSegments, cfg.UserSegments, filter.Reasons{
			SegmentMismatch: cfg.Messages.SegmentMismatch,
			NotLinked:       cfg.Messages.NotLinked,
		}),
		log: log,
	}
}

func (a *Agent) checkConfig() error {
	if a.apiKey == "" {
		return model.ConfigErrorf("missing Close.io API key")
	}
	switch a.cfg.LeadIdentifier.Internal {
	case "", "domain", "external_id":
	default:
		return model.ConfigErrorf("unknown lead identifier %q", a.cfg.LeadIdentifier.Internal)
	}
	if a.crm == nil || a.cache == nil || a.platform == nil {
		return model.ConfigErrorf("agent is missing a collaborator")
	}
	return nil
}

// Initialize checks configuration and loads reference data. Only the first
// successful call does any work.
func (a *Agent) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mapper != nil {
		return nil
	}
	if err := a.checkConfig(); err != nil {
		return err
	}

	ref, err := a.ReferenceData(ctx)
	if err != nil {
		return err
	}
	a.mapper = mapping.New(a.cfg, ref, a.log)
	return nil
}

// ReferenceData returns lead statuses and custom fields, from cache when present.
func (a *Agent) ReferenceData(ctx context.Context) (model.ReferenceData, error) {
	statuses, err := cache.WrapJSON(ctx, a.cache, leadStatusesKey, a.cfg.ReferenceTTL, a.crm.ListLeadStatuses)
	if err != nil {
		return model.ReferenceData{}, fmt.Errorf("load lead statuses: %w", err)
	}
	fields, err := cache.WrapJSON(ctx, a.cache, customFieldsKey, a.cfg.ReferenceTTL, a.crm.ListCustomFields)
	if err != nil {
		return model.ReferenceData{}, fmt.Errorf("load custom fields: %w", err)
	}
	return model.ReferenceData{LeadStatuses: statuses, CustomFields: fields}, nil
}

func (a *Agent) currentMapper() *mapping.Mapper {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mapper
}

// Report summarizes one batch.
type Report struct {
	BatchID      string           `json:"batch_id"`
	Kind         model.EntityKind `json:"kind"`
	Received     int              `json:"received"`
	Deduplicated int              `json:"deduplicated"`
	Skipped      int              `json:"skipped"`
	Inserted     int              `json:"inserted"`
	Updated      int              `json:"updated"`
	Failed       int              `json:"failed"`

	Envelopes []*model.Envelope `json:"-"`
}

func (a *Agent) SendAccountMessages(ctx context.Context, msgs []model.UpdateMessage) (Report, error) {
	return a.send(ctx, model.KindAccount, msgs)
}

func (a *Agent) SendUserMessages(ctx context.Context, msgs []model.UpdateMessage) (Report, error) {
	return a.send(ctx, model.KindUser, msgs)
}

// Send dispatches to the kind-specific entry point.
func (a *Agent) Send(ctx context.Context, kind model.EntityKind, msgs []model.UpdateMessage) (Report, error) {
	return a.send(ctx, kind, msgs)
}

func (a *Agent) send(ctx context.Context, kind model.EntityKind, msgs []model.UpdateMessage) (Report, error) {
	start := time.Now()
	if err := a.Initialize(ctx); err != nil {
		return Report{}, err
	}

	batchID := util.NewBatchID()
	log := a.log.With(zap.String("batch_id", batchID), zap.String("kind", kind.String()))

	deduped := filter.Deduplicate(kind, msgs)
	envs := make([]*model.Envelope, 0, len(deduped))
	for _, msg := range deduped {
		envs = append(envs, a.BuildEnvelope(ctx, kind, msg))
	}

	if kind == model.KindUser {
		a.filter.FilterUsers(envs)
	} else {
		a.filter.FilterAccounts(envs)
	}

	var updates, inserts []*model.Envelope
	for _, env := range envs {
		metrics.EnvelopesTotal.WithLabelValues(kind.String(), env.Op.String()).Inc()
		switch env.Op {
		case model.OpUpdate:
			updates = append(updates, env)
		case model.OpInsert:
			inserts = append(inserts, env)
		}
	}

	var g errgroup.Group
	g.Go(func() error {
		a.dispatch(ctx, kind, model.OpUpdate, updates)
		return nil
	})
	g.Go(func() error {
		a.dispatch(ctx, kind, model.OpInsert, inserts)
		return nil
	})
	_ = g.Wait()

	a.report(ctx, log, batchID, envs)

	rep := Report{
		BatchID:      batchID,
		Kind:         kind,
		Received:     len(msgs),
		Deduplicated: len(envs),
		Envelopes:    envs,
	}
	for _, env := range envs {
		switch {
		case env.Err != nil:
			rep.Failed++
		case env.Op == model.OpSkip:
			rep.Skipped++
		case env.Op == model.OpInsert:
			rep.Inserted++
		case env.Op == model.OpUpdate:
			rep.Updated++
		}
	}

	metrics.BatchDuration.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
	log.Info("sync batch done",
		zap.Int("received", rep.Received),
		zap.Int("envelopes", rep.Deduplicated),
		zap.Int("inserted", rep.Inserted),
		zap.Int("updated", rep.Updated),
		zap.Int("skipped", rep.Skipped),
		zap.Int("failed", rep.Failed),
		zap.Duration("took", time.Since(start)),
	)
	return rep, nil
}
