package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/aureeaubert/hull-closeio/internal/cache"
	"github.com/aureeaubert/hull-closeio/internal/config"
	"github.com/aureeaubert/hull-closeio/internal/crm"
	"github.com/aureeaubert/hull-closeio/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCRM struct {
	mu       sync.Mutex
	next     int
	posts    []*model.Record
	puts     []*model.Record
	failName string
	refCalls int
}

func (f *fakeCRM) Post(_ context.Context, kind model.EntityKind, payloads []*model.Record) []crm.Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]crm.Result, len(payloads))
	for i, p := range payloads {
		f.posts = append(f.posts, p)
		if name, _ := p.String("name"); f.failName != "" && name == f.failName {
			out[i] = crm.Result{Err: errors.New("422 invalid")}
			continue
		}
		f.next++
		rec := p.Clone()
		rec.Set("id", fmt.Sprintf("%s_%d", kind.External(), f.next))
		rec.Set("date_created", "2024-01-01T00:00:00Z")
		out[i] = crm.Result{Record: rec}
	}
	return out
}

func (f *fakeCRM) Put(_ context.Context, _ model.EntityKind, payloads []*model.Record) []crm.Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]crm.Result, len(payloads))
	for i, p := range payloads {
		f.puts = append(f.puts, p)
		out[i] = crm.Result{Record: p.Clone()}
	}
	return out
}

func (f *fakeCRM) ListLeadStatuses(context.Context) ([]model.LeadStatus, error) {
	f.mu.Lock()
	f.refCalls++
	f.mu.Unlock()
	return []model.LeadStatus{{ID: "stat_new", Label: "New"}}, nil
}

func (f *fakeCRM) ListCustomFields(context.Context) ([]model.CustomField, error) {
	return []model.CustomField{{ID: "lcf_1", Name: "Plan"}}, nil
}

type applied struct {
	kind  model.EntityKind
	ident model.Identity
	attrs map[string]model.Attribute
}

type fakePlatform struct {
	mu    sync.Mutex
	calls []applied
}

func (p *fakePlatform) ApplyTraits(_ context.Context, kind model.EntityKind, ident model.Identity, attrs map[string]model.Attribute) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, applied{kind: kind, ident: ident, attrs: attrs})
	return nil
}

// flakyCache fails identity reads for one key and serves everything else
// from memory.
type flakyCache struct {
	*cache.MemoryCache
	failKey string
}

func (c *flakyCache) Get(ctx context.Context, key string) (string, bool, error) {
	if key == c.failKey {
		return "", false, errors.New("redis: connection refused")
	}
	return c.MemoryCache.Get(ctx, key)
}

type fakeRecorder struct {
	events []model.SyncEvent
}

func (r *fakeRecorder) InsertBatch(_ context.Context, events []model.SyncEvent) error {
	r.events = append(r.events, events...)
	return nil
}

func testConfig() config.SyncConfig {
	return config.SyncConfig{
		AccountSegments: []string{"seg_sync"},
		UserSegments:    []string{"seg_users"},
		LeadStatus:      "stat_new",
		LeadIdentifier:  config.LeadIdentifier{Internal: "domain", External: "url"},
		ContactAttributesOutbound: []config.AttributeMapping{
			{Hull: "email", CloseIO: "emails.office"},
		},
		LeadAttributesInbound:    []string{"name", "status_id"},
		ContactAttributesInbound: []string{"name", "emails"},
		Messages: config.Messages{
			SegmentMismatch: "segment mismatch",
			NotLinked:       "not linked to an account",
			LookupFailed:    "identity lookup failed",
		},
	}
}

type harness struct {
	agent    *Agent
	crm      *fakeCRM
	platform *fakePlatform
	events   *fakeRecorder
	cache    *cache.MemoryCache
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		crm:      &fakeCRM{},
		platform: &fakePlatform{},
		events:   &fakeRecorder{},
		cache:    cache.NewMemoryCache(),
	}
	h.agent = New(testConfig(), "api_key", h.crm, h.cache, h.platform, h.events, nil)
	return h
}

func accountMessage(id string, segments ...string) model.UpdateMessage {
	msg := model.UpdateMessage{Account: model.RecordOf("id", id, "name", "Acme "+id, "domain", "acme.com")}
	for _, s := range segments {
		msg.AccountSegments = append(msg.AccountSegments, model.Segment{ID: s})
	}
	return msg
}

func userMessage(id string, account *model.Record, segments ...string) model.UpdateMessage {
	msg := model.UpdateMessage{
		User:    model.RecordOf("id", id, "name", "Jane "+id, "email", id+"@acme.com"),
		Account: account,
	}
	for _, s := range segments {
		msg.Segments = append(msg.Segments, model.Segment{ID: s})
	}
	return msg
}

func TestNewAccountIsInsertedThenUpdated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	rep, err := h.agent.SendAccountMessages(ctx, []model.UpdateMessage{accountMessage("acc_1", "seg_sync")})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Inserted)
	require.Len(t, rep.Envelopes, 1)
	assert.Equal(t, model.OpInsert, rep.Envelopes[0].Op)

	status, _ := h.crm.posts[0].String("status_id")
	assert.Equal(t, "stat_new", status)

	linked, ok, err := cache.NewIdentities(h.cache).Lookup(ctx, model.KindAccount, "acc_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "lead_1", linked)

	require.Len(t, h.platform.calls, 1)
	call := h.platform.calls[0]
	assert.Equal(t, "acc_1", call.ident.ID)
	assert.Equal(t, "acme.com", call.ident.Domain)
	assert.Equal(t, "closeio:lead_1", call.ident.AnonymousID)
	assert.Equal(t, model.Set("lead_1"), call.attrs["closeio/id"])
	assert.Equal(t, model.SetIfNull("2024-01-01T00:00:00Z"), call.attrs["closeio/created_at"])

	rep, err = h.agent.SendAccountMessages(ctx, []model.UpdateMessage{accountMessage("acc_1", "seg_sync")})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Updated)
	assert.Equal(t, model.OpUpdate, rep.Envelopes[0].Op)
	require.Len(t, h.crm.puts, 1)
	id, _ := h.crm.puts[0].String("id")
	assert.Equal(t, "lead_1", id)
	_, hasStatus := h.crm.puts[0].Lookup("status_id")
	assert.False(t, hasStatus)
	assert.Len(t, h.crm.posts, 1, "no second insert")
}

func TestAccountOutsideSegmentsIsSkipped(t *testing.T) {
	h := newHarness(t)

	rep, err := h.agent.SendAccountMessages(context.Background(), []model.UpdateMessage{accountMessage("acc_1", "seg_other")})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, "segment mismatch", rep.Envelopes[0].SkipReason)
	assert.Empty(t, h.crm.posts)
	assert.Empty(t, h.crm.puts)

	require.Len(t, h.events.events, 1)
	assert.Equal(t, model.OutcomeSkipped, h.events.events[0].Outcome)
	assert.Equal(t, "segment mismatch", h.events.events[0].Message)
}

func TestUserWithoutLinkedAccountIsSkipped(t *testing.T) {
	h := newHarness(t)

	msg := userMessage("usr_1", model.RecordOf("id", "acc_1"), "seg_users")
	rep, err := h.agent.SendUserMessages(context.Background(), []model.UpdateMessage{msg})
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, "not linked to an account", rep.Envelopes[0].SkipReason)
	assert.Empty(t, h.crm.posts)
}

func TestUserWithCachedAccountIsInserted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, cache.NewIdentities(h.cache).Link(ctx, model.KindAccount, "acc_1", "lead_7"))

	msg := userMessage("usr_1", model.RecordOf("id", "acc_1"), "seg_users")
	rep, err := h.agent.SendUserMessages(ctx, []model.UpdateMessage{msg})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Inserted)

	require.Len(t, h.crm.posts, 1)
	leadID, _ := h.crm.posts[0].String("lead_id")
	assert.Equal(t, "lead_7", leadID)

	require.Len(t, h.platform.calls, 1)
	assert.Equal(t, "usr_1@acme.com", h.platform.calls[0].ident.Email)

	linked, ok, _ := cache.NewIdentities(h.cache).Lookup(ctx, model.KindUser, "usr_1")
	assert.True(t, ok)
	assert.Equal(t, "contact_1", linked)
}

func TestDispatchFailureIsIsolated(t *testing.T) {
	h := newHarness(t)
	h.crm.failName = "Acme acc_2"

	rep, err := h.agent.SendAccountMessages(context.Background(), []model.UpdateMessage{
		accountMessage("acc_1", "seg_sync"),
		accountMessage("acc_2", "seg_sync"),
		accountMessage("acc_3", "seg_sync"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Inserted)
	assert.Equal(t, 1, rep.Failed)

	for _, env := range rep.Envelopes {
		if env.InternalID() == "acc_2" {
			var de *model.DispatchError
			require.True(t, errors.As(env.Err, &de))
			assert.Equal(t, model.OpInsert, de.Op)
			continue
		}
		assert.NoError(t, env.Err)
	}
	assert.Len(t, h.platform.calls, 2)
}

func TestDuplicatesCollapseToOneEnvelope(t *testing.T) {
	h := newHarness(t)
	first := accountMessage("acc_1", "seg_sync")
	first.Account.Set("indexed_at", "2024-01-01T00:00:00Z")
	second := accountMessage("acc_1", "seg_sync")
	second.Account.Set("indexed_at", "2024-01-02T00:00:00Z")
	second.Account.Set("name", "Acme renamed")

	rep, err := h.agent.SendAccountMessages(context.Background(), []model.UpdateMessage{first, second})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Received)
	assert.Equal(t, 1, rep.Deduplicated)
	require.Len(t, h.crm.posts, 1)
	name, _ := h.crm.posts[0].String("name")
	assert.Equal(t, "Acme renamed", name)
}

func TestMissingAPIKeyAbortsBatch(t *testing.T) {
	h := newHarness(t)
	a := New(testConfig(), "", h.crm, h.cache, h.platform, nil, nil)

	_, err := a.SendAccountMessages(context.Background(), []model.UpdateMessage{accountMessage("acc_1", "seg_sync")})
	require.ErrorIs(t, err, model.ErrConfiguration)
	assert.Empty(t, h.crm.posts)
}

func TestInitializeLoadsReferenceDataOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.agent.Initialize(ctx))
	require.NoError(t, h.agent.Initialize(ctx))
	assert.Equal(t, 1, h.crm.refCalls)

	// a fresh agent sharing the cache does not hit the API either
	other := New(testConfig(), "api_key", h.crm, h.cache, h.platform, nil, nil)
	require.NoError(t, other.Initialize(ctx))
	assert.Equal(t, 1, h.crm.refCalls)
}

func TestMappingErrorSkipsOnlyThatEntity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	cfg := testConfig()
	cfg.ContactAttributesOutbound = nil
	a := New(cfg, "api_key", h.crm, h.cache, h.platform, nil, nil)

	account := model.RecordOf("id", "acc_1", "closeio/id", "lead_1")
	nameless := userMessage("usr_1", account, "seg_users")
	nameless.User = model.RecordOf("id", "usr_1")
	named := userMessage("usr_2", account, "seg_users")

	rep, err := a.SendUserMessages(ctx, []model.UpdateMessage{nameless, named})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, rep.Inserted)

	for _, env := range rep.Envelopes {
		if env.InternalID() == "usr_1" {
			var me *model.MappingError
			require.True(t, errors.As(env.Err, &me))
			assert.Equal(t, model.OpSkip, env.Op)
		}
	}
}

func TestIdentityLookupFailureSkipsOnlyThatEntity(t *testing.T) {
	h := newHarness(t)
	flaky := &flakyCache{MemoryCache: h.cache, failKey: "identity:account:acc_2"}
	a := New(testConfig(), "api_key", h.crm, flaky, h.platform, h.events, nil)

	rep, err := a.SendAccountMessages(context.Background(), []model.UpdateMessage{
		accountMessage("acc_1", "seg_sync"),
		accountMessage("acc_2", "seg_sync"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, rep.Inserted)

	for _, env := range rep.Envelopes {
		switch env.InternalID() {
		case "acc_2":
			assert.Equal(t, model.OpSkip, env.Op)
			assert.Equal(t, "identity lookup failed", env.SkipReason)
			assert.ErrorContains(t, env.Err, "connection refused")
		case "acc_1":
			assert.Equal(t, model.OpInsert, env.Op)
			assert.NoError(t, env.Err)
		}
	}

	require.Len(t, h.crm.posts, 1)
	name, _ := h.crm.posts[0].String("name")
	assert.Equal(t, "Acme acc_1", name)
	assert.Len(t, h.platform.calls, 1)
}
