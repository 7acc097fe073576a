package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aureeaubert/hull-closeio/internal/agent"
	"github.com/aureeaubert/hull-closeio/internal/config"
	"github.com/aureeaubert/hull-closeio/internal/http/middleware"
	"github.com/aureeaubert/hull-closeio/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSyncer struct {
	kind model.EntityKind
	msgs []model.UpdateMessage
	err  error
}

func (f *fakeSyncer) Send(_ context.Context, kind model.EntityKind, msgs []model.UpdateMessage) (agent.Report, error) {
	f.kind, f.msgs = kind, msgs
	if f.err != nil {
		return agent.Report{}, f.err
	}
	return agent.Report{BatchID: "batch_1", Kind: kind, Received: len(msgs), Deduplicated: len(msgs), Inserted: len(msgs)}, nil
}

type fakeLister struct {
	kind, id, outcome string
	limit, offset     int
	err               error
}

func (f *fakeLister) ListByEntity(_ context.Context, kind, internalID, outcome string, limit, offset int) ([]model.SyncEvent, error) {
	f.kind, f.id, f.outcome, f.limit, f.offset = kind, internalID, outcome, limit, offset
	if f.err != nil {
		return nil, f.err
	}
	return []model.SyncEvent{{ID: "e1", Kind: kind, InternalID: internalID, Outcome: model.OutcomeSuccess}}, nil
}

const secret = "s3cret"

func newTestServer(s Syncer, l EventLister) *Server {
	return NewServer(config.HTTPConfig{SharedSecret: secret, RateLimitRPS: 5}, "error", Deps{Syncer: s, Events: l})
}

func do(srv *Server, method, target, body string, withSecret bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if withSecret {
		req.Header.Set(middleware.SecretHeader, secret)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

const userNotification = `{"channel":"user:update","messages":[{"user":{"id":"u1","email":"a@acme.com"},"account":{"id":"a1"}}]}`

func TestHealthz(t *testing.T) {
	rec := do(newTestServer(&fakeSyncer{}, nil), http.MethodGet, "/healthz", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestNotify_RequiresSecret(t *testing.T) {
	srv := newTestServer(&fakeSyncer{}, nil)

	rec := do(srv, http.MethodPost, "/v1/notify", userNotification, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/notify", strings.NewReader(userNotification))
	req.Header.Set(middleware.SecretHeader, "wrong")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNotify_RunsBatch(t *testing.T) {
	s := &fakeSyncer{}
	rec := do(newTestServer(s, nil), http.MethodPost, "/v1/notify", userNotification, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, model.KindUser, s.kind)
	require.Len(t, s.msgs, 1)
	id, _ := s.msgs[0].User.String("id")
	assert.Equal(t, "u1", id)

	var got notifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, notifyResponse{BatchID: "batch_1", Kind: "user", Received: 1, Deduplicated: 1, Inserted: 1}, got)
}

func TestNotify_RejectsBadInput(t *testing.T) {
	srv := newTestServer(&fakeSyncer{}, nil)

	cases := map[string]string{
		"bad json":      `{`,
		"bad channel":   `{"channel":"ship:update","messages":[{}]}`,
		"empty message": `{"channel":"account:update","messages":[]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(srv, http.MethodPost, "/v1/notify", body, true)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestNotify_MapsErrors(t *testing.T) {
	rec := do(newTestServer(&fakeSyncer{err: model.ConfigErrorf("missing Close.io API key")}, nil),
		http.MethodPost, "/v1/notify", userNotification, true)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing Close.io API key")

	rec = do(newTestServer(&fakeSyncer{err: errors.New("lead statuses: 503")}, nil),
		http.MethodPost, "/v1/notify", userNotification, true)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestListEvents(t *testing.T) {
	l := &fakeLister{}
	srv := newTestServer(&fakeSyncer{}, l)

	rec := do(srv, http.MethodGet, "/v1/events?kind=account&id=a1&outcome=error&limit=10&offset=20", "", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "account", l.kind)
	assert.Equal(t, "a1", l.id)
	assert.Equal(t, model.OutcomeError, l.outcome)
	assert.Equal(t, 10, l.limit)
	assert.Equal(t, 20, l.offset)

	var body struct {
		Count   int               `json:"count"`
		Results []model.SyncEvent `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "e1", body.Results[0].ID)
}

func TestListEvents_Validation(t *testing.T) {
	l := &fakeLister{}
	srv := newTestServer(&fakeSyncer{}, l)

	rec := do(srv, http.MethodGet, "/v1/events", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(srv, http.MethodGet, "/v1/events?kind=user&outcome=bogus&limit=5000", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, l.outcome)
	assert.Equal(t, 50, l.limit)

	l.err = errors.New("clickhouse down")
	rec = do(srv, http.MethodGet, "/v1/events?kind=user", "", true)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
