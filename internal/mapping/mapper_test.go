package mapping

import (
	"errors"
	"testing"

	"github.com/aureeaubert/hull-closeio/internal/config"
	"github.com/aureeaubert/hull-closeio/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRef() model.ReferenceData {
	return model.ReferenceData{
		LeadStatuses: []model.LeadStatus{
			{ID: "stat_potential", Label: "Potential"},
			{ID: "stat_won", Label: "Won"},
		},
		CustomFields: []model.CustomField{
			{ID: "lcf_rev", Name: "Annual Revenue"},
		},
	}
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		LeadStatus:     "stat_potential",
		LeadIdentifier: config.LeadIdentifier{Internal: "domain", External: "url"},
		LeadAttributesOutbound: []config.AttributeMapping{
			{Hull: "description", CloseIO: "description"},
			{Hull: "revenue", CloseIO: "custom.lcf_rev"},
			{Hull: "", CloseIO: "ignored"},
		},
		ContactAttributesOutbound: []config.AttributeMapping{
			{Hull: "email", CloseIO: "emails.office"},
			{Hull: "traits_home_email", CloseIO: "emails.home"},
			{Hull: "phone", CloseIO: "phones.mobile"},
			{Hull: "title", CloseIO: "title"},
		},
		LeadAttributesInbound: []string{
			"name", "status_id", "addresses", "opportunities", "custom.lcf_rev", "custom.lcf_unknown",
		},
		ContactAttributesInbound: []string{"name", "title", "emails", "phones"},
	}
}

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"https://www.acme.com/about?x=1", "www.acme.com"},
		{"http://acme.io:8080", "acme.io"},
		{"acme.com", "acme.com"},
		{"", ""},
		{"%zz", "%zz"},
		{"http://", "http://"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, NormalizeURL(c.in), c.in)
	}
}

func TestMapOutbound_NewLead(t *testing.T) {
	m := New(testSyncConfig(), testRef(), nil)
	acc := model.RecordOf(
		"id", "acc_1",
		"name", "Acme",
		"domain", "https://acme.com/",
		"description", "Rockets",
		"revenue", int64(1000),
	)

	out, err := m.MapOutbound(model.KindAccount, acc)
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "url", "status_id", "description", "custom.lcf_rev"}, out.Keys())
	url, _ := out.String("url")
	assert.Equal(t, "acme.com", url)
	v, _ := out.Lookup("custom.lcf_rev")
	assert.Equal(t, int64(1000), v)
	_, hasID := out.Lookup("id")
	assert.False(t, hasID)
}

func TestMapOutbound_ExistingLeadHasNoCreationStatus(t *testing.T) {
	m := New(testSyncConfig(), testRef(), nil)
	acc := model.RecordOf("id", "acc_1", "name", "Acme", ExternalIDAttr, "lead_9")

	out, err := m.MapOutbound(model.KindAccount, acc)
	require.NoError(t, err)

	id, _ := out.String("id")
	assert.Equal(t, "lead_9", id)
	_, hasStatus := out.Lookup("status_id")
	assert.False(t, hasStatus)
}

func TestMapOutbound_DefaultStatusOmitted(t *testing.T) {
	cfg := testSyncConfig()
	cfg.LeadStatus = DefaultLeadStatus
	m := New(cfg, testRef(), nil)

	out, err := m.MapOutbound(model.KindAccount, model.RecordOf("id", "acc_1", "name", "Acme"))
	require.NoError(t, err)
	_, hasStatus := out.Lookup("status_id")
	assert.False(t, hasStatus)
}

func TestMapOutbound_ContactLists(t *testing.T) {
	m := New(testSyncConfig(), testRef(), nil)
	user := model.RecordOf(
		"id", "usr_1",
		"name", "Jane",
		"email", "jane@acme.com",
		"traits_home_email", "jane@home.org",
		"phone", "+33123",
		"account", model.RecordOf("id", "acc_1", ExternalIDAttr, "lead_9"),
	)

	out, err := m.MapOutbound(model.KindUser, user)
	require.NoError(t, err)

	leadID, _ := out.String("lead_id")
	assert.Equal(t, "lead_9", leadID)

	emails, ok := out.List("emails")
	require.True(t, ok)
	require.Len(t, emails, 2)
	first := emails[0].(*model.Record)
	typ, _ := first.String("type")
	val, _ := first.String("email")
	assert.Equal(t, "office", typ)
	assert.Equal(t, "jane@acme.com", val)

	phones, _ := out.List("phones")
	require.Len(t, phones, 1)
	num, _ := phones[0].(*model.Record).String("phone")
	assert.Equal(t, "+33123", num)

	_, hasTitle := out.Lookup("title")
	assert.False(t, hasTitle, "absent sources are not written")
}

func TestMapOutbound_MisconfiguredFails(t *testing.T) {
	m := New(config.SyncConfig{}, testRef(), nil)

	_, err := m.MapOutbound(model.KindUser, model.RecordOf("id", "usr_7"))
	require.Error(t, err)

	var me *model.MappingError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, model.KindUser, me.Kind)
	assert.Equal(t, "usr_7", me.ID)
	assert.Contains(t, err.Error(), "contact")
}

func TestMapInboundIdentity(t *testing.T) {
	m := New(testSyncConfig(), testRef(), nil)

	contact := model.RecordOf(
		"id", "cont_1",
		"emails", []any{
			model.RecordOf("type", "office", "email", "jane@acme.com"),
			model.RecordOf("type", "home", "email", "jane@home.org"),
		},
	)
	ident := m.MapInboundIdentity(model.KindUser, contact)
	assert.Equal(t, "jane@acme.com", ident.Email)
	assert.Equal(t, "closeio:cont_1", ident.AnonymousID)

	noEmail := m.MapInboundIdentity(model.KindUser, model.RecordOf("id", "cont_2"))
	assert.Empty(t, noEmail.Email)
	assert.Equal(t, "closeio:cont_2", noEmail.AnonymousID)

	lead := model.RecordOf("id", "lead_1", "url", "https://acme.com/home")
	li := m.MapInboundIdentity(model.KindAccount, lead)
	assert.Equal(t, "acme.com", li.Domain)
	assert.Equal(t, "closeio:lead_1", li.AnonymousID)
}

func TestMapInboundIdentity_ExternalIDField(t *testing.T) {
	cfg := testSyncConfig()
	cfg.LeadIdentifier = config.LeadIdentifier{Internal: "external_id", External: "custom.lcf_ext"}
	m := New(cfg, testRef(), nil)

	li := m.MapInboundIdentity(model.KindAccount, model.RecordOf("id", "lead_1", "custom.lcf_ext", "EXT-42"))
	assert.Equal(t, "EXT-42", li.ExternalID)
	assert.Empty(t, li.Domain)
}

func TestMapInboundAttributes_Lead(t *testing.T) {
	m := New(testSyncConfig(), testRef(), nil)
	lead := model.RecordOf(
		"id", "lead_1",
		"name", "Acme",
		"status_id", "stat_won",
		"date_created", "2024-01-01T00:00:00Z",
		"date_updated", "2024-02-01T00:00:00Z",
		"addresses", []any{
			model.RecordOf("label", "Business", "address_1", "1 Main St", "city", "Paris"),
			model.RecordOf("label", "Other", "city", "Lyon"),
		},
		"opportunities", []any{model.RecordOf("id", "oppo_1")},
		"custom.lcf_rev", int64(5000),
		"custom.lcf_unknown", "x",
	)

	attrs := m.MapInboundAttributes(model.KindAccount, lead)

	assert.Equal(t, model.Set("lead_1"), attrs["closeio/id"])
	assert.Equal(t, model.Set("Acme"), attrs["closeio/name"])
	assert.Equal(t, model.SetIfNull("Acme"), attrs["name"])
	assert.Equal(t, model.Set("Won"), attrs["closeio/status"])
	assert.Equal(t, model.SetIfNull("2024-01-01T00:00:00Z"), attrs["closeio/created_at"])
	assert.Equal(t, model.Set("2024-02-01T00:00:00Z"), attrs["closeio/updated_at"])
	assert.Equal(t, model.Set("1 Main St"), attrs["closeio/address_business_address_1"])
	assert.Equal(t, model.Set("Paris"), attrs["closeio/address_business_city"])
	assert.Equal(t, model.Set(int64(5000)), attrs["closeio/annual_revenue"])
	assert.Equal(t, model.Set("x"), attrs["closeio/custom.lcf_unknown"])

	assert.NotContains(t, attrs, "closeio/address_business_label")
	assert.NotContains(t, attrs, "closeio/address_other_city")
	assert.NotContains(t, attrs, "closeio/opportunities")
}

func TestMapInboundAttributes_UnknownStatusOmitted(t *testing.T) {
	m := New(testSyncConfig(), testRef(), nil)
	attrs := m.MapInboundAttributes(model.KindAccount, model.RecordOf("id", "lead_1", "status_id", "stat_gone"))
	assert.NotContains(t, attrs, "closeio/status")
}

func TestMapInboundAttributes_Contact(t *testing.T) {
	m := New(testSyncConfig(), testRef(), nil)
	contact := model.RecordOf(
		"id", "cont_1",
		"lead_id", "lead_1",
		"name", "",
		"emails", []any{
			model.RecordOf("type", "office", "email", "jane@acme.com"),
			model.RecordOf("type", "office", "email", "other@acme.com"),
			model.RecordOf("type", "home", "email", "jane@home.org"),
		},
		"phones", []any{model.RecordOf("type", "mobile", "phone", "+33123")},
	)

	attrs := m.MapInboundAttributes(model.KindUser, contact)

	assert.Equal(t, model.Set("cont_1"), attrs["closeio/id"])
	assert.Equal(t, model.Set("lead_1"), attrs["closeio/lead_id"])
	assert.Equal(t, model.Set("jane@acme.com"), attrs["closeio/email_office"])
	assert.Equal(t, model.Set("jane@home.org"), attrs["closeio/email_home"])
	assert.Equal(t, model.Set("+33123"), attrs["closeio/phone_mobile"])
	assert.NotContains(t, attrs, "name", "empty names are not promoted")
	assert.NotContains(t, attrs, "closeio/email_type")
}

func TestExternalIDRoundTrip(t *testing.T) {
	m := New(testSyncConfig(), testRef(), nil)
	for _, kind := range []model.EntityKind{model.KindAccount, model.KindUser} {
		ext := model.RecordOf("id", "ext_123", "name", "Acme")
		attrs := m.MapInboundAttributes(kind, ext)

		internal := model.NewRecord()
		internal.Set("id", "internal_1")
		for name, a := range attrs {
			internal.Set(name, a.Value)
		}

		out, err := m.MapOutbound(kind, internal)
		require.NoError(t, err)
		id, _ := out.String("id")
		assert.Equal(t, "ext_123", id, kind)
	}
}
