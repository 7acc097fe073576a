// Package mapping transforms records between the platform's Account/User
// shape and the CRM's Lead/Contact shape.
package mapping

import (
	"net/url"
	"strings"

	"github.com/aureeaubert/hull-closeio/internal/config"
	"github.com/aureeaubert/hull-closeio/internal/model"
	"github.com/aureeaubert/hull-closeio/internal/util"
	"go.uber.org/zap"
)

const (
	// Group prefixes every attribute written back to the platform.
	Group = "closeio/"
	// ExternalIDAttr holds the CRM id on a platform record.
	ExternalIDAttr = Group + "id"
	// DefaultLeadStatus leaves the status choice to the CRM.
	DefaultLeadStatus = "hull-default"

	anonymousPrefix = "closeio:"
)

// Mapper holds compiled rules and reference data. It is safe for
// concurrent use once built.
type Mapper struct {
	leadStatus     string
	leadIdentifier config.LeadIdentifier

	outbound map[model.EntityKind][]outboundRule
	inbound  map[model.EntityKind][]inboundRule

	statusLabels map[string]string
	customNames  map[string]string

	log *zap.Logger
}

func New(cfg config.SyncConfig, ref model.ReferenceData, log *zap.Logger) *Mapper {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Mapper{
		leadStatus:     strings.TrimSpace(cfg.LeadStatus),
		leadIdentifier: cfg.LeadIdentifier,
		outbound: map[model.EntityKind][]outboundRule{
			model.KindAccount: compileOutbound(cfg.LeadAttributesOutbound),
			model.KindUser:    compileOutbound(cfg.ContactAttributesOutbound),
		},
		inbound: map[model.EntityKind][]inboundRule{
			model.KindAccount: compileInbound(cfg.LeadAttributesInbound),
			model.KindUser:    compileInbound(cfg.ContactAttributesInbound),
		},
		statusLabels: make(map[string]string, len(ref.LeadStatuses)),
		customNames:  make(map[string]string, len(ref.CustomFields)),
		log:          log,
	}
	if m.leadIdentifier.Internal == "" {
		m.leadIdentifier.Internal = "domain"
	}
	if m.leadIdentifier.External == "" {
		m.leadIdentifier.External = "url"
	}
	for _, s := range ref.LeadStatuses {
		m.statusLabels[s.ID] = s.Label
	}
	for _, f := range ref.CustomFields {
		m.customNames[f.ID] = f.Name
	}
	return m
}

// NormalizeURL returns the host of raw, or raw itself when it does not parse
// as an absolute URL.
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return raw
	}
	return u.Hostname()
}

// AnonymousID is the platform alias derived from a CRM id.
func AnonymousID(externalID string) string {
	if externalID == "" {
		return ""
	}
	return anonymousPrefix + externalID
}

// MapOutbound builds the CRM write payload for an internal record.
func (m *Mapper) MapOutbound(kind model.EntityKind, rec *model.Record) (*model.Record, error) {
	out := model.NewRecord()
	defaults := 0

	if name, ok := rec.String("name"); ok && name != "" {
		out.Set("name", name)
		defaults++
	}
	switch kind {
	case model.KindAccount:
		if domain, ok := rec.String("domain"); ok && domain != "" {
			out.Set("url", NormalizeURL(domain))
			defaults++
		}
	case model.KindUser:
		if leadID, ok := rec.String("account." + ExternalIDAttr); ok && leadID != "" {
			out.Set("lead_id", leadID)
		}
	}

	if id, ok := rec.String(ExternalIDAttr); ok && id != "" {
		out.Set("id", id)
	} else if kind == model.KindAccount && m.leadStatus != "" && m.leadStatus != DefaultLeadStatus {
		out.Set("status_id", m.leadStatus)
	}

	rules := m.outbound[kind]
	if len(rules) == 0 && defaults == 0 {
		id, _ := rec.String("id")
		return nil, &model.MappingError{
			Kind:   kind,
			ID:     id,
			Reason: "no outbound attribute mapping configured and no default field available",
		}
	}

	for _, r := range rules {
		v, ok := rec.Get(r.source)
		if !ok || v == nil {
			continue
		}
		if r.list != "" {
			appendEntry(out, r.list, r.subtype, v)
			continue
		}
		out.Set(r.target, v)
	}
	return out, nil
}

func appendEntry(out *model.Record, list, subtype string, v any) {
	entries, _ := out.List(list)
	entries = append(entries, model.RecordOf("type", subtype, multiValued[list], v))
	out.Set(list, entries)
}

// MapInboundIdentity derives the claims addressing the platform record
// that mirrors a CRM record.
func (m *Mapper) MapInboundIdentity(kind model.EntityKind, ext *model.Record) model.Identity {
	id, _ := ext.String("id")
	ident := model.Identity{AnonymousID: AnonymousID(id)}

	switch kind {
	case model.KindUser:
		if emails, ok := ext.List("emails"); ok && len(emails) > 0 {
			if first, ok := emails[0].(*model.Record); ok {
				ident.Email, _ = first.String("email")
			}
		}
	case model.KindAccount:
		val, ok := ext.String(m.leadIdentifier.External)
		if !ok || val == "" {
			break
		}
		if m.leadIdentifier.Internal == "external_id" {
			ident.ExternalID = val
		} else {
			ident.Domain = NormalizeURL(val)
		}
	}
	return ident
}

// MapInboundAttributes converts a CRM record into platform attributes.
func (m *Mapper) MapInboundAttributes(kind model.EntityKind, ext *model.Record) map[string]model.Attribute {
	attrs := make(map[string]model.Attribute)

	for _, r := range m.inbound[kind] {
		switch r.kind {
		case ruleExcluded:
		case ruleMulti:
			m.mapMulti(attrs, ext, r)
		case ruleStatus:
			code, ok := ext.String(r.field)
			if !ok {
				continue
			}
			if label, ok := m.statusLabels[code]; ok {
				attrs[Group+strings.TrimSuffix(r.field, "_id")] = model.Set(label)
			}
		case ruleAddress:
			m.mapAddress(attrs, ext, r)
		case ruleCustom:
			v, ok := ext.Get(r.field)
			if !ok {
				continue
			}
			name, ok := m.customNames[r.customID]
			if !ok || util.Slugify(name) == "" {
				m.log.Warn("unregistered custom field", zap.String("field", r.field))
				attrs[Group+r.field] = model.Set(v)
				continue
			}
			attrs[Group+util.Slugify(name)] = model.Set(v)
		default:
			if v, ok := ext.Get(r.field); ok {
				attrs[Group+r.field] = model.Set(v)
			}
		}
	}

	if id, ok := ext.Get("id"); ok {
		attrs[ExternalIDAttr] = model.Set(id)
	}
	if leadID, ok := ext.Get("lead_id"); ok {
		attrs[Group+"lead_id"] = model.Set(leadID)
	}
	if v, ok := ext.Get("date_created"); ok {
		attrs[Group+"created_at"] = model.SetIfNull(v)
	}
	if v, ok := ext.Get("date_updated"); ok {
		attrs[Group+"updated_at"] = model.Set(v)
	}
	if name, ok := attrs[Group+"name"].Value.(string); ok && name != "" {
		attrs["name"] = model.SetIfNull(name)
	}
	return attrs
}

// mapMulti keeps the first value per subtype.
func (m *Mapper) mapMulti(attrs map[string]model.Attribute, ext *model.Record, r inboundRule) {
	entries, ok := ext.List(r.field)
	if !ok {
		return
	}
	done := make(map[string]bool, len(entries))
	for _, e := range entries {
		entry, ok := e.(*model.Record)
		if !ok {
			continue
		}
		v, ok := entry.Get(r.valueKey)
		if !ok {
			continue
		}
		name := Group + r.valueKey
		if sub, _ := entry.String("type"); sub != "" {
			name += "_" + util.Slugify(sub)
		}
		if done[name] {
			continue
		}
		done[name] = true
		attrs[name] = model.Set(v)
	}
}

// mapAddress maps the first address only; its label is part of the prefix.
func (m *Mapper) mapAddress(attrs map[string]model.Attribute, ext *model.Record, r inboundRule) {
	list, ok := ext.List(r.field)
	if !ok || len(list) == 0 {
		return
	}
	addr, ok := list[0].(*model.Record)
	if !ok {
		return
	}
	prefix := Group + "address_"
	if label, _ := addr.String("label"); label != "" {
		prefix += util.Slugify(label) + "_"
	}
	for _, k := range addr.Keys() {
		if k == "label" {
			continue
		}
		v, _ := addr.Lookup(k)
		attrs[prefix+k] = model.Set(v)
	}
}
