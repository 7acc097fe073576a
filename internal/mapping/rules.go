package mapping

import (
	"strings"

	"github.com/aureeaubert/hull-closeio/internal/config"
)

// ruleKind tags how an inbound CRM field is turned into attributes.
type ruleKind int

const (
	ruleScalar ruleKind = iota
	ruleMulti
	ruleStatus
	ruleAddress
	ruleCustom
	ruleExcluded
)

// multiValued maps CRM list fields to the key holding each entry's value.
var multiValued = map[string]string{
	"emails": "email",
	"phones": "phone",
	"urls":   "url",
}

var excluded = map[string]bool{
	"opportunities": true,
	"tasks":         true,
}

const customPrefix = "custom."

type inboundRule struct {
	kind     ruleKind
	field    string
	valueKey string // ruleMulti
	customID string // ruleCustom
}

func compileInbound(fields []string) []inboundRule {
	rules := make([]inboundRule, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true

		r := inboundRule{kind: ruleScalar, field: f}
		switch {
		case excluded[f]:
			r.kind = ruleExcluded
		case multiValued[f] != "":
			r.kind = ruleMulti
			r.valueKey = multiValued[f]
		case f == "status_id":
			r.kind = ruleStatus
		case f == "addresses":
			r.kind = ruleAddress
		case strings.HasPrefix(f, customPrefix):
			r.kind = ruleCustom
			r.customID = strings.TrimPrefix(f, customPrefix)
		}
		rules = append(rules, r)
	}
	return rules
}

type outboundRule struct {
	source  string
	target  string
	list    string // set when target is "emails.office"-style
	subtype string
}

// compileOutbound drops rules missing either side.
func compileOutbound(mappings []config.AttributeMapping) []outboundRule {
	rules := make([]outboundRule, 0, len(mappings))
	for _, m := range mappings {
		src, dst := strings.TrimSpace(m.Hull), strings.TrimSpace(m.CloseIO)
		if src == "" || dst == "" {
			continue
		}
		r := outboundRule{source: src, target: dst}
		if list, sub, ok := strings.Cut(dst, "."); ok && multiValued[list] != "" {
			r.list, r.subtype = list, sub
		}
		rules = append(rules, r)
	}
	return rules
}
