package model

// Identity addresses a platform record. ID is the internal id when known;
// the remaining claims let the platform resolve or create the record.
type Identity struct {
	ID          string `json:"id,omitempty"`
	Email       string `json:"email,omitempty"`
	Domain      string `json:"domain,omitempty"`
	ExternalID  string `json:"external_id,omitempty"`
	AnonymousID string `json:"anonymous_id,omitempty"`
}

// Key picks the most stable claim to key storage on.
func (i Identity) Key() string {
	switch {
	case i.ID != "":
		return i.ID
	case i.AnonymousID != "":
		return i.AnonymousID
	case i.ExternalID != "":
		return i.ExternalID
	case i.Email != "":
		return i.Email
	default:
		return i.Domain
	}
}

type WritePolicy string

const (
	PolicySet       WritePolicy = "set"
	PolicySetIfNull WritePolicy = "setIfNull"
)

// Attribute is an internal attribute value with its write policy.
type Attribute struct {
	Value  any         `json:"value"`
	Policy WritePolicy `json:"operation"`
}

func Set(v any) Attribute       { return Attribute{Value: v, Policy: PolicySet} }
func SetIfNull(v any) Attribute { return Attribute{Value: v, Policy: PolicySetIfNull} }
