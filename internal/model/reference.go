package model

// LeadStatus is a CRM lead status as listed by the status endpoint.
type LeadStatus struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// CustomField is an entry of the CRM custom field registry.
type CustomField struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// ReferenceData is read-only for the lifetime of a mapper.
type ReferenceData struct {
	LeadStatuses []LeadStatus  `json:"lead_statuses"`
	CustomFields []CustomField `json:"custom_fields"`
}
