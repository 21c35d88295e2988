package models

// Setting keys stored in sync_settings
const (
	SettingOutboundEnabled    = "outbound_enabled"
	SettingShadowMode         = "shadow_mode"
	SettingAllowedEventTypes  = "allowed_event_types"
	SettingAutoCreateContacts = "auto_create_contacts"
	SettingInboundEnabled     = "inbound_enabled"
)

// SettingKeys lists every operational switch
var SettingKeys = []string{
	SettingOutboundEnabled,
	SettingShadowMode,
	SettingAllowedEventTypes,
	SettingAutoCreateContacts,
	SettingInboundEnabled,
}

// SyncSettings are the runtime switches read on every batch and capture
type SyncSettings struct {
	OutboundEnabled    bool        `json:"outbound_enabled"`
	ShadowMode         bool        `json:"shadow_mode"`
	AllowedEventTypes  []EventType `json:"allowed_event_types"`
	AutoCreateContacts bool        `json:"auto_create_contacts"`
	InboundEnabled     bool        `json:"inbound_enabled"`
}

// EventAllowed reports whether t is in the allow-list. An empty list allows everything
func (s SyncSettings) EventAllowed(t EventType) bool {
	if len(s.AllowedEventTypes) == 0 {
		return true
	}
	for _, a := range s.AllowedEventTypes {
		if a == t {
			return true
		}
	}
	return false
}
