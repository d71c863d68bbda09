package settings

import "strings"

// Event verbs. Pre-operation verbs are fired before the storage key is
// derived; post-operation verbs after the operation succeeded.
const (
	VerbChecking   = "checking"
	VerbHas        = "has"
	VerbGetting    = "getting"
	VerbGet        = "get"
	VerbSetting    = "setting"
	VerbSet        = "set"
	VerbForgetting = "forgetting"
	VerbForget     = "forget"
	// VerbOverriding and VerbOverride bracket a config override rule.
	VerbOverriding = "overriding"
	VerbOverride   = "override"
)

const eventPrefix = "settings."

// EventName formats the event name for verb and key, e.g.
// "settings.getting: site.title".
func EventName(verb, key string) string {
	return eventPrefix + verb + ": " + key
}

// ParseEventName splits an event name produced by EventName.
func ParseEventName(name string) (verb, key string, ok bool) {
	rest, found := strings.CutPrefix(name, eventPrefix)
	if !found {
		return "", "", false
	}
	verb, key, found = strings.Cut(rest, ": ")
	if !found || verb == "" {
		return "", "", false
	}
	return verb, key, true
}
