package override

import (
	"fmt"
	"sort"
	"strings"
)

// Rule copies a stored setting onto a config key. When is an optional guard
// expression; the value is written only when it evaluates to true.
type Rule struct {
	ConfigKey  string `json:"config" yaml:"config" mapstructure:"config"`
	SettingKey string `json:"setting" yaml:"setting" mapstructure:"setting"`
	When       string `json:"when,omitempty" yaml:"when,omitempty" mapstructure:"when"`
}

func (r Rule) normalize() (Rule, error) {
	r.ConfigKey = strings.TrimSpace(r.ConfigKey)
	r.SettingKey = strings.TrimSpace(r.SettingKey)
	r.When = strings.TrimSpace(r.When)
	if r.ConfigKey == "" && r.SettingKey == "" {
		return r, fmt.Errorf("override: rule needs a config or setting key")
	}
	if r.ConfigKey == "" {
		r.ConfigKey = r.SettingKey
	}
	if r.SettingKey == "" {
		r.SettingKey = r.ConfigKey
	}
	return r, nil
}

// ParseRules converts declarative override entries into rules. Accepted
// forms, freely mixed inside a list:
//
//	- app.fallback_locale              # config key == setting key
//	- app.locale: settings.locale      # config key -> setting key
//	- {config: app.tz, setting: tz, when: "value != nil"}
//
// A map input is treated as config key -> setting key (or rule body) pairs
// and yields rules sorted by config key.
func ParseRules(input any) ([]Rule, error) {
	switch v := input.(type) {
	case nil:
		return nil, nil
	case []Rule:
		return normalizeAll(v)
	case []string:
		rules := make([]Rule, 0, len(v))
		for _, key := range v {
			rules = append(rules, Rule{ConfigKey: key})
		}
		return normalizeAll(rules)
	case []any:
		var rules []Rule
		for i, entry := range v {
			parsed, err := parseEntry(entry)
			if err != nil {
				return nil, fmt.Errorf("override: entry %d: %w", i, err)
			}
			rules = append(rules, parsed...)
		}
		return normalizeAll(rules)
	case map[string]any:
		return parseMap(v)
	case map[string]string:
		converted := make(map[string]any, len(v))
		for key, value := range v {
			converted[key] = value
		}
		return parseMap(converted)
	default:
		return nil, fmt.Errorf("override: unsupported rules type %T", input)
	}
}

func parseEntry(entry any) ([]Rule, error) {
	switch v := entry.(type) {
	case string:
		return []Rule{{ConfigKey: v}}, nil
	case Rule:
		return []Rule{v}, nil
	case map[string]any:
		if isRuleBody(v) {
			rule, err := ruleFromBody("", v)
			if err != nil {
				return nil, err
			}
			return []Rule{rule}, nil
		}
		return parseMap(v)
	default:
		return nil, fmt.Errorf("unsupported entry type %T", entry)
	}
}

func parseMap(values map[string]any) ([]Rule, error) {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rules := make([]Rule, 0, len(keys))
	for _, configKey := range keys {
		switch v := values[configKey].(type) {
		case string:
			rules = append(rules, Rule{ConfigKey: configKey, SettingKey: v})
		case nil:
			rules = append(rules, Rule{ConfigKey: configKey})
		case map[string]any:
			rule, err := ruleFromBody(configKey, v)
			if err != nil {
				return nil, err
			}
			rules = append(rules, rule)
		default:
			return nil, fmt.Errorf("override: %q: unsupported value type %T", configKey, v)
		}
	}
	return normalizeAll(rules)
}

func isRuleBody(values map[string]any) bool {
	for key := range values {
		switch key {
		case "config", "setting", "when":
		default:
			return false
		}
	}
	return len(values) > 0
}

func ruleFromBody(configKey string, body map[string]any) (Rule, error) {
	rule := Rule{ConfigKey: configKey}
	for key, value := range body {
		text, ok := value.(string)
		if !ok && value != nil {
			return Rule{}, fmt.Errorf("override: %q: field %q must be a string", configKey, key)
		}
		switch key {
		case "config":
			rule.ConfigKey = text
		case "setting":
			rule.SettingKey = text
		case "when":
			rule.When = text
		default:
			return Rule{}, fmt.Errorf("override: %q: unknown field %q", configKey, key)
		}
	}
	return rule, nil
}

func normalizeAll(rules []Rule) ([]Rule, error) {
	out := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		normalized, err := rule.normalize()
		if err != nil {
			return nil, err
		}
		out = append(out, normalized)
	}
	return out, nil
}
