package translator

import (
	"strings"

	"harvester/config"
)

// ApplyFieldFilters runs the suppress, override and rewrite filters of the
// given scopes over every leaf string of each item, in scope order. The
// override token %org% is replaced with the original value.
func ApplyFieldFilters(items []Item, scopes ...*config.ZoteroParams) {
	for _, item := range items {
		for field, value := range item {
			item[field] = mapLeaves(value, func(s string) string {
				return filterLeaf(field, s, scopes)
			})
		}
	}
}

func filterLeaf(field, value string, scopes []*config.ZoteroParams) string {
	for _, scope := range scopes {
		if scope == nil {
			continue
		}
		if re, ok := scope.SuppressFilters[field]; ok && re.MatchString(value) {
			value = ""
		}
		if pattern, ok := scope.OverridePatterns[field]; ok {
			value = strings.ReplaceAll(pattern, "%org%", value)
		}
		for _, rule := range scope.RewriteFilters {
			if rule.Field == field {
				value = rule.Match.ReplaceAllString(value, rule.Replacement)
			}
		}
	}
	return value
}

// MatchesExclusion reports whether any exclusion filter of any scope
// matches a leaf string of the item. A match drops the whole item.
func MatchesExclusion(item Item, scopes ...*config.ZoteroParams) bool {
	for _, scope := range scopes {
		if scope == nil {
			continue
		}
		for field, re := range scope.ExclusionFilters {
			matched := false
			visitLeaves(item[field], func(s string) {
				if re.MatchString(s) {
					matched = true
				}
			})
			if matched {
				return true
			}
		}
	}
	return false
}

// mapLeaves rewrites every string leaf of a JSON value tree.
func mapLeaves(value any, fn func(string) string) any {
	switch v := value.(type) {
	case string:
		return fn(v)
	case []any:
		for i := range v {
			v[i] = mapLeaves(v[i], fn)
		}
		return v
	case map[string]any:
		for key := range v {
			v[key] = mapLeaves(v[key], fn)
		}
		return v
	}
	return value
}

// visitLeaves calls fn for every string leaf of a JSON value tree.
func visitLeaves(value any, fn func(string)) {
	switch v := value.(type) {
	case string:
		fn(v)
	case []any:
		for i := range v {
			visitLeaves(v[i], fn)
		}
	case map[string]any:
		for key := range v {
			visitLeaves(v[key], fn)
		}
	}
}
