package expirymon

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/y0ug/expirymon/internal/models"
)

// FieldTarget names what a rule extracts.
type FieldTarget string

const (
	TargetSerial FieldTarget = "serial"
	TargetExpiry FieldTarget = "expiry"
)

// FieldRule matches custom-field names containing Keyword. A matched value is kept
// only when it is longer than MinLength characters.
type FieldRule struct {
	Keyword   string      `yaml:"keyword" json:"keyword" validate:"required"`
	Target    FieldTarget `yaml:"target" json:"target" validate:"required,oneof=serial expiry"`
	MinLength int         `yaml:"min_length" json:"min_length" validate:"min=0"`
}

// DefaultFieldRules is the built-in rule table, evaluated in order.
func DefaultFieldRules() []FieldRule {
	return []FieldRule{
		{Keyword: "serial", Target: TargetSerial},
		{Keyword: "service_tag", Target: TargetSerial},
		{Keyword: "série", Target: TargetSerial},
		{Keyword: "número", Target: TargetSerial},
		{Keyword: "imei", Target: TargetSerial},
		{Keyword: "asset_tag", Target: TargetSerial},

		{Keyword: "warranty_expiry", Target: TargetExpiry, MinLength: 8},
		{Keyword: "expiry_date", Target: TargetExpiry, MinLength: 8},
		{Keyword: "final_de_suporte", Target: TargetExpiry, MinLength: 8},
		{Keyword: "support_end", Target: TargetExpiry, MinLength: 8},
		{Keyword: "validade", Target: TargetExpiry, MinLength: 8},
		{Keyword: "vencimento", Target: TargetExpiry, MinLength: 8},
	}
}

type fieldRulesFile struct {
	Rules []FieldRule `yaml:"rules"`
}

// LoadFieldRules reads a YAML rule table:
//
//	rules:
//	  - keyword: serial
//	    target: serial
//	  - keyword: warranty_expiry
//	    target: expiry
//	    min_length: 8
func LoadFieldRules(path string) ([]FieldRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read field rules: %w", err)
	}
	var file fieldRulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse field rules %s: %w", path, err)
	}
	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("field rules %s define no rule", path)
	}
	return file.Rules, nil
}

// FieldResolver extracts a serial number and an expiration date from free-form
// custom fields.
type FieldResolver struct {
	rules []FieldRule
}

// NewFieldResolver normalises rule keywords the same way field names are normalised.
func NewFieldResolver(rules []FieldRule) *FieldResolver {
	normalized := make([]FieldRule, 0, len(rules))
	for _, r := range rules {
		kw := normalizeKey(r.Keyword)
		if kw == "" {
			continue
		}
		normalized = append(normalized, FieldRule{Keyword: kw, Target: r.Target, MinLength: r.MinLength})
	}
	return &FieldResolver{rules: normalized}
}

// Resolve applies the rules to typeFields. For each target the first rule whose
// keyword appears in a field name wins; among several matching names the first in
// sorted order is used.
func (r *FieldResolver) Resolve(typeFields map[string]any) models.ResolvedExpiration {
	fields := normalizeFields(typeFields)
	if len(fields) == 0 {
		return models.ResolvedExpiration{}
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return models.ResolvedExpiration{
		Serial: r.match(TargetSerial, keys, fields),
		Expiry: r.match(TargetExpiry, keys, fields),
	}
}

func (r *FieldResolver) match(target FieldTarget, keys []string, fields map[string]string) string {
	for _, rule := range r.rules {
		if rule.Target != target {
			continue
		}
		for _, k := range keys {
			if !strings.Contains(k, rule.Keyword) {
				continue
			}
			if v := fields[k]; utf8.RuneCountInString(v) > rule.MinLength {
				return v
			}
			// only the first matching name is considered per keyword
			break
		}
	}
	return ""
}

// normalizeFields lowercases names, strips diacritics and drops blank values. When two
// names collide once normalised, the first in sorted order is kept.
func normalizeFields(typeFields map[string]any) map[string]string {
	names := make([]string, 0, len(typeFields))
	for k := range typeFields {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make(map[string]string, len(typeFields))
	for _, k := range names {
		s, ok := fieldValue(typeFields[k])
		if !ok {
			continue
		}
		switch strings.ToLower(s) {
		case "", "none", "n/a":
			continue
		}
		key := normalizeKey(k)
		if _, seen := out[key]; seen {
			continue
		}
		out[key] = s
	}
	return out
}

func fieldValue(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		if !t {
			return "", false
		}
		return "true", true
	default:
		return fmt.Sprint(t), true
	}
}

func normalizeKey(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return strings.ToLower(strings.TrimSpace(stripped))
}
