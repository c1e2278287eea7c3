// Package pipeline implements the decision pipeline: rules, feature
// extraction, external scoring, adjudication, and decision assembly run in a
// fixed order with an append-only audit record per stage.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RuleKind separates hard-fail rules from weighted soft rules.
type RuleKind string

const (
	// RuleHard short-circuits the pipeline to decline.
	RuleHard RuleKind = "hard"
	// RuleSoft contributes its weight to the rule score.
	RuleSoft RuleKind = "soft"
)

// Rule is one row of the rule pack. Check names bind to the predicate
// registry in rules.go; an unknown check fails pack loading, not evaluation.
type Rule struct {
	Code   string   `yaml:"code"`
	Kind   RuleKind `yaml:"kind"`
	Check  string   `yaml:"check"`
	Weight float64  `yaml:"weight"`
}

// DenyLists carry salted SHA-256 hashes, lowercase hex. Raw identifiers
// never appear in the pack file.
type DenyLists struct {
	SIN   []string `yaml:"sin"`
	Email []string `yaml:"email"`
	Phone []string `yaml:"phone"`
	VIN   []string `yaml:"vin"`
}

// RulePack is the versioned, data-driven rule configuration.
type RulePack struct {
	Version string    `yaml:"version"`
	Rules   []Rule    `yaml:"rules"`
	Deny    DenyLists `yaml:"deny"`

	denySets map[string]map[string]struct{}
}

// LoadRulePack reads and validates a pack file. Every rule must name a
// registered check, hard rules must not carry weights, and soft weights must
// be positive.
func LoadRulePack(path string) (*RulePack, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path comes from config
	if err != nil {
		return nil, fmt.Errorf("op=pipeline.LoadRulePack: %w", err)
	}
	return ParseRulePack(raw)
}

// ParseRulePack parses pack bytes; split out so tests can feed YAML inline.
func ParseRulePack(raw []byte) (*RulePack, error) {
	var pack RulePack
	if err := yaml.Unmarshal(raw, &pack); err != nil {
		return nil, fmt.Errorf("op=pipeline.ParseRulePack: %w", err)
	}
	if pack.Version == "" {
		return nil, fmt.Errorf("op=pipeline.ParseRulePack: pack has no version")
	}
	for _, r := range pack.Rules {
		if r.Code == "" {
			return nil, fmt.Errorf("op=pipeline.ParseRulePack: rule with empty code")
		}
		if _, ok := checkRegistry[r.Check]; !ok {
			return nil, fmt.Errorf("op=pipeline.ParseRulePack: rule %q: unknown check %q", r.Code, r.Check)
		}
		switch r.Kind {
		case RuleHard:
			if r.Weight != 0 {
				return nil, fmt.Errorf("op=pipeline.ParseRulePack: hard rule %q carries weight", r.Code)
			}
		case RuleSoft:
			if r.Weight <= 0 || r.Weight > 1 {
				return nil, fmt.Errorf("op=pipeline.ParseRulePack: soft rule %q: weight %v out of (0,1]", r.Code, r.Weight)
			}
		default:
			return nil, fmt.Errorf("op=pipeline.ParseRulePack: rule %q: kind %q", r.Code, r.Kind)
		}
	}
	pack.denySets = map[string]map[string]struct{}{
		"sin":   toSet(pack.Deny.SIN),
		"email": toSet(pack.Deny.Email),
		"phone": toSet(pack.Deny.Phone),
		"vin":   toSet(pack.Deny.VIN),
	}
	return &pack, nil
}

func toSet(ss []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		m[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	return m
}

// Denied reports whether the salted hash of a normalized identifier appears
// on the named deny list.
func (p *RulePack) Denied(list, hash string) bool {
	set, ok := p.denySets[list]
	if !ok {
		return false
	}
	_, hit := set[strings.ToLower(hash)]
	return hit
}

// HashIdentifier produces the salted digest used for deny lists and reuse
// lookups: sha256(salt || kind || ":" || normalized value), lowercase hex.
func HashIdentifier(salt, kind, value string) string {
	sum := sha256.Sum256([]byte(salt + kind + ":" + NormalizeIdentifier(kind, value)))
	return hex.EncodeToString(sum[:])
}

// NormalizeIdentifier canonicalizes an identifier before hashing so
// formatting noise cannot defeat a deny list: emails lowercase, phones
// digits-only, VINs uppercase.
func NormalizeIdentifier(kind, value string) string {
	v := strings.TrimSpace(value)
	switch kind {
	case "email":
		return strings.ToLower(v)
	case "phone", "sin":
		var b strings.Builder
		for _, r := range v {
			if r >= '0' && r <= '9' {
				b.WriteRune(r)
			}
		}
		return b.String()
	case "vin":
		return strings.ToUpper(v)
	default:
		return v
	}
}
