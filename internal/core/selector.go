package core

import (
	"fmt"
	"sort"
	"strings"
)

// Selection is the resolved plan of one run: the output header and, for each
// accepted source in catalog order, the transformations producing its cells.
type Selection struct {
	Topic   string
	Header  Header
	Sources []*SourcePlan
}

// SourcePlan binds one accepted source to the run's header.
type SourcePlan struct {
	Source     SourceDescriptor
	transforms []Transform // Aligned with Header; zero Format means absent
}

// URLs returns the addresses of the accepted sources in selection order.
func (s *Selection) URLs() []string {
	urls := make([]string, len(s.Sources))
	for i, p := range s.Sources {
		urls[i] = p.Source.URL
	}
	return urls
}

// Select filters the topic's sources by the constraints and computes the
// output header. Every transformation of an accepted source is bound here,
// so catalog problems surface before any row is produced.
func Select(topic *Topic, c Constraints, reg *Registry) (*Selection, error) {
	required := dedupe(c.Columns)
	for _, label := range required {
		if _, ok := topic.Field(label); !ok {
			return nil, &ConfigurationError{
				Kind:  ConfigUnknownField,
				Topic: topic.ID,
				Field: label,
				Err:   fmt.Errorf("topic has no field %q", label),
			}
		}
	}
	scope := make(map[string]bool, len(c.Scope))
	for _, s := range c.Scope {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			scope[s] = true
		}
	}

	var accepted []SourceDescriptor
	labels := make(map[string]bool)
	for _, src := range topic.Sources {
		if !providesAll(src, required) || !inScope(src, scope) {
			continue
		}
		accepted = append(accepted, src)
		if c.Strict {
			for _, label := range required {
				labels[label] = true
			}
			continue
		}
		for label := range src.Fields {
			labels[label] = true
		}
	}

	header := make(Header, 0, len(labels))
	for label := range labels {
		header = append(header, label)
	}
	sort.Strings(header)

	sel := &Selection{Topic: topic.ID, Header: header, Sources: make([]*SourcePlan, 0, len(accepted))}
	for _, src := range accepted {
		plan, err := bindSource(topic, src, header, reg)
		if err != nil {
			return nil, err
		}
		sel.Sources = append(sel.Sources, plan)
	}
	return sel, nil
}

// ValidateTopic binds every field of every source of the topic, reporting the
// first reference the registry or the topic schema cannot resolve.
func ValidateTopic(topic *Topic, reg *Registry) error {
	seen := make(map[string]bool, len(topic.Fields))
	for _, f := range topic.Fields {
		if seen[f.Label] {
			return &ConfigurationError{
				Kind:  ConfigMalformed,
				Topic: topic.ID,
				Field: f.Label,
				Err:   fmt.Errorf("duplicate label"),
			}
		}
		seen[f.Label] = true
		if _, ok := reg.Lookup(f.Format); !ok {
			return &ConfigurationError{
				Kind:  ConfigUnknownFormat,
				Topic: topic.ID,
				Field: f.Label,
				Err:   fmt.Errorf("no transformation named %q", f.Format),
			}
		}
	}
	for _, src := range topic.Sources {
		if _, err := bindSource(topic, src, Header(src.Labels()), reg); err != nil {
			return err
		}
	}
	return nil
}

func bindSource(topic *Topic, src SourceDescriptor, header Header, reg *Registry) (*SourcePlan, error) {
	for label := range src.Fields {
		if _, ok := topic.Field(label); !ok {
			return nil, &ConfigurationError{
				Kind:   ConfigUnknownField,
				Topic:  topic.ID,
				Source: src.URL,
				Field:  label,
				Err:    fmt.Errorf("source maps a field the topic does not define"),
			}
		}
	}

	j := src.Jurisdiction()
	plan := &SourcePlan{Source: src, transforms: make([]Transform, len(header))}
	for i, label := range header {
		params, ok := src.Fields[label]
		if !ok {
			continue
		}
		field, _ := topic.Field(label)
		t, err := reg.Bind(field.Format, params, j)
		if err != nil {
			if ce, ok := err.(*ConfigurationError); ok {
				ce.Topic, ce.Source, ce.Field = topic.ID, src.URL, label
			}
			return nil, err
		}
		plan.transforms[i] = t
	}
	return plan, nil
}

func providesAll(src SourceDescriptor, labels []string) bool {
	for _, label := range labels {
		if !src.Has(label) {
			return false
		}
	}
	return true
}

func inScope(src SourceDescriptor, scope map[string]bool) bool {
	if len(scope) == 0 {
		return true
	}
	j := src.Jurisdiction()
	return scope[strings.ToUpper(j.State)] || scope[strings.ToUpper(j.Agency())]
}

func dedupe(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}
