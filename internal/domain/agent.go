package domain

import (
	"sort"
	"time"
)

// AgentDescriptor describes an agent exposed by a server.
type AgentDescriptor struct {
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Type         string         `json:"type,omitempty"`
	RegisteredAt time.Time      `json:"registered_at"`
}

// Clone returns a deep enough copy that callers cannot mutate the registered descriptor.
func (d AgentDescriptor) Clone() AgentDescriptor {
	out := d
	if d.Tags != nil {
		out.Tags = append([]string(nil), d.Tags...)
	}
	if d.Metadata != nil {
		out.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// NormalizeTags deduplicates and sorts tags, dropping empty ones.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
