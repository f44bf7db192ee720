// Package projecthub implements the project hub / template listing and
// research metrics rollups supplemented from the original implementation
// (SPEC_FULL.md SUPPLEMENTED FEATURES #2, #3): read-only aggregation over
// the project store, not itself a persistence concern.
package projecthub

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/smilemakc/vyasa/internal/domain"
)

// Filter narrows the GET /api/projects/hub listing by the query params
// named in spec §6.1: {query, tags, rigor, status, from_date, to_date}.
type Filter struct {
	Query    string
	Tags     []string
	Rigor    domain.RigorLevel
	Archived *bool
	FromDate *time.Time
	ToDate   *time.Time
}

// Group is one tag bucket in the hub listing.
type Group struct {
	Tag      string           `json:"tag"`
	Projects []*domain.Project `json:"projects"`
}

// Hub aggregates projects for the dashboard-style hub view.
type Hub struct {
	projects domain.ProjectRepository
}

// New constructs a Hub over a project repository.
func New(projects domain.ProjectRepository) *Hub {
	return &Hub{projects: projects}
}

// List applies Filter over all non-archived projects (or, when
// Filter.Archived is set, over the projects whose archived flag equals it)
// and groups the
// surviving set by tag; an untagged project appears under the synthetic
// "untagged" bucket so it is never silently dropped from the hub view.
func (h *Hub) List(ctx context.Context, f Filter) ([]Group, error) {
	all, err := h.projects.List(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]*domain.Project, 0, len(all))
	for _, p := range all {
		if matches(p, f) {
			matched = append(matched, p)
		}
	}

	byTag := make(map[string][]*domain.Project)
	for _, p := range matched {
		tags := p.Tags
		if len(tags) == 0 {
			tags = []string{"untagged"}
		}
		for _, tag := range tags {
			byTag[tag] = append(byTag[tag], p)
		}
	}

	tags := make([]string, 0, len(byTag))
	for tag := range byTag {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	groups := make([]Group, 0, len(tags))
	for _, tag := range tags {
		projects := byTag[tag]
		sort.Slice(projects, func(i, j int) bool {
			return projects[i].LastUpdated.After(projects[j].LastUpdated)
		})
		groups = append(groups, Group{Tag: tag, Projects: projects})
	}
	return groups, nil
}

func matches(p *domain.Project, f Filter) bool {
	if f.Archived != nil {
		if p.Archived != *f.Archived {
			return false
		}
	} else if p.Archived {
		return false
	}
	if f.Rigor != "" && p.RigorLevel != f.Rigor {
		return false
	}
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		if !strings.Contains(strings.ToLower(p.Title), q) && !strings.Contains(strings.ToLower(p.Thesis), q) {
			return false
		}
	}
	if len(f.Tags) > 0 && !hasAnyTag(p.Tags, f.Tags) {
		return false
	}
	if f.FromDate != nil && p.CreatedAt.Before(*f.FromDate) {
		return false
	}
	if f.ToDate != nil && p.CreatedAt.After(*f.ToDate) {
		return false
	}
	return true
}

func hasAnyTag(projectTags, wanted []string) bool {
	set := make(map[string]bool, len(projectTags))
	for _, t := range projectTags {
		set[t] = true
	}
	for _, w := range wanted {
		if set[w] {
			return true
		}
	}
	return false
}
