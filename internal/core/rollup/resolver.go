package rollup

import (
	"time"

	"github.com/vd-speed-test/speedroll/internal/core/period"
)

// DependencyEdge says Target is aggregated from Source.
type DependencyEdge struct {
	Target period.Level
	Source period.Level
}

// dependencyTable is the only place the rollup chain is encoded. Order is dependency order.
var dependencyTable = []DependencyEdge{
	{Target: period.Hour, Source: period.Raw},
	{Target: period.Day, Source: period.Raw},
	{Target: period.Week, Source: period.Day},
	{Target: period.Month, Source: period.Day},
	{Target: period.Year, Source: period.Month},
}

// SourceLevel returns the level a rollup level is built from.
func SourceLevel(level period.Level) (period.Level, error) {
	for _, e := range dependencyTable {
		if e.Target == level {
			return e.Source, nil
		}
	}
	return "", &InvalidLevelError{Level: string(level)}
}

// Levels lists every rollup level so that sources always come before their targets.
func Levels() []period.Level {
	out := make([]period.Level, 0, len(dependencyTable))
	for _, e := range dependencyTable {
		out = append(out, e.Target)
	}
	return out
}

// Resolution is the read plan for one rollup.
type Resolution struct {
	Key         BucketKey
	Span        period.Span
	SourceLevel period.Level
	SourceKeys  []BucketKey
}

// Resolver computes read plans. It never touches storage.
type Resolver struct {
	loc   *time.Location
	hosts []string
}

// NewResolver creates a resolver. hosts are the collector ids whose raw partitions
// feed the "all" scope next to the unscoped legacy partition.
func NewResolver(loc *time.Location, hosts []string) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{loc: loc, hosts: append([]string(nil), hosts...)}
}

// Location is the timezone periods are derived in.
func (r *Resolver) Location() *time.Location {
	return r.loc
}

// Hosts returns the configured collector ids.
func (r *Resolver) Hosts() []string {
	return append([]string(nil), r.hosts...)
}

// Resolve returns the source level and the exact source keys for (level, scope, periodID).
func (r *Resolver) Resolve(level period.Level, hostScope, periodID string) (Resolution, error) {
	return r.ResolveWithHosts(level, hostScope, periodID, nil)
}

// ResolveWithHosts is Resolve with extra collector ids found in storage. They join
// the configured hosts when a raw-sourced "all" rollup fans out per host.
func (r *Resolver) ResolveWithHosts(level period.Level, hostScope, periodID string, discovered []string) (Resolution, error) {
	source, err := SourceLevel(level)
	if err != nil {
		return Resolution{}, err
	}
	if hostScope == "" {
		hostScope = HostScopeAll
	}

	span, err := period.Parse(level, periodID, r.loc)
	if err != nil {
		return Resolution{}, err
	}

	children, err := r.childIDs(source, span)
	if err != nil {
		return Resolution{}, err
	}

	scopes := []string{hostScope}
	if source == period.Raw && hostScope == HostScopeAll {
		scopes = append(scopes, mergeHosts(r.hosts, discovered)...)
	}

	keys := make([]BucketKey, 0, len(children)*len(scopes))
	for _, id := range children {
		for _, scope := range scopes {
			keys = append(keys, BucketKey{Level: source, HostScope: scope, PeriodID: id})
		}
	}

	return Resolution{
		Key:         BucketKey{Level: level, HostScope: hostScope, PeriodID: periodID},
		Span:        span,
		SourceLevel: source,
		SourceKeys:  keys,
	}, nil
}

// childIDs walks the source level's periods that start inside span.
func (r *Resolver) childIDs(source period.Level, span period.Span) ([]string, error) {
	var out []string
	t := span.Start
	for t.Before(span.End) {
		id, err := period.Derive(source, t, r.loc)
		if err != nil {
			return nil, err
		}
		child, err := period.Parse(source, id, r.loc)
		if err != nil {
			return nil, err
		}
		if len(out) == 0 || out[len(out)-1] != id {
			out = append(out, id)
		}
		// A repeated wall-clock hour parses to its first occurrence.
		if !child.End.After(t) {
			t = t.Add(time.Hour)
			continue
		}
		t = child.End
	}
	return out, nil
}

// mergeHosts keeps configured order and appends discovered ids not seen yet.
func mergeHosts(configured, discovered []string) []string {
	seen := make(map[string]struct{}, len(configured)+len(discovered))
	out := make([]string, 0, len(configured)+len(discovered))
	for _, list := range [][]string{configured, discovered} {
		for _, h := range list {
			if h == "" || h == HostScopeAll {
				continue
			}
			if _, dup := seen[h]; dup {
				continue
			}
			seen[h] = struct{}{}
			out = append(out, h)
		}
	}
	return out
}
