package models

// ThresholdSet maps entities and metrics to thresholds. It is built once at
// start-up and only read afterwards.
type ThresholdSet struct {
	defaults  map[Scope]map[MetricKind]Thresholds
	overrides map[string]map[MetricKind]Thresholds
}

// ThresholdSetBuilder accumulates defaults and overrides.
type ThresholdSetBuilder struct {
	set ThresholdSet
}

// NewThresholdSetBuilder creates an empty builder.
func NewThresholdSetBuilder() *ThresholdSetBuilder {
	return &ThresholdSetBuilder{set: ThresholdSet{
		defaults:  make(map[Scope]map[MetricKind]Thresholds),
		overrides: make(map[string]map[MetricKind]Thresholds),
	}}
}

// Default sets the thresholds used for every entity in scope.
func (b *ThresholdSetBuilder) Default(scope Scope, metric MetricKind, t Thresholds) *ThresholdSetBuilder {
	if b.set.defaults[scope] == nil {
		b.set.defaults[scope] = make(map[MetricKind]Thresholds)
	}
	b.set.defaults[scope][metric] = t
	return b
}

// Override sets thresholds for a single entity.
func (b *ThresholdSetBuilder) Override(entity string, metric MetricKind, t Thresholds) *ThresholdSetBuilder {
	if b.set.overrides[entity] == nil {
		b.set.overrides[entity] = make(map[MetricKind]Thresholds)
	}
	b.set.overrides[entity][metric] = t
	return b
}

// Lookup resolves thresholds against what has been registered so far.
func (b *ThresholdSetBuilder) Lookup(scope Scope, entity string, metric MetricKind) Thresholds {
	return b.set.For(scope, entity, metric)
}

// Build returns the finished set. The builder must not be used afterwards.
func (b *ThresholdSetBuilder) Build() ThresholdSet {
	return b.set
}

// For returns the thresholds for entity and metric, falling back to the
// scope default and then to DefaultThresholds.
func (s ThresholdSet) For(scope Scope, entity string, metric MetricKind) Thresholds {
	if byMetric, ok := s.overrides[entity]; ok {
		if t, ok := byMetric[metric]; ok {
			return t
		}
	}
	return s.Default(scope, metric)
}

// Default returns the scope default for metric.
func (s ThresholdSet) Default(scope Scope, metric MetricKind) Thresholds {
	if byMetric, ok := s.defaults[scope]; ok {
		if t, ok := byMetric[metric]; ok {
			return t
		}
	}
	return DefaultThresholds()
}

// HasOverride reports whether entity has its own thresholds for metric.
func (s ThresholdSet) HasOverride(entity string, metric MetricKind) bool {
	_, ok := s.overrides[entity][metric]
	return ok
}
