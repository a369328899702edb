package sink

import (
	"sort"

	"go.uber.org/zap"

	"github.com/openedx/event-sink-clickhouse/pkg/config"
	"github.com/openedx/event-sink-clickhouse/pkg/errors"
	"github.com/openedx/event-sink-clickhouse/pkg/logger"
	"github.com/openedx/event-sink-clickhouse/pkg/repository"
	"github.com/openedx/event-sink-clickhouse/pkg/serializer"
)

// ErrNoModel is returned for a kind without a usable model mapping. Callers
// treat it as nothing to do.
var ErrNoModel = errors.New(errors.ErrorTypeConfig, "no model configured for sink")

// Descriptors of the insert sinks, keyed by record kind
var descriptors = map[string]Descriptor{
	repository.KindCourseOverviews: {
		Name:           "Course Overview",
		Kind:           repository.KindCourseOverviews,
		Table:          "course_overviews",
		UniqueKey:      "course_key",
		TimestampField: "time_last_dumped",
		Incremental:    true,
		Serialize:      serializer.CourseOverview,
	},
	repository.KindUserProfile: {
		Name:           "User Profile",
		Kind:           repository.KindUserProfile,
		Table:          "user_profile",
		UniqueKey:      "id",
		TimestampField: "time_last_dumped",
		Serialize:      serializer.UserProfile,
	},
	repository.KindExternalID: {
		Name:           "External ID",
		Kind:           repository.KindExternalID,
		Table:          "external_id",
		UniqueKey:      "external_user_id",
		TimestampField: "time_last_dumped",
		Serialize:      serializer.ExternalID,
	},
}

// Registry builds sinks for record kinds from the configuration.
type Registry struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewRegistry creates a registry over cfg
func NewRegistry(cfg *config.Config, log *zap.Logger) *Registry {
	if log == nil {
		log = logger.Get()
	}
	return &Registry{cfg: cfg, logger: log.With(zap.String("component", "registry"))}
}

// Kinds returns every registered kind, sorted
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(descriptors)+1)
	for kind := range descriptors {
		kinds = append(kinds, kind)
	}
	kinds = append(kinds, repository.KindAuthUser)
	sort.Strings(kinds)
	return kinds
}

// IsEnabled reports whether event driven dumps of kind are turned on
func (r *Registry) IsEnabled(kind string) bool {
	return r.cfg.Sinks.IsEnabled(kind)
}

// resolve checks that kind is known and mapped to a model.
func (r *Registry) resolve(kind string) error {
	if _, ok := descriptors[kind]; !ok && kind != repository.KindAuthUser {
		r.logger.Error("Unknown sink", zap.String("kind", kind))
		return ErrNoModel
	}
	model, ok := r.cfg.Models[kind]
	if !ok || !model.Complete() {
		r.logger.Error("Unable to find model", zap.String("kind", kind), zap.Any("model", model))
		return ErrNoModel
	}
	return nil
}

// Descriptor returns the descriptor of an insert sink
func (r *Registry) Descriptor(kind string) (Descriptor, error) {
	if err := r.resolve(kind); err != nil {
		return Descriptor{}, err
	}
	desc, ok := descriptors[kind]
	if !ok {
		return Descriptor{}, errors.Newf(errors.ErrorTypeValidation, "%s does not insert records", kind)
	}
	return desc, nil
}

// Sink builds the insert sink of kind. Course overviews get the course blocks
// sink nested.
func (r *Registry) Sink(kind string, transport Transport, repo repository.Repository) (*Sink, error) {
	desc, err := r.Descriptor(kind)
	if err != nil {
		return nil, err
	}
	opts := []Option{WithLogger(r.logger)}
	if kind == repository.KindCourseOverviews {
		opts = append(opts, WithNested(NewCourseBlocksSink(transport, repo, r.cfg.DetachedBlockTypeSet(), r.logger)))
	}
	return New(desc, transport, repo, opts...), nil
}

// Retirement builds the sink deleting retired users from the PII tables
func (r *Registry) Retirement(transport Transport, repo repository.RecordStore) (*RetirementSink, error) {
	if err := r.resolve(repository.KindAuthUser); err != nil {
		return nil, err
	}
	return NewRetirementSink(transport, repo, r.PIITables(), r.logger), nil
}

// Dumper builds whichever sink handles kind
func (r *Registry) Dumper(kind string, transport Transport, repo repository.Repository) (Dumper, error) {
	if kind == repository.KindAuthUser {
		retirement, err := r.Retirement(transport, repo)
		if err != nil {
			return nil, err
		}
		return retirement, nil
	}
	s, err := r.Sink(kind, transport, repo)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// PIITables returns the tables of the configured PII kinds
func (r *Registry) PIITables() []string {
	tables := make([]string, 0, len(r.cfg.PIIModels))
	for _, kind := range r.cfg.PIIModels {
		desc, ok := descriptors[kind]
		if !ok {
			r.logger.Warn("PII model has no sink", zap.String("kind", kind))
			continue
		}
		tables = append(tables, desc.Table)
	}
	return tables
}
