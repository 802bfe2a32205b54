package persistence

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/EHRI/ehri-rest-sub010/pkg/schema"
)

// metrics counts committed mutations. A nil *metrics records nothing.
type metrics struct {
	mutations *prometheus.CounterVec
	deleted   *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ehri",
				Name:      "bundle_mutations_total",
				Help:      "Total number of committed bundle upserts by outcome",
			},
			[]string{"type", "state"},
		),
		deleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ehri",
				Name:      "bundle_deleted_vertices_total",
				Help:      "Total number of vertices removed by bundle deletes",
			},
			[]string{"type"},
		),
	}
	var err error
	if m.mutations, err = register(reg, m.mutations); err != nil {
		return nil, err
	}
	if m.deleted, err = register(reg, m.deleted); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, reusing an identical collector registered by an
// earlier manager.
func register(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	err := reg.Register(c)
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
			return existing, nil
		}
	}
	return c, err
}

func (m *metrics) mutation(t schema.EntityType, s MutationState) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(string(t), s.String()).Inc()
}

func (m *metrics) deletion(t schema.EntityType, n int) {
	if m == nil {
		return
	}
	m.deleted.WithLabelValues(string(t)).Add(float64(n))
}
