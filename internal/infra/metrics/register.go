package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once       sync.Once
	collectors []prometheus.Collector
)

// register is called by init() in each metrics file to queue its collectors.
func register(cs ...prometheus.Collector) {
	collectors = append(collectors, cs...)
}

// MustRegister adds every queued collector to the default registry once.
func MustRegister() {
	once.Do(func() { MustRegisterOn(prometheus.DefaultRegisterer) })
}

// MustRegisterOn adds every queued collector to reg; used with private registries.
func MustRegisterOn(reg prometheus.Registerer) {
	if len(collectors) > 0 {
		reg.MustRegister(collectors...)
	}
}
