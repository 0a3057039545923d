// Package serviceability exposes heap regions to an external monitoring
// subsystem: per-space memory pools grouped under the collection manager
// that can shrink them. It is a passive read/report facade; the heap
// controller populates it and records collection completions, it never
// triggers collection itself.
package serviceability

// UsageSource is the read-only usage-query capability a pool reports over.
// Values are computed on demand from the live space; the pool never caches
// them.
type UsageSource interface {
	Used() uint64
	Committed() uint64
	Max() uint64
}

// PoolKind is the closed set of pool behaviors.
type PoolKind int

const (
	EdenPool PoolKind = iota
	SurvivorPool
	GenerationPool
)

func (k PoolKind) String() string {
	switch k {
	case EdenPool:
		return "eden"
	case SurvivorPool:
		return "survivor"
	case GenerationPool:
		return "generation"
	default:
		return "unknown"
	}
}

// Pool is a read-only view over one space. The pool holds a non-owning
// reference to its source; the heap controller manages both lifetimes.
type Pool struct {
	name              string
	kind              PoolKind
	src               UsageSource
	supportsThreshold bool
}

// NewEdenPool builds the eden view. Young spaces fill by design, so
// usage-threshold alerts are not meaningful there.
func NewEdenPool(name string, src UsageSource) *Pool {
	return &Pool{name: name, kind: EdenPool, src: src}
}

// NewSurvivorPool builds the survivor view, threshold support off for the
// same reason as eden.
func NewSurvivorPool(name string, src UsageSource) *Pool {
	return &Pool{name: name, kind: SurvivorPool, src: src}
}

// NewGenerationPool builds a whole-generation view. Threshold support is
// on: low-memory notification on the old generation is meaningful.
func NewGenerationPool(name string, src UsageSource) *Pool {
	return &Pool{name: name, kind: GenerationPool, src: src, supportsThreshold: true}
}

func (p *Pool) Name() string   { return p.name }
func (p *Pool) Kind() PoolKind { return p.kind }

// Used returns live bytes, read fresh from the space.
func (p *Pool) Used() uint64 { return p.src.Used() }

// Committed returns committed bytes, read fresh from the space.
func (p *Pool) Committed() uint64 { return p.src.Committed() }

// Max returns the space's maximum capacity.
func (p *Pool) Max() uint64 { return p.src.Max() }

// SupportsUsageThreshold is fixed at construction.
func (p *Pool) SupportsUsageThreshold() bool { return p.supportsThreshold }

// Snapshot is one pool's reported values at an observation point.
type Snapshot struct {
	Name              string `json:"name"`
	Kind              string `json:"kind"`
	Used              uint64 `json:"used"`
	Committed         uint64 `json:"committed"`
	Max               uint64 `json:"max"`
	SupportsThreshold bool   `json:"supports_usage_threshold"`
}

// Snapshot reads the pool's current values.
func (p *Pool) Snapshot() Snapshot {
	return Snapshot{
		Name:              p.name,
		Kind:              p.kind.String(),
		Used:              p.Used(),
		Committed:         p.Committed(),
		Max:               p.Max(),
		SupportsThreshold: p.supportsThreshold,
	}
}
