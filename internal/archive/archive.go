// Package archive loads precomputed read-only object snapshots into the
// old generation at startup, before any mutator runs. A snapshot is a YAML
// manifest describing one or more regions of densely packed objects whose
// reference slots point at other objects in the same snapshot by index;
// the loader reserves old-generation space, lays the objects out, resolves
// the indices to heap addresses (relocation), and commits each region as
// permanently live.
package archive

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/kestrel-lang/kestrel/internal/heap"
)

// FormatConstraint is the manifest format versions this loader accepts.
const FormatConstraint = ">= 1.0.0, < 2.0.0"

// Manifest is the snapshot description.
type Manifest struct {
	FormatVersion string   `yaml:"format_version"`
	Regions       []Region `yaml:"regions"`
}

// Region is one dense run of archive objects.
type Region struct {
	Name    string        `yaml:"name"`
	Objects []ObjectImage `yaml:"objects"`
}

// ObjectImage describes one archived object. Refs hold snapshot-wide
// object indices (in declaration order across all regions); -1 is the
// null reference.
type ObjectImage struct {
	Payload uint64 `yaml:"payload"`
	Refs    []int  `yaml:"refs"`
}

// LoadResult reports where each region landed.
type LoadResult struct {
	Regions map[string]heap.Region
	Objects []heap.Address // by snapshot-wide index
}

// Parse reads and validates a manifest, including the format version gate.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("archive: manifest: %w", err)
	}
	v, err := semver.NewVersion(m.FormatVersion)
	if err != nil {
		return nil, fmt.Errorf("archive: format version %q: %w", m.FormatVersion, err)
	}
	constraint, err := semver.NewConstraint(FormatConstraint)
	if err != nil {
		return nil, fmt.Errorf("archive: constraint: %w", err)
	}
	if !constraint.Check(v) {
		return nil, fmt.Errorf("archive: format version %s outside supported range %s",
			m.FormatVersion, FormatConstraint)
	}
	if len(m.Regions) == 0 {
		return nil, fmt.Errorf("archive: manifest has no regions")
	}
	return &m, nil
}

// ParseFile reads a manifest from disk.
func ParseFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	return Parse(data)
}

// Load materializes the snapshot into h. Regions are reserved and
// committed one by one; a failure at any point is fatal to startup, per
// the archive contract, so no partial-load recovery is attempted.
func Load(h *heap.Heap, m *Manifest) (*LoadResult, error) {
	res := &LoadResult{Regions: make(map[string]heap.Region)}

	// First pass: reserve every region and assign object addresses, so
	// cross-region references resolve during relocation.
	type placedRegion struct {
		region heap.Region
		first  int // snapshot-wide index of the region's first object
	}
	placed := make([]placedRegion, 0, len(m.Regions))
	for _, r := range m.Regions {
		size := uint64(0)
		for _, oi := range r.Objects {
			size += footprint(oi)
		}
		if size == 0 {
			return nil, fmt.Errorf("archive: region %s is empty", r.Name)
		}
		start, err := h.ReserveForArchive(size)
		if err != nil {
			return nil, fmt.Errorf("archive: region %s: %w", r.Name, err)
		}
		placed = append(placed, placedRegion{
			region: heap.Region{Start: start, Size: size},
			first:  len(res.Objects),
		})
		addr := start
		for _, oi := range r.Objects {
			res.Objects = append(res.Objects, addr)
			addr += heap.Address(footprint(oi))
		}
		res.Regions[r.Name] = heap.Region{Start: start, Size: size}
	}

	// Second pass: format objects and relocate reference indices to the
	// assigned addresses.
	idx := 0
	for _, r := range m.Regions {
		for _, oi := range r.Objects {
			addr := res.Objects[idx]
			if err := h.FormatArchiveObject(addr, oi.Payload, len(oi.Refs)); err != nil {
				return nil, err
			}
			for slot, target := range oi.Refs {
				if target < 0 {
					continue
				}
				if target >= len(res.Objects) {
					return nil, fmt.Errorf("archive: object %d references missing object %d", idx, target)
				}
				if err := h.WriteRef(addr, slot, res.Objects[target]); err != nil {
					return nil, fmt.Errorf("archive: relocating object %d slot %d: %w", idx, slot, err)
				}
			}
			idx++
		}
	}

	for _, p := range placed {
		if err := h.CommitArchiveRegion(p.region); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// LoadFile parses and loads a snapshot from path.
func LoadFile(h *heap.Heap, path string) (*LoadResult, error) {
	m, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return Load(h, m)
}

// footprint mirrors the heap's block sizing for one object image.
func footprint(oi ObjectImage) uint64 {
	payload := oi.Payload
	if need := uint64(len(oi.Refs)) * 8; payload < need {
		payload = need
	}
	if payload < 8 {
		payload = 8
	}
	return 8 + ((payload + 7) &^ 7)
}
