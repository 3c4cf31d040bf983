// Package osmdata holds the in-memory OSM entity model: nodes, ways and
// relations with normalized tags, plus decoders for XML, JSON and PBF extracts.
//
// A Dataset is built once by a decoder and treated as read-only afterwards.
package osmdata

import (
	"time"

	"github.com/MeKo-Tech/osmscene/internal/types"
	"github.com/paulmach/orb"
)

// Tags is the canonical tag representation used by every downstream stage.
type Tags map[string]string

// TagPair is a raw key/value pair as it appears in input data.
type TagPair struct {
	Key   string
	Value string
}

// NewTags normalizes raw pairs into Tags. When a key repeats, the first value wins.
func NewTags(pairs []TagPair) Tags {
	if len(pairs) == 0 {
		return Tags{}
	}
	tags := make(Tags, len(pairs))
	for _, p := range pairs {
		if _, ok := tags[p.Key]; ok {
			continue
		}
		tags[p.Key] = p.Value
	}
	return tags
}

// Has reports whether key is present, whatever its value.
func (t Tags) Has(key string) bool {
	_, ok := t[key]
	return ok
}

// Meta is provenance carried from the input; geometry code never reads it.
type Meta struct {
	Timestamp time.Time
	User      string
	Version   int
	Changeset int64
	UID       int64
}

// Node is a single geographic point.
type Node struct {
	Tags    Tags
	Meta    Meta
	ID      int64
	Point   orb.Point // lon, lat
	Visible bool
}

// Way is an ordered list of node references.
// Reference order defines polygon winding and must be preserved.
type Way struct {
	Tags     Tags
	Meta     Meta
	NodeRefs []int64
	ID       int64
	Visible  bool
}

// Member is a relation member reference.
type Member struct {
	Type string // node, way, relation
	Role string
	Ref  int64
}

// Relation is carried for completeness; it never becomes geometry.
type Relation struct {
	Tags    Tags
	Meta    Meta
	Members []Member
	ID      int64
	Visible bool
}

// Dataset is a parsed OSM extract.
type Dataset struct {
	Bounds    *types.BoundingBox // declared <bounds>, if the input had one
	Nodes     map[int64]Node
	Ways      []Way
	Relations []Relation

	wayIndex map[int64]struct{}
	relIndex map[int64]struct{}
}

// NewDataset returns an empty dataset ready for AddNode/AddWay/AddRelation.
func NewDataset() *Dataset {
	return &Dataset{
		Nodes:    make(map[int64]Node),
		wayIndex: make(map[int64]struct{}),
		relIndex: make(map[int64]struct{}),
	}
}

// AddNode stores n unless a node with the same ID already exists.
func (d *Dataset) AddNode(n Node) bool {
	if d.Nodes == nil {
		d.Nodes = make(map[int64]Node)
	}
	if _, ok := d.Nodes[n.ID]; ok {
		return false
	}
	d.Nodes[n.ID] = n
	return true
}

// AddWay appends w unless a way with the same ID already exists.
func (d *Dataset) AddWay(w Way) bool {
	if d.wayIndex == nil {
		d.wayIndex = make(map[int64]struct{})
	}
	if _, ok := d.wayIndex[w.ID]; ok {
		return false
	}
	d.wayIndex[w.ID] = struct{}{}
	d.Ways = append(d.Ways, w)
	return true
}

// AddRelation appends r unless a relation with the same ID already exists.
func (d *Dataset) AddRelation(r Relation) bool {
	if d.relIndex == nil {
		d.relIndex = make(map[int64]struct{})
	}
	if _, ok := d.relIndex[r.ID]; ok {
		return false
	}
	d.relIndex[r.ID] = struct{}{}
	d.Relations = append(d.Relations, r)
	return true
}

// Merge adds every entity of other that d does not already define.
// The first declared bounds are kept.
func (d *Dataset) Merge(other *Dataset) {
	if other == nil {
		return
	}
	if d.Bounds == nil && other.Bounds != nil {
		b := *other.Bounds
		d.Bounds = &b
	}
	for _, n := range other.Nodes {
		d.AddNode(n)
	}
	for _, w := range other.Ways {
		d.AddWay(w)
	}
	for _, r := range other.Relations {
		d.AddRelation(r)
	}
}

// Resolve returns the coordinates of w's references in order.
// References to unknown nodes are dropped; the count of dropped refs is returned.
func (d *Dataset) Resolve(w Way) (orb.LineString, int) {
	coords := make(orb.LineString, 0, len(w.NodeRefs))
	dropped := 0
	for _, ref := range w.NodeRefs {
		n, ok := d.Nodes[ref]
		if !ok {
			dropped++
			continue
		}
		coords = append(coords, n.Point)
	}
	return coords, dropped
}

// Extent returns the bounding box of all nodes. ok is false for a dataset without nodes.
func (d *Dataset) Extent() (types.BoundingBox, bool) {
	if len(d.Nodes) == 0 {
		return types.BoundingBox{}, false
	}
	first := true
	var b orb.Bound
	for _, n := range d.Nodes {
		if first {
			b = n.Point.Bound()
			first = false
			continue
		}
		b = b.Extend(n.Point)
	}
	return types.BoundsFromBound(b), true
}

// Stats is a coarse summary used for progress reporting.
type Stats struct {
	Nodes     int
	Ways      int
	Relations int
}

// Stats returns entity counts.
func (d *Dataset) Stats() Stats {
	return Stats{Nodes: len(d.Nodes), Ways: len(d.Ways), Relations: len(d.Relations)}
}
