package osmdata

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/MeKo-Tech/osmscene/internal/types"
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
)

var (
	// ErrNotOSM is returned when an XML document's root element is not <osm>.
	ErrNotOSM = errors.New("root element is not <osm>")
	// ErrUnknownFormat is returned when the input format cannot be determined.
	ErrUnknownFormat = errors.New("unknown OSM input format")
)

// Format identifies an input encoding.
type Format string

const (
	FormatAuto Format = ""
	FormatXML  Format = "xml"
	FormatJSON Format = "json"
	FormatPBF  Format = "pbf"
)

// FormatFromPath guesses the format from a file name.
// Unknown extensions yield FormatAuto, which sniffs the content.
func FormatFromPath(path string) Format {
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(name, ".pbf"):
		return FormatPBF
	case strings.HasSuffix(name, ".osm"), strings.HasSuffix(name, ".xml"):
		return FormatXML
	case strings.HasSuffix(name, ".json"):
		return FormatJSON
	default:
		return FormatAuto
	}
}

// Decode reads a complete extract from r.
func Decode(ctx context.Context, r io.Reader, format Format) (*Dataset, error) {
	if format == FormatAuto {
		br := bufio.NewReader(r)
		sniffed, err := sniff(br)
		if err != nil {
			return nil, err
		}
		format = sniffed
		r = br
	}

	switch format {
	case FormatXML:
		return DecodeXML(r)
	case FormatJSON:
		return DecodeJSON(r)
	case FormatPBF:
		return DecodePBF(ctx, r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func sniff(br *bufio.Reader) (Format, error) {
	head, err := br.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return FormatAuto, fmt.Errorf("failed to read input header: %w", err)
	}
	trimmed := bytes.TrimLeft(head, " \t\r\n\ufeff")
	if len(trimmed) == 0 {
		return FormatAuto, fmt.Errorf("%w: empty input", ErrUnknownFormat)
	}
	switch trimmed[0] {
	case '<':
		return FormatXML, nil
	case '{', '[':
		return FormatJSON, nil
	}
	// PBF files start with a 4-byte header length followed by "OSMHeader".
	if bytes.Contains(head, []byte("OSMHeader")) {
		return FormatPBF, nil
	}
	return FormatAuto, ErrUnknownFormat
}

// DecodeXML parses an OSM XML document. The root element must be <osm>.
func DecodeXML(r io.Reader) (*Dataset, error) {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrNotOSM)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse OSM XML: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "osm" {
			return nil, fmt.Errorf("%w: got <%s>", ErrNotOSM, start.Name.Local)
		}

		var o osm.OSM
		if err := dec.DecodeElement(&o, &start); err != nil {
			return nil, fmt.Errorf("failed to parse OSM XML: %w", err)
		}
		return FromOSM(&o), nil
	}
}

// DecodePBF reads an OSM PBF extract.
func DecodePBF(ctx context.Context, r io.Reader) (*Dataset, error) {
	scanner := osmpbf.New(ctx, r, runtime.NumCPU())
	defer scanner.Close()

	ds := NewDataset()
	for scanner.Scan() {
		addObject(ds, scanner.Object())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read PBF: %w", err)
	}
	return ds, nil
}

// FromOSM converts a paulmach/osm document into a Dataset.
func FromOSM(o *osm.OSM) *Dataset {
	ds := NewDataset()
	if o == nil {
		return ds
	}
	if o.Bounds != nil {
		ds.Bounds = &types.BoundingBox{
			MinLon: o.Bounds.MinLon,
			MinLat: o.Bounds.MinLat,
			MaxLon: o.Bounds.MaxLon,
			MaxLat: o.Bounds.MaxLat,
		}
	}
	for _, n := range o.Nodes {
		addObject(ds, n)
	}
	for _, w := range o.Ways {
		addObject(ds, w)
	}
	for _, r := range o.Relations {
		addObject(ds, r)
	}
	return ds
}

// addObject converts a single osm object. The library cannot tell an absent
// visible attribute from visible="false", so entities are marked visible.
func addObject(ds *Dataset, obj osm.Object) {
	switch o := obj.(type) {
	case *osm.Node:
		ds.AddNode(Node{
			ID:      int64(o.ID),
			Point:   orb.Point{o.Lon, o.Lat},
			Tags:    tagsFromOSM(o.Tags),
			Visible: true,
			Meta: Meta{
				Version:   o.Version,
				Timestamp: o.Timestamp,
				Changeset: int64(o.ChangesetID),
				User:      o.User,
				UID:       int64(o.UserID),
			},
		})
	case *osm.Way:
		refs := make([]int64, len(o.Nodes))
		for i, wn := range o.Nodes {
			refs[i] = int64(wn.ID)
		}
		ds.AddWay(Way{
			ID:       int64(o.ID),
			NodeRefs: refs,
			Tags:     tagsFromOSM(o.Tags),
			Visible:  true,
			Meta: Meta{
				Version:   o.Version,
				Timestamp: o.Timestamp,
				Changeset: int64(o.ChangesetID),
				User:      o.User,
				UID:       int64(o.UserID),
			},
		})
	case *osm.Relation:
		members := make([]Member, len(o.Members))
		for i, m := range o.Members {
			members[i] = Member{Type: string(m.Type), Ref: m.Ref, Role: m.Role}
		}
		ds.AddRelation(Relation{
			ID:      int64(o.ID),
			Members: members,
			Tags:    tagsFromOSM(o.Tags),
			Visible: true,
			Meta: Meta{
				Version:   o.Version,
				Timestamp: o.Timestamp,
				Changeset: int64(o.ChangesetID),
				User:      o.User,
				UID:       int64(o.UserID),
			},
		})
	}
}

func tagsFromOSM(tags osm.Tags) Tags {
	pairs := make([]TagPair, len(tags))
	for i, t := range tags {
		pairs[i] = TagPair{Key: t.Key, Value: t.Value}
	}
	return NewTags(pairs)
}

type jsonDocument struct {
	Bounds   *jsonBounds   `json:"bounds"`
	Elements []jsonElement `json:"elements"`
}

type jsonBounds struct {
	MinLat float64 `json:"minlat"`
	MinLon float64 `json:"minlon"`
	MaxLat float64 `json:"maxlat"`
	MaxLon float64 `json:"maxlon"`
}

type jsonPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type jsonMember struct {
	Type string `json:"type"`
	Ref  int64  `json:"ref"`
	Role string `json:"role"`
}

type jsonElement struct {
	Lat       *float64          `json:"lat"`
	Lon       *float64          `json:"lon"`
	Visible   *bool             `json:"visible"`
	Tags      map[string]string `json:"tags"`
	Type      string            `json:"type"`
	Timestamp string            `json:"timestamp"`
	User      string            `json:"user"`
	Nodes     []int64           `json:"nodes"`
	Geometry  []jsonPoint       `json:"geometry"`
	Members   []jsonMember      `json:"members"`
	ID        int64             `json:"id"`
	Version   int               `json:"version"`
	Changeset int64             `json:"changeset"`
	UID       int64             `json:"uid"`
}

func (e jsonElement) meta() Meta {
	m := Meta{Version: e.Version, Changeset: e.Changeset, User: e.User, UID: e.UID}
	if e.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, e.Timestamp); err == nil {
			m.Timestamp = ts
		}
	}
	return m
}

func (e jsonElement) visible() bool {
	return e.Visible == nil || *e.Visible
}

// DecodeJSON parses an Overpass-style JSON document ({"elements": [...]})
// or a bare element array.
func DecodeJSON(r io.Reader) (*Dataset, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read OSM JSON: %w", err)
	}

	var doc jsonDocument
	trimmed := bytes.TrimLeft(data, " \t\r\n\ufeff")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &doc.Elements)
	} else {
		err = json.Unmarshal(trimmed, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse OSM JSON: %w", err)
	}

	ds := NewDataset()
	if doc.Bounds != nil {
		ds.Bounds = &types.BoundingBox{
			MinLon: doc.Bounds.MinLon,
			MinLat: doc.Bounds.MinLat,
			MaxLon: doc.Bounds.MaxLon,
			MaxLat: doc.Bounds.MaxLat,
		}
	}

	var withGeometry []jsonElement
	for _, e := range doc.Elements {
		tags := Tags(e.Tags)
		if tags == nil {
			tags = Tags{}
		}
		switch e.Type {
		case "node":
			if e.Lat == nil || e.Lon == nil {
				continue
			}
			ds.AddNode(Node{
				ID:      e.ID,
				Point:   orb.Point{*e.Lon, *e.Lat},
				Tags:    tags,
				Visible: e.visible(),
				Meta:    e.meta(),
			})
		case "way":
			ds.AddWay(Way{
				ID:       e.ID,
				NodeRefs: append([]int64(nil), e.Nodes...),
				Tags:     tags,
				Visible:  e.visible(),
				Meta:     e.meta(),
			})
			if len(e.Geometry) > 0 && len(e.Geometry) == len(e.Nodes) {
				withGeometry = append(withGeometry, e)
			}
		case "relation":
			members := make([]Member, len(e.Members))
			for i, m := range e.Members {
				members[i] = Member{Type: m.Type, Ref: m.Ref, Role: m.Role}
			}
			ds.AddRelation(Relation{
				ID:      e.ID,
				Members: members,
				Tags:    tags,
				Visible: e.visible(),
				Meta:    e.meta(),
			})
		}
	}

	// "out geom" responses embed coordinates in the way instead of emitting nodes.
	// Fill in only references that no node element defined.
	for _, e := range withGeometry {
		for i, ref := range e.Nodes {
			ds.AddNode(Node{
				ID:      ref,
				Point:   orb.Point{e.Geometry[i].Lon, e.Geometry[i].Lat},
				Tags:    Tags{},
				Visible: true,
			})
		}
	}

	return ds, nil
}
