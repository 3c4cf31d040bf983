// Package usd writes scenes as USDA text layers with UsdPreviewSurface materials.
package usd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/MeKo-Tech/osmscene/internal/mesh"
)

// ErrInvalidPath is returned for prim paths that are not absolute identifier paths.
var ErrInvalidPath = errors.New("invalid prim path")

type primKind string

const (
	kindXform    primKind = "Xform"
	kindScope    primKind = "Scope"
	kindMesh     primKind = "Mesh"
	kindMaterial primKind = "Material"
)

type attribute struct {
	name  string
	value string
}

type prim struct {
	kind     primKind
	name     string
	path     string
	children []*prim

	mesh     *mesh.Mesh
	material *mesh.Material
	binding  string
	texture  string
	uvSet    string
	metadata []attribute
}

// Stage is an in-memory USD layer. Prims are added through the scene sink
// methods and serialized in definition order.
type Stage struct {
	prims       map[string]*prim
	roots       []*prim
	defaultPrim string
	upAxis      string
	metersPer   float64
}

// NewStage creates an empty Y-up stage measured in meters.
func NewStage() *Stage {
	return &Stage{
		prims:     make(map[string]*prim),
		upAxis:    "Y",
		metersPer: 1,
	}
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func splitPath(path string) (parent, name string, err error) {
	if !strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	i := strings.LastIndex(path, "/")
	parent, name = path[:i], path[i+1:]
	if !identifier.MatchString(name) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return parent, name, nil
}

func (s *Stage) define(path string, kind primKind) (*prim, error) {
	if _, ok := s.prims[path]; ok {
		return nil, fmt.Errorf("prim %s already defined", path)
	}
	parentPath, name, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	p := &prim{kind: kind, name: name, path: path}
	if parentPath == "" {
		if kind == kindScope {
			p.kind = kindXform
		}
		s.roots = append(s.roots, p)
		if s.defaultPrim == "" {
			s.defaultPrim = name
		}
	} else {
		parent, ok := s.prims[parentPath]
		if !ok {
			return nil, fmt.Errorf("parent of %s is not defined", path)
		}
		parent.children = append(parent.children, p)
	}
	s.prims[path] = p
	return p, nil
}

func (s *Stage) lookup(path string, kind primKind) (*prim, error) {
	p, ok := s.prims[path]
	if !ok {
		return nil, fmt.Errorf("prim %s is not defined", path)
	}
	if p.kind != kind {
		return nil, fmt.Errorf("prim %s is a %s, not a %s", path, p.kind, kind)
	}
	return p, nil
}

// DefineGroup defines a grouping prim. Top-level groups become Xforms, nested ones Scopes.
func (s *Stage) DefineGroup(path string) error {
	_, err := s.define(path, kindScope)
	return err
}

// DefineMesh defines a polygon mesh prim.
func (s *Stage) DefineMesh(path string, m *mesh.Mesh) error {
	if m == nil {
		return fmt.Errorf("mesh %s is nil", path)
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("mesh %s: %w", path, err)
	}
	p, err := s.define(path, kindMesh)
	if err != nil {
		return err
	}
	p.mesh = m
	return nil
}

// DefineMaterial defines a material with a UsdPreviewSurface shader.
func (s *Stage) DefineMaterial(path string, mat mesh.Material) error {
	p, err := s.define(path, kindMaterial)
	if err != nil {
		return err
	}
	p.material = &mat
	return nil
}

// BindMaterial binds a material to a mesh.
func (s *Stage) BindMaterial(meshPath, materialPath string) error {
	m, err := s.lookup(meshPath, kindMesh)
	if err != nil {
		return err
	}
	if _, err := s.lookup(materialPath, kindMaterial); err != nil {
		return err
	}
	m.binding = materialPath
	return nil
}

// SetTexture drives the diffuse color of a material from an image, sampled
// with the texture coordinates stored in the named primvar.
func (s *Stage) SetTexture(materialPath, imagePath, uvPrimvar string) error {
	p, err := s.lookup(materialPath, kindMaterial)
	if err != nil {
		return err
	}
	if !identifier.MatchString(uvPrimvar) {
		return fmt.Errorf("invalid primvar name %q", uvPrimvar)
	}
	p.texture = imagePath
	p.uvSet = uvPrimvar
	return nil
}

// SetMetadata attaches a constant string primvar to a mesh.
func (s *Stage) SetMetadata(path, name, value string) error {
	p, err := s.lookup(path, kindMesh)
	if err != nil {
		return err
	}
	if !identifier.MatchString(name) {
		return fmt.Errorf("invalid metadata name %q", name)
	}
	p.metadata = append(p.metadata, attribute{name: name, value: value})
	return nil
}

// PrimCount returns the number of defined prims.
func (s *Stage) PrimCount() int {
	return len(s.prims)
}

// Save writes the stage to path. The file is written to a temporary sibling
// first and renamed into place.
func (s *Stage) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // nolint:errcheck // no-op after a successful rename

	if _, err := s.WriteTo(tmp); err != nil {
		tmp.Close() // nolint:errcheck
		return fmt.Errorf("failed to write stage: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close stage file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to move stage into place: %w", err)
	}
	return nil
}

// WriteTo serializes the stage as USDA text.
func (s *Stage) WriteTo(w io.Writer) (int64, error) {
	e := newEncoder(w)
	e.header(s.defaultPrim, s.metersPer, s.upAxis)
	for _, p := range s.roots {
		e.blank()
		e.prim(p)
	}
	return e.n, e.err
}

// sortedMetadata returns the metadata of p ordered by name, last write winning.
func sortedMetadata(p *prim) []attribute {
	byName := make(map[string]string, len(p.metadata))
	for _, a := range p.metadata {
		byName[a.name] = a.value
	}
	out := make([]attribute, 0, len(byName))
	for name, value := range byName {
		out = append(out, attribute{name: name, value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}
