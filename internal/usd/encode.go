package usd

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/osmscene/internal/mesh"
	"github.com/MeKo-Tech/osmscene/internal/types"
)

const surfaceShader = "PreviewSurface"

type encoder struct {
	w     *bufio.Writer
	err   error
	n     int64
	depth int
}

func newEncoder(w io.Writer) *encoder {
	return &encoder{w: bufio.NewWriter(w)}
}

func (e *encoder) line(format string, args ...any) {
	if e.err != nil {
		return
	}
	var sb strings.Builder
	sb.WriteString(strings.Repeat("    ", e.depth))
	fmt.Fprintf(&sb, format, args...)
	sb.WriteByte('\n')
	n, err := e.w.WriteString(sb.String())
	e.n += int64(n)
	e.err = err
}

func (e *encoder) blank() {
	if e.err != nil {
		return
	}
	n, err := e.w.WriteString("\n")
	e.n += int64(n)
	e.err = err
}

func (e *encoder) open() {
	e.line("{")
	e.depth++
}

func (e *encoder) close() {
	e.depth--
	e.line("}")
	if e.depth == 0 && e.err == nil {
		e.err = e.w.Flush()
	}
}

func (e *encoder) header(defaultPrim string, metersPerUnit float64, upAxis string) {
	e.line("#usda 1.0")
	e.line("(")
	e.depth++
	if defaultPrim != "" {
		e.line("defaultPrim = %s", quote(defaultPrim))
	}
	e.line("metersPerUnit = %s", num(metersPerUnit))
	e.line("upAxis = %s", quote(upAxis))
	e.depth--
	e.line(")")
	if e.err == nil {
		e.err = e.w.Flush()
	}
}

func (e *encoder) prim(p *prim) {
	switch {
	case p.kind == kindMesh && p.binding != "":
		e.line("def %s %s (", p.kind, quote(p.name))
		e.depth++
		e.line(`prepend apiSchemas = ["MaterialBindingAPI"]`)
		e.depth--
		e.line(")")
	default:
		e.line("def %s %s", p.kind, quote(p.name))
	}
	e.open()

	switch p.kind {
	case kindMesh:
		e.meshBody(p)
	case kindMaterial:
		e.materialBody(p)
	}

	for i, c := range p.children {
		if i > 0 || p.kind == kindMesh || p.kind == kindMaterial {
			e.blank()
		}
		e.prim(c)
	}
	e.close()
}

func (e *encoder) meshBody(p *prim) {
	m := p.mesh
	lo, hi := m.Extent()
	e.line("float3[] extent = [%s, %s]", vec3(lo), vec3(hi))
	e.line("int[] faceVertexCounts = %s", ints(m.FaceVertexCounts))
	e.line("int[] faceVertexIndices = %s", ints(m.FaceVertexIndices))
	e.line("point3f[] points = %s", points(m.Points))
	if len(m.UVs) > 0 {
		e.line("texCoord2f[] primvars:st = %s (", uvs(m.UVs))
		e.depth++
		e.line(`interpolation = "vertex"`)
		e.depth--
		e.line(")")
	}
	for _, a := range sortedMetadata(p) {
		e.line("string primvars:%s = %s (", a.name, quote(a.value))
		e.depth++
		e.line(`interpolation = "constant"`)
		e.depth--
		e.line(")")
	}
	if p.binding != "" {
		e.line("rel material:binding = <%s>", p.binding)
	}
	e.line(`uniform token subdivisionScheme = "none"`)
}

func (e *encoder) materialBody(p *prim) {
	mat := p.material
	surface := p.path + "/" + surfaceShader
	e.line("token outputs:surface.connect = <%s.outputs:surface>", surface)

	e.blank()
	e.line("def Shader %s", quote(surfaceShader))
	e.open()
	e.line(`uniform token info:id = "UsdPreviewSurface"`)
	if p.texture != "" {
		e.line("color3f inputs:diffuseColor.connect = <%s/diffuseTexture.outputs:rgb>", p.path)
	} else {
		e.line("color3f inputs:diffuseColor = %s", color(mat.Diffuse))
	}
	e.line("float inputs:metallic = %s", num(mat.Metallic))
	e.line("float inputs:opacity = %s", num(mat.Opacity))
	e.line("float inputs:roughness = %s", num(mat.Roughness))
	e.line("token outputs:surface")
	e.close()

	if p.texture == "" {
		return
	}

	e.blank()
	e.line(`def Shader "stReader"`)
	e.open()
	e.line(`uniform token info:id = "UsdPrimvarReader_float2"`)
	e.line("string inputs:varname = %s", quote(p.uvSet))
	e.line("float2 outputs:result")
	e.close()

	e.blank()
	e.line(`def Shader "diffuseTexture"`)
	e.open()
	e.line(`uniform token info:id = "UsdUVTexture"`)
	e.line("asset inputs:file = @%s@", p.texture)
	e.line("float2 inputs:st.connect = <%s/stReader.outputs:result>", p.path)
	e.line(`token inputs:wrapS = "clamp"`)
	e.line(`token inputs:wrapT = "clamp"`)
	e.line("float3 outputs:rgb")
	e.close()
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 32)
}

func vec3(v mesh.Vec3) string {
	return "(" + num(v.X) + ", " + num(v.Y) + ", " + num(v.Z) + ")"
}

func color(c types.Color) string {
	return "(" + num(c.R) + ", " + num(c.G) + ", " + num(c.B) + ")"
}

func ints(v []int) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(strconv.Itoa(x))
	}
	sb.WriteByte(']')
	return sb.String()
}

func points(v []mesh.Vec3) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, p := range v {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(vec3(p))
	}
	sb.WriteByte(']')
	return sb.String()
}

func uvs(v []mesh.Vec2) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, p := range v {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(" + num(p.U) + ", " + num(p.V) + ")")
	}
	sb.WriteByte(']')
	return sb.String()
}

var stringEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

func quote(s string) string {
	return `"` + stringEscaper.Replace(s) + `"`
}
