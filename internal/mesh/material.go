package mesh

import (
	"regexp"
	"sort"
	"strconv"

	"github.com/MeKo-Tech/osmscene/internal/style"
	"github.com/MeKo-Tech/osmscene/internal/types"
)

// Material is a physically based surface description.
type Material struct {
	Texture   string // optional image path for the diffuse channel
	Diffuse   types.Color
	Roughness float64
	Metallic  float64
	Opacity   float64
}

// BuildingMaterial returns the surface for building prisms.
func BuildingMaterial(st *style.Style) Material {
	return Material{Diffuse: st.BuildingColor, Roughness: 0.4, Metallic: 0, Opacity: 1}
}

// RoadMaterial picks the road color and finish from the way's tags.
func RoadMaterial(st *style.Style, tags map[string]string) Material {
	m := Material{
		Diffuse:   st.RoadColor(tags["highway"], tags["amenity"] == "parking_space"),
		Roughness: 0.8,
		Opacity:   1,
	}
	if tags["surface"] == "paving_stones" {
		m.Roughness = 0.7
		m.Metallic = 0.1
	}
	return m
}

// WaterMaterial returns the translucent water surface.
func WaterMaterial(st *style.Style) Material {
	return Material{Diffuse: st.WaterColor, Roughness: 0.2, Metallic: 0.1, Opacity: 0.9}
}

// LandMaterial returns the surface for a matched land value.
func LandMaterial(st *style.Style, value string) Material {
	return Material{Diffuse: st.LandColor(value), Roughness: 0.8, Opacity: 1}
}

// GroundMaterial returns a matte material textured with the image at path.
func GroundMaterial(path string) Material {
	return Material{Diffuse: types.Gray(1), Roughness: 1, Opacity: 1, Texture: path}
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

// SanitizeKey replaces every character outside [A-Za-z0-9_] with '_'.
func SanitizeKey(key string) string {
	return unsafeKeyChars.ReplaceAllString(key, "_")
}

// MetadataName returns the attribute name used to attach an OSM tag to a mesh.
func MetadataName(key string) string {
	return "customData_" + SanitizeKey(key)
}

// MetadataNames maps tag keys to attribute names. Keys are visited in sorted
// order; a key whose name is already taken gets the first free "_2", "_3", ...
// suffix, so every tag keeps its own attribute.
func MetadataNames(keys []string) map[string]string {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	taken := make(map[string]bool, len(sorted))
	names := make(map[string]string, len(sorted))
	for _, k := range sorted {
		name := MetadataName(k)
		for i := 2; taken[name]; i++ {
			name = MetadataName(k) + "_" + strconv.Itoa(i)
		}
		taken[name] = true
		names[k] = name
	}
	return names
}
