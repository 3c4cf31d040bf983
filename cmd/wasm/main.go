//go:build js && wasm
// +build js,wasm

package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"syscall/js"

	"github.com/MeKo-Tech/osmscene/internal/classify"
	"github.com/MeKo-Tech/osmscene/internal/datasource"
	"github.com/MeKo-Tech/osmscene/internal/geojson"
	"github.com/MeKo-Tech/osmscene/internal/osmdata"
	"github.com/MeKo-Tech/osmscene/internal/tile"
	"github.com/MeKo-Tech/osmscene/internal/types"
)

// ClassifyRequest is sent from JS with an Overpass JSON response.
type ClassifyRequest struct {
	Bounds *types.BoundingBox `json:"bounds,omitempty"`
	Data   string             `json:"data"`
}

// ClassifyResponse carries the features as a GeoJSON string.
type ClassifyResponse struct {
	GeoJSON string `json:"geojson"`
	Summary string `json:"summary"`
	Error   string `json:"error,omitempty"`
}

// classifyOSM is called from JavaScript with a JSON encoded ClassifyRequest.
// The browser fetches the data itself; files and tiles are not accessible here.
func classifyOSM(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return respond(ClassifyResponse{Error: "missing arguments"})
	}

	var req ClassifyRequest
	if err := json.Unmarshal([]byte(args[0].String()), &req); err != nil {
		return respond(ClassifyResponse{Error: fmt.Sprintf("failed to parse request: %v", err)})
	}

	ds, err := osmdata.DecodeJSON(strings.NewReader(req.Data))
	if err != nil {
		return respond(ClassifyResponse{Error: err.Error()})
	}
	bounds, err := datasource.ResolveBounds(req.Bounds, ds)
	if err != nil {
		return respond(ClassifyResponse{Error: err.Error()})
	}

	fc, report := classify.New(nil, classify.WithBounds(bounds)).Classify(ds)
	data, err := geojson.ToGeoJSONBytes(fc.All())
	if err != nil {
		return respond(ClassifyResponse{Error: err.Error()})
	}
	return respond(ClassifyResponse{GeoJSON: string(data), Summary: report.String()})
}

// tileKey returns the naming of a tile, e.g. "z16_x34567_y21234", and its
// path on an osmscene tile server.
func tileKey(this js.Value, args []js.Value) interface{} {
	if len(args) < 3 {
		return map[string]interface{}{"error": "expected z, x, y"}
	}
	c := tile.NewCoords(uint32(args[0].Int()), uint32(args[1].Int()), uint32(args[2].Int()))
	if !c.Valid() {
		return map[string]interface{}{"error": "tile out of range"}
	}
	return map[string]interface{}{
		"key":      c.String(),
		"filename": c.Path("png"),
		"url":      c.URL("/tiles/{z}/{x}/{y}.png"),
	}
}

func respond(r ClassifyResponse) interface{} {
	data, _ := json.Marshal(r)
	return string(data)
}

func main() {
	c := make(chan struct{})

	js.Global().Set("osmsceneClassify", js.FuncOf(classifyOSM))
	js.Global().Set("osmsceneTileKey", js.FuncOf(tileKey))

	fmt.Println("osmscene WASM module loaded")
	<-c
}
