package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createMap(t *testing.T, url, body string) string {
	t.Helper()
	resp, out := do(t, http.MethodPost, url+"/api/maps", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %v", out)
	id, ok := out["id"].(string)
	require.True(t, ok)
	return id
}

func TestCreateMap_FromQuery(t *testing.T) {
	_, ts := newTestServer(t, nil, Options{StyleURL: "https://tiles.example.com/style.json", Center: []float64{-2, 54}})

	resp, out := do(t, http.MethodPost, ts.URL+"/api/maps",
		`{"granularity":"coarse","kind":"lad_sum","params":{"scenario":"BNZ"},"title":"Total co-benefits"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	assert.NotEmpty(t, out["id"])
	assert.Equal(t, "interactive", out["state"])
	assert.Equal(t, "coarse", out["granularity"])
	assert.Equal(t, []any{-2.0, 54.0}, out["center"])

	legend := out["legend"].(map[string]any)
	assert.Equal(t, "Total co-benefits", legend["title"])
	stops := legend["stops"].([]any)
	require.Len(t, stops, 3)
	assert.Equal(t, -2.0, stops[0].(map[string]any)["value"])
	assert.Equal(t, 5.0, stops[2].(map[string]any)["value"])

	style := out["style"].(map[string]any)
	assert.Equal(t, 8.0, style["version"])
	src := style["sources"].(map[string]any)["datazones"].(map[string]any)
	features := src["data"].(map[string]any)["features"].([]any)
	assert.Len(t, features, 2)
	layers := style["layers"].([]any)
	require.Len(t, layers, 2)
	assert.Equal(t, "fill", layers[0].(map[string]any)["id"])
	assert.Equal(t, "state-borders", layers[1].(map[string]any)["id"])
}

func TestCreateMap_Highlight(t *testing.T) {
	_, ts := newTestServer(t, nil, Options{})

	resp, out := do(t, http.MethodPost, ts.URL+"/api/maps", `{"granularity":"lad","highlight":"E06000002"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, []any{2.5, 0.5}, out["center"], "recentred on the highlighted zone")

	resp, out = do(t, http.MethodPost, ts.URL+"/api/maps", `{"granularity":"fine","highlight":"E06000002"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, out["error"], "coarse")
}

func TestCreateMap_BadRequests(t *testing.T) {
	_, ts := newTestServer(t, nil, Options{})
	tests := []struct {
		name string
		body string
	}{
		{"no data", `{"granularity":"coarse"}`},
		{"both data sources", `{"granularity":"coarse","kind":"lad_sum","highlight":"E06000001"}`},
		{"bad granularity", `{"granularity":"ward","kind":"lad_sum"}`},
		{"bad color", `{"granularity":"coarse","kind":"lad_sum","color_range":["not-a-color"]}`},
		{"bad scenario", `{"granularity":"coarse","kind":"lad_sum","params":{"scenario":"Nope"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := do(t, http.MethodPost, ts.URL+"/api/maps", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestMap_PointerAndClick(t *testing.T) {
	_, ts := newTestServer(t, nil, Options{BasePath: "/dashboard"})
	id := createMap(t, ts.URL, `{"granularity":"coarse","kind":"lad_sum","currency":true}`)
	base := ts.URL + "/api/maps/" + id

	resp, out := do(t, http.MethodPost, base+"/pointer", `{"lon":0.5,"lat":0.5,"x":100,"y":40}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tip := out["tooltip"].(map[string]any)
	assert.Equal(t, true, tip["visible"])
	assert.Contains(t, tip["html"], "Hartlepool")
	assert.Contains(t, tip["html"], "£5.00m")
	assert.Equal(t, 105.0, tip["left"])
	assert.Equal(t, "0", out["hovered"])

	resp, out = do(t, http.MethodPost, base+"/pointer", `{"lon":9,"lat":9}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, out["tooltip"].(map[string]any)["visible"])
	assert.Nil(t, out["hovered"])

	resp, out = do(t, http.MethodPost, base+"/click", `{"lon":2.5,"lat":0.5}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["navigate"])
	assert.Equal(t, "/dashboard/location?location=E06000002", out["target"])

	resp, out = do(t, http.MethodPost, base+"/click", `{"lon":1.5,"lat":0.5}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, out["navigate"])

	resp, out = do(t, http.MethodPost, base+"/leave", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, out["tooltip"].(map[string]any)["visible"])
}

func TestMap_NonInteractive(t *testing.T) {
	_, ts := newTestServer(t, nil, Options{})
	id := createMap(t, ts.URL, `{"granularity":"coarse","kind":"lad_sum","interactive":false}`)

	resp, out := do(t, http.MethodGet, ts.URL+"/api/maps/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "layers-loaded", out["state"])

	resp, out = do(t, http.MethodPost, ts.URL+"/api/maps/"+id+"/click", `{"lon":0.5,"lat":0.5}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, out["navigate"])
}

func TestMap_Update(t *testing.T) {
	_, ts := newTestServer(t, nil, Options{})
	id := createMap(t, ts.URL, `{"granularity":"coarse","kind":"lad_sum"}`)

	resp, out := do(t, http.MethodPut, ts.URL+"/api/maps/"+id,
		`{"highlight":"E06000001","reload":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stops := out["legend"].(map[string]any)["stops"].([]any)
	require.Len(t, stops, 2)
	assert.Equal(t, "#ffffff", stops[0].(map[string]any)["color"])

	resp, out = do(t, http.MethodPut, ts.URL+"/api/maps/"+id,
		`{"kind":"lad_sum","color_range":["white","navy"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stops = out["legend"].(map[string]any)["stops"].([]any)
	require.Len(t, stops, 2)
	assert.Equal(t, "#000080", stops[1].(map[string]any)["color"])

	resp, _ = do(t, http.MethodPut, ts.URL+"/api/maps/"+id, `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMap_DeleteAndMissing(t *testing.T) {
	_, ts := newTestServer(t, nil, Options{})
	id := createMap(t, ts.URL, `{"granularity":"coarse","kind":"lad_sum"}`)

	resp, _ := do(t, http.MethodDelete, ts.URL+"/api/maps/"+id, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, out := do(t, http.MethodGet, ts.URL+"/api/maps/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, out["error"], id)

	resp, _ = do(t, http.MethodDelete, ts.URL+"/api/maps/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMap_SessionsAreBounded(t *testing.T) {
	s, ts := newTestServer(t, nil, Options{MaxMaps: 2})
	first := createMap(t, ts.URL, `{"granularity":"coarse","kind":"lad_sum"}`)
	createMap(t, ts.URL, `{"granularity":"coarse","kind":"lad_sum"}`)
	createMap(t, ts.URL, `{"granularity":"coarse","kind":"lad_sum"}`)

	assert.Equal(t, 2, s.maps.len())
	resp, _ := do(t, http.MethodGet, ts.URL+"/api/maps/"+first, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
