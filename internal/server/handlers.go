package server

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/cobenefit-atlas/internal/archetype"
	"github.com/sells-group/cobenefit-atlas/internal/catalog"
	"github.com/sells-group/cobenefit-atlas/internal/geo"
	"github.com/sells-group/cobenefit-atlas/internal/query"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"engine_ready": s.deps.Engine != nil && s.deps.Engine.Ready(),
	})
}

type catalogResponse struct {
	*catalog.Catalog
	Kinds []query.Kind `json:"query_kinds"`
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, catalogResponse{Catalog: s.deps.Catalog, Kinds: query.Kinds()})
}

// queryRequest names a query kind and its JSON parameters.
type queryRequest struct {
	Kind   query.Kind      `json:"kind"`
	Params json.RawMessage `json:"params,omitempty"`
}

type queryResponse struct {
	Kind    query.Kind  `json:"kind"`
	SQL     string      `json:"sql"`
	Columns []string    `json:"columns,omitempty"`
	Rows    []query.Row `json:"rows,omitempty"`
}

func (s *Server) decodeSpec(w http.ResponseWriter, r *http.Request) (query.Spec, error) {
	var req queryRequest
	if err := decodeBody(w, r, &req); err != nil {
		return nil, err
	}
	if req.Kind == "" {
		return nil, badRequest("kind is required")
	}
	return query.Decode(s.deps.Catalog, req.Kind, req.Params)
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	spec, err := s.decodeSpec(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{
		Kind:    spec.Kind(),
		SQL:     s.deps.Engine.Compiler().Compile(spec),
		Columns: spec.Columns(),
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	spec, err := s.decodeSpec(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rows, err := s.deps.Engine.Run(r.Context(), spec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []query.Row{}
	}
	writeJSON(w, http.StatusOK, queryResponse{
		Kind:    spec.Kind(),
		SQL:     s.deps.Engine.Compiler().Compile(spec),
		Columns: spec.Columns(),
		Rows:    rows,
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Engine.CacheStats())
}

func (s *Server) layer(r *http.Request) (*geo.Layer, error) {
	g, err := geo.ParseGranularity(chi.URLParam(r, "granularity"))
	if err != nil {
		return nil, badRequest(err.Error())
	}
	if s.deps.Atlas == nil {
		return nil, eris.Wrapf(geo.ErrLayerMissing, "server: %s layer", g)
	}
	return s.deps.Atlas.Layer(g)
}

type zoneSummary struct {
	Code string `json:"code"`
	Name string `json:"name,omitempty"`
}

func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	layer, err := s.layer(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]zoneSummary, 0, layer.Len())
	for _, z := range layer.Zones() {
		if z.Code == "" {
			continue
		}
		out = append(out, zoneSummary{Code: z.Code, Name: z.Name})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"granularity": layer.Granularity(),
		"count":       len(out),
		"zones":       out,
	})
}

type zoneResponse struct {
	Code       string            `json:"code"`
	Name       string            `json:"name,omitempty"`
	Centroid   []float64         `json:"centroid,omitempty"`
	Properties map[string]any    `json:"properties"`
	Geometry   *geojson.Geometry `json:"geometry,omitempty"`
}

// handleZone returns one zone. ?geometry=true includes its outline.
func (s *Server) handleZone(w http.ResponseWriter, r *http.Request) {
	layer, err := s.layer(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	code, err := catalog.ZoneCode(chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	z, ok := layer.Zone(code)
	if !ok {
		writeError(w, r, notFound("zone "+code+" not found"))
		return
	}

	resp := zoneResponse{Code: z.Code, Name: z.Name, Properties: z.Properties()}
	if len(z.Centroid) >= 2 {
		resp.Centroid = []float64{z.Centroid[0], z.Centroid[1]}
	}
	if withGeometry, _ := strconv.ParseBool(r.URL.Query().Get("geometry")); withGeometry {
		g, err := geojson.Encode(z.Geometry)
		if err != nil {
			writeError(w, r, eris.Wrapf(err, "server: encode zone %s", code))
			return
		}
		resp.Geometry = g
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleArchetypeCosts flattens the archetype tables into per-co-benefit
// costs. ?scenario=N keeps one scenario; ?co_benefit=X keeps one co-benefit.
func (s *Server) handleArchetypeCosts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archetypes == nil {
		writeError(w, r, notFound("archetype data not configured"))
		return
	}

	var scenario string
	if v := r.URL.Query().Get("scenario"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, r, badRequest("scenario must be a positive number"))
			return
		}
		scenario = strconv.Itoa(n)
	}
	var cb catalog.CoBenefit
	if v := r.URL.Query().Get("co_benefit"); v != "" {
		id, err := s.deps.Catalog.CoBenefit(v)
		if err != nil {
			writeError(w, r, err)
			return
		}
		cb = id
	}

	ds, err := s.archetypeDataset(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	costs := ds.PerCoBenefit(s.deps.Catalog)
	costs = slices.DeleteFunc(costs, func(c archetype.Cost) bool {
		return (scenario != "" && c.Scenario != scenario) ||
			(cb != "" && !strings.EqualFold(string(c.CoBenefit), string(cb)))
	})
	writeJSON(w, http.StatusOK, map[string]any{"count": len(costs), "costs": costs})
}

// archetypeDataset loads the archetype tables once. Concurrent first callers
// share one load; a failed load is retried by the next request.
func (s *Server) archetypeDataset(ctx context.Context) (*archetype.Dataset, error) {
	s.archetypeMu.Lock()
	ds := s.archetypes
	s.archetypeMu.Unlock()
	if ds != nil {
		return ds, nil
	}

	v, err, _ := s.archetypeGroup.Do("load", func() (any, error) {
		ds, err := s.deps.Archetypes.Load(ctx)
		if err != nil {
			return nil, err
		}
		s.archetypeMu.Lock()
		s.archetypes = ds
		s.archetypeMu.Unlock()
		return ds, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*archetype.Dataset), nil
}
