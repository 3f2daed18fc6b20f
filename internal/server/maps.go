package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/sells-group/cobenefit-atlas/internal/choropleth"
	"github.com/sells-group/cobenefit-atlas/internal/geo"
	"github.com/sells-group/cobenefit-atlas/internal/query"
)

// session is one live map and the style document it renders into. A Map is
// not safe for concurrent use, so every access holds mu.
type session struct {
	mu    sync.Mutex
	m     *choropleth.Map
	doc   *choropleth.StyleDocument
	title string
}

// sessions is a bounded registry of live maps, evicting the oldest.
type sessions struct {
	mu    sync.Mutex
	byID  map[string]*session
	order []string
	max   int
}

func newSessions(limit int) *sessions {
	return &sessions{byID: make(map[string]*session), max: limit}
}

func (s *sessions) add(id string, sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.order) >= s.max {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.byID, oldest)
		zap.L().Debug("server: evicted map session", zap.String("map_id", oldest))
	}
	s.byID[id] = sess
	s.order = append(s.order, id)
}

func (s *sessions) get(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	return sess, ok
}

func (s *sessions) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *sessions) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// mapData selects what a map shows: the rows of a query, or one highlighted
// local authority.
type mapData struct {
	Kind      query.Kind      `json:"kind,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Highlight string          `json:"highlight,omitempty"`
}

type createMapRequest struct {
	mapData
	Granularity string   `json:"granularity"`
	DataKey     string   `json:"data_key,omitempty"`
	ZoneKey     string   `json:"zone_key,omitempty"`
	Border      bool     `json:"border,omitempty"`
	ColorRange  []string `json:"color_range,omitempty"`
	KeepZeros   bool     `json:"keep_zeros,omitempty"`
	Title       string   `json:"title,omitempty"`
	// Currency formats tooltip values as £ millions.
	Currency bool `json:"currency,omitempty"`
	// Interactive enables the tooltip and click navigation.
	Interactive *bool `json:"interactive,omitempty"`
}

type updateMapRequest struct {
	mapData
	Reload     bool     `json:"reload,omitempty"`
	ColorRange []string `json:"color_range,omitempty"`
}

type mapResponse struct {
	ID          string                    `json:"id"`
	State       choropleth.State          `json:"state"`
	Granularity geo.Granularity           `json:"granularity"`
	Center      []float64                 `json:"center"`
	Legend      choropleth.Legend         `json:"legend"`
	Style       *choropleth.StyleDocument `json:"style"`
}

type pointerResponse struct {
	Tooltip choropleth.Tooltip `json:"tooltip"`
	Hovered string             `json:"hovered,omitempty"`
}

type clickResponse struct {
	Navigate bool   `json:"navigate"`
	Target   string `json:"target,omitempty"`
}

// data resolves the request into map data, running the query if one is named.
func (s *Server) data(ctx context.Context, d mapData) (choropleth.Data, error) {
	switch {
	case d.Kind != "" && d.Highlight != "":
		return nil, badRequest("kind and highlight are mutually exclusive")
	case d.Highlight != "":
		return choropleth.Highlight(d.Highlight), nil
	case d.Kind == "":
		return nil, badRequest("kind or highlight is required")
	}
	spec, err := query.Decode(s.deps.Catalog, d.Kind, d.Params)
	if err != nil {
		return nil, err
	}
	rows, err := s.deps.Engine.Run(ctx, spec)
	if err != nil {
		return nil, err
	}
	return choropleth.Rows(rows), nil
}

func (s *Server) handleCreateMap(w http.ResponseWriter, r *http.Request) {
	var req createMapRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	g, err := geo.ParseGranularity(req.Granularity)
	if err != nil {
		writeError(w, r, badRequest(err.Error()))
		return
	}
	if s.deps.Atlas == nil {
		writeError(w, r, eris.Wrap(geo.ErrLayerMissing, "server: no atlas"))
		return
	}
	if _, err := s.deps.Atlas.Layer(g); err != nil {
		writeError(w, r, err)
		return
	}
	data, err := s.data(r.Context(), req.mapData)
	if err != nil {
		writeError(w, r, err)
		return
	}

	opts := choropleth.Options{
		Granularity: g,
		DataKey:     req.DataKey,
		ZoneKey:     req.ZoneKey,
		Border:      req.Border,
		ColorRange:  req.ColorRange,
		KeepZeros:   req.KeepZeros,
		BasePath:    s.opts.BasePath,
	}
	if len(s.opts.Center) >= 2 {
		opts.Center = geom.Coord{s.opts.Center[0], s.opts.Center[1]}
	}
	if req.Currency {
		opts.Formatter = choropleth.CurrencyFormatter(language.BritishEnglish, "£", "m", 2)
	}

	doc := choropleth.NewStyleDocument(s.opts.StyleURL, s.opts.Zoom)
	m, err := choropleth.New(s.deps.Atlas, doc, opts)
	if err != nil {
		writeError(w, r, badRequest(err.Error()))
		return
	}
	if err := m.LoadData(data); err != nil {
		writeError(w, r, err)
		return
	}
	if err := m.LoadLayers(); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Interactive == nil || *req.Interactive {
		if err := m.EnableInteraction(true, true); err != nil {
			writeError(w, r, err)
			return
		}
	}

	sess := &session{m: m, doc: doc, title: req.Title}
	s.maps.add(m.ID(), sess)
	zap.L().Info("server: map created",
		zap.String("map_id", m.ID()),
		zap.Stringer("granularity", g),
		zap.Int("features", len(m.Document().Features)),
	)
	writeJSON(w, http.StatusCreated, sess.response())
}

// response snapshots the session. Callers hold sess.mu or own sess exclusively.
func (sess *session) response() mapResponse {
	c := sess.m.Center()
	return mapResponse{
		ID:          sess.m.ID(),
		State:       sess.m.State(),
		Granularity: sess.m.Granularity(),
		Center:      []float64{c[0], c[1]},
		Legend:      sess.m.Legend(sess.title),
		Style:       sess.doc,
	}
}

// withSession runs fn on the session named in the path while holding its lock.
func (s *Server) withSession(w http.ResponseWriter, r *http.Request, fn func(*session) (any, error)) {
	id := chi.URLParam(r, "id")
	sess, ok := s.maps.get(id)
	if !ok {
		writeError(w, r, notFound("map "+id+" not found"))
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	v, err := fn(sess)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleGetMap(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(sess *session) (any, error) {
		return sess.response(), nil
	})
}

func (s *Server) handleUpdateMap(w http.ResponseWriter, r *http.Request) {
	var req updateMapRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	data, err := s.data(r.Context(), req.mapData)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.withSession(w, r, func(sess *session) (any, error) {
		if err := sess.m.Update(data, req.Reload, req.ColorRange); err != nil {
			return nil, err
		}
		return sess.response(), nil
	})
}

func (s *Server) handleDeleteMap(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.maps.remove(id) {
		writeError(w, r, notFound("map "+id+" not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePointer(w http.ResponseWriter, r *http.Request) {
	var ev choropleth.PointerEvent
	if err := decodeBody(w, r, &ev); err != nil {
		writeError(w, r, err)
		return
	}
	s.withSession(w, r, func(sess *session) (any, error) {
		tip, err := sess.m.PointerMove(ev)
		if err != nil {
			return nil, err
		}
		resp := pointerResponse{Tooltip: tip}
		if id, ok := sess.m.Hovered(); ok {
			resp.Hovered = id
		}
		return resp, nil
	})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(sess *session) (any, error) {
		if err := sess.m.PointerLeave(); err != nil {
			return nil, err
		}
		return pointerResponse{Tooltip: sess.m.Tooltip()}, nil
	})
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	var ev choropleth.PointerEvent
	if err := decodeBody(w, r, &ev); err != nil {
		writeError(w, r, err)
		return
	}
	s.withSession(w, r, func(sess *session) (any, error) {
		target, ok, err := sess.m.Click(ev)
		if err != nil {
			return nil, err
		}
		return clickResponse{Navigate: ok, Target: target}, nil
	})
}
