// Package dataset loads the zone topologies that back the choropleth.
package dataset

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/cobenefit-atlas/internal/fetcher"
	"github.com/sells-group/cobenefit-atlas/internal/geo"
)

// Format identifies how a boundary document is encoded.
type Format string

// Formats. FormatAuto picks one from the file extension.
const (
	FormatAuto      Format = ""
	FormatTopoJSON  Format = "topojson"
	FormatGeoJSON   Format = "geojson"
	FormatShapefile Format = "shapefile"
)

// Source describes one boundary document.
type Source struct {
	Path   string
	Object string // TopoJSON object name
	Format Format
}

// Options configures a Loader.
type Options struct {
	BaseURL string
	Fine    Source
	Coarse  Source
	TempDir string
}

// Loader fetches and decodes both zone layers.
type Loader struct {
	fetcher fetcher.Fetcher
	opts    Options
}

// NewLoader creates a Loader reading through f.
func NewLoader(f fetcher.Fetcher, opts Options) *Loader {
	return &Loader{fetcher: f, opts: opts}
}

// LoadAtlas fetches the fine and coarse layers concurrently. Either failure
// cancels the other.
func (l *Loader) LoadAtlas(ctx context.Context) (*geo.Atlas, error) {
	start := time.Now()
	atlas := &geo.Atlas{}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		layer, err := l.LoadLayer(gCtx, l.opts.Fine, geo.Fine)
		if err != nil {
			return err
		}
		atlas.Fine = layer
		return nil
	})
	g.Go(func() error {
		layer, err := l.LoadLayer(gCtx, l.opts.Coarse, geo.Coarse)
		if err != nil {
			return err
		}
		atlas.Coarse = layer
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	zap.L().Info("dataset: atlas loaded",
		zap.Int("fine_zones", atlas.Fine.Len()),
		zap.Int("coarse_zones", atlas.Coarse.Len()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return atlas, nil
}

// LoadLayer fetches and decodes one boundary document.
func (l *Loader) LoadLayer(ctx context.Context, src Source, g geo.Granularity) (*geo.Layer, error) {
	if src.Path == "" {
		return nil, eris.Errorf("dataset: no %s boundary path configured", g)
	}
	location := fetcher.Resolve(l.opts.BaseURL, src.Path)
	format := src.Format
	if format == FormatAuto {
		format = detectFormat(location, src.Object)
	}

	log := zap.L().With(zap.String("location", location), zap.Stringer("granularity", g), zap.String("format", string(format)))
	log.Debug("dataset: loading layer")

	var (
		layer *geo.Layer
		err   error
	)
	switch format {
	case FormatShapefile:
		layer, err = l.loadShapefile(ctx, location, g)
	case FormatTopoJSON, FormatGeoJSON:
		layer, err = l.loadJSON(ctx, location, format, src.Object, g)
	default:
		return nil, eris.Errorf("dataset: unknown boundary format %q", format)
	}
	if err != nil {
		log.Warn("dataset: layer failed", zap.Error(err))
		return nil, err
	}
	log.Debug("dataset: layer loaded", zap.Int("zones", layer.Len()))
	return layer, nil
}

func (l *Loader) loadJSON(ctx context.Context, location string, format Format, object string, g geo.Granularity) (*geo.Layer, error) {
	rc, err := l.fetcher.Open(ctx, location)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: fetch %s", location)
	}
	defer rc.Close() //nolint:errcheck

	if format == FormatGeoJSON {
		layer, err := geo.DecodeGeoJSON(rc, g)
		return layer, eris.Wrapf(err, "dataset: decode %s", location)
	}
	if object == "" {
		return nil, eris.Errorf("dataset: topology %s needs an object name", location)
	}
	layer, err := geo.DecodeTopoJSON(rc, object, g)
	return layer, eris.Wrapf(err, "dataset: decode %s", location)
}

// loadShapefile reads local shapefiles in place. Remote sources must be ZIP
// archives, since the sidecar files travel with them.
func (l *Loader) loadShapefile(ctx context.Context, location string, g geo.Granularity) (*geo.Layer, error) {
	if !fetcher.IsRemote(location) {
		layer, err := geo.LoadShapefile(strings.TrimPrefix(location, "file://"), g)
		return layer, eris.Wrapf(err, "dataset: load %s", location)
	}
	if !strings.EqualFold(path.Ext(location), ".zip") {
		return nil, eris.Errorf("dataset: remote shapefile %s must be a .zip archive", location)
	}

	tmp, err := os.MkdirTemp(l.opts.TempDir, "boundaries-*")
	if err != nil {
		return nil, eris.Wrap(err, "dataset: create temp dir")
	}
	defer os.RemoveAll(tmp) //nolint:errcheck

	local := filepath.Join(tmp, "boundaries.zip")
	if _, err := l.fetcher.DownloadToFile(ctx, location, local); err != nil {
		return nil, eris.Wrapf(err, "dataset: fetch %s", location)
	}
	layer, err := geo.LoadShapefile(local, g)
	return layer, eris.Wrapf(err, "dataset: load %s", location)
}

func detectFormat(location, object string) Format {
	p := location
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".zip", ".shp":
		return FormatShapefile
	case ".geojson":
		return FormatGeoJSON
	case ".topojson":
		return FormatTopoJSON
	}
	if object != "" {
		return FormatTopoJSON
	}
	return FormatGeoJSON
}
