package choropleth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"
)

// ErrLoad is wrapped by every asset loading failure.
var ErrLoad = errors.New("loading assets")

// maxAssetBytes caps a single fetched asset.
const maxAssetBytes = 256 << 20

// httpClient is a shared HTTP client with reasonable timeouts.
var httpClient = &http.Client{
	Timeout: 30 * time.Second,
}

// Source is a fetchable asset.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
	String() string
}

// FileSource reads an asset from the local filesystem.
type FileSource string

// Fetch reads the file.
func (f FileSource) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fh, err := os.Open(string(f))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", string(f), err)
	}
	defer fh.Close()
	return readLimited(fh, string(f))
}

func (f FileSource) String() string { return string(f) }

// HTTPSource fetches an asset over HTTP(S). A nil Client uses a shared
// client with a 30 second timeout.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

// Fetch GETs the URL. Any status other than 200 is an error.
func (h HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	resp, err := h.get(ctx)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return readLimited(resp.Body, h.URL)
}

func (h HTTPSource) get(ctx context.Context) (*http.Response, error) {
	client := h.Client
	if client == nil {
		client = httpClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", h.URL, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", h.URL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP GET %s: status %d", h.URL, resp.StatusCode)
	}
	return resp, nil
}

func (h HTTPSource) String() string { return h.URL }

// downloadMu serializes downloads into a data directory.
var downloadMu sync.Mutex

// CachedSource downloads an HTTP asset once into Path and reads the local
// copy afterwards.
type CachedSource struct {
	HTTPSource
	Path string
}

// Fetch returns the local copy, downloading it first if it does not exist.
func (c CachedSource) Fetch(ctx context.Context) ([]byte, error) {
	downloadMu.Lock()
	_, statErr := os.Stat(c.Path)
	if statErr != nil {
		if err := c.download(ctx); err != nil {
			downloadMu.Unlock()
			return nil, err
		}
	}
	downloadMu.Unlock()
	return FileSource(c.Path).Fetch(ctx)
}

// download writes the asset to Path, removing partial files on error.
func (c CachedSource) download(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(c.Path), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	resp, err := c.get(ctx)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	out, err := os.Create(c.Path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", c.Path, err)
	}
	success := false
	defer func() {
		out.Close()
		if !success {
			os.Remove(c.Path)
		}
	}()

	if _, err := io.Copy(out, io.LimitReader(resp.Body, maxAssetBytes)); err != nil {
		return fmt.Errorf("writing file %s: %w", c.Path, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing file %s: %w", c.Path, err)
	}
	success = true
	return nil
}

func readLimited(r io.Reader, name string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxAssetBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	if len(data) > maxAssetBytes {
		return nil, fmt.Errorf("reading %s: larger than %d bytes", name, maxAssetBytes)
	}
	return data, nil
}

// SourceFor returns an HTTPSource for http and https URLs and a FileSource
// for anything else. With a non-empty dataDir, HTTP assets are downloaded
// there once and reused.
func SourceFor(location string, client *http.Client, dataDir string) Source {
	if u, err := url.Parse(location); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		src := HTTPSource{URL: location, Client: client}
		if dataDir == "" {
			return src
		}
		return CachedSource{HTTPSource: src, Path: filepath.Join(dataDir, cacheFileName(u))}
	}
	return FileSource(strings.TrimPrefix(location, "file://"))
}

// cacheFileName names the local copy of u: host, a hash of the full URL and
// the base name of the path, e.g. "example.com-1f2e3d4c-counties.csv".
// URLs sharing a base name get distinct files.
func cacheFileName(u *url.URL) string {
	name := fmt.Sprintf("%s-%08x", strings.ReplaceAll(u.Host, ":", "_"), uint32(xxhash.Sum64String(u.String())))
	if base := path.Base(u.Path); base != "" && base != "." && base != "/" {
		name += "-" + base
	}
	return name
}

// FetchAll fetches every source concurrently. If any fetch fails the
// others are cancelled and the whole call fails; there is no partial result.
func FetchAll(ctx context.Context, sources ...Source) ([][]byte, error) {
	out := make([][]byte, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			data, err := src.Fetch(gctx)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrLoad, src, err)
			}
			out[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Assets are the decoded inputs of a map.
type Assets struct {
	Table    *Table
	Features []Feature
	Context  []Feature // outline layer drawn beneath the features; may be nil
}

// AssetSpec names the sources of a load. Context is optional.
type AssetSpec struct {
	Table          Source
	Geometry       Source
	GeometryObject string
	Context        Source
	ContextObject  string
}

// Load fetches all sources in parallel and decodes them.
func Load(ctx context.Context, spec AssetSpec) (*Assets, error) {
	if spec.Table == nil || spec.Geometry == nil {
		return nil, fmt.Errorf("%w: table and geometry sources are required", ErrLoad)
	}
	sources := []Source{spec.Table, spec.Geometry}
	if spec.Context != nil {
		sources = append(sources, spec.Context)
	}
	data, err := FetchAll(ctx, sources...)
	if err != nil {
		return nil, err
	}

	a := &Assets{}
	if a.Table, err = ParseTable(bytes.NewReader(data[0])); err != nil {
		return nil, fmt.Errorf("%w: table %s: %w", ErrLoad, spec.Table, err)
	}
	if a.Features, err = DecodeFeatures(data[1], spec.GeometryObject); err != nil {
		return nil, fmt.Errorf("%w: geometry %s: %w", ErrLoad, spec.Geometry, err)
	}
	if spec.Context != nil {
		if a.Context, err = DecodeFeatures(data[2], spec.ContextObject); err != nil {
			return nil, fmt.Errorf("%w: context %s: %w", ErrLoad, spec.Context, err)
		}
	}
	return a, nil
}
