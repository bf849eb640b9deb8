package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetslicer/internal/domain"
	"assetslicer/internal/middleware"
	"assetslicer/internal/pipeline"
	"assetslicer/internal/scene"
	"assetslicer/internal/slicing"
)

type stubRows struct {
	data [][]any
	idx  int
	err  error
}

func (r *stubRows) Close()                                       {}
func (r *stubRows) Err() error                                   { return r.err }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) Values() ([]any, error) {
	return nil, errors.New("values not supported in test rows")
}
func (r *stubRows) RawValues() [][]byte { return nil }
func (r *stubRows) Conn() *pgx.Conn     { return nil }

func (r *stubRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *stubRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	if len(row) != len(dest) {
		return fmt.Errorf("row has %d values, scanning into %d", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case **string:
			s := v.(string)
			*d = &s
		case *string:
			*d = v.(string)
		case *int:
			*d = v.(int)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("unsupported scan target %T", d)
		}
	}
	return nil
}

type stubSQL struct {
	mu      sync.Mutex
	execs   [][]any
	rows    [][]any
	rowsErr error
}

func (s *stubSQL) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !strings.Contains(query, "insert into placements") {
		return pgconn.CommandTag{}, fmt.Errorf("unsupported exec: %s", query)
	}
	s.execs = append(s.execs, args)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (s *stubSQL) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func (s *stubSQL) Query(_ context.Context, query string, _ ...any) (pgx.Rows, error) {
	if !strings.Contains(query, "from placements") {
		return nil, fmt.Errorf("unsupported query: %s", query)
	}
	return &stubRows{data: s.rows, err: s.rowsErr}, nil
}

type stubAssets struct {
	assets map[string]domain.AssetDescriptor
}

func (s stubAssets) Load(_ context.Context, id string) (domain.AssetDescriptor, error) {
	a, ok := s.assets[id]
	if !ok {
		return domain.AssetDescriptor{}, domain.ErrNotFound
	}
	return a, nil
}

func (s stubAssets) Register(context.Context, string, domain.AssetDescriptor) (string, error) {
	return "", errors.New("read-only")
}

type tilesFromPlan struct{}

func (tilesFromPlan) RequestTiles(_ context.Context, a domain.AssetDescriptor, s slicing.Strategy) ([]domain.Tile, error) {
	var out []domain.Tile
	for _, c := range s.Cells(a.Width, a.Height) {
		out = append(out, domain.Tile{
			Bytes: []byte{byte(c.Row), byte(c.Col)}, Width: c.Width, Height: c.Height,
			X: c.X, Y: c.Y, Row: c.Row, Col: c.Col, Name: domain.TileName(a.Name, c.Row, c.Col),
		})
	}
	return out, nil
}

func newTestApp(sql *stubSQL, assets AssetStore) *App {
	tree := scene.NewTree("Page", nil)
	app := &App{
		Logger:   zerolog.Nop(),
		Pipeline: pipeline.New(tree, tilesFromPlan{}, pipeline.Options{}),
		Scene:    tree,
		Assets:   assets,
	}
	if sql != nil {
		app.SQL = sql
	}
	return app
}

func formRequest(values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/placements", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestCreatePlacementFromStoredAsset(t *testing.T) {
	const id = "0b8e4a3c-1f2d-4e5a-8b6c-7d8e9f0a1b2c"
	sql := &stubSQL{}
	app := newTestApp(sql, stubAssets{assets: map[string]domain.AssetDescriptor{
		id: {Bytes: []byte("raw"), Width: 8200, Height: 8200, Name: "mural", MIMEType: "image/png"},
	}})

	const rid = "6f1c2d3e-4a5b-4c6d-8e7f-9a0b1c2d3e4f"
	req := formRequest(url.Values{"asset_id": {id}, "x": {"100"}})
	req = req.WithContext(middleware.WithRequestID(req.Context(), rid))
	rec := httptest.NewRecorder()
	app.CreatePlacement(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out struct {
		AssetID string          `json:"asset_id"`
		Result  pipeline.Result `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, id, out.AssetID)
	assert.Equal(t, pipeline.OutcomeComposite, out.Result.Outcome)
	assert.Equal(t, 9, out.Result.Tiles)

	require.Len(t, sql.execs, 1)
	args := sql.execs[0]
	assert.Equal(t, rid, args[0])
	assert.Equal(t, "mural", args[1])
	assert.Equal(t, "composite", args[2])
	assert.Equal(t, "both", args[4])
	assert.Equal(t, 9, args[5])
	assert.Equal(t, out.Result.Node.ID, args[6])
}

func TestCreatePlacementUnknownAsset(t *testing.T) {
	app := newTestApp(nil, stubAssets{})
	rec := httptest.NewRecorder()
	app.CreatePlacement(rec, formRequest(url.Values{"asset_id": {"0b8e4a3c-1f2d-4e5a-8b6c-7d8e9f0a1b2c"}}))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreatePlacementRequiresFile(t *testing.T) {
	app := newTestApp(nil, nil)
	rec := httptest.NewRecorder()
	app.CreatePlacement(rec, formRequest(url.Values{"x": {"1"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListPlacements(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sql := &stubSQL{rows: [][]any{
		{"6f1c2d3e-4a5b-4c6d-8e7f-9a0b1c2d3e4f", "mural", "placeholder", "processing timed out", "both", 0, "1:4", created},
	}}
	app := newTestApp(sql, nil)

	rec := httptest.NewRecorder()
	app.ListPlacements(rec, httptest.NewRequest(http.MethodGet, "/v1/placements?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Items []map[string]any `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Items, 1)
	assert.Equal(t, "processing timed out", out.Items[0]["reason"])
	assert.Equal(t, "6f1c2d3e-4a5b-4c6d-8e7f-9a0b1c2d3e4f", out.Items[0]["request_id"])

	rec = httptest.NewRecorder()
	newTestApp(nil, nil).ListPlacements(rec, httptest.NewRequest(http.MethodGet, "/v1/placements", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestListPlacementsSkipsUnreadableRow(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sql := &stubSQL{rows: [][]any{
		{"6f1c2d3e-4a5b-4c6d-8e7f-9a0b1c2d3e4f", "mural", "composite", "", "both", 9, "1:9", created},
		{"6f1c2d3e-4a5b-4c6d-8e7f-9a0b1c2d3e50", "poster", "composite", "", "vertical", 2, "1:12", created, "extra"},
	}}

	rec := httptest.NewRecorder()
	newTestApp(sql, nil).ListPlacements(rec, httptest.NewRequest(http.MethodGet, "/v1/placements", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Items []map[string]any `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Items, 1)
	assert.Equal(t, "mural", out.Items[0]["asset_name"])
}

func TestListPlacementsFailsWhenIterationBreaks(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sql := &stubSQL{
		rows: [][]any{
			{"6f1c2d3e-4a5b-4c6d-8e7f-9a0b1c2d3e4f", "mural", "composite", "", "both", 9, "1:9", created},
		},
		rowsErr: errors.New("conn reset while reading rows"),
	}

	rec := httptest.NewRecorder()
	newTestApp(sql, nil).ListPlacements(rec, httptest.NewRequest(http.MethodGet, "/v1/placements", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "mural")
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".png", extensionFor("image/png"))
	assert.Equal(t, ".jpg", extensionFor("image/jpeg"))
	assert.Equal(t, ".bin", extensionFor("image/svg+xml"))
	assert.Equal(t, ".bin", extensionFor("text/plain"))
}

type memUploads struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (m *memUploads) Write(_ context.Context, key string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[key] = data
	return key, nil
}

func (m *memUploads) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, key)
	return nil
}

func TestCreatePlacementDropsUploadWhenRegisterFails(t *testing.T) {
	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, image.NewGray(image.Rect(0, 0, 8, 6))))
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "badge.png")
	require.NoError(t, err)
	_, err = fw.Write(img.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	uploads := &memUploads{files: map[string][]byte{}}
	app := newTestApp(nil, stubAssets{})
	app.Uploads = uploads

	req := httptest.NewRequest(http.MethodPost, "/v1/placements", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	app.CreatePlacement(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out struct {
		AssetID string          `json:"asset_id"`
		Result  pipeline.Result `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Empty(t, out.AssetID)
	assert.Equal(t, pipeline.OutcomeImage, out.Result.Outcome)
	assert.Empty(t, uploads.files)
}
