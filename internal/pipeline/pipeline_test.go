package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetslicer/internal/bridge"
	"assetslicer/internal/domain"
	"assetslicer/internal/render"
	"assetslicer/internal/scene"
	"assetslicer/internal/slicing"
)

type fakeRequester struct {
	calls atomic.Int32
	fn    func(asset domain.AssetDescriptor, strategy slicing.Strategy) ([]domain.Tile, error)
}

func (f *fakeRequester) RequestTiles(_ context.Context, asset domain.AssetDescriptor, strategy slicing.Strategy) ([]domain.Tile, error) {
	f.calls.Add(1)
	return f.fn(asset, strategy)
}

// gridTiles fabricates the tiles a renderer would return, minus any cell
// listed in skip.
func gridTiles(asset domain.AssetDescriptor, strategy slicing.Strategy, skip ...[2]int) []domain.Tile {
	var out []domain.Tile
cells:
	for _, c := range strategy.Cells(asset.Width, asset.Height) {
		for _, s := range skip {
			if s == [2]int{c.Row, c.Col} {
				continue cells
			}
		}
		out = append(out, domain.Tile{
			Bytes:  []byte(fmt.Sprintf("%s-%d-%d", asset.Name, c.Row, c.Col)),
			Width:  c.Width,
			Height: c.Height,
			X:      c.X,
			Y:      c.Y,
			Row:    c.Row,
			Col:    c.Col,
			Name:   domain.TileName(asset.Name, c.Row, c.Col),
		})
	}
	return out
}

func asset(name string, w, h int) domain.AssetDescriptor {
	return domain.AssetDescriptor{Bytes: []byte("raw-" + name), Width: w, Height: h, Name: name, MIMEType: "image/png"}
}

type failingGroupHost struct {
	*scene.Tree
}

func (f failingGroupHost) Group(context.Context, string, []string) (string, error) {
	return "", errors.New("group refused")
}

func TestPlaceFittingAssetSkipsBridge(t *testing.T) {
	tree := scene.NewTree("Page", nil)
	req := &fakeRequester{fn: func(domain.AssetDescriptor, slicing.Strategy) ([]domain.Tile, error) {
		t.Fatal("bridge must not be called")
		return nil, nil
	}}
	p := New(tree, req, Options{})

	res := p.Place(context.Background(), Request{Asset: asset("logo", 3000, 3000), Parent: tree.Root(), X: 5, Y: 7})
	assert.False(t, res.Degraded)
	assert.Equal(t, OutcomeImage, res.Outcome)
	require.NotNil(t, res.Strategy)
	assert.Equal(t, slicing.DirectionNone, res.Strategy.Direction)
	assert.Equal(t, int32(0), req.calls.Load())

	node, ok := tree.Get(res.Node.ID)
	require.True(t, ok)
	assert.Equal(t, tree.Root(), node.Parent)
	assert.Equal(t, [4]int{5, 7, 3000, 3000}, [4]int{node.X, node.Y, node.Width, node.Height})
	assert.Equal(t, 1, tree.Count())
}

func TestPlaceAssemblesComposite(t *testing.T) {
	tree := scene.NewTree("Page", nil)
	req := &fakeRequester{fn: func(a domain.AssetDescriptor, s slicing.Strategy) ([]domain.Tile, error) {
		return gridTiles(a, s), nil
	}}
	p := New(tree, req, Options{})

	res := p.Place(context.Background(), Request{Asset: asset("mural", 8200, 8200), Parent: tree.Root(), X: 10, Y: 20})
	assert.False(t, res.Degraded)
	assert.Equal(t, OutcomeComposite, res.Outcome)
	assert.Equal(t, 9, res.Tiles)
	assert.Equal(t, int32(1), req.calls.Load())
	assert.Equal(t, 8200, res.Node.Width)

	group, ok := tree.Get(res.Node.ID)
	require.True(t, ok)
	assert.Equal(t, "mural", group.Name)
	assert.Equal(t, [2]int{10, 20}, [2]int{group.X, group.Y})
	assert.Len(t, group.Children, 9)
}

func TestPlaceToleratesMissingTile(t *testing.T) {
	tree := scene.NewTree("Page", nil)
	req := &fakeRequester{fn: func(a domain.AssetDescriptor, s slicing.Strategy) ([]domain.Tile, error) {
		return gridTiles(a, s, [2]int{1, 1}), nil
	}}
	p := New(tree, req, Options{})

	res := p.Place(context.Background(), Request{Asset: asset("mural", 8200, 8200), Parent: tree.Root()})
	assert.Equal(t, OutcomeComposite, res.Outcome)
	assert.Equal(t, 8, res.Tiles)

	group, _ := tree.Get(res.Node.ID)
	require.Len(t, group.Children, 8)
	for i, id := range group.Children {
		n, _ := tree.Get(id)
		want := i
		if i >= 4 {
			want = i + 1
		}
		assert.Equal(t, domain.TileName("mural", want/3, want%3), n.Name)
	}
}

func TestPlaceKeepsOriginWhenFirstTileMissing(t *testing.T) {
	tree := scene.NewTree("Page", nil)
	req := &fakeRequester{fn: func(a domain.AssetDescriptor, s slicing.Strategy) ([]domain.Tile, error) {
		return gridTiles(a, s, [2]int{0, 0}), nil
	}}
	p := New(tree, req, Options{})

	res := p.Place(context.Background(), Request{Asset: asset("mural", 5000, 3000), Parent: tree.Root(), X: 100})
	assert.Equal(t, OutcomeComposite, res.Outcome)
	assert.Equal(t, 1, res.Tiles)
	assert.Equal(t, 5000, res.Node.Width)
	assert.Equal(t, 3000, res.Node.Height)

	group, _ := tree.Get(res.Node.ID)
	require.Len(t, group.Children, 1)
	tile, _ := tree.Get(group.Children[0])
	assert.Equal(t, domain.TileName("mural", 0, 1), tile.Name)
	assert.Equal(t, 100+3686, tile.X)
}

type panickingGroupHost struct {
	*scene.Tree
}

func (panickingGroupHost) Group(context.Context, string, []string) (string, error) {
	panic("host crashed while grouping")
}

func TestPlaceRollsBackWhenGroupingPanics(t *testing.T) {
	tree := scene.NewTree("Page", nil)
	req := &fakeRequester{fn: func(a domain.AssetDescriptor, s slicing.Strategy) ([]domain.Tile, error) {
		return gridTiles(a, s), nil
	}}
	p := New(panickingGroupHost{tree}, req, Options{})

	res := p.Place(context.Background(), Request{Asset: asset("mural", 5000, 3000), Parent: tree.Root()})
	assert.True(t, res.Degraded)
	assert.Equal(t, "could not assemble tiles", res.Reason)
	assert.Equal(t, 2, tree.Count())
}

func TestPlaceRollsBackAndDegradesWhenGroupingFails(t *testing.T) {
	tree := scene.NewTree("Page", nil)
	req := &fakeRequester{fn: func(a domain.AssetDescriptor, s slicing.Strategy) ([]domain.Tile, error) {
		return gridTiles(a, s), nil
	}}
	p := New(failingGroupHost{tree}, req, Options{})

	res := p.Place(context.Background(), Request{Asset: asset("mural", 5000, 3000), Parent: tree.Root()})
	assert.True(t, res.Degraded)
	assert.Equal(t, "could not assemble tiles", res.Reason)
	// Only the placeholder frame and its label remain.
	assert.Equal(t, 2, tree.Count())
	page, _ := tree.Get(tree.Root())
	assert.Equal(t, []string{res.Node.ID}, page.Children)
}

func TestPlaceGuards(t *testing.T) {
	tests := []struct {
		name   string
		opts   Options
		asset  domain.AssetDescriptor
		reason string
		label  string
	}{
		{"too many tiles", Options{MaxTiles: 4}, asset("mural", 8200, 8200), "too many tiles", "Too Large"},
		{"slicing disabled", Options{SlicingDisabled: true}, asset("mural", 5000, 3000), "image too large", "Too Large"},
		{"invalid dimensions", Options{}, asset("broken", 0, 3000), "invalid dimensions", "Processing Error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tree := scene.NewTree("Page", nil)
			req := &fakeRequester{fn: func(domain.AssetDescriptor, slicing.Strategy) ([]domain.Tile, error) {
				return nil, errors.New("unexpected call")
			}}
			res := New(tree, req, tc.opts).Place(context.Background(), Request{Asset: tc.asset, Parent: tree.Root()})
			assert.True(t, res.Degraded)
			assert.Equal(t, OutcomePlaceholder, res.Outcome)
			assert.Equal(t, tc.reason, res.Reason)
			assert.Equal(t, int32(0), req.calls.Load())
			require.NotEmpty(t, res.Node.ID)

			frame, _ := tree.Get(res.Node.ID)
			require.Len(t, frame.Children, 1)
			text, _ := tree.Get(frame.Children[0])
			assert.Contains(t, text.Text, tc.label)
		})
	}
}

func TestPlaceRecoversPanic(t *testing.T) {
	tree := scene.NewTree("Page", nil)
	req := &fakeRequester{fn: func(domain.AssetDescriptor, slicing.Strategy) ([]domain.Tile, error) {
		panic("renderer exploded")
	}}
	res := New(tree, req, Options{}).Place(context.Background(), Request{Asset: asset("mural", 5000, 3000), Parent: tree.Root()})
	assert.True(t, res.Degraded)
	assert.Equal(t, "processing error", res.Reason)
	assert.Equal(t, 2, tree.Count())
}

func TestPlaceTimeoutProducesOnePlaceholder(t *testing.T) {
	pipe := bridge.NewPipe(4)
	t.Cleanup(pipe.Close)
	b, err := bridge.New(pipe.Host, bridge.Options{Timeout: 30 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(b.Close)

	tree := scene.NewTree("Page", nil)
	res := New(tree, b, Options{}).Place(context.Background(), Request{Asset: asset("mural", 5000, 3000), Parent: tree.Root()})
	assert.True(t, res.Degraded)
	assert.Equal(t, "processing timed out", res.Reason)
	assert.Equal(t, 0, b.Pending())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, tree.Count())
	page, _ := tree.Get(tree.Root())
	assert.Len(t, page.Children, 1)
}

func gradientPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 5), G: uint8(y * 7), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPlaceEndToEndThroughWorker(t *testing.T) {
	pipe := bridge.NewPipe(8)
	t.Cleanup(pipe.Close)

	ctx, cancel := context.WithCancel(context.Background())
	worker := render.NewWorker(pipe.Renderer, render.NewRenderer(render.Options{Concurrency: 3}), render.WorkerOptions{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = worker.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	b, err := bridge.New(pipe.Host, bridge.Options{Timeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(b.Close)

	reg := prometheus.NewRegistry()
	tree := scene.NewTree("Page", nil)
	p := New(tree, b, Options{MaxDimension: 20, Metrics: NewMetrics(reg)})

	a := domain.AssetDescriptor{Bytes: gradientPNG(t, 50, 30), Width: 50, Height: 30, Name: "banner", MIMEType: "image/png"}
	res := p.Place(context.Background(), Request{Asset: a, Parent: tree.Root()})
	require.False(t, res.Degraded, res.Reason)
	assert.Equal(t, OutcomeComposite, res.Outcome)
	require.NotNil(t, res.Strategy)
	assert.Equal(t, slicing.DirectionBoth, res.Strategy.Direction)
	assert.Equal(t, 6, res.Tiles)
	assert.Equal(t, 50, res.Node.Width)
	assert.Equal(t, 30, res.Node.Height)

	families, err := reg.Gather()
	require.NoError(t, err)
	var placements float64
	for _, mf := range families {
		if mf.GetName() != "assetslicer_placements_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			placements += m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(1), placements)
}
