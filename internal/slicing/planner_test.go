package slicing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetslicer/internal/domain"
)

func TestPlanScenarios(t *testing.T) {
	tests := []struct {
		name       string
		width      int
		height     int
		direction  Direction
		tileWidth  int
		tileHeight int
		cols       int
		rows       int
	}{
		{name: "fits", width: 3000, height: 3000, direction: DirectionNone, tileWidth: 3000, tileHeight: 3000, cols: 1, rows: 1},
		{name: "exactly at limit", width: 4096, height: 4096, direction: DirectionNone, tileWidth: 4096, tileHeight: 4096, cols: 1, rows: 1},
		{name: "wide", width: 5000, height: 3000, direction: DirectionVertical, tileWidth: 3686, tileHeight: 3000, cols: 2, rows: 1},
		{name: "tall", width: 1200, height: 9000, direction: DirectionHorizontal, tileWidth: 1200, tileHeight: 3686, cols: 1, rows: 3},
		{name: "both", width: 8200, height: 8200, direction: DirectionBoth, tileWidth: 3686, tileHeight: 3686, cols: 3, rows: 3},
		{name: "one pixel over", width: 4097, height: 10, direction: DirectionVertical, tileWidth: 3686, tileHeight: 10, cols: 2, rows: 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, err := Plan(tc.width, tc.height, domain.HardDimensionLimit)
			require.NoError(t, err)
			assert.Equal(t, tc.direction, s.Direction)
			assert.Equal(t, tc.tileWidth, s.TileWidth)
			assert.Equal(t, tc.tileHeight, s.TileHeight)
			assert.Equal(t, tc.cols, s.Cols)
			assert.Equal(t, tc.rows, s.Rows)
			assert.Equal(t, tc.cols*tc.rows, s.TotalTiles)
			assert.NotEmpty(t, s.Description)
			assert.NoError(t, s.Validate())
		})
	}
}

func TestPlanWideTileSizes(t *testing.T) {
	s, err := Plan(5000, 3000, 4096)
	require.NoError(t, err)

	cells := s.Cells(5000, 3000)
	require.Len(t, cells, 2)
	assert.Equal(t, 3686, cells[0].Width)
	assert.Equal(t, 1314, cells[1].Width)
	assert.Equal(t, 3686, cells[1].X)
	for _, c := range cells {
		assert.Equal(t, 3000, c.Height)
	}
}

func TestPlanGridEdgeTiles(t *testing.T) {
	s, err := Plan(8200, 8200, 4096)
	require.NoError(t, err)
	require.Equal(t, 9, s.TotalTiles)

	cells := s.Cells(8200, 8200)
	require.Len(t, cells, 9)
	last := cells[8]
	assert.Equal(t, 2, last.Row)
	assert.Equal(t, 2, last.Col)
	assert.Equal(t, 828, last.Width)
	assert.Equal(t, 828, last.Height)

	for _, c := range cells {
		wantW, wantH := 3686, 3686
		if c.Col == 2 {
			wantW = 828
		}
		if c.Row == 2 {
			wantH = 828
		}
		assert.Equal(t, wantW, c.Width, "cell r%d c%d width", c.Row, c.Col)
		assert.Equal(t, wantH, c.Height, "cell r%d c%d height", c.Row, c.Col)
	}
}

func TestPlanRejectsNonPositive(t *testing.T) {
	for _, dims := range [][3]int{{0, 10, 4096}, {10, -1, 4096}, {10, 10, 0}} {
		_, err := Plan(dims[0], dims[1], dims[2])
		assert.ErrorIs(t, err, domain.ErrPlanning, "dims %v", dims)
	}
}

func TestPlanInvariantsAndPartition(t *testing.T) {
	maxDims := []int{2, 7, 10, 64, 100}
	for _, maxDim := range maxDims {
		for width := 1; width <= 230; width += 13 {
			for height := 1; height <= 230; height += 17 {
				s, err := Plan(width, height, maxDim)
				require.NoError(t, err)
				require.Equal(t, s.TotalTiles, s.Cols*s.Rows)
				require.Equal(t, s.Direction == DirectionNone, s.TotalTiles == 1,
					"w=%d h=%d max=%d dir=%s", width, height, maxDim, s.Direction)
				require.NoError(t, s.ValidateFor(width, height))
				assertPartition(t, s, width, height, maxDim)
			}
		}
	}
}

func TestValidateForRejectsPlansThatDoNotCoverImage(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		s             Strategy
	}{
		{"too few columns", 40, 10, Strategy{Direction: DirectionVertical, TileWidth: 10, TileHeight: 10, Cols: 2, Rows: 1, TotalTiles: 2}},
		{"columns past the edge", 40, 10, Strategy{Direction: DirectionVertical, TileWidth: 10, TileHeight: 10, Cols: 6, Rows: 1, TotalTiles: 6}},
		{"too few rows", 10, 40, Strategy{Direction: DirectionHorizontal, TileWidth: 10, TileHeight: 10, Cols: 1, Rows: 3, TotalTiles: 3}},
		{"tile wider than image", 40, 10, Strategy{Direction: DirectionNone, TileWidth: 50, TileHeight: 10, Cols: 1, Rows: 1, TotalTiles: 1}},
		{"vertical with rows", 40, 20, Strategy{Direction: DirectionVertical, TileWidth: 20, TileHeight: 10, Cols: 2, Rows: 2, TotalTiles: 4}},
		{"unknown direction", 40, 10, Strategy{Direction: "diagonal", TileWidth: 20, TileHeight: 10, Cols: 2, Rows: 1, TotalTiles: 2}},
		{"non-positive image", 0, 10, Strategy{Direction: DirectionNone, TileWidth: 10, TileHeight: 10, Cols: 1, Rows: 1, TotalTiles: 1}},
		{"inconsistent total", 40, 10, Strategy{Direction: DirectionVertical, TileWidth: 10, TileHeight: 10, Cols: 4, Rows: 1, TotalTiles: 3}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.s.ValidateFor(tc.width, tc.height), domain.ErrPlanning)
		})
	}

	ok := Strategy{Direction: DirectionVertical, TileWidth: 10, TileHeight: 10, Cols: 4, Rows: 1, TotalTiles: 4}
	assert.NoError(t, ok.ValidateFor(40, 10))
	assert.NoError(t, ok.ValidateFor(31, 10))
}

func assertPartition(t *testing.T, s Strategy, width, height, maxDim int) {
	t.Helper()
	covered := make([]int, width*height)
	for _, c := range s.Cells(width, height) {
		if c.Width <= 0 || c.Height <= 0 || c.Width > maxDim || c.Height > maxDim {
			t.Fatalf("cell r%d c%d has illegal size %dx%d (max=%d)", c.Row, c.Col, c.Width, c.Height, maxDim)
		}
		for y := c.Y; y < c.Y+c.Height; y++ {
			for x := c.X; x < c.X+c.Width; x++ {
				covered[y*width+x]++
			}
		}
	}
	for i, n := range covered {
		if n != 1 {
			t.Fatalf("pixel (%d,%d) covered %d times for %dx%d max=%d", i%width, i/width, n, width, height, maxDim)
		}
	}
}

func TestSafeTileSize(t *testing.T) {
	assert.Equal(t, 3686, SafeTileSize(4096))
	assert.Equal(t, 9, SafeTileSize(10))
	assert.Equal(t, 1, SafeTileSize(1))
}
