package domain

import (
	"fmt"
	"strings"
)

// HardDimensionLimit is the largest width or height the host accepts for a
// single image-filled node.
const HardDimensionLimit = 4096

// AssetDescriptor is the immutable input to the slicing pipeline. Name is the
// asset's identity within the host scene.
type AssetDescriptor struct {
	Bytes    []byte
	Width    int
	Height   int
	Name     string
	MIMEType string
}

// Oversized reports whether either axis exceeds maxDim.
func (a AssetDescriptor) Oversized(maxDim int) bool {
	return a.Width > maxDim || a.Height > maxDim
}

// Validate rejects descriptors that cannot be planned.
func (a AssetDescriptor) Validate() error {
	if a.Width <= 0 || a.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d must be positive", ErrPlanning, a.Width, a.Height)
	}
	if len(a.Bytes) == 0 {
		return fmt.Errorf("%w: asset %q has no bytes", ErrPlanning, a.Name)
	}
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: asset name is required", ErrPlanning)
	}
	return nil
}

// Tile is one size-legal fragment of an oversized image. X and Y are offsets
// within the original image and double as the tile node's local position.
type Tile struct {
	Bytes  []byte
	Width  int
	Height int
	X      int
	Y      int
	Row    int
	Col    int
	Name   string
}

// TileName builds the node name used for the tile at (row, col).
func TileName(assetName string, row, col int) string {
	return fmt.Sprintf("%s [r%d c%d]", assetName, row, col)
}
