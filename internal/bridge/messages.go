package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"assetslicer/internal/domain"
	"assetslicer/internal/slicing"
)

// Message types carried across the context boundary.
const (
	TypeSliceRequest  = "slice-request"
	TypeSliceResponse = "slice-response"
)

// Error kinds a renderer may attach to a failed slice-response.
const (
	ErrorKindDecode  = "decode"
	ErrorKindEncode  = "encode"
	ErrorKindInvalid = "invalid"
)

// ByteArray marshals as a plain JSON array of numbers, since the two contexts
// share no references. Unmarshal also accepts a base64 string.
type ByteArray []byte

func (b ByteArray) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("[]"), nil
	}
	var buf bytes.Buffer
	buf.Grow(len(b)*4 + 2)
	buf.WriteByte('[')
	for i, v := range b {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Itoa(int(v)))
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func (b *ByteArray) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*b = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var raw []byte
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("bridge: decode base64 bytes: %w", err)
		}
		*b = raw
		return nil
	}
	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return fmt.Errorf("bridge: decode byte array: %w", err)
	}
	out := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return fmt.Errorf("bridge: byte %d out of range at index %d", n, i)
		}
		out[i] = byte(n)
	}
	*b = out
	return nil
}

// ImageData is the source asset as it travels to the renderer.
type ImageData struct {
	Bytes  ByteArray `json:"bytes"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Name   string    `json:"name"`
	Type   string    `json:"type"`
}

// SliceRequest asks the rendering context to cut ImageData per SliceStrategy.
type SliceRequest struct {
	Type          string           `json:"type"`
	RequestID     string           `json:"requestId,omitempty"`
	ImageData     ImageData        `json:"imageData"`
	SliceWidth    int              `json:"sliceWidth"`
	SliceHeight   int              `json:"sliceHeight"`
	SliceStrategy slicing.Strategy `json:"sliceStrategy"`
}

// SliceData is one encoded tile on the wire.
type SliceData struct {
	Bytes  ByteArray `json:"bytes"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
	X      int       `json:"x"`
	Y      int       `json:"y"`
	Row    int       `json:"row"`
	Col    int       `json:"col"`
	Name   string    `json:"name"`
}

// SliceResponse carries the renderer's outcome back to the host.
type SliceResponse struct {
	Type           string      `json:"type"`
	RequestID      string      `json:"requestId,omitempty"`
	Success        bool        `json:"success"`
	ImageName      string      `json:"imageName"`
	Slices         []SliceData `json:"slices,omitempty"`
	OriginalWidth  int         `json:"originalWidth,omitempty"`
	OriginalHeight int         `json:"originalHeight,omitempty"`
	Error          string      `json:"error,omitempty"`
	ErrorKind      string      `json:"errorKind,omitempty"`
}

type envelope struct {
	Type string `json:"type"`
}

// MessageType peeks at the type tag of a raw message.
func MessageType(data []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("bridge: decode envelope: %w", err)
	}
	return env.Type, nil
}

// NewSliceRequest builds the outbound request for asset under strategy.
func NewSliceRequest(requestID string, asset domain.AssetDescriptor, strategy slicing.Strategy) SliceRequest {
	return SliceRequest{
		Type:      TypeSliceRequest,
		RequestID: requestID,
		ImageData: ImageData{
			Bytes:  ByteArray(asset.Bytes),
			Width:  asset.Width,
			Height: asset.Height,
			Name:   asset.Name,
			Type:   asset.MIMEType,
		},
		SliceWidth:    strategy.TileWidth,
		SliceHeight:   strategy.TileHeight,
		SliceStrategy: strategy,
	}
}

// TilesToSlices converts rendered tiles to their wire form.
func TilesToSlices(tiles []domain.Tile) []SliceData {
	out := make([]SliceData, len(tiles))
	for i, t := range tiles {
		out[i] = SliceData{
			Bytes:  ByteArray(t.Bytes),
			Width:  t.Width,
			Height: t.Height,
			X:      t.X,
			Y:      t.Y,
			Row:    t.Row,
			Col:    t.Col,
			Name:   t.Name,
		}
	}
	return out
}

// Tiles converts the response slices back into domain tiles.
func (r SliceResponse) Tiles() []domain.Tile {
	out := make([]domain.Tile, len(r.Slices))
	for i, s := range r.Slices {
		out[i] = domain.Tile{
			Bytes:  []byte(s.Bytes),
			Width:  s.Width,
			Height: s.Height,
			X:      s.X,
			Y:      s.Y,
			Row:    s.Row,
			Col:    s.Col,
			Name:   s.Name,
		}
	}
	return out
}
