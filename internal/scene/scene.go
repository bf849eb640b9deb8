// Package scene models the host's design tree and the small set of mutation
// primitives the slicing pipeline is allowed to use.
package scene

import (
	"context"
	"errors"
)

var (
	ErrNodeNotFound = errors.New("scene: node not found")
	ErrNotContainer = errors.New("scene: node cannot have children")
	ErrNotSiblings  = errors.New("scene: nodes do not share a parent")
	ErrEmptyGroup   = errors.New("scene: group needs at least one node")
	ErrInvalidSize  = errors.New("scene: invalid size")
)

// NodeKind identifies what a node is.
type NodeKind string

const (
	KindPage      NodeKind = "page"
	KindFrame     NodeKind = "frame"
	KindGroup     NodeKind = "group"
	KindRectangle NodeKind = "rectangle"
	KindText      NodeKind = "text"
)

// Paint is a single fill.
type Paint struct {
	Type      string  `json:"type"`
	Color     string  `json:"color,omitempty"`
	Opacity   float64 `json:"opacity,omitempty"`
	ImageHash string  `json:"imageHash,omitempty"`
	ScaleMode string  `json:"scaleMode,omitempty"`
}

// SolidPaint fills with a hex color.
func SolidPaint(hex string, opacity float64) Paint {
	return Paint{Type: "solid", Color: hex, Opacity: opacity}
}

// ImagePaint fills with a previously created image, stretched to the node.
func ImagePaint(hash string) Paint {
	return Paint{Type: "image", ImageHash: hash, ScaleMode: "fill"}
}

// RectSpec describes a rectangle to create.
type RectSpec struct {
	Name   string
	X      int
	Y      int
	Width  int
	Height int
	Fill   Paint
	Stroke string
}

// TextSpec describes a text node to create.
type TextSpec struct {
	Name     string
	Text     string
	X        int
	Y        int
	Width    int
	FontSize int
	Color    string
}

// Host is the scene mutation API. Created nodes start detached; they enter
// the visible tree through Append.
type Host interface {
	CreateImage(ctx context.Context, data []byte) (string, error)
	CreateRectangle(ctx context.Context, spec RectSpec) (string, error)
	CreateText(ctx context.Context, spec TextSpec) (string, error)
	CreateFrame(ctx context.Context, spec RectSpec) (string, error)
	Append(ctx context.Context, parentID string, childIDs ...string) error
	Group(ctx context.Context, parentID string, childIDs []string) (string, error)
	Remove(ctx context.Context, id string) error
	Rename(ctx context.Context, id, name string) error
	Move(ctx context.Context, id string, x, y int) error
}

// NodeRef is a lightweight handle returned to callers.
type NodeRef struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Kind   NodeKind `json:"kind"`
	Width  int      `json:"width"`
	Height int      `json:"height"`
}
