package scene

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
)

// ImageStore persists image fill bytes. storage.FileStore satisfies it.
type ImageStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// Node is a node of the in-memory tree. Coordinates are relative to the
// nearest page or frame ancestor; groups do not introduce a coordinate space.
type Node struct {
	ID       string   `json:"id"`
	Kind     NodeKind `json:"kind"`
	Name     string   `json:"name"`
	X        int      `json:"x"`
	Y        int      `json:"y"`
	Width    int      `json:"width"`
	Height   int      `json:"height"`
	Fills    []Paint  `json:"fills,omitempty"`
	Stroke   string   `json:"stroke,omitempty"`
	Text     string   `json:"text,omitempty"`
	FontSize int      `json:"fontSize,omitempty"`
	Parent   string   `json:"-"`
	Children []string `json:"-"`
}

// View is a node with its children expanded, for serialization.
type View struct {
	Node
	Children []View `json:"children,omitempty"`
}

// Tree is an in-memory Host. It is safe for concurrent use.
type Tree struct {
	mu     sync.Mutex
	nodes  map[string]*Node
	images map[string]string
	root   string
	seq    int
	store  ImageStore
}

// NewTree creates a tree holding a single page. When store is nil image
// bytes are only fingerprinted, not persisted.
func NewTree(pageName string, store ImageStore) *Tree {
	if strings.TrimSpace(pageName) == "" {
		pageName = "Page 1"
	}
	t := &Tree{
		nodes:  make(map[string]*Node),
		images: make(map[string]string),
		store:  store,
	}
	page := &Node{ID: "0:1", Kind: KindPage, Name: pageName}
	t.nodes[page.ID] = page
	t.root = page.ID
	return t
}

// Root returns the page id.
func (t *Tree) Root() string {
	return t.root
}

// Count returns the number of nodes in the tree, attached or not, excluding
// the page.
func (t *Tree) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes) - 1
}

// Get returns a copy of a node.
func (t *Tree) Get(id string) (Node, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return Node{}, false
	}
	cp := *n
	cp.Children = slices.Clone(n.Children)
	cp.Fills = slices.Clone(n.Fills)
	return cp, true
}

// ImageKey returns the storage key for an image hash.
func (t *Tree) ImageKey(hash string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key, ok := t.images[hash]
	return key, ok
}

// Snapshot renders the attached tree below the page.
func (t *Tree) Snapshot() View {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view(t.root)
}

func (t *Tree) view(id string) View {
	n := t.nodes[id]
	v := View{Node: *n}
	for _, c := range n.Children {
		v.Children = append(v.Children, t.view(c))
	}
	return v
}

// CreateImage fingerprints data and persists it; the returned hash is used
// by ImagePaint.
func (t *Tree) CreateImage(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("scene: empty image")
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	t.mu.Lock()
	_, known := t.images[hash]
	t.mu.Unlock()
	if known {
		return hash, nil
	}

	key := "images/" + hash + extensionFor(data)
	if t.store != nil {
		saved, err := t.store.Write(ctx, key, data)
		if err != nil {
			return "", fmt.Errorf("scene: store image: %w", err)
		}
		key = saved
	}
	t.mu.Lock()
	t.images[hash] = key
	t.mu.Unlock()
	return hash, nil
}

func (t *Tree) CreateRectangle(ctx context.Context, spec RectSpec) (string, error) {
	return t.createBox(ctx, KindRectangle, spec)
}

func (t *Tree) CreateFrame(ctx context.Context, spec RectSpec) (string, error) {
	return t.createBox(ctx, KindFrame, spec)
}

func (t *Tree) createBox(ctx context.Context, kind NodeKind, spec RectSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if spec.Width <= 0 || spec.Height <= 0 {
		return "", fmt.Errorf("%w: %dx%d", ErrInvalidSize, spec.Width, spec.Height)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if spec.Fill.Type == "image" {
		if _, ok := t.images[spec.Fill.ImageHash]; !ok {
			return "", fmt.Errorf("scene: unknown image %q", spec.Fill.ImageHash)
		}
	}
	n := &Node{
		ID:     t.nextID(),
		Kind:   kind,
		Name:   spec.Name,
		X:      spec.X,
		Y:      spec.Y,
		Width:  spec.Width,
		Height: spec.Height,
		Stroke: spec.Stroke,
	}
	if spec.Fill.Type != "" {
		n.Fills = []Paint{spec.Fill}
	}
	t.nodes[n.ID] = n
	return n.ID, nil
}

func (t *Tree) CreateText(ctx context.Context, spec TextSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	size := spec.FontSize
	if size <= 0 {
		size = 12
	}
	lines := strings.Count(spec.Text, "\n") + 1
	width := spec.Width
	if width <= 0 {
		width = longestLine(spec.Text) * size * 6 / 10
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n := &Node{
		ID:       t.nextID(),
		Kind:     KindText,
		Name:     spec.Name,
		X:        spec.X,
		Y:        spec.Y,
		Width:    max(width, 1),
		Height:   lines * size * 12 / 10,
		Text:     spec.Text,
		FontSize: size,
	}
	if spec.Color != "" {
		n.Fills = []Paint{SolidPaint(spec.Color, 1)}
	}
	t.nodes[n.ID] = n
	return n.ID, nil
}

// Append moves every child under parentID. Either all children move or none.
func (t *Tree) Append(ctx context.Context, parentID string, childIDs ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	parent, ok := t.nodes[parentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, parentID)
	}
	if !isContainer(parent.Kind) {
		return fmt.Errorf("%w: %s", ErrNotContainer, parentID)
	}
	for _, id := range childIDs {
		if _, ok := t.nodes[id]; !ok {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
		}
		if id == parentID || t.isAncestor(id, parentID) {
			return fmt.Errorf("scene: cannot append %s into its own subtree", id)
		}
	}
	for _, id := range childIDs {
		t.detach(id)
		t.nodes[id].Parent = parentID
		parent.Children = append(parent.Children, id)
	}
	if parent.Kind == KindGroup {
		t.fitGroup(parent)
	}
	return nil
}

// Group wraps siblings in a new group inserted where the first of them was.
// All nodes must already share parentID.
func (t *Tree) Group(ctx context.Context, parentID string, childIDs []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(childIDs) == 0 {
		return "", ErrEmptyGroup
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	parent, ok := t.nodes[parentID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNodeNotFound, parentID)
	}
	for _, id := range childIDs {
		n, ok := t.nodes[id]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrNodeNotFound, id)
		}
		if n.Parent != parentID {
			return "", fmt.Errorf("%w: %s is not a child of %s", ErrNotSiblings, id, parentID)
		}
	}

	insertAt := len(parent.Children)
	for i, c := range parent.Children {
		if slices.Contains(childIDs, c) {
			insertAt = i
			break
		}
	}
	g := &Node{ID: t.nextID(), Kind: KindGroup, Name: "Group", Parent: parentID}
	t.nodes[g.ID] = g

	remaining := make([]string, 0, len(parent.Children)+1)
	for i, c := range parent.Children {
		if i == insertAt {
			remaining = append(remaining, g.ID)
		}
		if !slices.Contains(childIDs, c) {
			remaining = append(remaining, c)
		}
	}
	if insertAt == len(parent.Children) {
		remaining = append(remaining, g.ID)
	}
	parent.Children = remaining
	for _, id := range childIDs {
		t.nodes[id].Parent = g.ID
		g.Children = append(g.Children, id)
	}
	t.fitGroup(g)
	return g.ID, nil
}

// Remove deletes a node and its subtree.
func (t *Tree) Remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if id == t.root {
		return fmt.Errorf("scene: cannot remove the page")
	}
	if _, ok := t.nodes[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	parentID := t.nodes[id].Parent
	t.detach(id)
	t.drop(id)
	if p, ok := t.nodes[parentID]; ok && p.Kind == KindGroup {
		if len(p.Children) == 0 {
			t.detach(p.ID)
			t.drop(p.ID)
		} else {
			t.fitGroup(p)
		}
	}
	return nil
}

func (t *Tree) Rename(ctx context.Context, id, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	n.Name = name
	return nil
}

// Move positions a node. Moving a group translates its whole subtree.
func (t *Tree) Move(ctx context.Context, id string, x, y int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	dx, dy := x-n.X, y-n.Y
	if n.Kind == KindGroup {
		t.translate(n.ID, dx, dy)
	} else {
		n.X, n.Y = x, y
	}
	if p, ok := t.nodes[n.Parent]; ok && p.Kind == KindGroup {
		t.fitGroup(p)
	}
	return nil
}

func (t *Tree) translate(id string, dx, dy int) {
	n := t.nodes[id]
	n.X += dx
	n.Y += dy
	if n.Kind != KindGroup {
		return
	}
	for _, c := range n.Children {
		t.translate(c, dx, dy)
	}
}

// fitGroup resizes a group to the union of its children's bounds.
func (t *Tree) fitGroup(g *Node) {
	if len(g.Children) == 0 {
		return
	}
	first := t.nodes[g.Children[0]]
	minX, minY := first.X, first.Y
	maxX, maxY := first.X+first.Width, first.Y+first.Height
	for _, id := range g.Children[1:] {
		c := t.nodes[id]
		minX = min(minX, c.X)
		minY = min(minY, c.Y)
		maxX = max(maxX, c.X+c.Width)
		maxY = max(maxY, c.Y+c.Height)
	}
	g.X, g.Y = minX, minY
	g.Width, g.Height = maxX-minX, maxY-minY
	if p, ok := t.nodes[g.Parent]; ok && p.Kind == KindGroup {
		t.fitGroup(p)
	}
}

func (t *Tree) detach(id string) {
	n := t.nodes[id]
	if n.Parent == "" {
		return
	}
	if p, ok := t.nodes[n.Parent]; ok {
		p.Children = slices.DeleteFunc(p.Children, func(c string) bool { return c == id })
	}
	n.Parent = ""
}

func (t *Tree) drop(id string) {
	n, ok := t.nodes[id]
	if !ok {
		return
	}
	for _, c := range n.Children {
		t.drop(c)
	}
	delete(t.nodes, id)
}

func (t *Tree) isAncestor(ancestor, id string) bool {
	for cur := t.nodes[id]; cur != nil && cur.Parent != ""; cur = t.nodes[cur.Parent] {
		if cur.Parent == ancestor {
			return true
		}
	}
	return false
}

func (t *Tree) nextID() string {
	t.seq++
	return fmt.Sprintf("1:%d", t.seq)
}

func isContainer(kind NodeKind) bool {
	return kind == KindPage || kind == KindFrame || kind == KindGroup
}

func longestLine(s string) int {
	longest := 0
	for _, line := range strings.Split(s, "\n") {
		longest = max(longest, len([]rune(line)))
	}
	return longest
}

func extensionFor(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}

var _ Host = (*Tree)(nil)
