// Package placeholder builds the labeled stand-in node used whenever an
// oversized asset cannot be sliced and reassembled.
package placeholder

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"assetslicer/internal/domain"
	"assetslicer/internal/scene"
)

// Category is the coarse failure class that picks the tint.
type Category string

const (
	CategoryTooLarge   Category = "too large"
	CategoryTimeout    Category = "timed out"
	CategoryProcessing Category = "processing error"
)

var tints = map[Category]string{
	CategoryTooLarge:   "#F5A623",
	CategoryTimeout:    "#8E8E93",
	CategoryProcessing: "#E5484D",
}

const (
	minSide     = 100
	labelColor  = "#1C1C1E"
	labelMargin = 16
)

// CategoryFor classifies a pipeline error.
func CategoryFor(err error) Category {
	switch {
	case errors.Is(err, domain.ErrTooManyTiles), errors.Is(err, domain.ErrSlicingOff):
		return CategoryTooLarge
	case errors.Is(err, domain.ErrBridgeTimeout), errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	default:
		return CategoryProcessing
	}
}

// Request describes the placeholder to build.
type Request struct {
	Parent   string
	X        int
	Y        int
	Width    int
	Height   int
	Name     string
	Reason   string
	Category Category
	// Language overrides the Fallback's default label language.
	Language language.Tag
}

// Options configures a Fallback.
type Options struct {
	Logger *zerolog.Logger
	// Language selects number formatting for labels. Defaults to English.
	Language language.Tag
}

// Fallback builds placeholders.
type Fallback struct {
	host   scene.Host
	logger zerolog.Logger
	tag    language.Tag
}

// New returns a Fallback that mutates host.
func New(host scene.Host, opts Options) *Fallback {
	tag := opts.Language
	if tag == language.Und {
		tag = language.English
	}
	f := &Fallback{
		host:   host,
		logger: zerolog.Nop(),
		tag:    tag,
	}
	if opts.Logger != nil {
		f.logger = opts.Logger.With().Str("component", "placeholder").Logger()
	}
	return f
}

// Build creates a tinted frame of the requested size with a text label
// naming the asset, its dimensions and the reason. It does not fail: scene
// errors are logged and a zero NodeRef is returned only if not even the
// frame could be created. Non-positive sizes are raised to a minimum side.
func (f *Fallback) Build(ctx context.Context, req Request) scene.NodeRef {
	ctx = context.WithoutCancel(ctx)
	category := req.Category
	if _, ok := tints[category]; !ok {
		category = CategoryProcessing
	}
	width, height := req.Width, req.Height
	if width <= 0 {
		width = minSide
	}
	if height <= 0 {
		height = minSide
	}
	name := req.Name
	if strings.TrimSpace(name) == "" {
		name = "Image"
	}
	tag := f.tag
	if req.Language != language.Und {
		tag = req.Language
	}
	log := f.logger.With().Str("asset", name).Str("reason", req.Reason).Logger()

	frameID, err := f.host.CreateFrame(ctx, scene.RectSpec{
		Name:   name,
		Width:  width,
		Height: height,
		Fill:   scene.SolidPaint(tints[category], 0.35),
		Stroke: tints[category],
	})
	if err != nil {
		log.Error().Err(err).Msg("placeholder: frame creation failed")
		return scene.NodeRef{}
	}
	if err := f.host.Append(ctx, req.Parent, frameID); err != nil {
		log.Error().Err(err).Msg("placeholder: append failed, leaving frame detached")
	}
	if err := f.host.Move(ctx, frameID, req.X, req.Y); err != nil {
		log.Warn().Err(err).Msg("placeholder: move failed")
	}

	labelID, err := f.host.CreateText(ctx, scene.TextSpec{
		Name:     name + " (label)",
		Text:     label(tag, name, req.Width, req.Height, category, req.Reason),
		X:        labelMargin,
		Y:        labelMargin,
		FontSize: fontSize(width, height),
		Color:    labelColor,
	})
	if err != nil {
		log.Warn().Err(err).Msg("placeholder: label creation failed")
	} else if err := f.host.Append(ctx, frameID, labelID); err != nil {
		log.Warn().Err(err).Msg("placeholder: label append failed")
		_ = f.host.Remove(ctx, labelID)
	}

	log.Info().Str("node_id", frameID).Str("category", string(category)).Msg("placeholder: built")
	return scene.NodeRef{ID: frameID, Name: name, Kind: scene.KindFrame, Width: width, Height: height}
}

// Label formats the placeholder text in the default language.
func (f *Fallback) Label(name string, width, height int, category Category, reason string) string {
	return label(f.tag, name, width, height, category, reason)
}

// label builds a fresh printer and caser per call; both are stateful.
func label(tag language.Tag, name string, width, height int, category Category, reason string) string {
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('\n')
	b.WriteString(message.NewPrinter(tag).Sprintf("%d × %d px", width, height))
	b.WriteByte('\n')
	b.WriteString(cases.Title(tag).String(string(category)))
	if reason != "" && !strings.EqualFold(reason, string(category)) {
		b.WriteString(": ")
		b.WriteString(reason)
	}
	return b.String()
}

func fontSize(width, height int) int {
	size := min(width, height) / 20
	return max(12, min(size, 96))
}
