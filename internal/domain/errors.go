package domain

import (
	"context"
	"errors"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrPlanning       = errors.New("planning failed")
	ErrTooManyTiles   = errors.New("too many tiles")
	ErrSlicingOff     = errors.New("slicing disabled")
	ErrBridgeTimeout  = errors.New("bridge timeout")
	ErrBridgeFailure  = errors.New("bridge failure")
	ErrWorkerDecode   = errors.New("worker decode failed")
	ErrTileEncode     = errors.New("tile encode failed")
	ErrReconstruction = errors.New("reconstruction failed")
)

// FailureReason maps a pipeline error to the short reason shown on
// placeholder labels.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTooManyTiles):
		return "too many tiles"
	case errors.Is(err, ErrSlicingOff):
		return "image too large"
	case errors.Is(err, ErrPlanning):
		return "invalid dimensions"
	case errors.Is(err, ErrBridgeTimeout), errors.Is(err, context.DeadlineExceeded):
		return "processing timed out"
	case errors.Is(err, ErrWorkerDecode):
		return "could not decode image"
	case errors.Is(err, ErrBridgeFailure):
		return "processing error"
	case errors.Is(err, ErrReconstruction):
		return "could not assemble tiles"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "processing error"
	}
}
