// Package client defines the transport a vision model backend implements.
package client

import "context"

// VisionClient sends one image and a prompt to a vision model and returns
// the raw text answer. img holds encoded image bytes (JPEG).
type VisionClient interface {
	Query(ctx context.Context, model, prompt string, img []byte) (string, error)
}
