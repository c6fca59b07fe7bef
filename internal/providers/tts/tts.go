package tts

import "context"

// Provider synthesizes speech audio from text.
type Provider interface {
	Synthesize(ctx context.Context, text, voice string, speed float64) ([]byte, error)
	Close() error
}
