package asr

import (
	"context"

	"github.com/kurisu-ai/kurisu-go/pkg/core/httpapi"
)

// RemoteTranscriber sends captured segments to the backend's speech
// recognition endpoint.
type RemoteTranscriber struct {
	api *httpapi.Client
}

// NewRemoteTranscriber wraps the REST client as a transcriber.
func NewRemoteTranscriber(api *httpapi.Client) *RemoteTranscriber {
	return &RemoteTranscriber{api: api}
}

// Transcribe converts one audio segment to text.
func (t *RemoteTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	result, err := t.api.Transcribe(ctx, audio)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}
