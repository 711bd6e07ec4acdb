package store

import (
	"encoding/json"
	"fmt"

	"github.com/Iron-Ham/foreman/internal/errors"
	"github.com/Iron-Ham/foreman/internal/pipeline"
)

// SnapshotVersion is the envelope version written by Encode.
const SnapshotVersion = 1

// ErrUnsupportedVersion is returned when a snapshot was written by a newer
// or unknown format.
var ErrUnsupportedVersion = errors.New("unsupported snapshot version")

type envelope struct {
	Version  int                `json:"version"`
	Pipeline *pipeline.Pipeline `json:"pipeline"`
}

// Encode serializes p into a versioned snapshot.
func Encode(p *pipeline.Pipeline) ([]byte, error) {
	data, err := json.MarshalIndent(envelope{Version: SnapshotVersion, Pipeline: p}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode pipeline %s: %w", p.ID, err)
	}
	return data, nil
}

// Decode parses a snapshot written by Encode.
func Decode(data []byte) (*pipeline.Pipeline, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if env.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}
	if env.Pipeline == nil || env.Pipeline.ID == "" {
		return nil, errors.New("decode snapshot: missing pipeline")
	}
	return env.Pipeline, nil
}

func notFound(id string) error {
	return errors.NewNotFoundError("pipeline", id).WithCause(errors.ErrPipelineNotFound)
}

func checkID(id string) error {
	if !pipeline.ValidID(id) {
		return errors.NewValidationError("malformed pipeline id").WithField("id").WithValue(id)
	}
	return nil
}
