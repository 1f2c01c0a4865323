package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"go.uber.org/zap"
)

// State file names under storage.state_dir.
const (
	StateCovers     = "covers.json"
	StateMetadata   = "metadata.json"
	StateNormalized = "normalized.json"
	StateOverlayed  = "overlayed.json"
	StateSummary    = "summary.json"
)

// ErrMissingState means a stage ran before the stage that feeds it.
var ErrMissingState = errors.New("missing stage state")

func (p *Pipeline) saveState(ctx context.Context, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	data = append(data, '\n')
	if _, err := p.deps.State.PutObject(ctx, name, "application/json", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	p.logger.Debug("state saved", zap.String("file", name), zap.Int("bytes", len(data)))
	return nil
}

// loadState decodes a state file into v. A missing file is ErrMissingState.
func (p *Pipeline) loadState(ctx context.Context, name string, v any) error {
	data, err := p.deps.State.GetObject(ctx, name)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrMissingState, name)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}
