package pipeline

import (
	"context"
	"errors"
	"io"

	"github.com/kozaktomas/face-attendance/internal/frames"
	"github.com/kozaktomas/face-attendance/internal/metrics"
)

// RunStats summarizes a run.
type RunStats struct {
	Frames       int `json:"frames"`
	SourceErrors int `json:"source_errors"`
	Faces        int `json:"faces"`
	Delivered    int `json:"delivered"`
}

// Run pulls frames from src until it is exhausted or ctx is cancelled. Frames are
// processed strictly one after another. Source errors skip the frame; io.EOF ends
// the run with a nil error.
func (p *Pipeline) Run(ctx context.Context, src frames.Source) (RunStats, error) {
	var stats RunStats
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.SourceErrors++
			p.metrics.RecordCollaboratorError(metrics.CollaboratorSource)
			p.log.Warnf("Skipping frame: %v", err)
			continue
		}

		result := p.ProcessFrame(ctx, frame)
		stats.Frames++
		stats.Faces += len(result.Faces)
		stats.Delivered += len(result.Records)
	}
}
