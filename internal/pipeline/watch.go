package pipeline

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/svcgen/internal/watch"
)

// Watch generates every request once and then again whenever its metadata
// document changes, until ctx is done. report is called after every
// generation with its outcome and error.
func (p *Pipeline) Watch(ctx context.Context, reqs []Request, delay time.Duration, report func(*Outcome, error)) error {
	byFile := make(map[string][]Request)
	files := make([]string, 0, len(reqs))
	for _, req := range reqs {
		abs, err := filepath.Abs(req.Metadata)
		if err != nil {
			return err
		}
		if _, seen := byFile[abs]; !seen {
			files = append(files, abs)
		}
		byFile[abs] = append(byFile[abs], req)
	}

	outcomes, err := p.prepare(ctx, reqs)
	if err != nil {
		return err
	}
	_ = p.runAll(ctx, outcomes)
	for _, o := range outcomes {
		report(o, o.Err)
	}

	fw, err := watch.NewFileWatcher(files, delay, func(changed []string) error {
		for _, file := range changed {
			for _, req := range byFile[file] {
				p.logger.Info("metadata changed, regenerating", zap.String("metadata", req.Metadata))
				report(p.Generate(ctx, req))
			}
		}
		return nil
	}, p.logger)
	if err != nil {
		return err
	}

	return fw.Run(ctx)
}
