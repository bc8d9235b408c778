package engine

import (
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"collabtext/internal/change"
	"collabtext/internal/watch"
	"collabtext/internal/workspace"
)

type applyOutcome int

const (
	outcomeOK applyOutcome = iota
	outcomeNotFound
	outcomeFailed
)

func classify(err error) applyOutcome {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, workspace.ErrNotFound):
		return outcomeNotFound
	}
	return outcomeFailed
}

// tryApply opens p and applies edits to it while p is guarded.
func (s *Session) tryApply(p string, edits []workspace.TextEdit) (applyOutcome, error) {
	if _, err := s.host.Open(p); err != nil {
		return classify(err), err
	}
	s.guard.Hold(p)
	err := s.host.ApplyEdit(p, edits)
	s.guard.Release(p)
	return classify(err), err
}

// applyTo applies ds to p. A missing file is created, along with its parent
// directories, and the apply is retried once. Open documents are saved
// whatever the result.
func (s *Session) applyTo(p string, ds []change.Descriptor) error {
	defer s.saveAll()
	start := time.Now()
	defer func() { applyDuration.Observe(time.Since(start).Seconds()) }()
	edits := change.ToNativeAll(ds)
	outcome, err := s.tryApply(p, edits)
	if outcome == outcomeNotFound {
		s.logger.Debug("creating missing file", zap.String("path", p))
		if err := s.createEmpty(p); err != nil {
			s.logger.Warn("failed to create missing file", zap.String("path", p), zap.Error(err))
			return fmt.Errorf("%w: %s: %w", ErrApply, p, err)
		}
		outcome, err = s.tryApply(p, edits)
	}
	if outcome != outcomeOK {
		return fmt.Errorf("%w: %s: %w", ErrApply, p, err)
	}
	return nil
}

func (s *Session) createEmpty(p string) error {
	fs := s.host.Fs()
	if err := fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return err
	}
	s.expected.add(watch.Created, p)
	if err := afero.WriteFile(fs, p, nil, 0o644); err != nil {
		s.expected.remove(watch.Created, p)
		return err
	}
	return nil
}

func (s *Session) saveAll() {
	if err := s.host.SaveAll(); err != nil {
		s.logger.Warn("failed to save documents", zap.Error(err))
	}
}
