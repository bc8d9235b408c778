package engine

import (
	"math"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"collabtext/internal/change"
)

// QueuedEdit is a remote edit waiting for the next flush.
type QueuedEdit struct {
	FilePath string
	Edit     change.Descriptor
}

// snapshotEdit replaces a whole document with content.
func snapshotEdit(content string) change.Descriptor {
	return change.Descriptor{
		From:   change.Pos{},
		To:     change.Pos{Line: math.MaxInt, Ch: math.MaxInt},
		Text:   change.Lines(content),
		Origin: change.OriginRemote,
	}
}

func (s *Session) enqueue(e QueuedEdit) {
	s.queue = append(s.queue, e)
	queuedEdits.Inc()
	if s.flushTimer == nil {
		s.flushTimer = s.clock.NewTimer(s.cfg.FlushDelay)
	}
}

// drop removes pending edits for p.
func (s *Session) drop(p string) {
	s.queue = slices.DeleteFunc(s.queue, func(e QueuedEdit) bool {
		return e.FilePath == p
	})
}

// groupByPath stable sorts queue by path and splits it into runs sharing a
// path. Edits keep their arrival order within a run.
func groupByPath(queue []QueuedEdit) [][]QueuedEdit {
	sorted := slices.Clone(queue)
	slices.SortStableFunc(sorted, func(a, b QueuedEdit) int {
		return strings.Compare(a.FilePath, b.FilePath)
	})
	var groups [][]QueuedEdit
	for start := 0; start < len(sorted); {
		end := start + 1
		for end < len(sorted) && sorted[end].FilePath == sorted[start].FilePath {
			end++
		}
		groups = append(groups, sorted[start:end])
		start = end
	}
	return groups
}

// flush applies everything queued so far, one apply per file.
func (s *Session) flush() {
	s.stopTimer()
	queue := s.queue
	s.queue = nil
	for _, group := range groupByPath(queue) {
		p := group[0].FilePath
		ds := make([]change.Descriptor, 0, len(group))
		for _, e := range group {
			ds = append(ds, e.Edit)
		}
		if err := s.applyTo(p, ds); err != nil {
			applyFail.Inc()
			s.logger.Warn("failed to apply remote edits", zap.String("path", p), zap.Int("edits", len(ds)), zap.Error(err))
			s.notifier.Error("Failed to apply changes to " + p)
			continue
		}
		applyOk.Inc()
	}
}

func (s *Session) stopTimer() {
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
}

func (s *Session) flushC() <-chan time.Time {
	if s.flushTimer == nil {
		return nil
	}
	return s.flushTimer.Chan()
}
