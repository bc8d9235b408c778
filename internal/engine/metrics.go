package engine

import "collabtext/internal/metrics"

const subsystem = "engine"

var (
	queuedEdits = metrics.NewCounter(
		"queued_edits",
		subsystem,
		"number of remote edits queued for application",
		[]string{},
	).WithLabelValues()

	appliedGroups = metrics.NewCounter(
		"applied_groups",
		subsystem,
		"number of grouped apply calls by outcome",
		[]string{"outcome"},
	)
	applyOk   = appliedGroups.WithLabelValues("ok")
	applyFail = appliedGroups.WithLabelValues("fail")

	broadcasts = metrics.NewCounter(
		"broadcasts",
		subsystem,
		"number of local events sent to the room by kind",
		[]string{"kind"},
	)
	broadcastChange  = broadcasts.WithLabelValues("change")
	broadcastCreate  = broadcasts.WithLabelValues("create")
	broadcastDelete  = broadcasts.WithLabelValues("delete")
	broadcastProvide = broadcasts.WithLabelValues("provide")

	applyDuration = metrics.NewHistogram(
		"apply_duration_seconds",
		subsystem,
		"time spent applying one group of edits, including recovery",
		[]string{},
	).WithLabelValues()

	suppressedChanges = metrics.NewCounter(
		"suppressed_changes",
		subsystem,
		"number of local changes dropped because the engine was writing the file",
		[]string{},
	).WithLabelValues()
)
