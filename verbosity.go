package main

import (
	"context"

	"github.com/datawire/dlib/dlog"
	"github.com/sirupsen/logrus"
)

// withVerbosity wires a logrus-backed dlog.Logger into ctx, matching the
// level selection the teacher does with dlog.StdLogger per-stream, but
// collapsed to a single logger since wheeledit has no progress/debug/warn
// streams of its own to route independently.
func withVerbosity(ctx context.Context, verbose bool) context.Context {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	if verbose {
		logger.SetLevel(logrus.InfoLevel)
	}
	return dlog.WithLogger(ctx, dlog.WrapLogrus(logger))
}
