// Package feeds carries the one-shot regeneration hooks fired alongside
// full-site revalidation. The actual feed and sitemap writers live with the
// renderer; this side only records that a regeneration was requested.
package feeds

import (
	"context"

	"go.uber.org/zap"

	"github.com/Rosersn/rose-vanblog/internal/blog"
)

// LogRegenerator satisfies blog.Regenerator by logging the request. Used for
// deployments where the renderer owns feed generation.
type LogRegenerator struct {
	name   string
	logger *zap.Logger
}

var _ blog.Regenerator = (*LogRegenerator)(nil)

// NewLogRegenerator builds a regenerator named after the artifact it stands
// in for ("rss", "sitemap").
func NewLogRegenerator(name string, logger *zap.Logger) *LogRegenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogRegenerator{name: name, logger: logger}
}

// Regenerate logs the regeneration request.
func (r *LogRegenerator) Regenerate(_ context.Context, reason string) error {
	r.logger.Info("regeneration requested",
		zap.String("artifact", r.name),
		zap.String("reason", reason),
	)
	return nil
}
