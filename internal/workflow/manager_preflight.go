package workflow

import (
	"context"
	"errors"
	"fmt"

	"storyforge/internal/logging"
	"storyforge/internal/preflight"
)

// runPreflightChecks checks the data directory, the database and every
// configured stage program. All failures are logged and joined into the
// returned error.
func (m *Manager) runPreflightChecks(ctx context.Context) error {
	results := preflight.RunAll(ctx, m.cfg, m.store)
	for _, r := range results {
		if r.Passed {
			m.logger.Debug("preflight check passed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
			)
		}
	}

	var errs []error
	for _, r := range preflight.Failed(results) {
		m.logger.Error("preflight check failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldEventType, "preflight_failed"),
		)
		errs = append(errs, fmt.Errorf("%s: %s", r.Name, r.Detail))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("preflight checks failed: %w", err)
	}
	return nil
}
