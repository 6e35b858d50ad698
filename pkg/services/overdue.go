package services

import (
	"context"
	"errors"

	"github.com/dukex/worktemplate/pkg/events"
	"github.com/dukex/worktemplate/pkg/models"
	"github.com/dukex/worktemplate/pkg/persistence"
)

// DefaultOverdueBatch bounds how many steps one sweep notifies.
const DefaultOverdueBatch = 100

// SweepOverdue emits one step.overdue event per open step past its deadline and
// records the notification so later sweeps skip it. It never changes step status.
func (s *Instances) SweepOverdue(ctx context.Context, limit int) (notified int, err error) {
	ctx, end := s.span(ctx, "instances.SweepOverdue")
	defer end(&err)

	if limit <= 0 {
		limit = DefaultOverdueBatch
	}

	err = s.run(ctx, func(ctx context.Context, tx persistence.Tx, out *outbox) error {
		notified = 0
		now := s.clock()

		steps, err := tx.Instances().ListOverdueSteps(ctx, now, limit)
		if err != nil {
			return err
		}

		instances := make(map[string]*models.WorkInstance)

		for _, step := range steps {
			instance, ok := instances[step.InstanceID]
			if !ok {
				instance, err = tx.Instances().GetByID(ctx, step.InstanceID)
				if err != nil {
					return err
				}

				instances[step.InstanceID] = instance
			}

			err = tx.Instances().MarkOverdueNotified(ctx, step.ID, now)
			if errors.Is(err, persistence.ErrStaleStepStatus) {
				continue
			}

			if err != nil {
				return err
			}

			out.add(instance.ID, events.StepOverdue{
				StepEvent: s.stepEvent(events.StepOverdueEvent, instance, step, nil),
				OverdueBy: now.Sub(*step.Deadline),
			})

			notified++
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	if notified > 0 {
		s.logger.InfoContext(ctx, "overdue steps notified", "count", notified)
	}

	return notified, nil
}
