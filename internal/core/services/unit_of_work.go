package services

import (
	"context"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

// stagedAction is one step of a unit of work.
type stagedAction struct {
	step domain.PipelineStep
	run  func(ctx context.Context, tx driven.Stores) error
}

// unitOfWork collects ordered actions and runs them in a single transaction.
// Nothing touches the store until commit.
type unitOfWork struct {
	actions []stagedAction
}

func newUnitOfWork() *unitOfWork {
	return &unitOfWork{}
}

// stage appends an action. Actions run in the order they were staged.
func (u *unitOfWork) stage(step domain.PipelineStep, run func(ctx context.Context, tx driven.Stores) error) {
	u.actions = append(u.actions, stagedAction{step: step, run: run})
}

// commit runs every action inside one transaction. On failure it returns the
// step that failed (StepCommit if the commit itself failed) and the
// transaction is rolled back.
func (u *unitOfWork) commit(ctx context.Context, tx driven.Transactor) (domain.PipelineStep, error) {
	failed := domain.StepCommit
	err := tx.WithinTx(ctx, func(ctx context.Context, stores driven.Stores) error {
		for _, a := range u.actions {
			if err := a.run(ctx, stores); err != nil {
				failed = a.step
				return err
			}
		}
		return nil
	})
	if err != nil {
		return failed, err
	}
	return "", nil
}
