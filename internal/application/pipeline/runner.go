package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smilemakc/vyasa/internal/application/jobmanager"
	"github.com/smilemakc/vyasa/internal/domain"
)

// backpressureRetryDelay bounds how long Execute waits before re-entering
// Critic on critic_status=retry_later (spec §5: "no lock is held across a
// suspension point").
const backpressureRetryDelay = 2 * time.Second

// maxNodeHops bounds total node transitions per Execute call as a last-resort
// guard against a runner bug turning the revision loop into an infinite one;
// the router itself (spec §4.4) is what actually bounds revision_count.
const maxNodeHops = 64

// Runner drives one job through the Cartographer/Vision/Critic/Synthesizer/
// Saver node graph (spec §4.4), calling back into jobmanager.Manager as each
// node completes the way the teacher's executor.Engine reports transitions
// to its observer after every step.
type Runner struct {
	Deps *Deps

	Jobs         *jobmanager.Manager
	Blocks       domain.ManuscriptBlockRepository
	Bibliography domain.BibliographyRepository
	Checkpoints  domain.CheckpointStore

	ArtifactsDir string
	MaxRevisions int
}

func (r *Runner) maxRevisions() int {
	if r.MaxRevisions > 0 {
		return r.MaxRevisions
	}
	return MaxRevisions
}

// Execute starts a QUEUED job and drives it to a terminal or suspended
// state. When a checkpoint exists for the job, its state seeds the run in
// place of the initial state; the node graph always starts at the
// Cartographer.
func (r *Runner) Execute(ctx context.Context, jobID uuid.UUID) error {
	record, err := r.Jobs.Start(ctx, jobID)
	if err != nil {
		return fmt.Errorf("start job: %w", err)
	}

	state := record.InitialState
	if cp := r.loadCheckpoint(ctx, jobID); cp != nil {
		state = *cp
	}
	if state.JobID == uuid.Nil {
		state.JobID = jobID
	}
	if state.ThreadID == "" {
		state.ThreadID = jobID.String()
	}

	return r.run(ctx, jobID, state, domain.NodeCartographer)
}

// Resume records an operator's signoff decision through jobmanager.Manager
// (NEEDS_SIGNOFF -> RUNNING or FAILED) and, on approval, continues the node
// graph from the last checkpoint. It is synchronous end to end; callers that
// want the decision acknowledged before the revision loop finishes running
// should call ResumeDecision and ContinueFromCheckpoint separately (the HTTP
// layer does this so it can respond as soon as the decision is recorded).
func (r *Runner) Resume(ctx context.Context, jobID uuid.UUID, decision string) error {
	if _, err := r.ResumeDecision(ctx, jobID, decision); err != nil {
		return err
	}
	if !isApproval(decision) {
		return nil
	}
	return r.ContinueFromCheckpoint(ctx, jobID)
}

// ResumeDecision records the operator's signoff decision and returns the
// updated record without running any further nodes. A rejection also marks
// the job FAILED rather than leaving it stuck in NEEDS_SIGNOFF.
func (r *Runner) ResumeDecision(ctx context.Context, jobID uuid.UUID, decision string) (*domain.JobRecord, error) {
	record, err := r.Jobs.Resume(ctx, jobID, decision)
	if err != nil {
		return nil, fmt.Errorf("resume job: %w", err)
	}
	if !isApproval(decision) {
		if err := r.Jobs.Fail(ctx, jobID, "reframing proposal rejected by operator"); err != nil {
			return record, fmt.Errorf("mark job failed after rejection: %w", err)
		}
	}
	return record, nil
}

// ContinueFromCheckpoint re-enters the Cartographer with the checkpointed
// (amended) state after an approved signoff -- spec §4.4's "on resume...
// re-enters Cartographer." It does not call jobmanager.Manager.Resume
// itself; the caller is expected to have already flipped the job out of
// NEEDS_SIGNOFF (via ResumeDecision) before invoking this.
func (r *Runner) ContinueFromCheckpoint(ctx context.Context, jobID uuid.UUID) error {
	record, err := r.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	state := record.InitialState
	if cp := r.loadCheckpoint(ctx, jobID); cp != nil {
		state = *cp
	} else if result := record.Job.Result(); result != nil {
		state = *result
	}
	state.NeedsSignoff = false
	state.NeedsHumanReview = false

	return r.run(ctx, jobID, state, domain.NodeCartographer)
}

func isApproval(decision string) bool {
	return strings.EqualFold(decision, "approve") || strings.EqualFold(decision, "approved")
}

// run is the node graph loop: Cartographer -> Vision -> Critic -> Route ->
// {Synthesizer -> Saver | Cartographer (revision loop) | Reframing |
// Failure Cleanup}. Every node transition is checkpointed and reported to
// the job manager before the next node runs, matching the teacher's
// Engine.Execute's per-step persist-then-notify shape.
func (r *Runner) run(ctx context.Context, jobID uuid.UUID, state domain.WorkflowState, start domain.PipelineNodeName) error {
	node := start

	for hop := 0; hop < maxNodeHops; hop++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch node {
		case domain.NodeCartographer:
			update, err := Cartographer(ctx, r.Deps, state)
			if err != nil {
				return r.failHard(ctx, jobID, err)
			}
			state = domain.Merge(state, update)
			r.checkpoint(ctx, jobID, state)
			_ = r.Jobs.UpdateStatus(ctx, jobID, 0.25, string(domain.NodeCartographer))
			node = domain.NodeVision

		case domain.NodeVision:
			update, err := Vision(ctx, r.Deps, state, r.ArtifactsDir)
			if err != nil {
				return r.failHard(ctx, jobID, err)
			}
			state = domain.Merge(state, update)
			r.checkpoint(ctx, jobID, state)
			node = domain.NodeCritic

		case domain.NodeCritic:
			conservative := state.ProjectContext != nil && state.ProjectContext.RigorLevel == domain.RigorConservative

			update, err := Critic(ctx, r.Deps, state, conservative)
			if err != nil {
				return r.failHard(ctx, jobID, err)
			}
			state = domain.Merge(state, update)
			r.checkpoint(ctx, jobID, state)
			_ = r.Jobs.UpdateStatus(ctx, jobID, 0.6, string(domain.NodeCritic))

			if state.CriticStatus == domain.CriticStatusRetryLater {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(backpressureRetryDelay):
				}
				continue // re-enter Critic; the retry counts toward maxNodeHops
			}

			if state.ConflictReport != nil && state.ConflictReportID == uuid.Nil {
				reportID, err := r.Jobs.StoreConflictReport(ctx, jobID, *state.ConflictReport)
				if err == nil {
					state.ConflictReportID = reportID
					r.checkpoint(ctx, jobID, state)
				}
			}

			switch next := Route(state, r.maxRevisions()); next {
			case domain.NodeSynthesizer:
				node = domain.NodeSynthesizer
			case domain.NodeCartographer:
				node = domain.NodeCartographer
			case domain.NodeReframing:
				return r.suspendForSignoff(ctx, jobID, state)
			default:
				return r.failureCleanup(ctx, jobID, state, "revision budget exhausted without a pass or a reframing recommendation")
			}

		case domain.NodeSynthesizer:
			update, err := Synthesizer(ctx, r.Deps, state, state.ProjectContext)
			if err != nil {
				return r.failHard(ctx, jobID, err)
			}
			state = domain.Merge(state, update)
			r.checkpoint(ctx, jobID, state)
			_ = r.Jobs.UpdateStatus(ctx, jobID, 0.8, string(domain.NodeSynthesizer))

			if state.NeedsSignoff {
				return r.suspendForSignoff(ctx, jobID, state)
			}
			node = domain.NodeSaver

		case domain.NodeSaver:
			update, err := Saver(ctx, r.Blocks, r.Bibliography, state.ProjectID, state)
			if err != nil {
				return r.failHard(ctx, jobID, err)
			}
			state = domain.Merge(state, update)
			r.checkpoint(ctx, jobID, state)

			if _, err := r.Jobs.SetResult(ctx, jobID, state); err != nil {
				return fmt.Errorf("set job result: %w", err)
			}
			r.emit("job_succeeded", state)
			return nil

		default:
			return r.failureCleanup(ctx, jobID, state, fmt.Sprintf("unreachable node %q", node))
		}
	}

	return r.failureCleanup(ctx, jobID, state, "exceeded maximum node transitions for a single run")
}

// suspendForSignoff is the single path into NEEDS_SIGNOFF, used both by the
// router's Reframing route (a deadlocked revision loop) and by the
// Synthesizer's conservative-rigor human-review abort. SuspendForSignoff
// requires a persisted ReframingProposal either way, so both cases build one
// through the same deterministic constructor; for the Synthesizer case it
// carries no pivot beyond "escalate to a human" since no revision loop ran.
func (r *Runner) suspendForSignoff(ctx context.Context, jobID uuid.UUID, state domain.WorkflowState) error {
	proposal := Reframing(state)
	proposalID, err := r.Jobs.StoreReframingProposal(ctx, jobID, proposal)
	if err != nil {
		return fmt.Errorf("store reframing proposal: %w", err)
	}

	state.ReframingProposalID = proposalID
	r.checkpoint(ctx, jobID, state)
	r.emit("needs_signoff", state)
	return nil
}

// failureCleanup is the terminal Failure Cleanup node (spec §4.4): mark the
// job FAILED and emit a terminal telemetry event, never leaving a job
// silently SUCCEEDED when the revision budget is exhausted.
func (r *Runner) failureCleanup(ctx context.Context, jobID uuid.UUID, state domain.WorkflowState, reason string) error {
	r.emit("job_failed", state)
	if err := r.Jobs.Fail(ctx, jobID, reason); err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return fmt.Errorf("%s", reason)
}

// failHard marks the job FAILED in response to a node-level error (a
// terminal condition like project-not-found, not a recoverable conflict or
// backpressure signal).
func (r *Runner) failHard(ctx context.Context, jobID uuid.UUID, cause error) error {
	if err := r.Jobs.Fail(ctx, jobID, cause.Error()); err != nil {
		return fmt.Errorf("mark job failed after %v: %w", cause, err)
	}
	return cause
}

func (r *Runner) checkpoint(ctx context.Context, jobID uuid.UUID, state domain.WorkflowState) {
	if r.Checkpoints == nil {
		return
	}
	_ = r.Checkpoints.Save(ctx, jobID.String(), state)
}

func (r *Runner) loadCheckpoint(ctx context.Context, jobID uuid.UUID) *domain.WorkflowState {
	if r.Checkpoints == nil {
		return nil
	}
	state, err := r.Checkpoints.Load(ctx, jobID.String())
	if err != nil {
		return nil
	}
	return state
}

func (r *Runner) emit(kind string, state domain.WorkflowState) {
	if r.Deps == nil {
		return
	}
	r.Deps.telemetry().Emit(kind, map[string]any{
		"job_id":         state.JobID.String(),
		"thread_id":      state.ThreadID,
		"phase":          state.Phase,
		"revision_count": state.RevisionCount,
		"critic_status":  state.CriticStatus,
	})
}
