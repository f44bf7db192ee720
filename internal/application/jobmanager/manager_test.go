package jobmanager_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/vyasa/internal/application/jobmanager"
	"github.com/smilemakc/vyasa/internal/domain"
	"github.com/smilemakc/vyasa/internal/infrastructure/storage"
)

func newManager(t *testing.T) (*jobmanager.Manager, *storage.MemoryJobStore) {
	t.Helper()
	jobs := storage.NewMemoryJobStore()
	conflicts := storage.NewMemoryConflictReportStore()
	proposals := storage.NewMemoryReframingProposalStore()
	events := storage.NewMemoryEventStore()
	return jobmanager.New(jobs, conflicts, proposals, events, nil), jobs
}

func TestManager_CreateJob_DedupsOnIdempotencyKey(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	projectID := uuid.New()

	first, err := mgr.CreateJob(ctx, projectID, domain.WorkflowState{}, "idem-1", uuid.Nil, "", nil)
	require.NoError(t, err)

	second, err := mgr.CreateJob(ctx, projectID, domain.WorkflowState{}, "idem-1", uuid.Nil, "", nil)
	require.NoError(t, err)

	assert.Equal(t, first.Job.ID(), second.Job.ID())
}

func TestManager_AcquireReleaseJobSlot(t *testing.T) {
	mgr, _ := newManager(t)

	require.True(t, mgr.AcquireJobSlot())
	require.True(t, mgr.AcquireJobSlot())
	assert.False(t, mgr.AcquireJobSlot(), "third acquire should fail at capacity 2")

	mgr.ReleaseJobSlot()
	assert.True(t, mgr.AcquireJobSlot())
}

func TestManager_StartUpdateAndSucceed(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	projectID := uuid.New()

	record, err := mgr.CreateJob(ctx, projectID, domain.WorkflowState{}, "", uuid.Nil, "", nil)
	require.NoError(t, err)

	_, err = mgr.Start(ctx, record.Job.ID())
	require.NoError(t, err)

	require.NoError(t, mgr.UpdateStatus(ctx, record.Job.ID(), 0.5, "mapping"))

	result := domain.WorkflowState{Phase: domain.PhaseDone}
	updated, err := mgr.SetResult(ctx, record.Job.ID(), result)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSucceeded, updated.Job.Status())
	assert.NotNil(t, updated.Job.Result().Triples)
}

func TestManager_StoreReframingProposal_SuspendsForSignoff(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	projectID := uuid.New()

	record, err := mgr.CreateJob(ctx, projectID, domain.WorkflowState{}, "", uuid.Nil, "", nil)
	require.NoError(t, err)
	_, err = mgr.Start(ctx, record.Job.ID())
	require.NoError(t, err)

	proposal := domain.ReframingProposal{
		ProposalID:           uuid.New(),
		ProjectID:            projectID,
		JobID:                record.Job.ID(),
		PivotType:            domain.PivotScope,
		ProposedPivot:        "narrow scope",
		RequiresHumanSignoff: true,
	}
	_, err = mgr.StoreReframingProposal(ctx, record.Job.ID(), proposal)
	require.NoError(t, err)

	fetched, err := mgr.GetJob(ctx, record.Job.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusNeedsSignoff, fetched.Job.Status())

	resumed, err := mgr.Resume(ctx, record.Job.ID(), "approved")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, resumed.Job.Status())
}

func TestManager_JobVersion_WalksLineageAndDetectsCycles(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	projectID := uuid.New()

	root, err := mgr.CreateJob(ctx, projectID, domain.WorkflowState{}, "", uuid.Nil, "", nil)
	require.NoError(t, err)

	child, err := mgr.CreateJob(ctx, projectID, domain.WorkflowState{}, "", root.Job.ID(), "reprocess", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, child.Job.JobVersion())

	version, err := mgr.JobVersion(ctx, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestDiff_ComputesTripleAndConflictDeltas(t *testing.T) {
	projectID, jobID, otherJobID := uuid.New(), uuid.New(), uuid.New()

	from, err := domain.NewJob(projectID, "", uuid.Nil, 1)
	require.NoError(t, err)
	require.NoError(t, from.Start())
	require.NoError(t, from.Succeed(domain.WorkflowState{
		Triples: []domain.Claim{
			{ClaimID: "c1", IsExpertVerified: true},
			{ClaimID: "c2"},
		},
	}))

	against, err := domain.NewJob(projectID, "", uuid.Nil, 1)
	require.NoError(t, err)
	require.NoError(t, against.Start())
	require.NoError(t, against.Succeed(domain.WorkflowState{
		Triples: []domain.Claim{{ClaimID: "c1", IsExpertVerified: true}},
	}))

	_ = jobID
	_ = otherJobID

	deltas, details := jobmanager.Diff(&domain.JobRecord{Job: from}, &domain.JobRecord{Job: against})
	assert.Equal(t, 1, deltas.TriplesAdded)
	assert.Equal(t, 0, deltas.TriplesRemoved)
	assert.Equal(t, 0, deltas.ConflictsDelta)
	assert.Equal(t, []string{"c2"}, details.AddedClaimIDs)
}
