package process

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vietddude/queuerunner/internal/core/domain"
	"github.com/vietddude/queuerunner/internal/infra/storage/memory"
	"github.com/vietddude/queuerunner/internal/queue"
	"github.com/vietddude/queuerunner/internal/recovery"
)

type countingRepo struct {
	*memory.QueueRepo
	claims int
}

func (r *countingRepo) ClaimNext(ctx context.Context) (*domain.QueueItem, error) {
	r.claims++
	return r.QueueRepo.ClaimNext(ctx)
}

type recordingEnv struct {
	calls []string
}

func (e *recordingEnv) Startup(ctx context.Context) error {
	e.calls = append(e.calls, "startup")
	return nil
}

func (e *recordingEnv) SoftClose(ctx context.Context) error {
	e.calls = append(e.calls, "soft")
	return nil
}

func (e *recordingEnv) HardClose(ctx context.Context) error {
	e.calls = append(e.calls, "hard")
	return nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	records []domain.ErrorRecord
	names   []string
}

func (n *recordingNotifier) Notify(ctx context.Context, rec domain.ErrorRecord, processName string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.records = append(n.records, rec)
	n.names = append(n.names, processName)
}

type fixture struct {
	repo     *countingRepo
	env      *recordingEnv
	notifier *recordingNotifier
	items    map[string]*domain.QueueItem
}

func newFixture(t *testing.T, refs ...string) *fixture {
	t.Helper()
	f := &fixture{
		repo:     &countingRepo{QueueRepo: memory.NewQueueRepo(memory.NewMemoryStorage())},
		env:      &recordingEnv{},
		notifier: &recordingNotifier{},
		items:    map[string]*domain.QueueItem{},
	}
	for _, ref := range refs {
		qi, err := f.repo.Add(context.Background(), domain.CandidateItem{
			Reference: ref,
			Payload:   map[string]any{"ref": ref},
		})
		require.NoError(t, err)
		f.items[ref] = qi
	}
	return f
}

func (f *fixture) runner(op Operation, maxRetry int) *Runner {
	return NewRunner(
		queue.New("invoices", f.repo),
		op,
		recovery.NewController(f.env),
		f.notifier,
		Config{MaxRetry: maxRetry},
	)
}

func (f *fixture) state(t *testing.T, ref string) *domain.QueueItem {
	t.Helper()
	qi, err := f.repo.Get(context.Background(), f.items[ref].ID)
	require.NoError(t, err)
	return qi
}

// byReference fails according to a fixed plan per reference.
func byReference(plan map[string]error) Operation {
	return OperationFunc(func(ctx context.Context, payload map[string]any, reference string) error {
		return plan[reference]
	})
}

func TestRunner_AllSucceed(t *testing.T) {
	f := newFixture(t, "A", "B", "C")

	res, err := f.runner(RequireFields, 3).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Result{Completed: 3}, res)
	for _, ref := range []string{"A", "B", "C"} {
		qi := f.state(t, ref)
		assert.Equal(t, domain.ItemStateCompleted, qi.State)
		assert.Equal(t, domain.CompletedNote, qi.Note)
	}
	assert.Equal(t, []string{"startup", "soft"}, f.env.calls)
	assert.Empty(t, f.notifier.records)
}

func TestRunner_BusinessErrorAwaitsUser(t *testing.T) {
	f := newFixture(t, "A", "B")
	op := byReference(map[string]error{
		"A": domain.NewBusinessError("invoice %s has no customer", "A"),
	})

	res, err := f.runner(op, 1).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Result{Completed: 1, AwaitingUser: 1}, res)
	a := f.state(t, "A")
	assert.Equal(t, domain.ItemStatePendingUser, a.State)
	require.NotNil(t, a.Error)
	assert.Equal(t, "BusinessError", a.Error.Type)
	assert.Equal(t, "invoice A has no customer", a.Error.Message)

	// no notification, no reset, budget untouched
	assert.Empty(t, f.notifier.records)
	assert.Equal(t, []string{"startup", "soft"}, f.env.calls)
}

func TestRunner_ProcessErrorResetsAndRestarts(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	op := byReference(map[string]error{
		"B": errors.New("element not found"),
	})

	res, err := f.runner(op, 3).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Result{Completed: 2, Failed: 1, ErrorCount: 1}, res)
	b := f.state(t, "B")
	assert.Equal(t, domain.ItemStateFailed, b.State)
	assert.Equal(t, "ProcessError", b.Error.Type)
	assert.Equal(t, "element not found", b.Error.Message)
	assert.NotEmpty(t, b.Error.Traceback)
	assert.Equal(t, domain.ItemStateCompleted, f.state(t, "C").State)

	require.Len(t, f.notifier.records, 1)
	assert.Equal(t, "invoices", f.notifier.names[0])

	// startup, reset (soft + startup), final close
	assert.Equal(t, []string{"startup", "soft", "startup", "soft"}, f.env.calls)
	// pass 1: A, B; pass 2: C, then empty
	assert.Equal(t, 4, f.repo.claims)
}

func TestRunner_BudgetExhaustedStopsFetching(t *testing.T) {
	f := newFixture(t, "A", "B", "C", "D", "E")
	op := OperationFunc(func(ctx context.Context, payload map[string]any, reference string) error {
		return errors.New("application crashed")
	})

	res, err := f.runner(op, 2).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.BudgetExhausted)
	assert.Equal(t, 2, res.ErrorCount)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 2, f.repo.claims)
	assert.Len(t, f.notifier.records, 2)

	counts, err := f.repo.CountByState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, counts[domain.ItemStatePending])
	assert.Equal(t, 2, counts[domain.ItemStateFailed])
	assert.Equal(t, "soft", f.env.calls[len(f.env.calls)-1])
}

func TestRunner_PanicIsProcessError(t *testing.T) {
	f := newFixture(t, "A", "B")
	op := OperationFunc(func(ctx context.Context, payload map[string]any, reference string) error {
		if reference == "A" {
			panic("nil map write")
		}
		return nil
	})

	res, err := f.runner(op, 3).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Completed)
	a := f.state(t, "A")
	assert.Equal(t, domain.ItemStateFailed, a.State)
	assert.Contains(t, a.Error.Message, "nil map write")

	// the claim was released by the deferred Release
	next, err := f.repo.QueueRepo.ClaimNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestRunner_MissingDataIsProcessError(t *testing.T) {
	f := newFixture(t)
	_, err := f.repo.Add(context.Background(), domain.CandidateItem{Reference: "empty"})
	require.NoError(t, err)

	res, err := f.runner(nil, 1).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.True(t, res.BudgetExhausted)
}

func TestRunner_CancelledContextStillCloses(t *testing.T) {
	f := newFixture(t, "A", "B")
	ctx, cancel := context.WithCancel(context.Background())
	op := OperationFunc(func(ctx context.Context, payload map[string]any, reference string) error {
		cancel()
		return nil
	})

	res, err := f.runner(op, 3).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, domain.ItemStatePending, f.state(t, "B").State)
	assert.Equal(t, []string{"startup", "soft"}, f.env.calls)
}

func TestClassify(t *testing.T) {
	biz := domain.NewBusinessError("bad input")
	assert.Same(t, biz, Classify(biz))
	assert.Equal(t, domain.KindBusiness, Classify(errors.Join(errors.New("ctx"), biz)).Kind)

	plain := errors.New("timeout")
	ie := Classify(plain)
	assert.Equal(t, domain.KindProcess, ie.Kind)
	assert.ErrorIs(t, ie, plain)
}

// writeFailRepo rejects selected terminal transitions.
type writeFailRepo struct {
	*memory.QueueRepo
	completeErr error
	pendingErr  error
}

func (r *writeFailRepo) Complete(ctx context.Context, id string, note string) error {
	if r.completeErr != nil {
		return r.completeErr
	}
	return r.QueueRepo.Complete(ctx, id, note)
}

func (r *writeFailRepo) MarkPendingUser(ctx context.Context, id string, rec domain.ErrorRecord) error {
	if r.pendingErr != nil {
		return r.pendingErr
	}
	return r.QueueRepo.MarkPendingUser(ctx, id, rec)
}

func TestRunner_PersistFailureIsProcessError(t *testing.T) {
	tests := []struct {
		name        string
		op          Operation
		completeErr error
		pendingErr  error
	}{
		{
			name:        "complete",
			op:          RequireFields,
			completeErr: errors.New("write failed"),
		},
		{
			name: "mark pending user",
			op: OperationFunc(func(ctx context.Context, payload map[string]any, reference string) error {
				return domain.NewBusinessError("customer missing")
			}),
			pendingErr: errors.New("write failed"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &writeFailRepo{
				QueueRepo:   memory.NewQueueRepo(memory.NewMemoryStorage()),
				completeErr: tt.completeErr,
				pendingErr:  tt.pendingErr,
			}
			ctx := context.Background()
			qi, err := repo.Add(ctx, domain.CandidateItem{Reference: "A", Payload: map[string]any{"a": 1}})
			require.NoError(t, err)

			env := &recordingEnv{}
			notifier := &recordingNotifier{}
			runner := NewRunner(queue.New("invoices", repo), tt.op, recovery.NewController(env), notifier, Config{MaxRetry: 3})

			res, err := runner.Run(ctx)
			require.NoError(t, err)
			assert.Equal(t, Result{Failed: 1, ErrorCount: 1}, res)

			stored, err := repo.Get(ctx, qi.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.ItemStateFailed, stored.State)
			require.NotNil(t, stored.Error)
			assert.Equal(t, "ProcessError", stored.Error.Type)
			assert.Contains(t, stored.Error.Message, "write failed")

			require.Len(t, notifier.records, 1)
			assert.Equal(t, []string{"startup", "soft", "startup", "soft"}, env.calls)
		})
	}
}

func explode() {
	panic("selector not found")
}

func failWithOwnStack() error {
	return domain.NewProcessError(errors.New("login rejected"))
}

func TestRunner_TracebackPointsAtFailure(t *testing.T) {
	f := newFixture(t, "panics", "returns")
	op := OperationFunc(func(ctx context.Context, payload map[string]any, reference string) error {
		if reference == "panics" {
			explode()
		}
		return failWithOwnStack()
	})

	_, err := f.runner(op, 3).Run(context.Background())
	require.NoError(t, err)

	assert.Contains(t, f.state(t, "panics").Error.Traceback, "process.explode")
	assert.Contains(t, f.state(t, "returns").Error.Traceback, "process.failWithOwnStack")
	require.Len(t, f.notifier.records, 2)
}
