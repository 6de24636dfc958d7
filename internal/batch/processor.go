package batch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/clintrovert/trackerbatch/internal/tracker"
	"github.com/clintrovert/trackerbatch/pkg/types"
)

// Processor applies a TaskBatch to a tracker. Every item yields its own
// outcome; one failure never stops the others.
type Processor struct {
	client        tracker.Client
	logger        *zap.Logger
	defaultQueue  string
	deleteEnabled bool
	parallelism   int
	limiter       *rate.Limiter
	newRunID      func() string
}

// Option configures a Processor
type Option func(*Processor)

// WithDefaultQueue sets the queue used by created items that name none
func WithDefaultQueue(queue string) Option {
	return func(p *Processor) {
		p.defaultQueue = queue
	}
}

// WithDeleteEnabled toggles whether deleted items are sent
func WithDeleteEnabled(enabled bool) Option {
	return func(p *Processor) {
		p.deleteEnabled = enabled
	}
}

// WithParallelism bounds the number of items in flight. Values below 1 mean 1.
func WithParallelism(n int) Option {
	return func(p *Processor) {
		if n < 1 {
			n = 1
		}
		p.parallelism = n
	}
}

// WithRequestInterval spaces tracker calls at least d apart
func WithRequestInterval(d time.Duration) Option {
	return func(p *Processor) {
		if d <= 0 {
			p.limiter = nil
			return
		}
		p.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// NewProcessor creates a new batch processor
func NewProcessor(client tracker.Client, logger *zap.Logger, opts ...Option) *Processor {
	p := &Processor{
		client:        client,
		logger:        logger,
		deleteEnabled: true,
		parallelism:   1,
		newRunID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// slot holds the outcome of one report position. Positions are assigned
// before any work starts so completion order never reorders the report.
type slot struct {
	outcome Outcome
	done    bool
}

// Process applies created, then updated, then deleted items. Items not
// started before ctx is done get no outcome and the report is marked
// incomplete.
func (p *Processor) Process(ctx context.Context, b *types.TaskBatch) *Report {
	runID := p.newRunID()
	logger := p.logger.With(zap.String("run_id", runID))

	slots := make([]slot, b.Len())
	next := 0

	logger.Info("processing batch",
		zap.Int("created", len(b.Created)),
		zap.Int("updated", len(b.Updated)),
		zap.Int("deleted", len(b.Deleted)),
		zap.Int("items", len(slots)),
	)

	// created: a top level task and its subtasks form one unit of work
	units := make([]func(), 0, len(b.Created))
	for i := range b.Created {
		task := b.Created[i]
		tree := slots[next : next+countSubtree(task)]
		next += len(tree)
		ref := ItemRef{Kind: KindCreated, Index: i, Path: fmt.Sprintf("created[%d]", i)}
		units = append(units, func() {
			p.createTree(ctx, logger, task, ref, "", tree)
		})
	}
	p.runGroup(ctx, units)

	units = units[:0]
	for i := range b.Updated {
		item := b.Updated[i]
		s := &slots[next]
		next++
		ref := ItemRef{Kind: KindUpdated, Index: i, Path: fmt.Sprintf("updated[%d]", i)}
		units = append(units, func() {
			p.update(ctx, logger, item, ref, s)
		})
	}
	p.runGroup(ctx, units)

	units = units[:0]
	for i := range b.Deleted {
		issueID := b.Deleted[i]
		s := &slots[next]
		next++
		ref := ItemRef{Kind: KindDeleted, Index: i, Path: fmt.Sprintf("deleted[%d]", i)}
		units = append(units, func() {
			p.delete(ctx, logger, issueID, ref, s)
		})
	}
	p.runGroup(ctx, units)

	report := &Report{
		RunID:    runID,
		Outcomes: make([]Outcome, 0, len(slots)),
		Complete: true,
	}
	for _, s := range slots {
		if !s.done {
			report.Complete = false
			continue
		}
		report.Outcomes = append(report.Outcomes, s.outcome)
	}

	logger.Info("batch finished",
		zap.Int("succeeded", report.Succeeded()),
		zap.Int("failed", report.Failed()),
		zap.Bool("complete", report.Complete),
	)

	return report
}

// runGroup runs units with bounded parallelism and waits for all of them.
// Groups never interleave.
func (p *Processor) runGroup(ctx context.Context, units []func()) {
	var g errgroup.Group
	g.SetLimit(p.parallelism)
	for _, unit := range units {
		unit := unit
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			unit()
			return nil
		})
	}
	_ = g.Wait()
}

// createTree creates task, then its subtasks depth first with the new key as
// parent. slots covers task followed by its flattened descendants.
func (p *Processor) createTree(
	ctx context.Context,
	logger *zap.Logger,
	task types.CreatedTask,
	ref ItemRef,
	inheritedQueue string,
	slots []slot,
) {
	if ctx.Err() != nil {
		return
	}

	queue := firstNonEmpty(task.Queue, inheritedQueue, p.defaultQueue)
	key, err := p.create(ctx, task, queue)
	if err == errNotStarted {
		return
	}
	slots[0] = slot{outcome: p.outcome(logger, ref, key, err), done: true}

	offset := 1
	for i, sub := range task.Subtasks {
		n := countSubtree(sub)
		subRef := ItemRef{Kind: KindCreated, Index: ref.Index, Path: fmt.Sprintf("%s.subtasks[%d]", ref.Path, i)}
		subSlots := slots[offset : offset+n]
		offset += n

		if err != nil {
			p.skipTree(logger, sub, subRef, ref.Path, subSlots)
			continue
		}
		sub.Parent = key
		p.createTree(ctx, logger, sub, subRef, queue, subSlots)
	}
}

// skipTree fails sub and all its descendants because parentPath was not created
func (p *Processor) skipTree(logger *zap.Logger, sub types.CreatedTask, ref ItemRef, parentPath string, slots []slot) {
	err := &ItemError{Kind: Validation, Message: fmt.Sprintf("parent %s was not created", parentPath)}
	slots[0] = slot{outcome: p.outcome(logger, ref, "", err), done: true}

	offset := 1
	for i, child := range sub.Subtasks {
		n := countSubtree(child)
		childRef := ItemRef{Kind: KindCreated, Index: ref.Index, Path: fmt.Sprintf("%s.subtasks[%d]", ref.Path, i)}
		p.skipTree(logger, child, childRef, parentPath, slots[offset:offset+n])
		offset += n
	}
}

func (p *Processor) create(ctx context.Context, task types.CreatedTask, queue string) (string, error) {
	if strings.TrimSpace(task.Summary) == "" {
		return "", &ItemError{Kind: Validation, Message: "summary is required"}
	}
	if queue == "" {
		return "", &ItemError{Kind: Validation, Message: "queue is not set and no default_queue is configured"}
	}
	task.Queue = queue

	if err := p.wait(ctx); err != nil {
		return "", err
	}
	key, err := p.client.CreateIssue(ctx, task)
	if err != nil {
		return "", classify(err, "")
	}
	return key, nil
}

func (p *Processor) update(ctx context.Context, logger *zap.Logger, item types.UpdatedTask, ref ItemRef, s *slot) {
	err := func() error {
		if strings.TrimSpace(item.IssueID) == "" {
			return &ItemError{Kind: Validation, Message: "issue_id is required"}
		}
		if item.MutTask.IsEmpty() {
			return &ItemError{Kind: Validation, Message: "mut_task sets no fields"}
		}
		if err := p.wait(ctx); err != nil {
			return err
		}
		if err := p.client.UpdateIssue(ctx, item.IssueID, item.MutTask); err != nil {
			return classify(err, item.IssueID)
		}
		return nil
	}()
	if err == errNotStarted {
		return
	}
	*s = slot{outcome: p.outcome(logger, ref, item.IssueID, err), done: true}
}

func (p *Processor) delete(ctx context.Context, logger *zap.Logger, issueID string, ref ItemRef, s *slot) {
	err := func() error {
		if strings.TrimSpace(issueID) == "" {
			return &ItemError{Kind: Validation, Message: "issue id is required"}
		}
		if !p.deleteEnabled {
			return &ItemError{Kind: Validation, Message: "deletion is disabled by configuration"}
		}
		if err := p.wait(ctx); err != nil {
			return err
		}
		if err := p.client.DeleteIssue(ctx, issueID); err != nil {
			return classify(err, issueID)
		}
		return nil
	}()
	if err == errNotStarted {
		return
	}
	*s = slot{outcome: p.outcome(logger, ref, issueID, err), done: true}
}

// errNotStarted marks an item abandoned before its tracker call
var errNotStarted = &ItemError{Kind: Transient, Message: "not started"}

func (p *Processor) wait(ctx context.Context) error {
	if ctx.Err() != nil {
		return errNotStarted
	}
	if p.limiter == nil {
		return nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return errNotStarted
		}
		// the next slot lies past the deadline; the item was reached but
		// cannot be sent in time
		return &ItemError{Kind: Transient, Message: fmt.Sprintf("request interval exceeds deadline: %v", err)}
	}
	return nil
}

func (p *Processor) outcome(logger *zap.Logger, ref ItemRef, key string, err error) Outcome {
	if err == nil {
		logger.Info("item applied",
			zap.String("item", ref.Path),
			zap.String("issue", key),
		)
		return Outcome{Item: ref, IssueKey: key}
	}

	itemErr, ok := err.(*ItemError)
	if !ok {
		itemErr = &ItemError{Kind: Transient, Message: err.Error()}
	}
	logger.Warn("item failed",
		zap.String("item", ref.Path),
		zap.String("kind", string(itemErr.Kind)),
		zap.String("error", itemErr.Message),
	)
	return Outcome{Item: ref, Err: itemErr}
}

// classify maps a tracker error onto the item error kinds
func classify(err error, issueID string) *ItemError {
	code := tracker.StatusCode(err)
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &ItemError{Kind: Unauthorized, Message: err.Error()}
	case code == http.StatusNotFound:
		if issueID != "" {
			return &ItemError{Kind: NotFound, Message: fmt.Sprintf("issue %s not found", issueID)}
		}
		return &ItemError{Kind: NotFound, Message: err.Error()}
	case code > 0 && code < 500:
		return &ItemError{Kind: Rejected, Message: err.Error()}
	default:
		return &ItemError{Kind: Transient, Message: err.Error()}
	}
}

func countSubtree(task types.CreatedTask) int {
	n := 1
	for _, sub := range task.Subtasks {
		n += countSubtree(sub)
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
