// Package syncer folds remote tracker state into the metadata store in
// one-shot batch passes.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/chhoumann/claude-github-triage/internal/metadata"
	"github.com/chhoumann/claude-github-triage/internal/tracker"
)

// ErrSyncInProgress is returned when a pass is already running against the
// same reconciler.
var ErrSyncInProgress = errors.New("sync already in progress")

// ItemLister pages through tracker items.
type ItemLister interface {
	ListItems(ctx context.Context, state string, labels []string, page int) (tracker.Page, error)
}

// Result counts what a closed-issue pass saw and did.
type Result struct {
	TotalClosedSeen   int `json:"totalClosedSeen"`
	Updated           int `json:"updated"`
	AlreadyConsistent int `json:"alreadyConsistent"`
	// Unanalyzed counts closed issues with no artifact; they are kept as
	// bare records.
	Unanalyzed int `json:"unanalyzed"`
	Pages      int `json:"pages"`
}

// BackfillResult counts what an open-issue backfill pass saw.
type BackfillResult struct {
	Seen  int `json:"seen"`
	Pages int `json:"pages"`
}

// Reconciler runs sync passes. Passes on one Reconciler never overlap.
type Reconciler struct {
	lister ItemLister
	store  *metadata.Store
	// Labels restricts passes to issues carrying all of these labels.
	Labels []string

	running sync.Mutex
}

// New creates a reconciler.
func New(lister ItemLister, store *metadata.Store) *Reconciler {
	return &Reconciler{lister: lister, store: store}
}

// Run pages through closed issues and folds each into the store. On a
// failed page it returns the counts accumulated so far with the error.
func (r *Reconciler) Run(ctx context.Context) (Result, error) {
	var res Result
	if !r.running.TryLock() {
		return res, ErrSyncInProgress
	}
	defer r.running.Unlock()

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		p, err := r.lister.ListItems(ctx, tracker.StateClosed, r.Labels, page)
		if err != nil {
			log.Printf("Sync: page %d failed after %d items: %v", page, res.TotalClosedSeen, err)
			return res, err
		}
		res.Pages++

		for _, item := range p.Items {
			res.TotalClosedSeen++
			outcome, err := r.store.ApplyRemoteClosed(remoteItem(item))
			if err != nil {
				return res, fmt.Errorf("apply #%d: %w", item.Number, err)
			}
			switch outcome {
			case metadata.OutcomePromoted, metadata.OutcomeMarkedClosed:
				res.Updated++
			case metadata.OutcomeConsistent:
				res.AlreadyConsistent++
			case metadata.OutcomeUnanalyzed:
				res.Unanalyzed++
			}
		}
		if p.Last() {
			break
		}
	}

	log.Printf("Sync: %d closed seen, %d updated, %d already consistent, %d unanalyzed",
		res.TotalClosedSeen, res.Updated, res.AlreadyConsistent, res.Unanalyzed)
	return res, nil
}

// Backfill pages through open issues and folds their title, dates and open
// state into the store, creating bare records for unknown issues.
func (r *Reconciler) Backfill(ctx context.Context) (BackfillResult, error) {
	var res BackfillResult
	if !r.running.TryLock() {
		return res, ErrSyncInProgress
	}
	defer r.running.Unlock()

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		p, err := r.lister.ListItems(ctx, tracker.StateOpen, r.Labels, page)
		if err != nil {
			return res, err
		}
		res.Pages++

		items := make([]metadata.RemoteItem, 0, len(p.Items))
		for _, item := range p.Items {
			items = append(items, remoteItem(item))
		}
		if err := r.store.ReconcileFromRemote(items); err != nil {
			return res, err
		}
		res.Seen += len(items)
		if p.Last() {
			break
		}
	}

	log.Printf("Sync: backfilled %d open issues", res.Seen)
	return res, nil
}

func remoteItem(item tracker.Item) metadata.RemoteItem {
	return metadata.RemoteItem{
		Number:    item.Number,
		Title:     item.Title,
		State:     item.State,
		CreatedAt: item.CreatedAt,
		UpdatedAt: item.UpdatedAt,
	}
}
