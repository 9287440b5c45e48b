// Package tracker wraps the GitHub issues API with the small typed surface
// the triage queue and sync reconciler need.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"
)

// PageSize is the fixed page size used for every list call.
const PageSize = 100

// Item states accepted by ListItems and Update.
const (
	StateOpen   = "open"
	StateClosed = "closed"
	StateAll    = "all"
)

// Item is an issue as seen by the tracker.
type Item struct {
	Number    int
	Title     string
	Body      string
	State     string
	Author    string
	URL       string
	Labels    []string
	Comments  int
	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  time.Time
}

// Comment is one issue comment.
type Comment struct {
	ID        int64
	Author    string
	Body      string
	CreatedAt time.Time
}

// Page is one page of ListItems results. Size counts every entry the API
// returned, including pull requests that were filtered out of Items.
type Page struct {
	Items  []Item
	Number int
	Size   int
}

// Last reports whether this was the final page.
func (p Page) Last() bool {
	return p.Size < PageSize
}

// Update describes an item mutation. Empty State and nil Labels leave the
// field unchanged.
type Update struct {
	State  string
	Labels []string
}

// Options configures a Client.
type Options struct {
	Owner string
	Repo  string
	Token string
	// BaseURL overrides the API root (GitHub Enterprise, tests).
	BaseURL string
	// HTTPClient is used instead of http.DefaultClient when set.
	HTTPClient *http.Client
}

// Client is a GitHub issues client scoped to one repository.
type Client struct {
	gh    *github.Client
	owner string
	repo  string
}

// New creates a client for opts.Owner/opts.Repo.
func New(opts Options) (*Client, error) {
	if opts.Owner == "" || opts.Repo == "" {
		return nil, errors.New("tracker: owner and repo are required")
	}
	gh := github.NewClient(opts.HTTPClient)
	if opts.Token != "" {
		gh = gh.WithAuthToken(opts.Token)
	}
	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("tracker: parse base url: %w", err)
		}
		gh.BaseURL = u
	}
	return &Client{gh: gh, owner: opts.Owner, repo: opts.Repo}, nil
}

// Repo returns "owner/name".
func (c *Client) Repo() string {
	return c.owner + "/" + c.repo
}

// ListItems returns one page of issues in the given state, optionally
// restricted to issues carrying all of labels. Pages are 1-based.
func (c *Client) ListItems(ctx context.Context, state string, labels []string, page int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if state == "" {
		state = StateOpen
	}
	opts := &github.IssueListByRepoOptions{
		State:       state,
		Labels:      labels,
		Sort:        "created",
		Direction:   "desc",
		ListOptions: github.ListOptions{Page: page, PerPage: PageSize},
	}
	issues, _, err := c.gh.Issues.ListByRepo(ctx, c.owner, c.repo, opts)
	if err != nil {
		return Page{Number: page}, fmt.Errorf("list %s issues page %d: %w", state, page, err)
	}

	p := Page{Number: page, Size: len(issues)}
	for _, is := range issues {
		if is.IsPullRequest() {
			continue
		}
		p.Items = append(p.Items, convertIssue(is))
	}
	return p, nil
}

// GetItem fetches one issue.
func (c *Client) GetItem(ctx context.Context, number int) (Item, error) {
	is, _, err := c.gh.Issues.Get(ctx, c.owner, c.repo, number)
	if err != nil {
		return Item{}, fmt.Errorf("get issue #%d: %w", number, err)
	}
	return convertIssue(is), nil
}

// ListComments returns every comment on an issue, oldest first.
func (c *Client) ListComments(ctx context.Context, number int) ([]Comment, error) {
	var comments []Comment
	for page := 1; ; page++ {
		opts := &github.IssueListCommentsOptions{
			ListOptions: github.ListOptions{Page: page, PerPage: PageSize},
		}
		batch, _, err := c.gh.Issues.ListComments(ctx, c.owner, c.repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("list comments for #%d page %d: %w", number, page, err)
		}
		for _, cm := range batch {
			comments = append(comments, Comment{
				ID:        cm.GetID(),
				Author:    cm.GetUser().GetLogin(),
				Body:      cm.GetBody(),
				CreatedAt: cm.GetCreatedAt().Time,
			})
		}
		if len(batch) < PageSize {
			return comments, nil
		}
	}
}

// UpdateItem overwrites the issue's state and/or labels.
func (c *Client) UpdateItem(ctx context.Context, number int, u Update) (Item, error) {
	req := &github.IssueRequest{}
	if u.State != "" {
		if u.State != StateOpen && u.State != StateClosed {
			return Item{}, fmt.Errorf("invalid issue state %q", u.State)
		}
		req.State = github.Ptr(u.State)
	}
	if u.Labels != nil {
		labels := append([]string{}, u.Labels...)
		req.Labels = &labels
	}
	is, _, err := c.gh.Issues.Edit(ctx, c.owner, c.repo, number, req)
	if err != nil {
		return Item{}, fmt.Errorf("update issue #%d: %w", number, err)
	}
	return convertIssue(is), nil
}

func convertIssue(is *github.Issue) Item {
	item := Item{
		Number:    is.GetNumber(),
		Title:     is.GetTitle(),
		Body:      is.GetBody(),
		State:     is.GetState(),
		Author:    is.GetUser().GetLogin(),
		URL:       is.GetHTMLURL(),
		Comments:  is.GetComments(),
		CreatedAt: is.GetCreatedAt().Time,
		UpdatedAt: is.GetUpdatedAt().Time,
		ClosedAt:  is.GetClosedAt().Time,
	}
	for _, l := range is.Labels {
		if name := l.GetName(); name != "" {
			item.Labels = append(item.Labels, name)
		}
	}
	return item
}

// IsTransient reports whether err is a rate limit, server or network error
// worth retrying later.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil && respErr.Response.StatusCode >= 500 {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
