// Package gitcache keeps local checkouts of remote repositories so that
// addons can be read from disk instead of through the GitHub API.
package gitcache

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/memory"
)

var ErrBranchNotFound = errors.New("branch not found")

// errUnusableCheckout marks a cached checkout that can only be fixed by
// cloning it again.
var errUnusableCheckout = errors.New("unusable checkout")

type Cache struct {
	dir        string
	depth      int
	maxRetries uint64
}

type Option func(*Cache)

// WithDepth limits the fetched history. Zero fetches everything.
func WithDepth(depth int) Option {
	return func(c *Cache) {
		c.depth = depth
	}
}

func WithMaxRetries(maxRetries uint64) Option {
	return func(c *Cache) {
		c.maxRetries = maxRetries
	}
}

func New(dir string, opts ...Option) *Cache {
	c := &Cache{
		dir:        dir,
		depth:      1,
		maxRetries: 5,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Path returns the checkout directory of a repository branch.
func (c *Cache) Path(repoURL, branch string) string {
	repoName := strings.TrimSuffix(repoURL[strings.LastIndex(repoURL, "/")+1:], ".git")
	hash := fmt.Sprintf("%x", sha256.Sum256([]byte(repoURL+"@"+branch)))

	name := repoName
	if branch != "" {
		name += "-" + strings.ReplaceAll(branch, "/", "_")
	}

	return filepath.Join(c.dir, name+"-"+hash[:12])
}

// Sync clones the branch of a repository, or pulls it when it is already
// cached, and returns the checkout directory. An empty branch tracks the
// remote HEAD.
func (c *Cache) Sync(ctx context.Context, repoURL, branch string) (string, error) {
	clonePath := c.Path(repoURL, branch)
	logger := slog.With(slog.String("repository", repoURL), slog.String("branch", branch), slog.String("path", clonePath))

	var referenceName plumbing.ReferenceName
	if branch != "" {
		referenceName = plumbing.NewBranchReferenceName(branch)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)

	if err := backoff.Retry(func() error {
		err := c.pull(ctx, clonePath, referenceName, logger)
		switch {
		case err == nil:
			return nil

		case errors.Is(err, errUnusableCheckout):
			if !errors.Is(err, git.ErrRepositoryNotExists) {
				logger.Warn("cached repository is unusable, removing it", slog.Any("error", err))
			}

		default:
			return classifyRemoteError("failed to pull repository", branch, err, logger)
		}

		if err := os.RemoveAll(clonePath); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to remove repository: %w", err))
		}

		logger.Debug("cloning repository")
		_, err = git.PlainCloneContext(ctx, clonePath, false, &git.CloneOptions{
			URL:           repoURL,
			ReferenceName: referenceName,
			SingleBranch:  true,
			Depth:         c.depth,
			Tags:          git.NoTags,
		})
		if err != nil {
			_ = os.RemoveAll(clonePath)
			return classifyRemoteError("failed to clone repository", branch, err, logger)
		}

		return nil
	}, policy); err != nil {
		return "", err
	}

	return clonePath, nil
}

// pull updates an existing checkout. Errors wrapping errUnusableCheckout come
// from the checkout itself, any other error from the remote.
func (c *Cache) pull(ctx context.Context, clonePath string, referenceName plumbing.ReferenceName, logger *slog.Logger) error {
	r, err := git.PlainOpen(clonePath)
	if err != nil {
		return fmt.Errorf("%w: failed to open repository: %w", errUnusableCheckout, err)
	}

	w, err := r.Worktree()
	if err != nil {
		return fmt.Errorf("%w: failed to get worktree: %w", errUnusableCheckout, err)
	}

	logger.Debug("pulling repository")
	err = w.PullContext(ctx, &git.PullOptions{
		RemoteName:    git.DefaultRemoteName,
		ReferenceName: referenceName,
		SingleBranch:  true,
		Depth:         c.depth,
		Force:         true,
	})
	switch {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
		return nil

	case errors.Is(err, git.ErrNonFastForwardUpdate),
		errors.Is(err, plumbing.ErrObjectNotFound),
		errors.Is(err, git.ErrRemoteNotFound):
		return fmt.Errorf("%w: %w", errUnusableCheckout, err)
	}

	return err
}

// classifyRemoteError wraps a clone or pull error, making it permanent when
// retrying cannot help.
func classifyRemoteError(msg, branch string, err error, logger *slog.Logger) error {
	switch {
	case errors.Is(err, transport.ErrRepositoryNotFound),
		errors.Is(err, transport.ErrAuthenticationRequired):
		return backoff.Permanent(fmt.Errorf("%s: %w", msg, err))

	case isUnknownReference(err):
		return backoff.Permanent(fmt.Errorf("%w: %s: %w", ErrBranchNotFound, branch, err))
	}

	logger.Warn(msg, slog.Any("error", err))
	return fmt.Errorf("%s: %w", msg, err)
}

func isUnknownReference(err error) bool {
	var noMatching git.NoMatchingRefSpecError
	if errors.As(err, &noMatching) {
		return true
	}

	return errors.Is(err, plumbing.ErrReferenceNotFound)
}

// RemoteBranches lists the branches of a remote repository without cloning
// it.
func RemoteBranches(ctx context.Context, repoURL string) ([]string, error) {
	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: git.DefaultRemoteName,
		URLs: []string{repoURL},
	})

	refs, err := remote.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list remote references: %w", err)
	}

	var branches []string
	for _, ref := range refs {
		if ref.Name().IsBranch() {
			branches = append(branches, ref.Name().Short())
		}
	}
	sort.Strings(branches)

	return branches, nil
}
