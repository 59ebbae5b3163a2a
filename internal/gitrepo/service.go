// Package gitrepo archives published case snapshots as git history, one
// repository per case. Every publish becomes a commit on main tagged with the
// snapshot id, which keeps an auditable trail even after the case itself is
// deleted.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const snapshotFile = "case.json"

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// CommitSnapshot records one published tree and returns the short commit hash.
// The repository is created on the first publish of a case.
func (s *Service) CommitSnapshot(ctx context.Context, caseID, snapshotID string, tree []byte) (string, error) {
	lock := s.caseLock(caseID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(caseID)
	if err != nil {
		return "", err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	payload := tree
	if len(payload) == 0 || payload[len(payload)-1] != '\n' {
		payload = append(payload, '\n')
	}
	if err := os.WriteFile(filepath.Join(repoRoot, snapshotFile), payload, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot file: %w", err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return "", fmt.Errorf("git add snapshot: %w", err)
	}

	hash, err := worktree.Commit(fmt.Sprintf("Publish snapshot %s", snapshotID), &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  "casemark",
			Email: "publisher@casemark.local",
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("commit snapshot: %w", err)
	}

	_, err = repo.CreateTag(snapshotID, hash, &git.CreateTagOptions{
		Tagger: &object.Signature{
			Name:  "casemark",
			Email: "publisher@casemark.local",
			When:  time.Now(),
		},
		Message: snapshotID,
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return "", fmt.Errorf("tag snapshot: %w", err)
	}

	return hash.String()[:7], nil
}

// History lists the publish commits of a case, newest first.
func (s *Service) History(ctx context.Context, caseID string) ([]map[string]any, error) {
	lock := s.caseLock(caseID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(caseID))
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return []map[string]any{}, nil
		}
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return []map[string]any{}, nil
		}
		return nil, fmt.Errorf("resolve main: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]map[string]any, 0)
	err = iter.ForEach(func(c *object.Commit) error {
		items = append(items, map[string]any{
			"hash":       c.Hash.String()[:7],
			"message":    c.Message,
			"author":     c.Author.Name,
			"created_at": c.Author.When.UTC().Format(time.RFC3339),
		})
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// SnapshotByTag reads the archived tree of one published snapshot.
func (s *Service) SnapshotByTag(ctx context.Context, caseID, snapshotID string) ([]byte, error) {
	lock := s.caseLock(caseID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(caseID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(snapshotID))
	if err != nil {
		return nil, fmt.Errorf("resolve snapshot %s: %w", snapshotID, err)
	}
	commitObj, err := repo.CommitObject(*resolved)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", snapshotID, err)
	}
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return nil, fmt.Errorf("load snapshot from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func (s *Service) openOrInit(caseID string) (*git.Repository, error) {
	path := s.repoPath(caseID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(caseID string) string {
	return filepath.Join(s.baseDir, caseID)
}

func (s *Service) caseLock(caseID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[caseID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[caseID] = lock
	return lock
}
