// Package gitrepo keeps an audit journal of roster transitions in a git repository. Every approval
// writes members/<subject>.json and every removal deletes it, each as its own commit on main.
package gitrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"ecoroster/console/internal/auth"
	"ecoroster/console/internal/roster"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const mainBranch = "main"

// Entry is one journal commit.
type Entry struct {
	Hash      string
	Message   string
	Author    string
	Email     string
	CreatedAt time.Time
}

// Journal is a git-backed transition log. It is safe for concurrent use.
type Journal struct {
	dir  string
	mu   sync.Mutex
	repo *git.Repository
}

// Open opens the journal repository in dir, creating it with an empty main branch if needed.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(dir, false)
		if err != nil {
			return nil, fmt.Errorf("init journal repo: %w", err)
		}
		if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
			return nil, fmt.Errorf("set HEAD to main: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open journal repo: %w", err)
	}
	return &Journal{dir: dir, repo: repo}, nil
}

func (j *Journal) RecordApproval(ctx context.Context, requestID string, m roster.Member, by *auth.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	worktree, err := j.repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal member: %w", err)
	}
	rel := memberPath(m.SubjectID)
	if err := os.MkdirAll(filepath.Join(j.dir, "members"), 0o755); err != nil {
		return fmt.Errorf("create members dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(j.dir, filepath.FromSlash(rel)), append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	if _, err := worktree.Add(rel); err != nil {
		return fmt.Errorf("git add %s: %w", rel, err)
	}

	message := fmt.Sprintf("Approve request %s as member %s\n\nname: %s\nbarangay: %s", requestID, m.SubjectID, m.Name, m.Barangay)
	return j.commit(worktree, message, by)
}

func (j *Journal) RecordRemoval(ctx context.Context, m roster.Member, by *auth.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	worktree, err := j.repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	rel := memberPath(m.SubjectID)
	if _, err := os.Stat(filepath.Join(j.dir, filepath.FromSlash(rel))); err == nil {
		if _, err := worktree.Remove(rel); err != nil {
			return fmt.Errorf("git rm %s: %w", rel, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", rel, err)
	}

	// members approved before the journal existed still get a removal entry
	return j.commit(worktree, fmt.Sprintf("Remove member %s", m.SubjectID), by)
}

// History returns up to limit entries, newest first. limit <= 0 returns everything.
func (j *Journal) History(limit int) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	head, err := j.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}

	iter, err := j.repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Entry, 0)
	err = iter.ForEach(func(c *object.Commit) error {
		items = append(items, toEntry(c))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// MemberAt reads the member record as of revision, which may be a short hash, a full hash or a
// ref name such as "HEAD~1".
func (j *Journal) MemberAt(revision, subjectID string) (roster.Member, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	hash, err := resolveHash(j.repo, revision)
	if err != nil {
		return roster.Member{}, err
	}
	c, err := j.repo.CommitObject(hash)
	if err != nil {
		return roster.Member{}, fmt.Errorf("read commit %s: %w", revision, err)
	}
	file, err := c.File(memberPath(subjectID))
	if err != nil {
		return roster.Member{}, fmt.Errorf("load %s at %s: %w", subjectID, revision, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return roster.Member{}, fmt.Errorf("open member reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return roster.Member{}, fmt.Errorf("read member bytes: %w", err)
	}
	var m roster.Member
	if err := json.Unmarshal(raw, &m); err != nil {
		return roster.Member{}, fmt.Errorf("decode member: %w", err)
	}
	return m, nil
}

func (j *Journal) commit(worktree *git.Worktree, message string, by *auth.Identity) error {
	name, email := "roster-console", "console@localhost"
	if by != nil {
		email = by.Email
		name = by.DisplayName
		if name == "" {
			name = by.Email
		}
	}
	_, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  name,
			Email: email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("commit journal entry: %w", err)
	}
	return nil
}

func memberPath(subjectID string) string {
	return path.Join("members", sanitizeFileName(subjectID)+".json")
}

func toEntry(c *object.Commit) Entry {
	return Entry{
		Hash:      c.Hash.String()[:7],
		Message:   c.Message,
		Author:    c.Author.Name,
		Email:     c.Author.Email,
		CreatedAt: c.Author.When,
	}
}

// sanitizeFileName keeps ids usable as file names on every platform.
func sanitizeFileName(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			out = append(out, r)
			continue
		}
		out = append(out, '_')
	}
	if len(out) == 0 {
		return "unknown"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve revision %s: %w", hash, err)
	}
	return *resolved, nil
}
