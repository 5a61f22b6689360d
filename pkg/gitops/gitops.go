// Copyright 2025 Jinn Network
//
// Package gitops implements the coding-job git sub-pipeline (spec §4.6 "Git
// sub-pipeline"): clone/fetch with an allowlisted remote, branch-from-
// resolved-base, auto-commit, push with non-fast-forward recovery. No
// teacher package shells out to git; the argv-array subprocess discipline
// here follows the teacher's general avoidance of shell string
// interpolation, the one subprocess boundary this spec requires.
package gitops

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Jinn-Network/jinn-node-sub004/pkg/domain"
)

// Per-operation timeouts (spec §4.6 "per-operation timeouts").
const (
	CloneTimeout  = 10 * time.Minute
	FetchTimeout  = 2 * time.Minute
	PushTimeout   = 60 * time.Second
	StatusTimeout = 10 * time.Second
)

var (
	githubHTTPSRemote = regexp.MustCompile(`^https://github\.com/[\w.-]+/[\w.-]+(\.git)?$`)
	githubSSHRemote   = regexp.MustCompile(`^git@github\.com:[\w.-]+/[\w.-]+(\.git)?$`)
)

// Service runs git operations for coding jobs, one workspace clone per
// repository URL. An explicit per-workspace mutex serializes concurrent
// coding jobs against the same clone (SPEC_FULL.md §9 Open Question
// resolution: additive safety for IN_FLIGHT_CAP > 1, not a behavior change
// to the single-in-flight default).
type Service struct {
	workspaceRoot string
	sshHostAlias  string
	logger        *log.Logger

	mu        sync.Mutex
	workspace map[string]*sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *log.Logger) Option { return func(s *Service) { s.logger = l } }

// New constructs a Service rooted at workspaceRoot. sshHostAlias, if set,
// rewrites git@github.com to the given alias when cloning over SSH (spec
// §6 "optional SSH-host-alias rewrite").
func New(workspaceRoot, sshHostAlias string, opts ...Option) *Service {
	s := &Service{
		workspaceRoot: workspaceRoot,
		sshHostAlias:  sshHostAlias,
		logger:        log.New(log.Writer(), "[GitOps] ", log.LstdFlags),
		workspace:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lockFor returns (and creates if needed) the per-repository-URL mutex.
func (s *Service) lockFor(repoURL string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.workspace[repoURL]
	if !ok {
		m = &sync.Mutex{}
		s.workspace[repoURL] = m
	}
	return m
}

// ValidateRemote enforces the strict allowlist from spec §4.6: GitHub HTTPS
// or GitHub SSH only, to prevent arbitrary URL scheme injection.
func ValidateRemote(repoURL string) error {
	if githubHTTPSRemote.MatchString(repoURL) || githubSSHRemote.MatchString(repoURL) {
		return nil
	}
	return domain.NewTaggedError(domain.ErrUnsafeCloneURL, "", "gitops.ValidateRemote", fmt.Errorf("remote %q is not an allowlisted GitHub URL", repoURL))
}

// rewriteSSHAlias substitutes the configured host alias for git@github.com
// when cloning over SSH (spec §6).
func (s *Service) rewriteSSHAlias(repoURL string) string {
	if s.sshHostAlias == "" || !githubSSHRemote.MatchString(repoURL) {
		return repoURL
	}
	return strings.Replace(repoURL, "git@github.com:", "git@"+s.sshHostAlias+":", 1)
}

// EnsureClone clones repoURL into its workspace directory if absent, or
// fetches if present (spec §4.6 "Clone if absent, fetch if present").
// Returns the local workspace directory path.
func (s *Service) EnsureClone(ctx context.Context, code domain.CodeMetadata) (string, error) {
	if err := ValidateRemote(code.RepositoryURL); err != nil {
		return "", err
	}
	lock := s.lockFor(code.RepositoryURL)
	lock.Lock()
	defer lock.Unlock()

	dir := s.dirFor(code.RepositoryURL)
	if dirExists(dir) {
		if err := s.run(ctx, dir, FetchTimeout, "fetch", "origin"); err != nil {
			return "", domain.NewTaggedError(domain.ErrUnknown, "", "gitops.fetch", err)
		}
		return dir, nil
	}

	remote := s.rewriteSSHAlias(code.RepositoryURL)
	if err := s.run(ctx, s.workspaceRoot, CloneTimeout, "clone", remote, dir); err != nil {
		return "", domain.NewTaggedError(domain.ErrUnknown, "", "gitops.clone", err)
	}
	return dir, nil
}

// EnsureBranch ensures branch job/<jobDefinitionID>[-<slug>] exists,
// branching from the resolved base: prefer the remote ref, fall back to the
// local ref, and if the parent branch has never been pushed, branch from
// the current HEAD commit (spec §4.6 "Ensure a branch ... exists").
func (s *Service) EnsureBranch(ctx context.Context, dir, jobDefinitionID, slug, baseBranch string) (string, error) {
	branch := "job/" + jobDefinitionID
	if slug != "" {
		branch += "-" + slug
	}

	if s.branchExists(ctx, dir, branch) {
		if err := s.run(ctx, dir, StatusTimeout, "checkout", branch); err != nil {
			return "", domain.NewTaggedError(domain.ErrUnknown, "", "gitops.checkout", err)
		}
		return branch, nil
	}

	base := s.resolveBase(ctx, dir, baseBranch)
	if err := s.run(ctx, dir, StatusTimeout, "checkout", "-b", branch, base); err != nil {
		return "", domain.NewTaggedError(domain.ErrUnknown, "", "gitops.branch", err)
	}
	return branch, nil
}

// resolveBase prefers the remote ref for baseBranch, falls back to the
// local ref, and finally falls back to HEAD if the base has never been
// pushed (spec §4.6).
func (s *Service) resolveBase(ctx context.Context, dir, baseBranch string) string {
	if baseBranch == "" {
		return "HEAD"
	}
	remoteRef := "origin/" + baseBranch
	if s.refExists(ctx, dir, remoteRef) {
		return remoteRef
	}
	if s.refExists(ctx, dir, baseBranch) {
		return baseBranch
	}
	return "HEAD"
}

func (s *Service) branchExists(ctx context.Context, dir, branch string) bool {
	return s.refExists(ctx, dir, branch)
}

func (s *Service) refExists(ctx context.Context, dir, ref string) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--verify", "--quiet", ref)
	cmd.Dir = dir
	return cmd.Run() == nil
}

// CommitIfDirty stages and commits any uncommitted changes with a message
// derived from the execution summary: the first non-empty bullet, truncated
// to 72 characters, falling back to a synthetic label (spec §4.6
// "Post-execution, auto-stage+commit").
func (s *Service) CommitIfDirty(ctx context.Context, dir, summary string) (bool, error) {
	out, err := s.output(ctx, dir, StatusTimeout, "status", "--porcelain")
	if err != nil {
		return false, domain.NewTaggedError(domain.ErrUnknown, "", "gitops.status", err)
	}
	if strings.TrimSpace(out) == "" {
		return false, nil
	}
	if err := s.run(ctx, dir, StatusTimeout, "add", "-A"); err != nil {
		return false, domain.NewTaggedError(domain.ErrUnknown, "", "gitops.add", err)
	}
	message := commitMessageFrom(summary)
	if err := s.run(ctx, dir, StatusTimeout, "commit", "-m", message); err != nil {
		return false, domain.NewTaggedError(domain.ErrUnknown, "", "gitops.commit", err)
	}
	return true, nil
}

// commitMessageFrom picks the first non-empty bullet of summary, truncated
// to 72 chars, or a synthetic label when summary has no usable line.
func commitMessageFrom(summary string) string {
	for _, line := range strings.Split(summary, "\n") {
		trimmed := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*• "))
		if trimmed == "" {
			continue
		}
		if len(trimmed) > 72 {
			trimmed = trimmed[:72]
		}
		return trimmed
	}
	return "automated job commit"
}

// PushWithRebaseRecovery pushes branch with -u; on a non-fast-forward
// rejection it fetches, rebases, and re-pushes once. A conflicting rebase
// aborts and surfaces NON_FAST_FORWARD (spec §4.6 "Push with -u. On
// non-fast-forward rejection, fetch + rebase + re-push; abort rebase on
// conflict, surface NON_FAST_FORWARD", scenario S5).
func (s *Service) PushWithRebaseRecovery(ctx context.Context, dir, branch string) error {
	err := s.run(ctx, dir, PushTimeout, "push", "-u", "origin", branch)
	if err == nil {
		return nil
	}
	if !isNonFastForward(err) {
		return domain.NewTaggedError(domain.ErrUnknown, "", "gitops.push", err)
	}

	if fetchErr := s.run(ctx, dir, FetchTimeout, "fetch", "origin"); fetchErr != nil {
		return domain.NewTaggedError(domain.ErrNonFastForward, "", "gitops.push.fetch", fetchErr)
	}
	if rebaseErr := s.run(ctx, dir, FetchTimeout, "rebase", "origin/"+branch); rebaseErr != nil {
		_ = s.run(ctx, dir, StatusTimeout, "rebase", "--abort")
		return domain.NewTaggedError(domain.ErrNonFastForward, "", "gitops.push.rebase", rebaseErr)
	}
	if pushErr := s.run(ctx, dir, PushTimeout, "push", "-u", "origin", branch); pushErr != nil {
		return domain.NewTaggedError(domain.ErrNonFastForward, "", "gitops.push.retry", pushErr)
	}
	return nil
}

func isNonFastForward(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "non-fast-forward") || strings.Contains(msg, "fetch first") || strings.Contains(msg, "rejected")
}

func (s *Service) dirFor(repoURL string) string {
	name := repoURL
	name = strings.TrimSuffix(name, ".git")
	if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
		name = name[idx+1:]
	}
	return s.workspaceRoot + "/" + name
}

// run executes git with an explicit argument array (no shell interpolation,
// spec §4.6 "All git calls use argument-array invocation") under a
// per-operation timeout.
func (s *Service) run(ctx context.Context, dir string, timeout time.Duration, args ...string) error {
	_, err := s.output(ctx, dir, timeout, args...)
	return err
}

func (s *Service) output(ctx context.Context, dir string, timeout time.Duration, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String(), nil
}

func dirExists(dir string) bool {
	info, err := os.Stat(dir + "/.git")
	return err == nil && info.IsDir()
}
