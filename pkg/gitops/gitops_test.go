// Copyright 2025 Jinn Network
package gitops

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Jinn-Network/jinn-node-sub004/pkg/domain"
)

func TestValidateRemote_AllowsGitHubHTTPSAndSSH(t *testing.T) {
	require.NoError(t, ValidateRemote("https://github.com/acme/widgets"))
	require.NoError(t, ValidateRemote("https://github.com/acme/widgets.git"))
	require.NoError(t, ValidateRemote("git@github.com:acme/widgets.git"))
}

func TestValidateRemote_RejectsArbitraryScheme(t *testing.T) {
	err := ValidateRemote("file:///etc/passwd")
	require.Error(t, err)
	require.Equal(t, domain.ErrUnsafeCloneURL, domain.CodeOf(err))
}

func TestValidateRemote_RejectsNonGitHubHost(t *testing.T) {
	err := ValidateRemote("https://evil.example.com/acme/widgets.git")
	require.Error(t, err)
	require.Equal(t, domain.ErrUnsafeCloneURL, domain.CodeOf(err))
}

func TestRewriteSSHAlias_RewritesOnlyWhenAliasConfigured(t *testing.T) {
	s := New("/tmp/ws", "github-alias")
	require.Equal(t, "git@github-alias:acme/widgets.git", s.rewriteSSHAlias("git@github.com:acme/widgets.git"))

	s2 := New("/tmp/ws", "")
	require.Equal(t, "git@github.com:acme/widgets.git", s2.rewriteSSHAlias("git@github.com:acme/widgets.git"))
}

func TestCommitMessageFrom_FirstNonEmptyBulletTruncatedTo72(t *testing.T) {
	msg := commitMessageFrom("\n- fixed the thing that was broken in the widget factory module today for real\n- secondary bullet")
	require.LessOrEqual(t, len(msg), 72)
	require.Equal(t, "fixed the thing that was broken in the widget factory module today for r", msg)
}

func TestCommitMessageFrom_FallsBackToSyntheticLabel(t *testing.T) {
	require.Equal(t, "automated job commit", commitMessageFrom("   \n  \n"))
}

func TestIsNonFastForward_RecognizesRejectionMessages(t *testing.T) {
	require.True(t, isNonFastForward(errors.New("! [rejected] main -> main (non-fast-forward)")))
	require.True(t, isNonFastForward(errors.New("Updates were rejected because the remote contains work")))
	require.False(t, isNonFastForward(errors.New("permission denied (publickey)")))
}
