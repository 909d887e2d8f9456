package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathFilter_AdmitsFilesUnderRoot(t *testing.T) {
	t.Parallel()

	pf, err := NewPathFilter("/repo", nil)
	require.NoError(t, err)

	assert.True(t, pf.Admit("/repo/main.go"))
	assert.True(t, pf.Admit("/repo/internal/pipeline/queue.go"))
}

func TestPathFilter_RejectsOutsideRoot(t *testing.T) {
	t.Parallel()

	pf, err := NewPathFilter("/repo", nil)
	require.NoError(t, err)

	assert.False(t, pf.Admit("/other/main.go"))
	assert.False(t, pf.Admit("/repo/../escape.go"))
	assert.False(t, pf.Admit("/repository/main.go"), "sibling with shared prefix")
}

func TestPathFilter_IgnorePatterns(t *testing.T) {
	t.Parallel()

	pf, err := NewPathFilter("/repo", []string{
		"node_modules/**",
		".git/**",
		"**/*.tmp",
	})
	require.NoError(t, err)

	assert.False(t, pf.Admit("/repo/node_modules/pkg/index.js"))
	assert.False(t, pf.Admit("/repo/.git/HEAD"))
	assert.False(t, pf.Admit("/repo/deep/dir/scratch.tmp"))

	// "**/"-prefixed patterns also match root-level paths.
	assert.False(t, pf.Admit("/repo/scratch.tmp"))

	assert.True(t, pf.Admit("/repo/src/app.js"))
}

func TestPathFilter_AlwaysIgnoresOwnStateDir(t *testing.T) {
	t.Parallel()

	pf, err := NewPathFilter("/repo", nil)
	require.NoError(t, err)

	assert.False(t, pf.Admit("/repo/.metawatch/index.db"))
	assert.False(t, pf.AdmitDir("/repo/.metawatch"))
}

func TestPathFilter_AdmitDir(t *testing.T) {
	t.Parallel()

	pf, err := NewPathFilter("/repo", []string{"vendor/**"})
	require.NoError(t, err)

	assert.True(t, pf.AdmitDir("/repo"))
	assert.True(t, pf.AdmitDir("/repo/internal"))
	// Directory matches "vendor/**" via the /** suffix check.
	assert.False(t, pf.AdmitDir("/repo/vendor"))
	assert.False(t, pf.AdmitDir("/repo/vendor/github.com"))
}

func TestPathFilter_InvalidPattern(t *testing.T) {
	t.Parallel()

	_, err := NewPathFilter("/repo", []string{"[unclosed"})
	assert.Error(t, err)
}
