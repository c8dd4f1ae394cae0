package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenario(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: full
description: "every field"
kind_name_prefix: Billing
retry_budget: "250ms"
conflicts: 1
seed:
  counters:
    - { prefix: "M", last_id: 41 }
  issuances:
    - { prefix: "A_", designator: "A_1", id: 1 }
flow:
  - op: allocate
    prefix: "M"
    initial_id: -5
    count: 3
    concurrent: true
    expect:
      designators: ["M42", "M43", "M44"]
  - op: series
    prefix: "M"
    expect:
      last_id: 44
assertions:
  - type: unique
  - type: contiguous
    prefix: "M"
    from: 42
    count: 3
`))
	require.NoError(t, err)

	assert.Equal(t, "full", s.Name)
	assert.Equal(t, "Billing", s.KindNamePrefix)
	assert.Equal(t, 1, s.Conflicts)
	require.Len(t, s.Seed.Counters, 1)
	assert.Equal(t, int64(41), s.Seed.Counters[0].LastID)
	require.Len(t, s.Seed.Issuances, 1)
	assert.Equal(t, "A_1", s.Seed.Issuances[0].Designator)

	require.Len(t, s.Flow, 2)
	require.NotNil(t, s.Flow[0].InitialID)
	assert.Equal(t, int64(-5), *s.Flow[0].InitialID)
	assert.True(t, s.Flow[0].Concurrent)
	require.NotNil(t, s.Flow[1].Expect.LastID)
	assert.Equal(t, int64(44), *s.Flow[1].Expect.LastID)

	budget, err := s.retryBudget()
	require.NoError(t, err)
	assert.Equal(t, "250ms", budget.String())
	assert.Len(t, s.Assertions, 2)
}

func TestParseScenario_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "name: x\ndescription: y\nflw: []\n",
			want: "field flw not found",
		},
		{
			name: "missing name",
			yaml: "description: y\nflow:\n  - op: allocate\n",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: x\nflow:\n  - op: allocate\n",
			want: "description is required",
		},
		{
			name: "empty flow",
			yaml: "name: x\ndescription: y\n",
			want: "flow list is required",
		},
		{
			name: "bad budget",
			yaml: "name: x\ndescription: y\nretry_budget: soon\nflow:\n  - op: allocate\n",
			want: "retry_budget",
		},
		{
			name: "negative budget",
			yaml: "name: x\ndescription: y\nretry_budget: -1s\nflow:\n  - op: allocate\n",
			want: "retry_budget",
		},
		{
			name: "negative conflicts",
			yaml: "name: x\ndescription: y\nconflicts: -1\nflow:\n  - op: allocate\n",
			want: "conflicts must be non-negative",
		},
		{
			name: "missing op",
			yaml: "name: x\ndescription: y\nflow:\n  - prefix: A\n",
			want: "flow[0]: op is required",
		},
		{
			name: "unknown op",
			yaml: "name: x\ndescription: y\nflow:\n  - op: reset\n",
			want: `unknown op "reset"`,
		},
		{
			name: "series with count",
			yaml: "name: x\ndescription: y\nflow:\n  - op: series\n    count: 2\n",
			want: "series takes only a prefix",
		},
		{
			name: "negative count",
			yaml: "name: x\ndescription: y\nflow:\n  - op: allocate\n    count: -1\n",
			want: "count must be non-negative",
		},
		{
			name: "unknown assertion",
			yaml: "name: x\ndescription: y\nflow:\n  - op: allocate\nassertions:\n  - type: sorted\n",
			want: `unknown assertion type "sorted"`,
		},
		{
			name: "assertion without type",
			yaml: "name: x\ndescription: y\nflow:\n  - op: allocate\nassertions:\n  - prefix: A\n",
			want: "assertions[0]: type is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read scenario file")
	})

	t.Run("from disk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "s.yaml")
		require.NoError(t, os.WriteFile(path, []byte("name: s\ndescription: d\nflow:\n  - op: allocate\n    prefix: Q\n"), 0o644))
		s, err := LoadScenario(path)
		require.NoError(t, err)
		assert.Equal(t, "Q", s.Flow[0].Prefix)
	})
}
