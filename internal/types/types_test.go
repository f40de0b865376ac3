package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateValidity(t *testing.T) {
	for _, s := range []State{StateBacklog, StateReady, StateInProgress, StateGated, StateDone, StateRejected} {
		assert.True(t, s.IsValid(), "state %s should be valid", s)
	}
	assert.False(t, State("open").IsValid())
	assert.False(t, State("").IsValid())
}

func TestStateTerminality(t *testing.T) {
	assert.True(t, StateDone.IsTerminal())
	assert.True(t, StateRejected.IsTerminal())
	for _, s := range []State{StateBacklog, StateReady, StateInProgress, StateGated} {
		assert.False(t, s.IsTerminal(), "state %s should not be terminal", s)
	}
}

func TestPriorityRankOrdering(t *testing.T) {
	assert.Less(t, PriorityCritical.Rank(), PriorityHigh.Rank())
	assert.Less(t, PriorityHigh.Rank(), PriorityNormal.Rank())
	assert.Less(t, PriorityNormal.Rank(), PriorityLow.Rank())
}

func TestParseLabel(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantNS  string
		wantVal string
		wantErr bool
	}{
		{"simple", "type:task", "type", "task", false},
		{"hyphenated namespace", "code-area:storage", "code-area", "storage", false},
		{"numeric namespace", "sprint2:q3", "sprint2", "q3", false},
		{"value with spaces", "note:needs follow up", "note", "needs follow up", false},
		{"no separator", "typetask", "", "", true},
		{"two separators", "type:task:extra", "", "", true},
		{"empty namespace", ":task", "", "", true},
		{"empty value", "type:", "", "", true},
		{"uppercase namespace", "Type:task", "", "", true},
		{"leading whitespace", " type:task", "", "", true},
		{"trailing whitespace", "type:task ", "", "", true},
		{"newline in value", "type:a\nb", "", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseLabel(tc.raw)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantNS, got.Namespace)
			assert.Equal(t, tc.wantVal, got.Value)
			assert.Equal(t, tc.raw, got.String())
		})
	}
}

func TestParseAgentID(t *testing.T) {
	cases := []struct {
		raw     string
		wantErr bool
	}{
		{"agent:worker-1", false},
		{"human:alice", false},
		{"ci:github-actions", false},
		{"custom-type:x", false},
		{"worker-1", true},
		{":worker-1", true},
		{"agent:", true},
		{"", true},
	}

	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := ParseAgentID(tc.raw)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.raw, got.String())
		})
	}
}

func TestCheckerExecRoundTrip(t *testing.T) {
	c := ExecCheckerSpec("go test ./...", 300)
	c.Exec.WorkingDir = "sub"
	c.Exec.Env = map[string]string{"CI": "1"}

	data, err := json.Marshal(c)
	require.NoError(t, err)

	var back Checker
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, CheckerKindExec, back.Kind)
	require.NotNil(t, back.Exec)
	assert.Equal(t, "go test ./...", back.Exec.Command)
	assert.Equal(t, 300, back.Exec.TimeoutSeconds)
	assert.Equal(t, "sub", back.Exec.WorkingDir)
}

func TestCheckerUnknownVariantPreserved(t *testing.T) {
	raw := []byte(`{"kind":"http","url":"https://ci.example.com/status","method":"GET"}`)

	var c Checker
	require.NoError(t, json.Unmarshal(raw, &c))
	assert.Equal(t, "http", c.Kind)
	assert.Nil(t, c.Exec)

	// Unknown variants must survive a read-modify-write byte-for-byte.
	out, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(out))
}

func TestGateDefValidate(t *testing.T) {
	cases := []struct {
		name    string
		def     GateDef
		wantErr bool
	}{
		{"manual precheck", GateDef{Key: "review", Stage: StagePrecheck, Mode: ModeManual}, false},
		{"auto with checker", GateDef{Key: "tests", Stage: StagePostcheck, Mode: ModeAuto, Checker: ExecCheckerSpec("go test", 60)}, false},
		{"missing key", GateDef{Stage: StagePrecheck, Mode: ModeManual}, true},
		{"bad stage", GateDef{Key: "x", Stage: "midcheck", Mode: ModeManual}, true},
		{"auto without checker", GateDef{Key: "x", Stage: StagePrecheck, Mode: ModeAuto}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.def.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestIssueValidate(t *testing.T) {
	issue := NewIssue("implement parser")
	require.NoError(t, issue.Validate())

	t.Run("missing title", func(t *testing.T) {
		i := NewIssue("   ")
		require.Error(t, i.Validate())
	})

	t.Run("bad assignee", func(t *testing.T) {
		i := NewIssue("x")
		i.Assignee = "nocolon"
		require.Error(t, i.Validate())
	})

	t.Run("required gate missing from status", func(t *testing.T) {
		i := NewIssue("x")
		i.GatesRequired = []string{"tests"}
		require.Error(t, i.Validate())

		i.GatesStatus = map[string]GateState{"tests": {Status: GateRequired, UpdatedAt: time.Now()}}
		require.NoError(t, i.Validate())
	})

	t.Run("extra gates_status keys tolerated", func(t *testing.T) {
		i := NewIssue("x")
		i.GatesStatus = map[string]GateState{"leftover": {Status: GatePassed, UpdatedAt: time.Now()}}
		require.NoError(t, i.Validate())
	})
}

func TestIssueJSONRoundTripStable(t *testing.T) {
	issue := NewIssue("stable serialization")
	issue.Labels = []string{"type:task", "area:core"}
	issue.Dependencies = []string{"aaaabbbbccccddddeeeeffff00001111"}
	issue.Context = map[string]string{"k": "v"}

	first, err := json.MarshalIndent(issue, "", "  ")
	require.NoError(t, err)

	var back Issue
	require.NoError(t, json.Unmarshal(first, &back))

	second, err := json.MarshalIndent(&back, "", "  ")
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestSortIssuesCanonicalOrder(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	mk := func(id string, p Priority, created time.Time) *Issue {
		return &Issue{ID: id, Priority: p, CreatedAt: created}
	}

	issues := []*Issue{
		mk("cc", PriorityNormal, base.Add(2*time.Hour)),
		mk("bb", PriorityCritical, base.Add(time.Hour)),
		mk("aa", PriorityNormal, base.Add(2*time.Hour)),
		mk("dd", PriorityNormal, base),
	}
	SortIssues(issues)

	var ids []string
	for _, i := range issues {
		ids = append(ids, i.ID)
	}
	assert.Equal(t, []string{"bb", "dd", "aa", "cc"}, ids)
}

func TestIssueClone(t *testing.T) {
	issue := NewIssue("clone me")
	issue.Dependencies = []string{"d1"}
	issue.Context = map[string]string{"k": "v"}

	c := issue.Clone()
	c.Dependencies[0] = "changed"
	c.Context["k"] = "changed"

	assert.Equal(t, "d1", issue.Dependencies[0])
	assert.Equal(t, "v", issue.Context["k"])
}

func TestNewIssueID(t *testing.T) {
	id := NewIssueID()
	assert.Len(t, id, 32)
	assert.NotEqual(t, id, NewIssueID())
}
