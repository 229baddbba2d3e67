package issue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_PromotesReservedKeys(t *testing.T) {
	is, err := New(map[string]any{
		"host":          "db-01",
		KeyCurrentPhase: "20-fix",
		KeyReward:       2,
	})
	require.NoError(t, err)

	assert.Equal(t, "20-fix", is.CurrentPhase)
	assert.Equal(t, 2.0, is.Reward)
	assert.Equal(t, []string{"host"}, is.Keys())
}

func TestNew_RejectsBadReservedTypes(t *testing.T) {
	_, err := New(map[string]any{KeyReward: "lots"})
	assert.Error(t, err)

	_, err = New(map[string]any{KeyCurrentPhase: 7})
	assert.Error(t, err)
}

func TestSet_RejectsReservedKeys(t *testing.T) {
	is, err := New(nil)
	require.NoError(t, err)

	err = is.Set(KeyReward, 10)
	assert.ErrorIs(t, err, ErrReservedKey)
	require.NoError(t, is.Set("status", "open"))
	assert.Equal(t, "open", is.String("status"))
}

func TestValues(t *testing.T) {
	is := &Issue{Fields: map[string]any{
		"scalar": "a",
		"list":   []any{"a", "b"},
		"typed":  []string{"x"},
		"nil":    nil,
	}}

	tests := []struct {
		key  string
		want []any
	}{
		{"scalar", []any{"a"}},
		{"list", []any{"a", "b"}},
		{"typed", []any{"x"}},
		{"nil", []any{}},
		{"missing", []any{}},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, is.Values(tt.key))
		})
	}
}

func TestJSONRoundTripKeepsFlatLayout(t *testing.T) {
	input := `{"host":"db-01","count":3,"ratio":0.5,"_current_phase":"10-detect","_reward":1.5,"tags":["a",1]}`

	var is Issue
	require.NoError(t, json.Unmarshal([]byte(input), &is))

	assert.Equal(t, "10-detect", is.CurrentPhase)
	assert.Equal(t, 1.5, is.Reward)
	assert.Equal(t, int64(3), is.Fields["count"])
	assert.Equal(t, 0.5, is.Fields["ratio"])
	assert.Equal(t, []any{"a", int64(1)}, is.Fields["tags"])
	assert.NotContains(t, is.Fields, KeyReward)

	out, err := json.Marshal(&is)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(out, &flat))
	assert.Equal(t, "10-detect", flat[KeyCurrentPhase])
	assert.Equal(t, 1.5, flat[KeyReward])
	assert.Equal(t, "db-01", flat["host"])
}

func TestUnmarshalRejectsNonObject(t *testing.T) {
	var is Issue
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &is))
	assert.Error(t, json.Unmarshal([]byte(`null`), &is))
	assert.Error(t, json.Unmarshal([]byte(`{"_reward":"x"}`), &is))
}

func TestClone_IsDeep(t *testing.T) {
	is := &Issue{
		CurrentPhase: "p",
		Reward:       1,
		Fields: map[string]any{
			"nested": map[string]any{"k": "v"},
			"list":   []any{"a"},
		},
	}
	c := is.Clone()
	c.Fields["nested"].(map[string]any)["k"] = "changed"
	c.Fields["list"].([]any)[0] = "changed"
	c.Reward = 9

	assert.Equal(t, "v", is.Fields["nested"].(map[string]any)["k"])
	assert.Equal(t, "a", is.Fields["list"].([]any)[0])
	assert.Equal(t, 1.0, is.Reward)
}
