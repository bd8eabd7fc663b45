package ingest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cyclicNode struct {
	Name string
	Next *cyclicNode
}

func TestMarshalCycleTolerantSelfReferentialPointer(t *testing.T) {
	a := &cyclicNode{Name: "a"}
	a.Next = a

	b, err := marshalCycleTolerant(a)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, "a", out["Name"])
	assert.Equal(t, circularMarker, out["Next"])
}

func TestMarshalCycleTolerantMapCycle(t *testing.T) {
	m := map[string]interface{}{"label": "root"}
	m["self"] = m

	b, err := marshalCycleTolerant(m)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, "root", out["label"])
	assert.Equal(t, circularMarker, out["self"])
}

func TestMarshalCycleTolerantSliceCycle(t *testing.T) {
	s := make([]interface{}, 1)
	s[0] = s

	b, err := marshalCycleTolerant(s)
	require.NoError(t, err)

	var out []interface{}
	require.NoError(t, json.Unmarshal(b, &out))
	require.Len(t, out, 1)
	assert.Equal(t, circularMarker, out[0])
}

func TestMarshalCycleTolerantSharedNonCyclicReferenceSerializesBothPaths(t *testing.T) {
	// A DAG with two paths to the same node is not a cycle: both
	// references must serialize in full, not as "[Circular]".
	child := &cyclicNode{Name: "child"}
	parent := struct {
		A *cyclicNode
		B *cyclicNode
	}{A: child, B: child}

	b, err := marshalCycleTolerant(parent)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &out))
	a := out["A"].(map[string]interface{})
	bb := out["B"].(map[string]interface{})
	assert.Equal(t, "child", a["Name"])
	assert.Equal(t, "child", bb["Name"])
}

func TestMarshalCycleTolerantNilPointerAndInterface(t *testing.T) {
	var n *cyclicNode
	b, err := marshalCycleTolerant(n)
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))

	holder := struct{ V interface{} }{V: nil}
	b, err = marshalCycleTolerant(holder)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Nil(t, out["V"])
}

func TestMarshalCycleTolerantTimeFieldPassesThrough(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	holder := struct{ At time.Time }{At: now}

	b, err := marshalCycleTolerant(holder)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, now.Format(time.RFC3339Nano), out["At"])
}

func TestMarshalCycleTolerantRespectsJSONTags(t *testing.T) {
	type tagged struct {
		Visible string `json:"visible,omitempty"`
		Skipped string `json:"-"`
		Renamed string `json:"renamed"`
		hidden  string
	}
	v := tagged{Visible: "v", Skipped: "s", Renamed: "r", hidden: "h"}

	b, err := marshalCycleTolerant(v)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, "v", out["visible"])
	assert.Equal(t, "r", out["renamed"])
	_, hasSkipped := out["Skipped"]
	assert.False(t, hasSkipped)
	_, hasHidden := out["hidden"]
	assert.False(t, hasHidden)
}
