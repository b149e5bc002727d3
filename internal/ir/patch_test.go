package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPath(t *testing.T) {
	cases := []struct {
		path     string
		section  string
		segments []string
	}{
		{"data.count", "data", []string{"count"}},
		{"computed.total", "computed", []string{"total"}},
		{"system.status", "system", []string{"status"}},
		// Bare paths default to data.
		{"response", "data", []string{"response"}},
		{"user.profile.name", "data", []string{"user", "profile", "name"}},
	}
	for _, tc := range cases {
		section, segments, err := splitPath(tc.path)
		require.NoError(t, err, tc.path)
		assert.Equal(t, tc.section, section, tc.path)
		assert.Equal(t, tc.segments, segments, tc.path)
	}

	_, _, err := splitPath("")
	require.Error(t, err)
}

func TestSetAtPathCreatesIntermediates(t *testing.T) {
	obj := Object{}
	require.NoError(t, setAtPath(obj, []string{"a", "b", "c"}, Int(1)))
	assert.Equal(t, Int(1), obj["a"].(Object)["b"].(Object)["c"])

	// Overwriting a scalar intermediate replaces it with an object.
	obj = Object{"a": String("scalar")}
	require.NoError(t, setAtPath(obj, []string{"a", "b"}, Int(2)))
	assert.Equal(t, Int(2), obj["a"].(Object)["b"])
}

func TestUnsetAtPath(t *testing.T) {
	obj := Object{"a": Object{"b": Int(1), "c": Int(2)}}
	unsetAtPath(obj, []string{"a", "b"})
	assert.Equal(t, Object{"a": Object{"c": Int(2)}}, obj)

	// Missing paths are a no-op.
	unsetAtPath(obj, []string{"x", "y"})
	assert.Equal(t, Object{"a": Object{"c": Int(2)}}, obj)
}

func TestMergeObjectsRecursive(t *testing.T) {
	obj := Object{"cfg": Object{"retries": Int(3), "nested": Object{"keep": Bool(true)}}}
	require.NoError(t, mergeAtPath(obj, []string{"cfg"}, Object{
		"timeout": Int(30),
		"nested":  Object{"add": Int(1)},
	}))

	cfg := obj["cfg"].(Object)
	assert.Equal(t, Int(3), cfg["retries"])
	assert.Equal(t, Int(30), cfg["timeout"])
	assert.Equal(t, Object{"keep": Bool(true), "add": Int(1)}, cfg["nested"])
}

func TestSnapshotLookup(t *testing.T) {
	snap := Genesis(Object{"user": Object{"name": String("ada")}}, "h")
	snap.Computed = Object{"total": Int(9)}
	snap.System.LastError = &ErrorInfo{Code: "EFFECT_FAILED", Message: "boom"}

	v, ok := snap.Lookup("data.user.name")
	require.True(t, ok)
	assert.Equal(t, String("ada"), v)

	// Bare path resolves against data.
	v, ok = snap.Lookup("user.name")
	require.True(t, ok)
	assert.Equal(t, String("ada"), v)

	v, ok = snap.Lookup("computed.total")
	require.True(t, ok)
	assert.Equal(t, Int(9), v)

	v, ok = snap.Lookup("system.status")
	require.True(t, ok)
	assert.Equal(t, String("idle"), v)

	v, ok = snap.Lookup("system.last_error.message")
	require.True(t, ok)
	assert.Equal(t, String("boom"), v)

	_, ok = snap.Lookup("data.missing")
	assert.False(t, ok)
}

func TestSnapshotLookupNullLastError(t *testing.T) {
	snap := Genesis(nil, "h")
	v, ok := snap.Lookup("system.last_error")
	require.True(t, ok)
	assert.Equal(t, Null{}, v)
}
