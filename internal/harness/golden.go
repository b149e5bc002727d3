package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/taskflow/taskflow/internal/engine"
)

// AssertGoldenTrace compares the recorded trace against a golden file
// named after the scenario. Regenerate with `go test -update`.
func AssertGoldenTrace(t *testing.T, name string, trace []engine.TraceEvent) {
	t.Helper()

	data, err := MarshalTrace(trace)
	if err != nil {
		t.Fatalf("marshal trace: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}

// MarshalTrace renders a trace as indented JSON, one stable form for
// golden files and the trace CLI command.
func MarshalTrace(trace []engine.TraceEvent) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(trace); err != nil {
		return nil, fmt.Errorf("encoding trace: %w", err)
	}
	return buf.Bytes(), nil
}
