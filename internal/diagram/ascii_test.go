package diagram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderASCIILinear(t *testing.T) {
	model, err := Build(linearWorkflow(t), nil)
	require.NoError(t, err)

	output := RenderASCII(model)

	assert.True(t, strings.HasPrefix(output, "=== ETL Pipeline ===\n"))
	for _, ch := range []string{"┌", "┐", "└", "┘", "│", "─", "▼"} {
		assert.Contains(t, output, ch)
	}
	for _, label := range []string{"Start", "fetch", "transform", "store", "End"} {
		assert.Contains(t, output, label)
	}
	assert.NotContains(t, output, "errors:")
}

func TestRenderASCIIWithStatus(t *testing.T) {
	model := &DiagramModel{
		Title: "Test",
		Nodes: []*Node{
			{ID: StartID, Label: "Start", Kind: NodeKindStart},
			{ID: "a", Label: "a", Kind: NodeKindAction, Status: &StatusOverlay{Status: "completed", DurationMs: 100}},
			{ID: "b", Label: "b", Kind: NodeKindAction, Status: &StatusOverlay{Status: "failed", Error: "timeout"}},
			{ID: "c", Label: "c", Kind: NodeKindAction, Status: &StatusOverlay{Status: "running"}},
			{ID: "d", Label: "d", Kind: NodeKindAction, Status: &StatusOverlay{Status: StatusSkipped}},
			{ID: "e", Label: "e", Kind: NodeKindAction, Status: &StatusOverlay{Status: StatusPending}},
			{ID: EndID, Label: "End", Kind: NodeKindEnd},
		},
		Levels: [][]string{{StartID}, {"a", "b", "c"}, {"d", "e"}, {EndID}},
	}

	output := RenderASCII(model)

	for _, tag := range []string{"[OK]", "[FAIL]", "[RUN]", "[SKIP]", "[PEND]", "100ms"} {
		assert.Contains(t, output, tag)
	}
	assert.Contains(t, output, "errors:\n  b: timeout\n")
}

func TestMakeBoxWidth(t *testing.T) {
	box := makeBox(&Node{ID: "x", Label: "step\n(detail)", Status: &StatusOverlay{Status: "completed"}})

	require.Len(t, box.lines, 4)
	assert.Equal(t, "┌──────┐", box.lines[0])
	assert.Equal(t, "│ step │", box.lines[1])
	assert.Equal(t, "│ [OK] │", box.lines[2])
	assert.Equal(t, 8, box.width)
}
