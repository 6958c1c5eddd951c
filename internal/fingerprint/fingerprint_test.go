package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"errwatch/internal/model"
)

func frames(files ...string) []model.StackFrame {
	out := make([]model.StackFrame, len(files))
	for i, f := range files {
		out[i] = model.StackFrame{File: f, Line: i, Function: "fn"}
	}
	return out
}

func TestCompute_StableAcrossRuns(t *testing.T) {
	f := New()
	fp1 := f.Compute("boom", frames("a.go", "b.go", "c.go"))
	fp2 := f.Compute("boom", frames("a.go", "b.go", "c.go"))
	assert.Equal(t, fp1, fp2)
}

func TestCompute_IgnoresFramesBeyondTop3(t *testing.T) {
	f := New()
	fp1 := f.Compute("boom", frames("a.go", "b.go", "c.go", "d.go"))
	fp2 := f.Compute("boom", frames("a.go", "b.go", "c.go", "z.go"))
	assert.Equal(t, fp1, fp2)
}

func TestCompute_DiffersOnMessage(t *testing.T) {
	f := New()
	fp1 := f.Compute("boom", frames("a.go"))
	fp2 := f.Compute("bang", frames("a.go"))
	assert.NotEqual(t, fp1, fp2)
}

func TestCompute_DiffersOnTopFrames(t *testing.T) {
	f := New()
	fp1 := f.Compute("boom", frames("a.go", "b.go"))
	fp2 := f.Compute("boom", frames("a.go", "x.go"))
	assert.NotEqual(t, fp1, fp2)
}
