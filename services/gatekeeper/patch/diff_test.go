// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const editDiff = `--- a/app.py
+++ b/app.py
@@ -1,3 +1,3 @@
 a = 1
-b = 2
+b = 20
 c = 3
`

const createDiff = `--- /dev/null
+++ b/fresh.py
@@ -0,0 +1,2 @@
+x = 1
+y = 2
`

const deleteDiff = `--- a/old.py
+++ /dev/null
@@ -1,1 +0,0 @@
-gone
`

func TestFromUnifiedDiffEdit(t *testing.T) {
	p, err := FromUnifiedDiff(editDiff)
	require.NoError(t, err)
	require.Len(t, p.Operations, 1)

	op := p.Operations[0]
	assert.Equal(t, OpEdit, op.Kind)
	assert.Equal(t, "app.py", op.Path)
	require.Len(t, op.Edits, 1)
	assert.Equal(t, 2, op.Edits[0].StartLine)
	assert.Equal(t, "b = 2", op.Edits[0].OldText)
	assert.Equal(t, "b = 20", op.Edits[0].NewText)
}

func TestFromUnifiedDiffCreate(t *testing.T) {
	p, err := FromUnifiedDiff(createDiff)
	require.NoError(t, err)
	require.Len(t, p.Operations, 1)

	op := p.Operations[0]
	assert.Equal(t, OpCreate, op.Kind)
	assert.Equal(t, "fresh.py", op.Path)
	assert.Equal(t, "x = 1\ny = 2\n", op.Content)
}

func TestFromUnifiedDiffDelete(t *testing.T) {
	p, err := FromUnifiedDiff(deleteDiff)
	require.NoError(t, err)
	require.Len(t, p.Operations, 1)
	assert.Equal(t, OpDelete, p.Operations[0].Kind)
	assert.Equal(t, "old.py", p.Operations[0].Path)
}

func TestFromUnifiedDiffMultiFile(t *testing.T) {
	p, err := FromUnifiedDiff(editDiff + createDiff)
	require.NoError(t, err)
	require.Len(t, p.Operations, 2)
	assert.Equal(t, OpEdit, p.Operations[0].Kind)
	assert.Equal(t, OpCreate, p.Operations[1].Kind)
}

func TestFromUnifiedDiffGarbage(t *testing.T) {
	_, err := FromUnifiedDiff("this is not a diff at all {{{")
	assert.Error(t, err)
}

func TestNormalizeExpandsEmbeddedDiff(t *testing.T) {
	p := &Patch{Operations: []FileOperation{{
		Kind:        OpEdit,
		Path:        "a/app.py",
		UnifiedDiff: editDiff,
	}}}

	norm, err := Normalize(p)
	require.NoError(t, err)
	require.Len(t, norm.Operations, 1)
	assert.Equal(t, "app.py", norm.Operations[0].Path)
	assert.NotEmpty(t, norm.Operations[0].Edits)
}

func TestNormalizeStripsDiffPrefixes(t *testing.T) {
	p := &Patch{Operations: []FileOperation{{
		Kind: OpCreate, Path: "b/new.py", Content: "pass\n",
	}}}
	norm, err := Normalize(p)
	require.NoError(t, err)
	assert.Equal(t, "new.py", norm.Operations[0].Path)
}

func TestNormalizeEmptyPatch(t *testing.T) {
	norm, err := Normalize(&Patch{})
	require.NoError(t, err)
	assert.True(t, norm.IsEmpty())
}

func TestRoundTripDiffApplies(t *testing.T) {
	p, err := FromUnifiedDiff(editDiff)
	require.NoError(t, err)

	cs := NewContextSet([]ContextFile{
		{Path: "app.py", Content: "a = 1\nb = 2\nc = 3\n"},
	})
	res := ApplyCheck(p, cs)
	require.True(t, res.Clean, "failures: %v", res.Failures)
	assert.Equal(t, "a = 1\nb = 20\nc = 3\n", res.Files["app.py"])
}
