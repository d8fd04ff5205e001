// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package layers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessellate-ai/patchgate/services/gatekeeper/patch"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/pipeline"
)

func makeInput(t *testing.T, p *patch.Patch, files []patch.ContextFile) *pipeline.Input {
	t.Helper()
	norm, err := patch.Normalize(p)
	require.NoError(t, err)
	cs := patch.NewContextSet(files)
	return &pipeline.Input{
		Patch:   norm,
		Context: cs,
		Apply:   patch.ApplyCheck(norm, cs),
	}
}

func createOp(path, content string) *patch.Patch {
	return &patch.Patch{Operations: []patch.FileOperation{{
		Kind:    patch.OpCreate,
		Path:    path,
		Content: content,
	}}}
}

func TestContextRejectsUnknownEditPath(t *testing.T) {
	p := &patch.Patch{Operations: []patch.FileOperation{{
		Kind: patch.OpEdit,
		Path: "ghost.py",
		Edits: []patch.Edit{{
			StartLine: 1, EndLine: 1, OldText: "a", NewText: "b",
		}},
	}}}
	in := makeInput(t, p, []patch.ContextFile{{Path: "real.py", Content: "a\n"}})

	res := NewContext().Evaluate(context.Background(), in)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, pipeline.SeverityCritical, res.Issues[0].EffectiveSeverity)
	assert.Contains(t, res.Issues[0].Message, "ghost.py")
	assert.NotEmpty(t, res.Issues[0].FixInstruction)
	assert.Zero(t, res.Score)
}

func TestContextFlagsEmptyEdit(t *testing.T) {
	p := &patch.Patch{Operations: []patch.FileOperation{{
		Kind:  patch.OpEdit,
		Path:  "real.py",
		Edits: []patch.Edit{{StartLine: 2, EndLine: 2}},
	}}}
	in := makeInput(t, p, []patch.ContextFile{{Path: "real.py", Content: "a\nb\n"}})

	res := NewContext().Evaluate(context.Background(), in)
	require.Len(t, res.Issues, 1)
	assert.True(t, res.Issues[0].EmptyEditFormat)
	assert.Equal(t, 2, res.Issues[0].Line)
}

func TestContextAllowsInsertionAndNewFile(t *testing.T) {
	p := &patch.Patch{Operations: []patch.FileOperation{
		{Kind: patch.OpEdit, Path: "real.py", Edits: []patch.Edit{{StartLine: 1, NewText: "c = 3"}}},
		{Kind: patch.OpCreate, Path: "new.py", Content: "pass\n"},
	}}
	in := makeInput(t, p, []patch.ContextFile{{Path: "real.py", Content: "a = 1\n"}})

	res := NewContext().Evaluate(context.Background(), in)
	assert.Empty(t, res.Issues)
	assert.Equal(t, 1.0, res.Score)
}

func TestContextRejectsCreateOverExisting(t *testing.T) {
	p := createOp("real.py", "pass\n")
	in := makeInput(t, p, []patch.ContextFile{{Path: "real.py", Content: "a\n"}})

	res := NewContext().Evaluate(context.Background(), in)
	require.Len(t, res.Issues, 1)
	assert.Contains(t, res.Issues[0].Message, "overwrite")
}

func TestSyntaxValidPython(t *testing.T) {
	in := makeInput(t, createOp("app.py", "def f(x):\n    return x + 1\n"), nil)
	res := NewSyntax().Evaluate(context.Background(), in)
	assert.Empty(t, res.Issues)
	assert.Equal(t, 1.0, res.Score)
}

func TestSyntaxBrokenPython(t *testing.T) {
	in := makeInput(t, createOp("app.py", "def f(x:\n    return x +\n"), nil)
	res := NewSyntax().Evaluate(context.Background(), in)
	require.NotEmpty(t, res.Issues)
	assert.Equal(t, pipeline.SeverityCritical, res.Issues[0].EffectiveSeverity)
	assert.Equal(t, "app.py", res.Issues[0].FilePath)
	assert.Zero(t, res.Score)
}

func TestSyntaxSkipsUnknownLanguages(t *testing.T) {
	in := makeInput(t, createOp("notes.txt", "anything {{{"), nil)
	res := NewSyntax().Evaluate(context.Background(), in)
	assert.Empty(t, res.Issues)
	assert.Equal(t, 1.0, res.Score)
}

func TestPlaceholderPatterns(t *testing.T) {
	cases := map[string]string{
		"todo":            "def f():\n    # TODO: implement this properly\n    pass\n",
		"not-implemented": "def f():\n    raise NotImplementedError\n",
		"ellipsis":        "def f():\n    ...\n",
		"fill-in":         "def f():\n    pass  # your code here\n",
		"elided":          "def f():\n    pass\n# ... rest of the file unchanged\n",
	}
	for name, content := range cases {
		in := makeInput(t, createOp("app.py", content), nil)
		res := NewPlaceholder().Evaluate(context.Background(), in)
		require.NotEmpty(t, res.Issues, name)
		assert.Equal(t, pipeline.SeverityCritical, res.Issues[0].EffectiveSeverity, name)
		assert.Zero(t, res.Score, name)
	}
}

func TestPlaceholderCleanCode(t *testing.T) {
	in := makeInput(t, createOp("app.py", "def f(x):\n    return x * 2\n"), nil)
	res := NewPlaceholder().Evaluate(context.Background(), in)
	assert.Empty(t, res.Issues)
}

func TestPlaceholderLineAnchorsToEditStart(t *testing.T) {
	files := []patch.ContextFile{{Path: "app.py", Content: "import os\n\n\ndef f():\n    pass\n"}}
	p := &patch.Patch{Operations: []patch.FileOperation{{
		Kind: patch.OpEdit,
		Path: "app.py",
		Edits: []patch.Edit{{
			StartLine: 4, EndLine: 5,
			OldText: "def f():\n    pass",
			NewText: "def f():\n    # TODO: handle errors\n    return None",
		}},
	}}}
	in := makeInput(t, p, files)

	res := NewPlaceholder().Evaluate(context.Background(), in)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, "app.py", res.Issues[0].FilePath)
	assert.Equal(t, 5, res.Issues[0].Line, "line is relative to the file, not the edit text")
}

func TestTypeHintsAdvisoryFindings(t *testing.T) {
	content := "def add(a, b):\n    return a + b\n\ndef typed(a: int) -> int:\n    return a\n"
	in := makeInput(t, createOp("app.py", content), nil)

	res := NewTypeHints().Evaluate(context.Background(), in)
	require.Len(t, res.Issues, 2, "missing return and unannotated params on add")
	for _, is := range res.Issues {
		assert.True(t, is.EffectiveSeverity.Advisory(), "type hint findings are advisory")
	}
	assert.InDelta(t, 0.5, res.Score, 1e-9, "one of two functions flagged")
}

func TestTypeHintsInitExemptFromReturn(t *testing.T) {
	content := "class A:\n    def __init__(self, x: int):\n        self.x = x\n"
	in := makeInput(t, createOp("app.py", content), nil)
	res := NewTypeHints().Evaluate(context.Background(), in)
	assert.Empty(t, res.Issues)
}

func TestImportsMissingModule(t *testing.T) {
	in := makeInput(t, createOp("app.py", "data = yaml.safe_load(raw)\n"), nil)

	res := NewImports().Evaluate(context.Background(), in)
	require.Len(t, res.Issues, 1)
	is := res.Issues[0]
	assert.Equal(t, pipeline.SeverityCritical, is.EffectiveSeverity)
	assert.True(t, is.MissingImport)
	assert.Contains(t, is.FixInstruction, "import yaml")
	assert.Zero(t, res.Score)
}

func TestImportsResolvedModule(t *testing.T) {
	in := makeInput(t, createOp("app.py", "import yaml\n\ndata = yaml.safe_load(raw)\n"), nil)
	res := NewImports().Evaluate(context.Background(), in)
	assert.Empty(t, res.Issues)
	assert.Equal(t, 1.0, res.Score)
}

func TestImportsAliasAndFromImport(t *testing.T) {
	content := "import numpy as np\nfrom os import path\n\nx = np.zeros(3)\ny = path.join(a, b)\n"
	in := makeInput(t, createOp("app.py", content), nil)
	res := NewImports().Evaluate(context.Background(), in)
	assert.Empty(t, res.Issues)
}

func TestImportsParameterUseNotMissing(t *testing.T) {
	in := makeInput(t, createOp("views.py", "def handle(request):\n    return request.user\n"), nil)
	res := NewImports().Evaluate(context.Background(), in)
	assert.Empty(t, res.Issues, "parameters are local bindings, not modules")
	assert.Equal(t, 1.0, res.Score)
}

func TestImportsLocalBindingsResolve(t *testing.T) {
	content := "items = load_items()\n" +
		"for item in items:\n" +
		"    item.save()\n" +
		"with open(path) as fh:\n" +
		"    data = fh.read()\n" +
		"names = [u.name for u in users]\n"
	in := makeInput(t, createOp("jobs.py", content), nil)

	res := NewImports().Evaluate(context.Background(), in)
	assert.Empty(t, res.Issues, "loop targets, as-aliases, and comprehension variables resolve")
	assert.Equal(t, 1.0, res.Score)
}

func TestImportsSkipsNonPython(t *testing.T) {
	in := makeInput(t, createOp("main.go", "x := undefinedpkg.Do()\n"), nil)
	res := NewImports().Evaluate(context.Background(), in)
	assert.Empty(t, res.Issues)
}

func TestDefinitionOrderUseInFunctionBody(t *testing.T) {
	content := "def handler():\n" +
		"    return CONFIG[\"mode\"]\n" +
		"\n" +
		"CONFIG = {\"mode\": \"fast\"}\n"
	in := makeInput(t, createOp("app.py", content), nil)

	res := NewDefinitionOrder().Evaluate(context.Background(), in)
	require.Len(t, res.Issues, 1)
	is := res.Issues[0]
	assert.Equal(t, pipeline.SeverityCritical, is.EffectiveSeverity)
	assert.Equal(t, 1, is.Line, "reported at the enclosing def line, not the use line")
	assert.Contains(t, is.Message, "CONFIG")
}

func TestDefinitionOrderSelfReferentialDowngraded(t *testing.T) {
	content := "def reset():\n" +
		"    cache = cache or {}\n" +
		"\n" +
		"cache = {}\n"
	in := makeInput(t, createOp("app.py", content), nil)

	res := NewDefinitionOrder().Evaluate(context.Background(), in)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, pipeline.SeverityMedium, res.Issues[0].EffectiveSeverity)
	assert.Equal(t, 1, res.Issues[0].Line)
}

func TestDefinitionOrderCleanFile(t *testing.T) {
	content := "CONFIG = {\"mode\": \"fast\"}\n\ndef handler():\n    return CONFIG[\"mode\"]\n"
	in := makeInput(t, createOp("app.py", content), nil)
	res := NewDefinitionOrder().Evaluate(context.Background(), in)
	assert.Empty(t, res.Issues)
	assert.Equal(t, 1.0, res.Score)
}

func TestManifestDockerfile(t *testing.T) {
	bad := "RUN apt-get update\nFROM debian:12\n"
	in := makeInput(t, createOp("Dockerfile", bad), nil)
	res := NewManifest().Evaluate(context.Background(), in)
	require.NotEmpty(t, res.Issues)
	assert.Contains(t, res.Issues[0].Message, "FROM")

	good := "FROM debian:12\nRUN apt-get update && \\\n    apt-get install -y curl\n"
	in = makeInput(t, createOp("Dockerfile", good), nil)
	res = NewManifest().Evaluate(context.Background(), in)
	assert.Empty(t, res.Issues)
}

func TestManifestCompose(t *testing.T) {
	in := makeInput(t, createOp("docker-compose.yaml", "services:\n  api:\n    image: api:latest\n"), nil)
	res := NewManifest().Evaluate(context.Background(), in)
	assert.Empty(t, res.Issues)

	in = makeInput(t, createOp("docker-compose.yaml", "volumes: {}\n"), nil)
	res = NewManifest().Evaluate(context.Background(), in)
	require.Len(t, res.Issues, 1)
	assert.Contains(t, res.Issues[0].Message, "no services")
}

func TestManifestBrokenYAML(t *testing.T) {
	in := makeInput(t, createOp("settings.yaml", "key: [unclosed\n  nested: wrong\n"), nil)
	res := NewManifest().Evaluate(context.Background(), in)
	require.NotEmpty(t, res.Issues)
	assert.Equal(t, pipeline.SeverityCritical, res.Issues[0].EffectiveSeverity)
}

func TestSecurityDangerousCall(t *testing.T) {
	in := makeInput(t, createOp("app.py", "result = eval(user_expr)\n"), nil)
	res := NewSecurity().Evaluate(context.Background(), in)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, pipeline.SeverityHigh, res.Issues[0].BaseSeverity)
	assert.InDelta(t, 0.75, res.Score, 1e-9)
}

func TestSecurityNamesThatOnlyResembleCalls(t *testing.T) {
	in := makeInput(t, createOp("app.py", "score = evaluate(model)\nmedieval = lookup(era)\n"), nil)
	res := NewSecurity().Evaluate(context.Background(), in)
	assert.Empty(t, res.Issues, "structural matching must not flag evaluate or medieval")
}

func TestSecurityHardcodedSecret(t *testing.T) {
	content := "API_KEY = \"a8F3kZ9qL2mXv7Rb1NcE4tUw\"\n"
	in := makeInput(t, createOp("settings.py", content), nil)
	res := NewSecurity().Evaluate(context.Background(), in)
	require.NotEmpty(t, res.Issues)
	assert.Equal(t, pipeline.SeverityHigh, res.Issues[0].BaseSeverity)
}

func TestSecurityLowEntropyValueIgnored(t *testing.T) {
	in := makeInput(t, createOp("settings.py", "api_key = \"aaaaaaaaaaaaaaaaaa\"\n"), nil)
	res := NewSecurity().Evaluate(context.Background(), in)
	assert.Empty(t, res.Issues)
}

func TestSecuritySecretLineAnchorsToEditStart(t *testing.T) {
	p := &patch.Patch{Operations: []patch.FileOperation{{
		Kind: patch.OpEdit,
		Path: "settings.py",
		Edits: []patch.Edit{{
			StartLine: 12, EndLine: 12,
			OldText: "API_KEY = \"\"",
			NewText: "API_KEY = \"a8F3kZ9qL2mXv7Rb1NcE4tUw\"",
		}},
	}}}
	in := makeInput(t, p, []patch.ContextFile{{Path: "settings.py", Content: "API_KEY = \"\"\n"}})

	res := NewSecurity().Evaluate(context.Background(), in)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, 12, res.Issues[0].Line)
}

func TestSecuritySkipsTestPaths(t *testing.T) {
	in := makeInput(t, createOp("tests/test_auth.py", "password = \"kX93jfLq20vmZp4w\"\n"), nil)
	res := NewSecurity().Evaluate(context.Background(), in)
	assert.Empty(t, res.Issues)
}

func TestDependencyCompatIncompatiblePin(t *testing.T) {
	p := createOp("test_async.py", "import pytest\n\n@pytest.mark.asyncio\nasync def test_x():\n    pass\n")
	in := makeInput(t, p, nil)
	in.Metadata = &pipeline.Metadata{Dependencies: map[string]string{"pytest": "6.2.5"}}

	res := NewDependencyCompat().Evaluate(context.Background(), in)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, pipeline.SeverityCritical, res.Issues[0].EffectiveSeverity)
	assert.Contains(t, res.Issues[0].Message, "pytest-asyncio")
	assert.Zero(t, res.Score)
}

func TestDependencyCompatCompatiblePin(t *testing.T) {
	p := createOp("test_async.py", "@pytest.mark.asyncio\nasync def test_x():\n    pass\n")
	in := makeInput(t, p, nil)
	in.Metadata = &pipeline.Metadata{Dependencies: map[string]string{"pytest": "7.4.0"}}

	res := NewDependencyCompat().Evaluate(context.Background(), in)
	assert.Empty(t, res.Issues)
}

func TestDependencyCompatNoPinsPasses(t *testing.T) {
	p := createOp("test_async.py", "@pytest.mark.asyncio\nasync def test_x():\n    pass\n")
	res := NewDependencyCompat().Evaluate(context.Background(), makeInput(t, p, nil))
	assert.Empty(t, res.Issues)
	assert.Equal(t, 1.0, res.Score)
}

func TestDependencyCompatPinsFromRequirementsFile(t *testing.T) {
	p := &patch.Patch{Operations: []patch.FileOperation{
		{Kind: patch.OpCreate, Path: "requirements.txt", Content: "pytest==6.2.5\n"},
		{Kind: patch.OpCreate, Path: "test_async.py", Content: "@pytest.mark.asyncio\nasync def test_x():\n    pass\n"},
	}}
	res := NewDependencyCompat().Evaluate(context.Background(), makeInput(t, p, nil))
	require.NotEmpty(t, res.Issues)
}

func TestFunctionInventoryUnknownCall(t *testing.T) {
	in := makeInput(t, createOp("app.py", "x = helpr(1)\n"), nil)
	in.Metadata = &pipeline.Metadata{Functions: map[string]string{"helper": "lib.py"}}

	res := NewFunctionInventory().Evaluate(context.Background(), in)
	require.Len(t, res.Issues, 1)
	assert.True(t, res.Issues[0].EffectiveSeverity.Advisory())
	assert.Contains(t, res.Issues[0].Message, "helpr")
}

func TestFunctionInventorySkipsWithoutMetadata(t *testing.T) {
	in := makeInput(t, createOp("app.py", "x = anything(1)\n"), nil)
	res := NewFunctionInventory().Evaluate(context.Background(), in)
	assert.Empty(t, res.Issues)
	assert.Equal(t, 1.0, res.Score)
}

func TestFrameworkConsistencyRivalImport(t *testing.T) {
	in := makeInput(t, createOp("views.py", "import flask\n"), nil)
	in.Metadata = &pipeline.Metadata{Frameworks: []string{"django"}}

	res := NewFrameworkConsistency().Evaluate(context.Background(), in)
	require.Len(t, res.Issues, 1)
	assert.True(t, res.Issues[0].EffectiveSeverity.Advisory())
}

func TestRetiredLayersNeutral(t *testing.T) {
	for _, kind := range []pipeline.LayerKind{pipeline.KindStyle, pipeline.KindComplexity, pipeline.KindDocstrings} {
		l := NewRetired(kind)
		assert.Equal(t, kind, l.Kind())
		res := l.Evaluate(context.Background(), makeInput(t, createOp("a.py", "x = 1\n"), nil))
		assert.Empty(t, res.Issues)
		assert.Equal(t, 1.0, res.Score)
	}
}

func TestDefaultRegistersEveryKindOnce(t *testing.T) {
	stack := Default(Options{})
	require.Len(t, stack, 18)
	seen := map[pipeline.LayerKind]bool{}
	for _, l := range stack {
		assert.False(t, seen[l.Kind()], l.Kind().String())
		seen[l.Kind()] = true
	}
	_, err := pipeline.New(pipeline.DefaultTuning(), nil, stack...)
	assert.NoError(t, err)
}
