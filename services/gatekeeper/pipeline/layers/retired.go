// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package layers

import (
	"context"

	"github.com/tessellate-ai/patchgate/services/gatekeeper/pipeline"
)

// Retired is a zero-weight no-op standing in for a decommissioned check.
//
// Style, complexity and docstring grading were retired after tuning showed
// they only added noise, but their score entries are kept so stored
// verdicts remain comparable across versions.
type Retired struct {
	kind pipeline.LayerKind
}

// NewRetired builds a no-op layer for the given kind.
func NewRetired(kind pipeline.LayerKind) *Retired {
	return &Retired{kind: kind}
}

// Kind implements the Layer interface.
func (l *Retired) Kind() pipeline.LayerKind {
	return l.kind
}

// Evaluate implements the Layer interface. Always a full-score pass.
func (l *Retired) Evaluate(_ context.Context, _ *pipeline.Input) pipeline.LayerResult {
	return pipeline.LayerResult{Score: 1.0}
}
