// BSD 2-Clause License
//
// Copyright (c) 2020, Andrea Giacomo Baldan
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// * Redistributions of source code must retain the above copyright notice, this
//   list of conditions and the following disclaimer.
//
// * Redistributions in binary form must reproduce the above copyright notice,
//   this list of conditions and the following disclaimer in the documentation
//   and/or other materials provided with the distribution.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

package dockerexec

import (
	"testing"

	"github.com/codepr/forgerunner/internal/model"
)

func TestTranslateExitCode(t *testing.T) {
	cases := []struct {
		name     string
		code     int64
		timedOut bool
		want     model.StatusCode
	}{
		{"clean exit is success", 0, false, model.StatusSuccess},
		{"sentinel exit is purposely stopped", purposelyStoppedExitCode, false, model.StatusPurposelyStopped},
		{"other non-zero exit is application error", 1, false, model.StatusApplicationError},
		{"timeout overrides any exit code", 0, true, model.StatusTimeout},
		{"timeout overrides sentinel exit code too", purposelyStoppedExitCode, true, model.StatusTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := translateExitCode(tc.code, tc.timedOut)
			if got != tc.want {
				t.Errorf("translateExitCode(%d, %v) = %s, want %s", tc.code, tc.timedOut, got, tc.want)
			}
		})
	}
}

func TestBindMountUsesConventionalSubmissionPath(t *testing.T) {
	m := bindMount("/host/scratch", submissionMountPath)
	if m.Target != submissionMountPath {
		t.Errorf("expected bind mount target %q, got %q", submissionMountPath, m.Target)
	}
	if m.Source != "/host/scratch" {
		t.Errorf("expected bind mount source %q, got %q", "/host/scratch", m.Source)
	}
	if m.ReadOnly {
		t.Errorf("expected submission bind mount to be read-write")
	}
}
