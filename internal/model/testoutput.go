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

package model

// TestStatus is the per-test outcome reported by the sandbox tool.
type TestStatus string

const (
	TestPass TestStatus = "PASS"
	TestFail TestStatus = "FAIL"
)

// TestRecord is one per-test line extracted from the sandbox tool's stdout
// (§3 TestOutput, §4.4 Output Parsers).
type TestRecord struct {
	Test    string     `json:"test"`
	Status  TestStatus `json:"status"`
	GasUsed *int64     `json:"gasUsed,omitempty"`
	GasDiff *int64     `json:"gasDiff,omitempty"`
	Reason  string     `json:"reason,omitempty"`
}

// Overall is the closed-schema summary block of a TestOutput (§3 TestOutput).
// Every field is a pointer/optional so it is present only when derivable
// from the source text, matching "fields present only when derivable".
type Overall struct {
	NumberOfTests   *int   `json:"numberOfTests,omitempty"`
	NumberOfPassed  *int   `json:"numberOfPassed,omitempty"`
	NumberOfFailed  *int   `json:"numberOfFailed,omitempty"`
	Passed          *bool  `json:"passed,omitempty"`
	GasDiffOverall  *int64 `json:"gasDiffOverall,omitempty"`
}

// TestOutput is the structured report produced by the output parsers
// (§3 TestOutput). It is a value object, never persisted independently of
// its owning ContainerExecution.
type TestOutput struct {
	Overall Overall      `json:"overall"`
	Tests   []TestRecord `json:"tests"`
}

// IntPtr, I64Ptr and BoolPtr are small helpers for building Overall values
// from the parsers, which work with computed locals rather than addressable
// literals.
func IntPtr(v int) *int     { return &v }
func I64Ptr(v int64) *int64 { return &v }
func BoolPtr(v bool) *bool  { return &v }
