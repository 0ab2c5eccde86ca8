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

package parser

import "github.com/codepr/forgerunner/internal/model"

// Merge unions the gas-snapshot, forge-test and gas-diff outputs of a
// single container run into one TestOutput (§4.1 step 4, §4.3 step 6,
// §4.4 "the outputs are merged"). The overall block is a field-wise union
// preferring the earlier non-null value in the argument order passed; the
// tests sequence is keyed by test name, and a test present in more than one
// source has its fields unioned the same way, preferring earlier non-null
// values.
func Merge(outputs ...model.TestOutput) model.TestOutput {
	var merged model.TestOutput
	order := make([]string, 0)
	byName := make(map[string]*model.TestRecord)

	for _, out := range outputs {
		merged.Overall = mergeOverall(merged.Overall, out.Overall)
		for _, rec := range out.Tests {
			existing, ok := byName[rec.Test]
			if !ok {
				copyRec := rec
				byName[rec.Test] = &copyRec
				order = append(order, rec.Test)
				continue
			}
			mergeRecord(existing, rec)
		}
	}

	merged.Tests = make([]model.TestRecord, 0, len(order))
	for _, name := range order {
		merged.Tests = append(merged.Tests, *byName[name])
	}
	return merged
}

func mergeOverall(dst, src model.Overall) model.Overall {
	if dst.NumberOfTests == nil {
		dst.NumberOfTests = src.NumberOfTests
	}
	if dst.NumberOfPassed == nil {
		dst.NumberOfPassed = src.NumberOfPassed
	}
	if dst.NumberOfFailed == nil {
		dst.NumberOfFailed = src.NumberOfFailed
	}
	if dst.Passed == nil {
		dst.Passed = src.Passed
	}
	if dst.GasDiffOverall == nil {
		dst.GasDiffOverall = src.GasDiffOverall
	}
	return dst
}

func mergeRecord(dst *model.TestRecord, src model.TestRecord) {
	if dst.Status == "" {
		dst.Status = src.Status
	}
	if dst.GasUsed == nil {
		dst.GasUsed = src.GasUsed
	}
	if dst.GasDiff == nil {
		dst.GasDiff = src.GasDiff
	}
	if dst.Reason == "" {
		dst.Reason = src.Reason
	}
}
