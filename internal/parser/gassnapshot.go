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

// Package parser turns the sandbox tool's textual stdout into a
// model.TestOutput. Every parser here is a pure function (§4.4 Output
// Parsers): given malformed or empty input it returns a zero-value or
// partial TestOutput, never an error.
package parser

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"

	"github.com/codepr/forgerunner/internal/model"
)

// gasSnapshotLine matches "TestSuite:testName() (gas: 12345)".
var gasSnapshotLine = regexp.MustCompile(`^([A-Za-z0-9_]+):([A-Za-z0-9_]+)\(\)\s+\(gas:\s*(\d+)\)\s*$`)

// ParseGasSnapshot extracts one PASS record per recognized line (§4.4
// Gas-snapshot parser). Malformed lines are skipped silently.
func ParseGasSnapshot(output string) model.TestOutput {
	var tests []model.TestRecord

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		m := gasSnapshotLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		gas, err := strconv.ParseInt(m[3], 10, 64)
		if err != nil {
			continue
		}
		tests = append(tests, model.TestRecord{
			Test:    m[1] + "." + m[2],
			Status:  model.TestPass,
			GasUsed: model.I64Ptr(gas),
		})
	}

	out := model.TestOutput{Tests: tests}
	out.Overall.NumberOfTests = model.IntPtr(len(tests))
	return out
}
