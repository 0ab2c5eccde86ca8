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

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"

	"github.com/codepr/forgerunner/internal/model"
)

// [PASS] testFoo() (gas: 12345)
var forgePassLine = regexp.MustCompile(`^\[PASS\]\s+([A-Za-z0-9_]+)\([^)]*\)\s*(?:\(gas:\s*(\d+)\))?\s*$`)

// [FAIL. Reason: nope] testFoo(...)
var forgeFailLine = regexp.MustCompile(`^\[FAIL\.\s*Reason:\s*(.*?)\]\s+([A-Za-z0-9_]+)\(`)

// Test result: ok; 1 passed; 0 failed; 0 skipped; finished in ...
var forgeSummaryLine = regexp.MustCompile(`^Test result:.*?(\d+)\s+passed;\s*(\d+)\s+failed`)

// Running 2 tests for test/A.t.sol:A — the suite name after the colon folds
// into every test name below it, the same technique the gas-diff parser
// uses for its own header line.
var forgeSuiteHeaderLine = regexp.MustCompile(`^Running\s+\d+\s+tests?\s+for\s+.*:([A-Za-z0-9_]+)\s*$`)

// ParseForgeTest extracts per-test PASS/FAIL records plus the overall
// summary line from forge's test-run output (§4.4 Forge-test parser).
func ParseForgeTest(output string) model.TestOutput {
	var tests []model.TestRecord
	var overall model.Overall
	var suite string

	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if m := forgeSuiteHeaderLine.FindStringSubmatch(line); m != nil {
			suite = m[1]
			continue
		}

		if m := forgePassLine.FindStringSubmatch(line); m != nil {
			rec := model.TestRecord{Test: qualify(suite, m[1]), Status: model.TestPass}
			if m[2] != "" {
				if gas, err := strconv.ParseInt(m[2], 10, 64); err == nil {
					rec.GasUsed = model.I64Ptr(gas)
				}
			}
			tests = append(tests, rec)
			continue
		}

		if m := forgeFailLine.FindStringSubmatch(line); m != nil {
			tests = append(tests, model.TestRecord{
				Test:   qualify(suite, m[2]),
				Status: model.TestFail,
				Reason: m[1],
			})
			continue
		}

		if m := forgeSummaryLine.FindStringSubmatch(line); m != nil {
			passed, errP := strconv.Atoi(m[1])
			failed, errF := strconv.Atoi(m[2])
			if errP == nil && errF == nil {
				overall.NumberOfPassed = model.IntPtr(passed)
				overall.NumberOfFailed = model.IntPtr(failed)
				overall.NumberOfTests = model.IntPtr(passed + failed)
				overall.Passed = model.BoolPtr(failed == 0)
			}
		}
	}

	return model.TestOutput{Overall: overall, Tests: tests}
}

// qualify folds a suite name into a bare test name, matching the
// gas-snapshot/gas-diff parsers' "Suite.testName" convention.
func qualify(suite, name string) string {
	if suite == "" {
		return name
	}
	return suite + "." + name
}
