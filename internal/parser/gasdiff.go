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

// testFoo() (gas: 12345 (Δ +120))  — the contract name on the preceding
// "TestSuite:" header line, if present, is folded into the test name the
// same way the gas-snapshot parser does.
var gasDiffHeaderLine = regexp.MustCompile(`^([A-Za-z0-9_]+):\s*$`)
var gasDiffTestLine = regexp.MustCompile(`^([A-Za-z0-9_]+)\([^)]*\)\s*\(gas:\s*(\d+)\s*\(Δ\s*([+-]?\d+)\)\)\s*$`)

// ParseGasDiff extracts per-test gas/gasDiff pairs and sums the signed
// diffs into an overall gasDiffOverall (§4.4 Gas-diff parser).
func ParseGasDiff(output string) model.TestOutput {
	var tests []model.TestRecord
	var sum int64
	var any bool
	var suite string

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if m := gasDiffHeaderLine.FindStringSubmatch(line); m != nil {
			suite = m[1]
			continue
		}
		m := gasDiffTestLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		gas, errG := strconv.ParseInt(m[2], 10, 64)
		diff, errD := strconv.ParseInt(m[3], 10, 64)
		if errG != nil || errD != nil {
			continue
		}
		tests = append(tests, model.TestRecord{
			Test:    qualify(suite, m[1]),
			GasUsed: model.I64Ptr(gas),
			GasDiff: model.I64Ptr(diff),
		})
		sum += diff
		any = true
	}

	out := model.TestOutput{Tests: tests}
	if any {
		out.Overall.GasDiffOverall = model.I64Ptr(sum)
	}
	return out
}
