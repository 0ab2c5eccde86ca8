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

// Package model holds the domain value objects shared by the front service
// and the runner: projects, container-execution history, parsed test output
// and bus message records.
package model

import "time"

// ExecArg is one of the whitelisted --kebab-case flags forwarded to the
// sandbox tool on a submission run (§6 Whitelisted execution arguments).
type ExecArg string

const (
	ArgMatchContract   ExecArg = "matchContract"
	ArgMatchTest       ExecArg = "matchTest"
	ArgMatchPath       ExecArg = "matchPath"
	ArgNoMatchContract ExecArg = "noMatchContract"
	ArgNoMatchTest     ExecArg = "noMatchTest"
	ArgNoMatchPath     ExecArg = "noMatchPath"
	ArgFuzzRuns        ExecArg = "fuzzRuns"
	ArgFuzzSeed        ExecArg = "fuzzSeed"
)

var whitelistedExecArgs = map[ExecArg]struct{}{
	ArgMatchContract:   {},
	ArgMatchTest:       {},
	ArgMatchPath:       {},
	ArgNoMatchContract: {},
	ArgNoMatchTest:     {},
	ArgNoMatchPath:     {},
	ArgFuzzRuns:        {},
	ArgFuzzSeed:        {},
}

// ExecutionArgs is the caller-supplied set of execution arguments for a
// submission run, keyed by the whitelisted flag name.
type ExecutionArgs map[string]string

// Sanitize drops every key not in the closed whitelist (§6), returning the
// subset that is safe to forward to the sandbox tool. Unknown keys are
// silently dropped per TESTABLE PROPERTIES scenario 6 ("Bad execution arg").
func (a ExecutionArgs) Sanitize() ExecutionArgs {
	out := make(ExecutionArgs, len(a))
	for k, v := range a {
		if _, ok := whitelistedExecArgs[ExecArg(k)]; ok {
			out[k] = v
		}
	}
	return out
}

// ToFlags renders the sanitized arguments as "--kebab-case value" tokens, in
// a fixed deterministic order so command construction is reproducible.
func (a ExecutionArgs) ToFlags() []string {
	order := []ExecArg{
		ArgMatchContract, ArgMatchTest, ArgMatchPath,
		ArgNoMatchContract, ArgNoMatchTest, ArgNoMatchPath,
		ArgFuzzRuns, ArgFuzzSeed,
	}
	flags := make([]string, 0, len(a)*2)
	for _, k := range order {
		v, ok := a[string(k)]
		if !ok {
			continue
		}
		flags = append(flags, "--"+kebab(string(k)), v)
	}
	return flags
}

func kebab(camel string) string {
	out := make([]byte, 0, len(camel)+4)
	for i := 0; i < len(camel); i++ {
		c := camel[i]
		if c >= 'A' && c <= 'Z' {
			out = append(out, '-', c-'A'+'a')
			continue
		}
		out = append(out, c)
	}
	return string(out)
}

// ProjectConfig is the optional `projectConfig` sidecar carried alongside a
// submission-execute multipart body (§6). It is decoded as JSON by default; a
// submission may instead send it as YAML on the same multipart field. The
// project-upload handler does not read a `projectConfig` field, so a
// project's stored timeout and default arguments are not set from it.
type ProjectConfig struct {
	ContainerTimeout       int           `json:"containerTimeout,omitempty" yaml:"containerTimeout,omitempty"`
	TestExecutionArguments ExecutionArgs `json:"testExecutionArguments,omitempty" yaml:"testExecutionArguments,omitempty"`
}

// Project is the registered test suite + sandbox image for one course
// project (§3 Project).
type Project struct {
	Name             string        `bson:"name" json:"name"`
	ImageID          string        `bson:"imageId" json:"imageId"`
	ImageTag         string        `bson:"imageTag" json:"imageTag"`
	BuildAt          time.Time     `bson:"buildAt" json:"buildAt"`
	ContainerTimeout int           `bson:"containerTimeout,omitempty" json:"containerTimeout,omitempty"`
	DefaultArgs      ExecutionArgs `bson:"defaultArgs,omitempty" json:"defaultArgs,omitempty"`
	BaselineTests    []string      `bson:"baselineTests" json:"baselineTests"`
}

// TimeoutOrDefault returns the project's configured container timeout, or
// the supplied service default if the project never set one (§4.2 Timeout
// policy).
func (p *Project) TimeoutOrDefault(serviceDefault int) int {
	if p.ContainerTimeout > 0 {
		return p.ContainerTimeout
	}
	return serviceDefault
}

// BaselineSet returns the baseline test roster as a set, for invariant
// checks (§4.1 Invariant, §8 Invariants).
func (p *Project) BaselineSet() map[string]struct{} {
	set := make(map[string]struct{}, len(p.BaselineTests))
	for _, t := range p.BaselineTests {
		set[t] = struct{}{}
	}
	return set
}
