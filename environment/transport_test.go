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

package environment

import "testing"

func TestQuote(t *testing.T) {
	if got := Quote("hello"); got != `"hello"` {
		t.Errorf("Quote(hello) = %s, want \"hello\"", got)
	}
	if got := Quote(`say "hi"`); got != `"say \"hi\""` {
		t.Errorf(`Quote(say "hi") = %s, want "say \"hi\""`, got)
	}
	if got := Quote("&"); got != "&" {
		t.Errorf("Quote(&) = %s, want & unquoted", got)
	}
	if got := Quote("|"); got != "|" {
		t.Errorf("Quote(|) = %s, want | unquoted", got)
	}
}

func TestQuoteAll(t *testing.T) {
	got := QuoteAll([]string{"echo", "hello world", "&"})
	want := `"echo" "hello world" &`
	if got != want {
		t.Errorf("QuoteAll = %s, want %s", got, want)
	}
}

func TestBuildCommand(t *testing.T) {
	got := BuildCommand("/tmp/run", []string{"echo", "hi"}, nil)
	want := `cd "/tmp/run" && "echo" "hi"`
	if got != want {
		t.Errorf("BuildCommand = %s, want %s", got, want)
	}
}

func TestBuildCommandWithRedirect(t *testing.T) {
	got := BuildCommand("/tmp/run", []string{"echo", "hi"}, &Redirect{Path: "out.log"})
	want := `cd "/tmp/run" && "echo" "hi" > "out.log"`
	if got != want {
		t.Errorf("BuildCommand = %s, want %s", got, want)
	}

	got = BuildCommand("/tmp/run", []string{"echo", "hi"}, &Redirect{Path: "out.log", Append: true})
	want = `cd "/tmp/run" && "echo" "hi" >> "out.log"`
	if got != want {
		t.Errorf("BuildCommand append = %s, want %s", got, want)
	}
}
