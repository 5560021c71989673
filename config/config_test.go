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

package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "overseer.yaml")
	if err := ioutil.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadFromFileValidConfig(t *testing.T) {
	path := writeTempConfig(t, `
environments:
  - id: local
    type: local
    runtime_directory: /var/lib/overseer/local
  - id: sandbox
    type: container
    runtime_directory: /var/lib/overseer/sandbox
notify:
  amqp_url: ""
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if len(cfg.Environments) != 2 {
		t.Fatalf("len(Environments) = %d, want 2", len(cfg.Environments))
	}
	if cfg.Environments[1].Image != "ubuntu" {
		t.Errorf("container environment image = %q, want default %q", cfg.Environments[1].Image, "ubuntu")
	}
}

func TestLoadFromFileRejectsUnknownType(t *testing.T) {
	path := writeTempConfig(t, `
environments:
  - id: weird
    type: quantum
    runtime_directory: /tmp
`)

	if _, err := LoadFromFile(path); err == nil {
		t.Errorf("LoadFromFile should reject an unrecognized environment type")
	}
}

func TestLoadFromFileRejectsMissingID(t *testing.T) {
	path := writeTempConfig(t, `
environments:
  - type: local
    runtime_directory: /tmp
`)

	if _, err := LoadFromFile(path); err == nil {
		t.Errorf("LoadFromFile should reject an environment with no id")
	}
}
