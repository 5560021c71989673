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

package control

import (
	"fmt"
	"log"
	"os"

	"github.com/codepr/overseer/config"
	"github.com/codepr/overseer/environment"
)

// BuildEnvironment realizes a config.EnvironmentConfig into the matching
// environment.RunEnvironment backend, dialing a Transport for the ssh/lsf
// kinds. It is the one place that knows how every registered "type" maps to
// a concrete backend, shared between startup (main.go) and the PUT
// /environment/{id} HTTP path.
func BuildEnvironment(id string, cfg config.EnvironmentConfig, l *log.Logger) (environment.RunEnvironment, error) {
	switch cfg.Type {
	case "local":
		return environment.NewLocalEnvironment(cfg.RuntimeDirectory, l)

	case "ssh":
		t, err := environment.DialSSH(environment.SSHConfig{
			Host:           cfg.Host,
			User:           cfg.User,
			PrivateKeyPath: cfg.PrivateKeyPath,
			Password:       cfg.Password,
		})
		if err != nil {
			return nil, err
		}
		return environment.NewSSHEnvironment(id, cfg.RuntimeDirectory, t, l)

	case "lsf":
		t, err := environment.DialSSH(environment.SSHConfig{
			Host:           cfg.Host,
			User:           cfg.User,
			PrivateKeyPath: cfg.PrivateKeyPath,
			Password:       cfg.Password,
		})
		if err != nil {
			return nil, err
		}
		return environment.NewBatchEnvironment(id, cfg.RuntimeDirectory, t, l)

	case "container":
		return environment.NewContainerEnvironment(cfg.RuntimeDirectory, cfg.Image, cfg.MemoryLimit, l)

	default:
		return nil, fmt.Errorf("control: unknown environment type %q", cfg.Type)
	}
}

// buildEnvironment realizes the HTTP PUT /environment/{id} body into a
// backend by translating the wire body into a config.EnvironmentConfig and
// handing it to BuildEnvironment, whose type switch rejects unknown types.
// LoadFromFile's checks and defaults are not applied on this path.
func buildEnvironment(body environmentBody) (environment.RunEnvironment, error) {
	cfg := config.EnvironmentConfig{
		Type:             body.Type,
		RuntimeDirectory: body.RuntimeDirectory,
		Host:             body.Host,
		User:             body.User,
		PrivateKeyPath:   body.PrivateKeyPath,
		Password:         body.Password,
		Image:            body.Image,
		MemoryLimit:      body.MemoryLimit,
	}
	return BuildEnvironment("", cfg, log.New(os.Stderr, "overseer: ", log.LstdFlags))
}
