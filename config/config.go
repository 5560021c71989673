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

// Package config loads the supervisor's startup configuration: the set of
// environments to register and the optional notifier to wire into each one.
package config

import (
	"fmt"
	"io/ioutil"

	"gopkg.in/yaml.v2"
)

// EnvironmentConfig describes one environment entry. Which fields apply
// depends on Type; unused fields are simply left zero.
type EnvironmentConfig struct {
	ID               string `yaml:"id"`
	Type             string `yaml:"type"`
	RuntimeDirectory string `yaml:"runtime_directory"`

	// ssh and lsf only
	Host           string `yaml:"host,omitempty"`
	User           string `yaml:"user,omitempty"`
	PrivateKeyPath string `yaml:"private_key_path,omitempty"`
	Password       string `yaml:"password,omitempty"`

	// container only
	Image       string `yaml:"image,omitempty"`
	MemoryLimit string `yaml:"memory_limit,omitempty"`
}

// NotifyConfig configures the optional AMQP lifecycle notifier.
type NotifyConfig struct {
	AMQPURL string `yaml:"amqp_url"`
}

// SupervisorConfig is the top-level document loaded from the supervisor's
// config file.
type SupervisorConfig struct {
	Environments []EnvironmentConfig `yaml:"environments"`
	Notify       NotifyConfig        `yaml:"notify"`
}

// recognized environment types; an entry naming anything else is a
// configuration error raised at load time.
var recognizedTypes = map[string]bool{
	"local":     true,
	"ssh":       true,
	"lsf":       true,
	"container": true,
}

// LoadFromFile reads and validates a supervisor config from path, following
// ci.go's default-then-unmarshal pattern: the container image defaults to
// "ubuntu" unless overridden in the document.
func LoadFromFile(path string) (*SupervisorConfig, error) {
	contents, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &SupervisorConfig{}
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return nil, err
	}

	for i, env := range cfg.Environments {
		if env.ID == "" {
			return nil, fmt.Errorf("config: environment at index %d is missing an id", i)
		}
		if !recognizedTypes[env.Type] {
			return nil, fmt.Errorf("config: environment %q has unknown type %q", env.ID, env.Type)
		}
		if env.Type == "container" && env.Image == "" {
			cfg.Environments[i].Image = "ubuntu"
		}
	}

	return cfg, nil
}
