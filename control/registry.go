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

// Package control implements the external-facing registry and HTTP surface
// a supervisor exposes over its environments: a process-wide registry with
// explicit init/teardown, not ambient state.
package control

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/codepr/overseer/environment"
)

var (
	// ErrDuplicateID is returned when a caller tries to register an
	// environment or simulation under an id already present in the registry.
	ErrDuplicateID = errors.New("control: id already registered")
	// ErrUnknownID is returned when a caller references an id not present
	// in the registry.
	ErrUnknownID = errors.New("control: unknown id")
)

// Simulation is an opaque, caller-supplied JSON document keyed by a
// caller-unique id; the registry only ever stores and returns it verbatim.
type Simulation = map[string]interface{}

// Registry holds the set of named environments and simulations a supervisor
// currently serves, generalized from runner.RunnerRegistry's pool of
// test-runner URLs to a pool of named environment.RunEnvironment backends.
type Registry struct {
	mu sync.RWMutex

	environments map[string]environment.RunEnvironment
	simulations  map[string]Simulation
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		environments: map[string]environment.RunEnvironment{},
		simulations:  map[string]Simulation{},
	}
}

// Environments returns the ids of every registered environment.
func (reg *Registry) Environments() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	ids := make([]string, 0, len(reg.environments))
	for id := range reg.environments {
		ids = append(ids, id)
	}
	return ids
}

// AddEnvironment registers env under id. If id is empty a uuid is
// generated. Registering under an id already present is rejected, matching
// original_source/remote/backend/run.py's "ID exists already" behaviour.
func (reg *Registry) AddEnvironment(id string, env environment.RunEnvironment) (string, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}
	if _, ok := reg.environments[id]; ok {
		return "", ErrDuplicateID
	}
	reg.environments[id] = env
	return id, nil
}

// Environment looks up a registered environment by id.
func (reg *Registry) Environment(id string) (environment.RunEnvironment, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	env, ok := reg.environments[id]
	if !ok {
		return nil, ErrUnknownID
	}
	return env, nil
}

// RemoveEnvironment unregisters id; it is a no-op if id was never present.
func (reg *Registry) RemoveEnvironment(id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.environments, id)
}

// Simulations returns every registered simulation keyed by id.
func (reg *Registry) Simulations() map[string]Simulation {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	out := make(map[string]Simulation, len(reg.simulations))
	for id, sim := range reg.simulations {
		out[id] = sim
	}
	return out
}

// AddSimulation registers sim under id, generating one if empty, rejecting
// duplicates the same way AddEnvironment does.
func (reg *Registry) AddSimulation(id string, sim Simulation) (string, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}
	if _, ok := reg.simulations[id]; ok {
		return "", ErrDuplicateID
	}
	reg.simulations[id] = sim
	return id, nil
}

// Simulation looks up a registered simulation by id.
func (reg *Registry) Simulation(id string) (Simulation, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	sim, ok := reg.simulations[id]
	if !ok {
		return nil, ErrUnknownID
	}
	return sim, nil
}

// RemoveSimulation unregisters id; it is a no-op if id was never present.
func (reg *Registry) RemoveSimulation(id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.simulations, id)
}
