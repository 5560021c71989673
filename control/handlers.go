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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/codepr/overseer/environment"
)

// gitAssetAdder is implemented by the filesystem-backed backends (local,
// container) whose asset namespace lives in a directory AddAssetFromGit can
// populate directly. The remote backends have their own SFTP-only asset
// path and do not implement it.
type gitAssetAdder interface {
	AddAssetFromGit(containerID, remotePath, repoURL, ref string) error
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func handleEnvironments(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(reg.Environments())
	}
}

// environmentBody is the PUT /environment/{id} payload: enough to build any
// of the four backends config.EnvironmentConfig describes.
type environmentBody struct {
	Type             string `json:"type"`
	RuntimeDirectory string `json:"runtime_directory"`
	Host             string `json:"host,omitempty"`
	User             string `json:"user,omitempty"`
	PrivateKeyPath   string `json:"private_key_path,omitempty"`
	Password         string `json:"password,omitempty"`
	Image            string `json:"image,omitempty"`
	MemoryLimit      string `json:"memory_limit,omitempty"`
}

// handleEnvironment routes /environment/{id} and /environment/{id}/run/{run_id}
// and its status/stdout/stderr/file sub-resources.
func handleEnvironment(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/environment/")
		parts := strings.Split(rest, "/")
		if len(parts) == 0 || parts[0] == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		id := parts[0]

		if len(parts) == 1 {
			handleEnvironmentByID(reg, id)(w, r)
			return
		}
		if len(parts) >= 3 && parts[1] == "run" {
			handleRun(reg, id, parts[2], parts[3:])(w, r)
			return
		}
		if len(parts) == 3 && parts[1] == "asset" {
			handleAsset(reg, id, parts[2])(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}
}

func handleEnvironmentByID(reg *Registry, id string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			decoder := json.NewDecoder(r.Body)
			var body environmentBody
			if err := decoder.Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			env, err := buildEnvironment(body)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			if _, err := reg.AddEnvironment(id, env); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			w.WriteHeader(http.StatusCreated)
		case http.MethodDelete:
			reg.RemoveEnvironment(id)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

// handleRun forwards to the named environment's run-lifecycle contract
// methods: POST starts a run, GET .../status|stdout|stderr|file reads it,
// DELETE stops then cleans it.
func handleRun(reg *Registry, envID, runID string, sub []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env, err := reg.Environment(envID)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}

		switch {
		case r.Method == http.MethodPost && len(sub) == 0:
			var commands [][]string
			if err := json.NewDecoder(r.Body).Decode(&commands); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			if err := env.Start(runID, commands); err != nil {
				writeError(w, statusForError(err), err)
				return
			}
			w.WriteHeader(http.StatusCreated)

		case r.Method == http.MethodGet && len(sub) == 1 && sub[0] == "status":
			status, err := env.GetStatus(runID)
			if err != nil {
				writeError(w, statusForError(err), err)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"status": string(status)})

		case r.Method == http.MethodGet && len(sub) == 1 && sub[0] == "stdout":
			rc, err := env.GetStdout(runID)
			streamFile(w, rc, err)

		case r.Method == http.MethodGet && len(sub) == 1 && sub[0] == "stderr":
			rc, err := env.GetStderr(runID)
			streamFile(w, rc, err)

		case r.Method == http.MethodGet && len(sub) >= 1 && sub[0] == "file":
			rc, err := env.GetFile(runID, strings.Join(sub[1:], "/"))
			streamFile(w, rc, err)

		case r.Method == http.MethodDelete && len(sub) == 0:
			if err := env.Stop(runID); err != nil {
				writeError(w, statusForError(err), err)
				return
			}
			if err := env.Clean(runID); err != nil {
				writeError(w, statusForError(err), err)
				return
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

// gitAssetBody is the POST /environment/{id}/asset/{container_id} payload.
type gitAssetBody struct {
	RepoURL    string `json:"repo_url"`
	Ref        string `json:"ref"`
	RemotePath string `json:"remote_path"`
}

// handleAsset populates containerID's asset namespace from a git repository
// on the named environment, for any backend that supports it.
func handleAsset(reg *Registry, envID, containerID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		env, err := reg.Environment(envID)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}

		adder, ok := env.(gitAssetAdder)
		if !ok {
			writeError(w, http.StatusNotImplemented,
				fmt.Errorf("control: environment %q does not support git-sourced assets", envID))
			return
		}

		var body gitAssetBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		if err := adder.AddAssetFromGit(containerID, body.RemotePath, body.RepoURL, body.Ref); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}
}

func streamFile(w http.ResponseWriter, rc io.ReadCloser, err error) {
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "text/plain")
	io.Copy(w, rc)
}

func statusForError(err error) int {
	switch err {
	case environment.ErrUnknownRun:
		return http.StatusNotFound
	case environment.ErrDuplicateRun, environment.ErrEmptyCommands:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func handleSimulations(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(reg.Simulations())
		case http.MethodPost:
			var sim Simulation
			if err := json.NewDecoder(r.Body).Decode(&sim); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			id, err := reg.AddSimulation("", sim)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]string{"id": id})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

func handleSimulation(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/simulation/")
		if id == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		switch r.Method {
		case http.MethodGet:
			sim, err := reg.Simulation(id)
			if err != nil {
				writeError(w, http.StatusNotFound, err)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(sim)
		case http.MethodPut:
			var sim Simulation
			if err := json.NewDecoder(r.Body).Decode(&sim); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			if _, err := reg.AddSimulation(id, sim); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			w.WriteHeader(http.StatusCreated)
		case http.MethodDelete:
			reg.RemoveSimulation(id)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}
