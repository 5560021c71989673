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

// This file holds the asset-container helpers shared by the local and
// container backends (both address assets as paths on the local
// filesystem); the remote backends have their own SFTP-backed equivalents
// in remoteshell.go.
package environment

import (
	"io"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

func assetsRoot(runtimeDirectory string) string {
	return filepath.Join(runtimeDirectory, "__assets")
}

func containerRoot(runtimeDirectory, containerID string) string {
	return filepath.Join(assetsRoot(runtimeDirectory), containerID)
}

func ensureAssetsDir(runtimeDirectory string) error {
	return os.MkdirAll(assetsRoot(runtimeDirectory), 0o755)
}

func localAssetPath(runtimeDirectory, containerID, remotePath string) string {
	return filepath.Join(containerRoot(runtimeDirectory, containerID), remotePath)
}

func hasLocalAsset(runtimeDirectory, containerID, remotePath string) bool {
	_, err := os.Stat(localAssetPath(runtimeDirectory, containerID, remotePath))
	return err == nil
}

func cleanLocalAssets(runtimeDirectory, containerID string) error {
	return os.RemoveAll(containerRoot(runtimeDirectory, containerID))
}

// addLocalAsset copies localPath into the container at remotePath, creating
// the container root and any intermediate directories lazily and
// idempotently (spec.md section 9, Open Question (d)).
func addLocalAsset(runtimeDirectory, containerID, remotePath, localPath string) error {
	assetPath := localAssetPath(runtimeDirectory, containerID, remotePath)
	if err := os.MkdirAll(filepath.Dir(assetPath), 0o755); err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(assetPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

// AddAssetFromGit populates remotePath inside containerID with the tree of
// a shallow, single-branch clone of repoURL at branch ref; an empty ref
// makes a shallow clone of the remote's default HEAD without the
// single-branch restriction. It is grounded on the
// teacher's Repository.CloneCommand (core/repository.go) generalized from
// shelling out to git to a real go-git clone, and closes a gap in the
// original asset model (original_source/remote/environment.py only ever
// copies one local file at a time) — most commands submitted to a run need
// an entire checked-out tree as their working set, not a single file.
func AddAssetFromGit(runtimeDirectory, containerID, remotePath, repoURL, ref string) error {
	scratch, err := os.MkdirTemp("", "overseer-git-asset-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	cloneOpts := &git.CloneOptions{
		URL:           repoURL,
		Depth:         1,
		SingleBranch:  true,
		ReferenceName: plumbing.NewBranchReferenceName(ref),
	}
	if ref == "" {
		cloneOpts.ReferenceName = ""
		cloneOpts.SingleBranch = false
	}

	if _, err := git.PlainClone(scratch, false, cloneOpts); err != nil {
		return err
	}

	destRoot := localAssetPath(runtimeDirectory, containerID, remotePath)
	if err := os.MkdirAll(destRoot, 0o755); err != nil {
		return err
	}

	return filepath.Walk(scratch, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() && info.Name() == ".git" {
			return filepath.SkipDir
		}

		rel, err := filepath.Rel(scratch, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		target := filepath.Join(destRoot, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
