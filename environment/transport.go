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

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Quote implements the one load-bearing shell-quoting rule shared by every
// remote backend: every argument is wrapped in double quotes with inner
// double quotes backslash-escaped, except the bare pipe and background
// tokens, which pass through untouched so callers can build pipelines and
// detach a process with '&'.
func Quote(arg string) string {
	trimmed := strings.TrimSpace(arg)
	if trimmed == "&" || trimmed == "|" {
		return trimmed
	}
	return `"` + strings.ReplaceAll(arg, `"`, `\"`) + `"`
}

// QuoteAll joins a command's argv with Quote applied to every element.
func QuoteAll(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = Quote(a)
	}
	return strings.Join(quoted, " ")
}

// Redirect describes an optional output redirection appended to a built
// command line.
type Redirect struct {
	Path   string
	Append bool
}

// BuildCommand assembles the "cd "<cwd>" && <args...>" line used to run a
// single command over a remote shell session, with an optional trailing
// redirection.
func BuildCommand(cwd string, args []string, redirect *Redirect) string {
	var b strings.Builder
	fmt.Fprintf(&b, `cd "%s" && %s`, cwd, QuoteAll(args))
	if redirect != nil {
		if redirect.Append {
			b.WriteString(" >> ")
		} else {
			b.WriteString(" > ")
		}
		fmt.Fprintf(&b, `"%s"`, redirect.Path)
	}
	return b.String()
}

// Transport is the minimally abstracted remote command execution primitive
// spec.md section 2 calls for: given a shell command line (its working
// directory and any redirection already folded in by BuildCommand), return
// (exit code, stdout, stderr).
type Transport interface {
	// Run executes command (a fully assembled shell line, see BuildCommand)
	// in a fresh session and returns its exit status and captured output.
	Run(command string) (exitCode int, stdout, stderr []byte, err error)

	// Upload copies localPath to remotePath over a file-transfer channel
	// distinct from the command shell, creating intermediate directories.
	Upload(localPath, remotePath string) error

	// EnsureDir idempotently creates remotePath (and parents) if absent.
	EnsureDir(remotePath string) error

	// Open returns a reader for remotePath over the file-transfer channel,
	// used to serve logs and run files back to callers of get_stdout,
	// get_stderr and get_file.
	Open(remotePath string) (io.ReadCloser, error)

	// Close releases any held connections.
	Close() error
}

// SSHConfig carries what's needed to dial a remote host for the SSH and LSF
// backends.
type SSHConfig struct {
	Host           string
	User           string
	PrivateKeyPath string
	Password       string
	HostKeyCheck   ssh.HostKeyCallback
}

// SSHTransport is the Transport realized over a real SSH connection: one
// session per Run call (mirroring the reference implementation's
// "client.get_transport().open_session()" per command), and a lazily opened
// SFTP client kept for the environment's lifetime for asset uploads.
type SSHTransport struct {
	client *ssh.Client
	sftp   *sftp.Client
}

// DialSSH opens the underlying connection. Implementers of a backend call
// this once at construction and keep the Transport for the environment's
// lifetime (spec.md section 5: "SFTP channels are lazily opened and kept
// for the environment's lifetime").
func DialSSH(cfg SSHConfig) (*SSHTransport, error) {
	auth, err := sshAuthMethod(cfg)
	if err != nil {
		return nil, err
	}

	callback := cfg.HostKeyCheck
	if callback == nil {
		callback = ssh.InsecureIgnoreHostKey()
	}

	client, err := ssh.Dial("tcp", cfg.Host, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: callback,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Host, err)
	}

	return &SSHTransport{client: client}, nil
}

func (t *SSHTransport) Run(command string) (int, []byte, []byte, error) {
	session, err := t.client.NewSession()
	if err != nil {
		return -1, nil, nil, err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	err = session.Run(command)
	if err == nil {
		return 0, stdout.Bytes(), stderr.Bytes(), nil
	}

	if exitErr, ok := err.(*ssh.ExitError); ok {
		return exitErr.ExitStatus(), stdout.Bytes(), stderr.Bytes(), nil
	}

	return -1, stdout.Bytes(), stderr.Bytes(), err
}

func (t *SSHTransport) sftpClient() (*sftp.Client, error) {
	if t.sftp == nil {
		client, err := sftp.NewClient(t.client)
		if err != nil {
			return nil, err
		}
		t.sftp = client
	}
	return t.sftp, nil
}

func (t *SSHTransport) Upload(localPath, remotePath string) error {
	client, err := t.sftpClient()
	if err != nil {
		return err
	}

	if err := t.EnsureDir(parentDir(remotePath)); err != nil {
		return err
	}

	local, err := openLocal(localPath)
	if err != nil {
		return err
	}
	defer local.Close()

	remote, err := client.Create(remotePath)
	if err != nil {
		return err
	}
	defer remote.Close()

	_, err = remote.ReadFrom(local)
	return err
}

// EnsureDir creates remotePath and every parent directory, tolerating
// "already exists" so that (per Open Question (d) in spec.md section 9) a
// second add_asset on the same container does not fail on the container
// root already being present.
func (t *SSHTransport) EnsureDir(remotePath string) error {
	if remotePath == "" || remotePath == "." {
		return nil
	}
	client, err := t.sftpClient()
	if err != nil {
		return err
	}

	parts := strings.Split(strings.Trim(remotePath, "/"), "/")
	current := ""
	if strings.HasPrefix(remotePath, "/") {
		current = "/"
	}
	for _, part := range parts {
		if part == "" {
			continue
		}
		if current == "" || current == "/" {
			current = current + part
		} else {
			current = current + "/" + part
		}
		if err := client.Mkdir(current); err != nil {
			if info, statErr := client.Stat(current); statErr == nil && info.IsDir() {
				continue
			}
			return err
		}
	}
	return nil
}

func (t *SSHTransport) Open(remotePath string) (io.ReadCloser, error) {
	client, err := t.sftpClient()
	if err != nil {
		return nil, err
	}
	return client.Open(remotePath)
}

func (t *SSHTransport) Close() error {
	if t.sftp != nil {
		t.sftp.Close()
	}
	return t.client.Close()
}

func parentDir(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}
