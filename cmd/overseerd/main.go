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

package main

import (
	"flag"
	"log"
	"os"

	"github.com/codepr/overseer/config"
	"github.com/codepr/overseer/control"
	"github.com/codepr/overseer/environment"
)

func main() {
	var addr, configPath string
	flag.StringVar(&addr, "addr", ":28919", "Server listening address")
	flag.StringVar(&configPath, "config", "overseer.yaml", "Path to the supervisor config file")
	flag.Parse()

	logger := log.New(os.Stdout, "[overseer] ", log.LstdFlags)

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		logger.Fatal(err)
	}

	var notifier environment.Notifier = environment.NoopNotifier{}
	if cfg.Notify.AMQPURL != "" {
		notifier = environment.NewAMQPNotifier(cfg.Notify.AMQPURL, "overseer.runs", logger)
	}

	reg := control.NewRegistry()
	for _, envCfg := range cfg.Environments {
		env, err := control.BuildEnvironment(envCfg.ID, envCfg, logger)
		if err != nil {
			logger.Fatalf("building environment %q: %v", envCfg.ID, err)
		}
		if setter, ok := env.(interface {
			SetNotifier(environment.Notifier)
		}); ok {
			setter.SetNotifier(notifier)
		}
		if _, err := reg.AddEnvironment(envCfg.ID, env); err != nil {
			logger.Fatalf("registering environment %q: %v", envCfg.ID, err)
		}
		logger.Printf("registered environment %q (%s)", envCfg.ID, envCfg.Type)
	}

	server := control.NewServer(addr, reg, logger)
	if err := server.Run(); err != nil {
		logger.Fatal(err)
	}
}
