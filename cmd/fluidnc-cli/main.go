// Copyright 2025 Mitch Bradley. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// fluidnc-cli is an interactive console for a FluidNC / Grbl
// controller: it connects over serial, sends typed lines as commands,
// and exposes the file transfer primitives as get/put built-ins.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/MitchBradley/fluid-installer/fluidnc"
	"github.com/MitchBradley/fluid-installer/transport"
)

// fileConfig is the optional YAML configuration file.
type fileConfig struct {
	Port    string `yaml:"port"`
	Baud    int    `yaml:"baud"`
	Verbose bool   `yaml:"verbose"`
}

func loadConfigFile(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func main() {
	var (
		portFlag    = flag.String("port", "", "serial port (e.g. /dev/ttyUSB0)")
		baudFlag    = flag.Int("baud", 0, "baud rate (default 115200)")
		configFlag  = flag.String("config", "", "YAML config file")
		verboseFlag = flag.Bool("v", false, "debug logging")
		listFlag    = flag.Bool("list", false, "list serial ports and exit")
	)
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger().Level(zerolog.InfoLevel)

	if *listFlag {
		ports, err := transport.ScanPorts()
		if err != nil {
			log.Fatal().Err(err).Msg("cannot list serial ports")
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	var cfg fileConfig
	if *configFlag != "" {
		var err error
		cfg, err = loadConfigFile(*configFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("cannot load config file")
		}
	}
	if *portFlag != "" {
		cfg.Port = *portFlag
	}
	if *baudFlag != 0 {
		cfg.Baud = *baudFlag
	}
	if *verboseFlag {
		cfg.Verbose = true
	}
	if cfg.Port == "" {
		log.Fatal().Msg("no serial port given (use -port or a config file)")
	}
	if cfg.Verbose {
		log = log.Level(zerolog.DebugLevel)
	}

	sessionCfg := fluidnc.DefaultConfig()
	if cfg.Baud != 0 {
		sessionCfg.BaudRate = cfg.Baud
	}

	tr := transport.NewSerialPort(cfg.Port)
	session := fluidnc.NewSession(tr, fluidnc.NewOption().
		SetConfig(sessionCfg).
		SetLogger(log))
	session.AddStatusListener(func(st fluidnc.Status) {
		log.Info().Stringer("status", st).Msg("session status")
	})

	ctx := context.Background()
	if err := session.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("connect failed")
	}
	defer session.Disconnect(false)

	if v := session.Version(); v != "" {
		fmt.Printf("firmware: %s\n", v)
	}

	rl, err := readline.New("fluidnc> ")
	if err != nil {
		log.Fatal().Err(err).Msg("cannot start console")
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF or readline.ErrInterrupt
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if done := runCommand(ctx, session, log, line); done {
			return
		}
	}
}

// runCommand executes one console line; it returns true when the
// console should exit.
func runCommand(ctx context.Context, session *fluidnc.Session, log zerolog.Logger, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "quit", "exit":
		return true

	case "reset":
		if err := session.HardReset(ctx); err != nil {
			log.Error().Err(err).Msg("hard reset failed")
		}

	case "version":
		fmt.Println(session.Version())

	case "stats":
		for _, l := range session.Stats() {
			fmt.Println(l)
		}

	case "startup":
		cmd := fluidnc.NewStartupShowCommand()
		if err := session.Send(ctx, cmd); err != nil {
			log.Error().Err(err).Msg("startup query failed")
			return false
		}
		for _, l := range cmd.Lines() {
			fmt.Println(l)
		}
		if err := cmd.Err(); err != nil {
			fmt.Println(err)
		}

	case "get":
		if len(fields) != 2 {
			fmt.Println("usage: get <file>")
			return false
		}
		data, err := session.DownloadFile(ctx, fields[1])
		if err != nil {
			log.Error().Err(err).Msg("download failed")
			return false
		}
		if err := os.WriteFile(fields[1], data, 0o644); err != nil {
			log.Error().Err(err).Msg("cannot write local file")
			return false
		}
		fmt.Printf("%s: %d bytes\n", fields[1], len(data))

	case "put":
		if len(fields) != 2 {
			fmt.Println("usage: put <file>")
			return false
		}
		data, err := os.ReadFile(fields[1])
		if err != nil {
			log.Error().Err(err).Msg("cannot read local file")
			return false
		}
		if err := session.UploadFile(ctx, fields[1], data); err != nil {
			log.Error().Err(err).Msg("upload failed")
			return false
		}
		fmt.Printf("%s: %d bytes sent\n", fields[1], len(data))

	default:
		cmd := fluidnc.NewRawCommand(line)
		if err := session.Send(ctx, cmd); err != nil {
			log.Error().Err(err).Msg("command failed")
			return false
		}
		for _, l := range cmd.Lines() {
			fmt.Println(l)
		}
		if f := cmd.Failed(); f != "" {
			fmt.Println(f)
		} else {
			fmt.Println("ok")
		}
	}
	return false
}
