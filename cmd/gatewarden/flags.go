package main

import "time"

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// RunFlags are the flags of the run command.
type RunFlags struct {
	ConfigPath string
	LogsDir    string
	Daemonize  bool
	PidFile    string
	LogFile    string
}

// StatusFlags are the flags of the commands talking to a running monitor.
type StatusFlags struct {
	APIUrl     string
	APITimeout time.Duration
	Token      string
	CACert     string
	Insecure   bool
	JSON       bool
}

// CheckFlags are the flags of check-config.
type CheckFlags struct {
	ConfigPath string
	LogsDir    string
	Print      bool
}
