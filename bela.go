// Package bela is a real-time audio render core. A user program supplies
// setup, render and cleanup callbacks; the core calls render once per period
// with the period's input and output buffers and runs prioritized auxiliary
// tasks alongside it.
package bela

import (
	"github.com/misterbo94/Bela/internal/auxtask"
	"github.com/misterbo94/Bela/internal/config"
	"github.com/misterbo94/Bela/internal/exchange"
	"github.com/misterbo94/Bela/internal/lifecycle"
	"github.com/misterbo94/Bela/internal/logging"
)

type (
	Settings      = config.Settings
	DriverKind    = config.DriverKind
	RenderContext = exchange.RenderContext
	Program       = lifecycle.Program
	Funcs         = lifecycle.Funcs
	State         = lifecycle.State
	Stats         = lifecycle.Stats

	AuxTaskFunc   = auxtask.Func
	AuxTaskOption = auxtask.Option
	AuxTaskHandle = auxtask.Handle
	AuxTaskStats  = auxtask.Stats
	TaskContext   = auxtask.TaskContext
)

const (
	DriverSim       = config.DriverSim
	DriverSoundcard = config.DriverSoundcard
	DriverWavFile   = config.DriverWavFile
)

const (
	StateUninitialized = lifecycle.Uninitialized
	StateConfigured    = lifecycle.Configured
	StateInitialized   = lifecycle.Initialized
	StateRunning       = lifecycle.Running
	StateStopping      = lifecycle.Stopping
	StateCleaned       = lifecycle.Cleaned
	StateFailed        = lifecycle.Failed
)

// InvalidAuxTaskHandle is never issued by CreateAuxiliaryTask
const InvalidAuxTaskHandle = auxtask.InvalidHandle

// DefaultSettings returns the settings used when nothing is overridden
func DefaultSettings() Settings { return config.DefaultSettings() }

// WithArgs attaches a value returned by TaskContext.Args
func WithArgs(args any) AuxTaskOption { return auxtask.WithArgs(args) }

// WithAutoSchedule makes the render loop schedule the task after every render call
func WithAutoSchedule() AuxTaskOption { return auxtask.WithAutoSchedule() }

// SetVerboseLevel adjusts the log level at runtime: 0 info, 1 debug, 2 trace
func SetVerboseLevel(level int) { logging.SetVerboseLevel(level) }
