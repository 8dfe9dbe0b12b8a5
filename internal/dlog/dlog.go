// Copyright 2026 The dynashard Authors
// This file is part of the dynashard library.
//
// The dynashard library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The dynashard library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the dynashard library. If not, see <http://www.gnu.org/licenses/>.

// Package dlog is a small structured, leveled logger: key/value pairs
// instead of format strings, one Logger per component, colorized when
// attached to a terminal.
package dlog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

type Level int

const (
	LvlCrit Level = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Level) String() string {
	switch l {
	case LvlCrit:
		return "CRIT"
	case LvlError:
		return "ERRO"
	case LvlWarn:
		return "WARN"
	case LvlInfo:
		return "INFO"
	case LvlDebug:
		return "DBUG"
	default:
		return "TRCE"
	}
}

func (l Level) color() *color.Color {
	switch l {
	case LvlCrit, LvlError:
		return color.New(color.FgRed, color.Bold)
	case LvlWarn:
		return color.New(color.FgYellow)
	case LvlInfo:
		return color.New(color.FgGreen)
	default:
		return color.New(color.FgWhite)
	}
}

var (
	mu        sync.Mutex
	out       io.Writer = colorable.NewColorableStdout()
	useColor            = isatty.IsTerminal(os.Stdout.Fd())
	threshold           = LvlInfo
)

// SetLevel sets the process-wide minimum level that gets written.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	threshold = l
}

// SetOutput redirects log output, primarily for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	useColor = false
}

// Logger is a per-component logger. The zero value is not usable; construct
// one with New.
type Logger struct {
	component string
	ctx       []interface{}
}

// New returns a Logger tagged with component, used throughout the engine
// as log.WithComponent("scheduler") is used in similar systems-software
// loggers.
func New(component string, ctx ...interface{}) Logger {
	return Logger{component: component, ctx: ctx}
}

// With returns a derived Logger with additional persistent key/value
// context appended.
func (l Logger) With(ctx ...interface{}) Logger {
	merged := make([]interface{}, 0, len(l.ctx)+len(ctx))
	merged = append(merged, l.ctx...)
	merged = append(merged, ctx...)
	return Logger{component: l.component, ctx: merged}
}

func (l Logger) Trace(msg string, ctx ...interface{}) { l.write(LvlTrace, msg, ctx) }
func (l Logger) Debug(msg string, ctx ...interface{}) { l.write(LvlDebug, msg, ctx) }
func (l Logger) Info(msg string, ctx ...interface{})  { l.write(LvlInfo, msg, ctx) }
func (l Logger) Warn(msg string, ctx ...interface{})  { l.write(LvlWarn, msg, ctx) }
func (l Logger) Error(msg string, ctx ...interface{}) { l.write(LvlError, msg, ctx) }

// Crit logs at the highest severity and then panics, for conditions the
// framework treats as unrecoverable invariant breaks.
func (l Logger) Crit(msg string, ctx ...interface{}) {
	l.write(LvlCrit, msg, ctx)
	panic(msg)
}

func (l Logger) write(lvl Level, msg string, ctx []interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if lvl > threshold {
		return
	}
	var b strings.Builder
	ts := time.Now().Format("15:04:05.000")
	if useColor {
		lvl.color().Fprintf(&b, "%-4s", lvl.String())
	} else {
		fmt.Fprintf(&b, "%-4s", lvl.String())
	}
	fmt.Fprintf(&b, "[%s] %-24s %s", ts, l.component, msg)

	all := make([]interface{}, 0, len(l.ctx)+len(ctx))
	all = append(all, l.ctx...)
	all = append(all, ctx...)
	for i := 0; i+1 < len(all); i += 2 {
		fmt.Fprintf(&b, " %v=%v", all[i], all[i+1])
	}
	if lvl <= LvlError {
		fmt.Fprintf(&b, " caller=%v", stack.Caller(2))
	}
	b.WriteByte('\n')
	io.WriteString(out, b.String())
}
