// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package gologger is a small leveled logger passed explicitly to every
// component constructor. There is no package-level default instance:
// spec §9 rules out global state, and that applies equally to the ambient
// logging stack.
package gologger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "EROR"
	default:
		return "????"
	}
}

// ansi color codes, used only when the output is a terminal.
const (
	colorGray   = "\x1b[90m"
	colorBlue   = "\x1b[34m"
	colorYellow = "\x1b[33m"
	colorRed    = "\x1b[31m"
	colorReset  = "\x1b[0m"
)

func (l Level) color() string {
	switch l {
	case LevelDebug:
		return colorGray
	case LevelInfo:
		return colorBlue
	case LevelWarn:
		return colorYellow
	case LevelError:
		return colorRed
	default:
		return ""
	}
}

// Logger writes leveled, key=value structured lines. Safe for concurrent use.
type Logger struct {
	mu       sync.Mutex
	out      io.Writer
	minLevel Level
	colorize bool
	prefix   string
}

// New builds a Logger writing to w. If w is os.Stdout/os.Stderr and attached
// to a terminal, output is colorized via go-colorable/go-isatty; otherwise
// plain text is written, matching erigon's own log/v3 behavior of degrading
// gracefully when piped to a file.
func New(w io.Writer, minLevel Level) *Logger {
	colorize := false
	out := w
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		out = colorable.NewColorable(f)
		colorize = true
	}
	return &Logger{out: out, minLevel: minLevel, colorize: colorize}
}

// With returns a child logger that prefixes every message, used by
// components to tag their log lines (e.g. "[execution]").
func (l *Logger) With(prefix string) *Logger {
	return &Logger{out: l.out, minLevel: l.minLevel, colorize: l.colorize, prefix: prefix}
}

func (l *Logger) log(lvl Level, msg string, ctx []any) {
	if lvl < l.minLevel {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now().Format("01-02|15:04:05.000")
	var line string
	if l.colorize {
		line = fmt.Sprintf("%s%s%s[%s] %s", lvl.color(), lvl.String(), colorReset, ts, msg)
	} else {
		line = fmt.Sprintf("%s[%s] %s", lvl.String(), ts, msg)
	}
	if l.prefix != "" {
		line = l.prefix + " " + line
	}
	for i := 0; i+1 < len(ctx); i += 2 {
		line += fmt.Sprintf(" %v=%v", ctx[i], ctx[i+1])
	}
	fmt.Fprintln(l.out, line)
}

func (l *Logger) Debug(msg string, ctx ...any) { l.log(LevelDebug, msg, ctx) }
func (l *Logger) Info(msg string, ctx ...any)  { l.log(LevelInfo, msg, ctx) }
func (l *Logger) Warn(msg string, ctx ...any)  { l.log(LevelWarn, msg, ctx) }
func (l *Logger) Error(msg string, ctx ...any) { l.log(LevelError, msg, ctx) }

// Nop returns a logger that discards everything, useful in tests.
func Nop() *Logger { return New(io.Discard, LevelError+1) }
