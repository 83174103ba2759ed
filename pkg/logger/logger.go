// Copyright (c) nano Author and TFG Co. All Rights Reserved.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package logger exposes a swappable structured logger used by every
// component in the core. Defaults to a logrus-backed implementation.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Fields is a bag of structured logging fields.
type Fields map[string]interface{}

// Interface is implemented by anything that can serve as the package-level
// logger. Swap it in tests or hosts with `logger.Log = myImpl`.
type Interface interface {
	Debug(args ...interface{})
	Debugf(fmt string, args ...interface{})
	Info(args ...interface{})
	Infof(fmt string, args ...interface{})
	Warn(args ...interface{})
	Warnf(fmt string, args ...interface{})
	Error(args ...interface{})
	Errorf(fmt string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(fmt string, args ...interface{})
	WithFields(fields Fields) Interface
}

// Log is the package-level logger used throughout the module.
var Log Interface = New(logrus.InfoLevel)

type logrusLogger struct {
	entry *logrus.Entry
}

// New builds a logrus-backed Interface at the given level, text-formatted
// with full timestamps the way the teacher's default logger is configured.
func New(level logrus.Level) Interface {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

func (l *logrusLogger) Debug(args ...interface{})            { l.entry.Debug(args...) }
func (l *logrusLogger) Debugf(f string, args ...interface{})  { l.entry.Debugf(f, args...) }
func (l *logrusLogger) Info(args ...interface{})              { l.entry.Info(args...) }
func (l *logrusLogger) Infof(f string, args ...interface{})   { l.entry.Infof(f, args...) }
func (l *logrusLogger) Warn(args ...interface{})              { l.entry.Warn(args...) }
func (l *logrusLogger) Warnf(f string, args ...interface{})   { l.entry.Warnf(f, args...) }
func (l *logrusLogger) Error(args ...interface{})             { l.entry.Error(args...) }
func (l *logrusLogger) Errorf(f string, args ...interface{})  { l.entry.Errorf(f, args...) }
func (l *logrusLogger) Fatal(args ...interface{})             { l.entry.Fatal(args...) }
func (l *logrusLogger) Fatalf(f string, args ...interface{})  { l.entry.Fatalf(f, args...) }

func (l *logrusLogger) WithFields(fields Fields) Interface {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// SetLevel adjusts the level of the default logrus-backed logger in place.
// No-op if Log has been swapped for a non-logrus implementation.
func SetLevel(level logrus.Level) {
	if ll, ok := Log.(*logrusLogger); ok {
		ll.entry.Logger.SetLevel(level)
	}
}
