// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package vbuslog provides the logging adapter shared by the handshake,
// discovery, transceiver and bridge packages.
package vbuslog

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// LogProvider is the logging backend a Clog delegates to.
type LogProvider interface {
	Critical(format string, v ...interface{})
	Error(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Debug(format string, v ...interface{})
}

// Clog is a cheap-to-copy log handle with an atomic enable switch, so
// hot paths (the transceive loop) can skip formatting when logging is off.
type Clog struct {
	provider LogProvider
	has      uint32
}

// NewLogger creates a Clog backed by a logrus.Logger tagged with prefix.
func NewLogger(prefix string) Clog {
	l := logrus.New()
	return Clog{
		provider: &logrusProvider{entry: l.WithField("component", prefix)},
		has:      0,
	}
}

// LogMode enables or disables log output.
func (sf *Clog) LogMode(enable bool) {
	if enable {
		atomic.StoreUint32(&sf.has, 1)
	} else {
		atomic.StoreUint32(&sf.has, 0)
	}
}

// SetLogProvider swaps the logging backend.
func (sf *Clog) SetLogProvider(p LogProvider) {
	if p != nil {
		sf.provider = p
	}
}

// Critical logs a CRITICAL level message.
func (sf Clog) Critical(format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Critical(format, v...)
	}
}

// Error logs an ERROR level message.
func (sf Clog) Error(format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Error(format, v...)
	}
}

// Warn logs a WARN level message.
func (sf Clog) Warn(format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Warn(format, v...)
	}
}

// Debug logs a DEBUG level message.
func (sf Clog) Debug(format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Debug(format, v...)
	}
}

// logrusProvider is the default LogProvider, backed by logrus.
type logrusProvider struct {
	entry *logrus.Entry
}

var _ LogProvider = (*logrusProvider)(nil)

func (sf *logrusProvider) Critical(format string, v ...interface{}) {
	sf.entry.Errorf("[C]: "+format, v...)
}

func (sf *logrusProvider) Error(format string, v ...interface{}) {
	sf.entry.Errorf(format, v...)
}

func (sf *logrusProvider) Warn(format string, v ...interface{}) {
	sf.entry.Warnf(format, v...)
}

func (sf *logrusProvider) Debug(format string, v ...interface{}) {
	sf.entry.Debugf(format, v...)
}
