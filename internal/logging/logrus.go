/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package logging

import (
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Setter changes the root logger.
type Setter func(*logrus.Logger) error

var root = struct {
	logger *logrus.Logger
	mutex  *sync.Mutex
}{
	logger: logrus.New(),
	mutex:  &sync.Mutex{},
}

// Logger is what components log through.
type Logger interface {
	logrus.FieldLogger
}

// New returns a logger of the root logger tagged with the component name.
func New(component string, setters ...Setter) Logger {
	for _, setter := range setters {
		// no errors handling for now
		_ = Set(setter)
	}
	return root.logger.WithField("component", component)
}

func Set(setter Setter) error {
	root.mutex.Lock()
	err := setter(root.logger)
	root.mutex.Unlock()
	return err
}

// Configure applies the level and format names from the configuration.
func Configure(level, format string) error {
	if err := Set(Level(level)); err != nil {
		return err
	}
	return Set(Format(format))
}

func Level(lvl string) Setter {
	l, err := logrus.ParseLevel(lvl)
	if err != nil {
		root.logger.WithError(err).Errorf("unable to parse provided level %q", lvl)
		l = logrus.InfoLevel
	}
	return func(r *logrus.Logger) error {
		r.SetLevel(l)
		return nil
	}
}

// Format selects "text" or "json" output.
func Format(name string) Setter {
	return func(r *logrus.Logger) error {
		switch name {
		case "", "text":
			r.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		case "json":
			r.SetFormatter(&logrus.JSONFormatter{})
		default:
			return fmt.Errorf("unknown log format %q", name)
		}
		return nil
	}
}

func Output(w io.Writer) Setter {
	return func(r *logrus.Logger) error {
		r.SetOutput(w)
		return nil
	}
}
