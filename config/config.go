// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package config holds the operational limits of the
// term and mailbox layers, loadable from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/erlkit/erlkit/etf"
)

// Limits bounds the resources the runtime layers may
// consume.
type Limits struct {
	// MaxAtoms caps the process-global atom table.
	MaxAtoms int `json:"max_atoms"`
	// QueueHighWater is the advisory mailbox depth above
	// which producers should start shedding load.
	QueueHighWater int `json:"queue_high_water"`
	// ReceiveTimeout is a default receive deadline. It is
	// loaded and validated only: Apply does not install it,
	// and the mbox receive calls do not read it (a timeout
	// <= 0 passed to them waits forever).
	ReceiveTimeout time.Duration `json:"receive_timeout"`
}

// Default returns the limits used when no configuration
// is supplied.
func Default() Limits {
	return Limits{
		MaxAtoms:       1 << 20,
		QueueHighWater: 1 << 16,
		ReceiveTimeout: 5 * time.Second,
	}
}

// Load parses YAML (or JSON) limits, filling omitted
// fields from Default.
func Load(buf []byte) (Limits, error) {
	l := Default()
	if err := yaml.Unmarshal(buf, &l); err != nil {
		return Default(), fmt.Errorf("config: %w", err)
	}
	if err := l.validate(); err != nil {
		return Default(), err
	}
	return l, nil
}

// LoadFile reads limits from a YAML file.
func LoadFile(path string) (Limits, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Default(), err
	}
	return Load(buf)
}

func (l *Limits) validate() error {
	if l.MaxAtoms <= 0 {
		return fmt.Errorf("config: max_atoms %d out of range", l.MaxAtoms)
	}
	if l.QueueHighWater <= 0 {
		return fmt.Errorf("config: queue_high_water %d out of range", l.QueueHighWater)
	}
	if l.ReceiveTimeout < 0 {
		return fmt.Errorf("config: receive_timeout %s out of range", l.ReceiveTimeout)
	}
	return nil
}

// Apply installs the limits that live in process-global
// state (currently the atom table capacity).
func (l *Limits) Apply() {
	etf.SetTableCapacity(l.MaxAtoms)
}
