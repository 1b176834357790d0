// Copyright 2025 Mitch Bradley. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package fluidnc

import "github.com/rs/zerolog"

// SessionOption holds session configuration.
type SessionOption struct {
	config Config
	logger zerolog.Logger
}

// NewOption creates a SessionOption with the default config and a
// no-op logger.
func NewOption() *SessionOption {
	return &SessionOption{
		config: DefaultConfig(),
		logger: zerolog.Nop(),
	}
}

// SetConfig sets the session configuration. Falls back to
// DefaultConfig if cfg is invalid.
func (sf *SessionOption) SetConfig(cfg Config) *SessionOption {
	if err := cfg.Valid(); err != nil {
		sf.config = DefaultConfig()
	} else {
		sf.config = cfg
	}
	return sf
}

// SetLogger sets the logger used by the session and dispatcher.
func (sf *SessionOption) SetLogger(l zerolog.Logger) *SessionOption {
	sf.logger = l
	return sf
}
