// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// auditTrail is a rotating newline-delimited JSON record of every
// acknowledgment the notification task sends back to the host,
// independent of the structured stderr logger. It exists so operators
// can reconstruct "what did we last tell the host we'd processed" after
// a crash, without needing to parse the verbose structured log stream
// (SPEC_FULL §0).
type auditTrail struct {
	mu  sync.Mutex
	out *lumberjack.Logger
}

// newAuditTrail opens a rotating log file at path. MaxSize/MaxBackups/
// MaxAge follow lumberjack's own defaults-plus-cap convention; there is
// nothing chain-specific about these numbers.
func newAuditTrail(path string) (*auditTrail, error) {
	return &auditTrail{
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		},
	}, nil
}

type auditRecord struct {
	Time                  string `json:"time"`
	HighestProcessedBlock uint64 `json:"highestProcessedBlock"`
}

// Record appends one acknowledgment to the audit file. Errors are
// returned rather than logged here, since the caller already holds the
// logger this trail exists to stay independent of.
func (a *auditTrail) Record(highestProcessedBlock uint64, now time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	line, err := json.Marshal(auditRecord{
		Time:                  now.UTC().Format(time.RFC3339),
		HighestProcessedBlock: highestProcessedBlock,
	})
	if err != nil {
		return fmt.Errorf("audit: marshal record: %w", err)
	}
	line = append(line, '\n')
	_, err = a.out.Write(line)
	return err
}

// Close flushes and closes the underlying rotated file.
func (a *auditTrail) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.out.Close()
}
