// Package xlog is a thin level-prefixed wrapper over the standard
// logger.
package xlog

import (
	"log"
	"os"
)

var std = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)

func Debugf(format string, args ...interface{}) {
	std.Printf("[DEBUG] "+format, args...)
}

func Warnf(format string, args ...interface{}) {
	std.Printf("[WARN] "+format, args...)
}

func Errorf(format string, args ...interface{}) {
	std.Printf("[ERROR] "+format, args...)
}

// Fatalf logs then terminates the process. Its only caller is the log
// remap failure path; a full heap file table and an exhausted NVM
// arena are returned as errors instead and do not terminate.
func Fatalf(format string, args ...interface{}) {
	std.Fatalf("[FATAL] "+format, args...)
}
