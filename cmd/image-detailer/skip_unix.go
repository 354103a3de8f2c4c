//go:build unix

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// notifySkip relays SIGUSR1, which skips the image being detailed
func notifySkip(c chan<- os.Signal) {
	signal.Notify(c, syscall.SIGUSR1)
}
