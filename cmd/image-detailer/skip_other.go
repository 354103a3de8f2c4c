//go:build !unix

package main

import "os"

// notifySkip is a no-op where there is no user signal to listen for
func notifySkip(c chan<- os.Signal) {}
