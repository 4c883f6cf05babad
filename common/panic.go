package common

import (
	"fmt"
	"os"
	"runtime/debug"
)

// PanicHandler is deferred at the top of a binary's main goroutine to print the stack of an unrecovered panic.
func PanicHandler() {
	if r := recover(); r != nil {
		fmt.Printf("Panic caught in gremlinsh: %v\n", r)
		debug.PrintStack()
		os.Exit(1)
	}
}
