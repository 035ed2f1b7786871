package main

import (
	"fmt"
	"os"
	"runtime"
)

func init() {
	// Only the main thread is traced.
	runtime.LockOSThread()
}

//go:noinline
func add(a, b int) int {
	return a + b
}

func main() {
	s := 0
	for i := 0; i < 2; i++ {
		s = add(s, i)
	}
	if s != 1 {
		fmt.Println("wrong sum", s)
		os.Exit(1)
	}
}
