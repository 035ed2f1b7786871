// Package proc is a low-level package that counts the instructions a
// traced process executes inside a set of functions.
//
// proc implements the core of the tracer:
// * the function table built from debug information
// * software breakpoint installation / removal
// * the single-step engine that counts one invocation
// * the event loop dispatching child stops to the engine
//
// The process itself is manipulated through the Target interface, see
// package native for the ptrace implementation.
//
package proc
