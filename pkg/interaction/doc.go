// Package interaction asks the operator before a plan touches the host.
//
// [Confirm] prints the plan's action descriptions and reads a yes or no
// answer from the controlling terminal, so a plan piped on stdin can still
// be confirmed interactively. Output is colored only when it goes to a
// terminal.
package interaction
