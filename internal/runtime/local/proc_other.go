//go:build !unix

package local

import "os/exec"

// killProcessGroup keeps exec's default of killing only the direct child.
func killProcessGroup(*exec.Cmd) {}

func killGroup(*exec.Cmd) {}
