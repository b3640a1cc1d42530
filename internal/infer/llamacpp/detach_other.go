// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

//go:build !unix

package llamacpp

import "os/exec"

func detach(*exec.Cmd) {}
