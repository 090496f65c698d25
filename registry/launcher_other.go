//go:build !unix

package registry

import "syscall"

func detachedAttr() *syscall.SysProcAttr { return nil }
