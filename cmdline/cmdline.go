// Package cmdline pre-processes the client's command line before it is sent
// to the server. Only the keep-alive switch is interpreted here; every other
// token is forwarded untouched and in order.
package cmdline

import (
	"buildpipe/errs"
	"errors"
	"strconv"
	"strings"
)

var (
	ErrKeepAliveMissing    = errors.New("Missing argument for '/keepalive' option.")
	ErrKeepAliveNotInteger = errors.New("Argument to '/keepalive' option is not a 32-bit integer.")
	ErrKeepAliveOutOfRange = errors.New("Argument to '/keepalive' option is out of range for a 32-bit integer.")
	ErrKeepAliveTooSmall   = errors.New("Arguments to '/keepalive' option below -1 are invalid.")
)

// Parsed is a command line with the keep-alive switch removed.
type Parsed struct {
	Args         []string
	KeepAlive    string
	HasKeepAlive bool
}

// Parse strips /keepalive:N and /keepalive=N (also with a '-' prefix, any
// case) from args. N must be a 32-bit integer of at least -1; -1 means the
// server never times out. When the switch repeats, the last one wins.
func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Args: make([]string, 0, len(args))}

	for _, arg := range args {
		value, isKeepAlive, err := keepAliveValue(arg)
		if err != nil {
			return Parsed{}, errs.Wrap(errs.InvalidArgument, "", err)
		}
		if !isKeepAlive {
			parsed.Args = append(parsed.Args, arg)
			continue
		}
		parsed.KeepAlive, parsed.HasKeepAlive = value, true
	}
	return parsed, nil
}

const switchName = "keepalive"

func keepAliveValue(arg string) (string, bool, error) {
	if len(arg) < 1+len(switchName) || (arg[0] != '/' && arg[0] != '-') {
		return "", false, nil
	}
	if !strings.EqualFold(arg[1:1+len(switchName)], switchName) {
		return "", false, nil
	}

	rest := arg[1+len(switchName):]
	switch {
	case rest == "":
		return "", true, ErrKeepAliveMissing
	case rest[0] != ':' && rest[0] != '=':
		// Some other switch that merely starts with "keepalive".
		return "", false, nil
	}

	value := rest[1:]
	if value == "" {
		return "", true, ErrKeepAliveMissing
	}
	n, err := strconv.ParseInt(value, 10, 32)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return "", true, ErrKeepAliveOutOfRange
		}
		return "", true, ErrKeepAliveNotInteger
	}
	if n < -1 {
		return "", true, ErrKeepAliveTooSmall
	}
	return value, true, nil
}
