package parser

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedScheme = errors.New("unsupported scheme")
	ErrMalformed         = errors.New("malformed link")
)

// ParseError 描述单条链接的解析失败。调用方据此跳过该条，批次继续。
type ParseError struct {
	Scheme string
	Link   string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s link %q: %v", e.Scheme, truncate(e.Link, 64), e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
