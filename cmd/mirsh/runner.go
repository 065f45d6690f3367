package main

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/mirsh/compiler/mir"
)

// osRunner runs commands as processes. The result is their stdout
// without the trailing newline.
type osRunner struct{}

func (osRunner) RunCommand(ctx context.Context, name string, args []string) (mir.Value, error) {
	var out bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = &out
	cmd.Stderr = os.Stderr

	err := cmd.Run()

	tlog.SpanFromContext(ctx).V("command").Printw("command finished", "name", name, "args", args, "out_size", out.Len(), "err", err)

	if err != nil {
		return mir.Value{}, errors.Wrap(err, "%v", name)
	}

	return mir.Str(strings.TrimRight(out.String(), "\n")), nil
}
