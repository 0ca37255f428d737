package composecli

import (
	"context"

	"github.com/artpar/stagehand/internal/core/logs"
)

type fakeRunner struct {
	dir  string
	name string
	args []string

	output []byte
	lines  []logs.Line
	err    error
}

func (f *fakeRunner) record(dir, name string, args []string) {
	f.dir = dir
	f.name = name
	f.args = args
}

func (f *fakeRunner) Stream(_ context.Context, dir, name string, args ...string) logs.Stream {
	f.record(dir, name, args)
	return func(yield func(logs.Line, error) bool) {
		for _, l := range f.lines {
			if !yield(l, nil) {
				return
			}
		}
		if f.err != nil {
			yield(logs.Line{}, f.err)
		}
	}
}

func (f *fakeRunner) Output(_ context.Context, dir, name string, args ...string) ([]byte, error) {
	f.record(dir, name, args)
	return f.output, f.err
}
