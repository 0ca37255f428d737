package deployment

import (
	"github.com/artpar/stagehand/internal/core/lifecycle"
	"github.com/artpar/stagehand/internal/shell/project"
)

// The presets below set a policy before applying opts, so a WithPolicy option
// still wins.

// Local runs a compose project in place: up on enter, stop on exit.
func Local(p project.Project, opts ...Option) *Deployment {
	return New(p, withPreset(lifecycle.LocalPolicy(), opts)...)
}

// Testing pulls, starts and health checks on enter and stops, downs and tears
// down on exit.
func Testing(p project.Project, opts ...Option) *Deployment {
	return New(p, withPreset(lifecycle.TestingPolicy(), opts)...)
}

// Monitoring only inspects and health checks an environment run by someone
// else. It never issues up, stop or down.
func Monitoring(p project.Project, opts ...Option) *Deployment {
	return New(p, withPreset(lifecycle.MonitoringPolicy(), opts)...)
}

// Mirror starts a private copy of a project and stops it on exit.
func Mirror(p *project.CopyProject, opts ...Option) *Deployment {
	return New(p, withPreset(lifecycle.MirrorPolicy(), opts)...)
}

// FromTemplate renders a project from a template and starts it.
func FromTemplate(p *project.TemplateProject, opts ...Option) *Deployment {
	return New(p, withPreset(lifecycle.TemplatePolicy(), opts)...)
}

func withPreset(p lifecycle.Policy, opts []Option) []Option {
	return append([]Option{WithPolicy(p)}, opts...)
}
