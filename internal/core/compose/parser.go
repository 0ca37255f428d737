package compose

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// DefaultProjectName is used when the config document does not carry a name.
const DefaultProjectName = "stagehand"

// =============================================================================
// Parser Functions
// =============================================================================

// ParseComposeSpec parses a compose config document (YAML or the JSON emitted by
// `docker compose config --format json`) into a Spec.
// This is a pure function - no I/O, no side effects.
func ParseComposeSpec(content []byte) (*Spec, error) {
	if strings.TrimSpace(string(content)) == "" {
		return nil, ErrEmptyInput
	}

	project, err := loadProject(content)
	if err != nil {
		return nil, err
	}

	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}

	spec := &Spec{
		Name:     project.Name,
		Services: make(map[string]Service, len(project.Services)),
	}

	for _, svc := range project.Services {
		converted, err := convertService(svc)
		if err != nil {
			return nil, err
		}
		spec.Services[converted.Name] = converted
	}

	if err := validatePorts(spec); err != nil {
		return nil, err
	}

	for name := range project.Networks {
		spec.Networks = append(spec.Networks, name)
	}
	sort.Strings(spec.Networks)

	for name := range project.Volumes {
		spec.Volumes = append(spec.Volumes, name)
	}
	sort.Strings(spec.Volumes)

	return spec, nil
}

// loadProject loads a compose project using compose-go
func loadProject(content []byte) (*types.Project, error) {
	// JSON is valid YAML, so one decoder serves both output formats
	var dict map[string]any
	if err := yaml.Unmarshal(content, &dict); err != nil {
		return nil, NewParseError("", "config is not valid YAML or JSON", ErrInvalidDocument)
	}
	if dict == nil {
		return nil, NewParseError("", "config is not a mapping", ErrInvalidDocument)
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: content,
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName(DefaultProjectName, false)
		opts.SkipValidation = false
		opts.SkipInterpolation = false // Needed for type casting of port fields
		// The inspected config is already resolved by the compose tool
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil {
		return nil, NewParseError("", err.Error(), ErrInvalidDocument)
	}

	return project, nil
}

// convertService converts a compose-go service to our Service type
func convertService(svc types.ServiceConfig) (Service, error) {
	service := Service{
		Name:      svc.Name,
		Image:     svc.Image,
		Labels:    make(map[string]string),
		DependsOn: make([]string, 0, len(svc.DependsOn)),
	}

	for i, p := range svc.Ports {
		var published uint32
		if p.Published != "" {
			pub, err := parsePublished(p.Published)
			if err != nil {
				return Service{}, NewParseError(
					fmt.Sprintf("services.%s.ports[%d]", svc.Name, i),
					err.Error(),
					ErrServiceInvalidPort,
				)
			}
			published = pub
		}
		service.Ports = append(service.Ports, Port{
			Target:    p.Target,
			Published: published,
			Protocol:  p.Protocol,
			HostIP:    p.HostIP,
		})
	}

	for dep := range svc.DependsOn {
		service.DependsOn = append(service.DependsOn, dep)
	}
	sort.Strings(service.DependsOn)

	for k, v := range svc.Labels {
		service.Labels[k] = v
	}

	return service, nil
}

// parsePublished accepts a single host port or a range; a range is reported
// as its first port since the engine picks one at runtime.
func parsePublished(raw string) (uint32, error) {
	first, _, _ := strings.Cut(raw, "-")
	pub, err := strconv.ParseUint(strings.TrimSpace(first), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("published port %q is not a number", raw)
	}
	return uint32(pub), nil
}

// validatePorts validates all port configurations
func validatePorts(spec *Spec) error {
	for _, name := range spec.ServiceNames() {
		svc := spec.Services[name]
		for i, port := range svc.Ports {
			field := fmt.Sprintf("services.%s.ports[%d]", svc.Name, i)
			if port.Target == 0 {
				return NewParseError(field, "target port cannot be 0", ErrServiceInvalidPort)
			}
			if port.Target > 65535 {
				return NewParseError(field, "target port must be <= 65535", ErrServiceInvalidPort)
			}
			if port.Published > 65535 {
				return NewParseError(field, "published port must be <= 65535", ErrServiceInvalidPort)
			}
		}
	}
	return nil
}
