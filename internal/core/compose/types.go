package compose

import (
	"fmt"
	"sort"
)

// =============================================================================
// Spec - Main Output Type
// =============================================================================

// Spec is the inspected shape of a compose project: which services exist and
// how their container ports are bound on the host. It is produced from the
// output of `docker compose config` and is read-only afterwards.
type Spec struct {
	Name     string             `json:"name"`
	Services map[string]Service `json:"services"`
	Networks []string           `json:"networks,omitempty"`
	Volumes  []string           `json:"volumes,omitempty"`
}

// =============================================================================
// Service Types
// =============================================================================

// Service represents a single service of the inspected project.
type Service struct {
	Name      string            `json:"name"`
	Image     string            `json:"image,omitempty"`
	Ports     []Port            `json:"ports,omitempty"`
	DependsOn []string          `json:"depends_on,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// Port represents a port binding.
type Port struct {
	Target    uint32 `json:"target"`              // Container port
	Published uint32 `json:"published,omitempty"` // Host port (0 = not yet known)
	Protocol  string `json:"protocol,omitempty"`  // tcp, udp
	HostIP    string `json:"host_ip,omitempty"`   // Bind IP
}

// =============================================================================
// Lookups
// =============================================================================

// Service returns the named service.
func (s *Spec) Service(name string) (Service, error) {
	if s == nil {
		return Service{}, ErrServiceNotFound
	}
	svc, ok := s.Services[name]
	if !ok {
		return Service{}, NewParseError("services."+name, "service is not part of the project", ErrServiceNotFound)
	}
	return svc, nil
}

// ServiceNames returns the service names in lexical order.
func (s *Spec) ServiceNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Services))
	for name := range s.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PortForTarget returns the binding of the given container port.
func (svc Service) PortForTarget(target uint32) (Port, error) {
	for _, p := range svc.Ports {
		if p.Target == target {
			return p, nil
		}
	}
	return Port{}, NewParseError(
		fmt.Sprintf("services.%s.ports", svc.Name),
		fmt.Sprintf("container port %d is not bound", target),
		ErrPortNotPublished,
	)
}

// PublishedPort returns the host port bound to the given container port of a
// service. It fails when the port is not bound or its host port is still unknown.
func (s *Spec) PublishedPort(service string, target uint32) (uint32, error) {
	svc, err := s.Service(service)
	if err != nil {
		return 0, err
	}
	port, err := svc.PortForTarget(target)
	if err != nil {
		return 0, err
	}
	if port.Published == 0 {
		return 0, NewParseError(
			fmt.Sprintf("services.%s.ports", service),
			fmt.Sprintf("container port %d has no published host port", target),
			ErrPortNotPublished,
		)
	}
	return port.Published, nil
}

// HTTPURL builds a URL reaching the published port of a service on the
// loopback interface (or the bind IP when one is set).
func (s *Spec) HTTPURL(service string, target uint32, path string) (string, error) {
	published, err := s.PublishedPort(service, target)
	if err != nil {
		return "", err
	}
	host := "127.0.0.1"
	svc, _ := s.Service(service)
	if p, _ := svc.PortForTarget(target); p.HostIP != "" && p.HostIP != "0.0.0.0" {
		host = p.HostIP
	}
	if path == "" || path[0] != '/' {
		path = "/" + path
	}
	return fmt.Sprintf("http://%s:%d%s", host, published, path), nil
}

// WithPublished returns a copy of the spec where the binding of the given
// container port carries the supplied host port. Unknown services and ports are
// added so that dynamically published ports can be recorded.
func (s *Spec) WithPublished(service string, target uint32, protocol string, published uint32) *Spec {
	out := s.clone()
	svc := out.Services[service]
	svc.Name = service
	for i, p := range svc.Ports {
		if p.Target == target && (protocol == "" || p.Protocol == "" || p.Protocol == protocol) {
			svc.Ports[i].Published = published
			out.Services[service] = svc
			return out
		}
	}
	svc.Ports = append(svc.Ports, Port{Target: target, Published: published, Protocol: protocol})
	out.Services[service] = svc
	return out
}

func (s *Spec) clone() *Spec {
	out := &Spec{Services: make(map[string]Service)}
	if s == nil {
		return out
	}
	out.Name = s.Name
	out.Networks = append(out.Networks, s.Networks...)
	out.Volumes = append(out.Volumes, s.Volumes...)
	for name, svc := range s.Services {
		cp := svc
		cp.Ports = append([]Port(nil), svc.Ports...)
		cp.DependsOn = append([]string(nil), svc.DependsOn...)
		out.Services[name] = cp
	}
	return out
}
