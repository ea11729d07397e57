package models

import (
	"fmt"
	"strings"
)

// WorkloadKind identifies the kind of controller owning the container.
type WorkloadKind string

const (
	KindDeployment  WorkloadKind = "deployment"
	KindStatefulSet WorkloadKind = "statefulset"
)

// ParseWorkloadKind normalizes a user-supplied kind string.
func ParseWorkloadKind(s string) (WorkloadKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "deployment", "deploy", "":
		return KindDeployment, nil
	case "statefulset", "sts":
		return KindStatefulSet, nil
	default:
		return "", fmt.Errorf("unsupported workload kind %q", s)
	}
}

// WorkloadRef uniquely addresses one container's resource spec.
type WorkloadRef struct {
	Cluster   string
	Location  string
	Namespace string
	Kind      WorkloadKind
	Name      string
	Container string
}

// Key returns a stable identity string used for locking and storage.
func (r WorkloadRef) Key() string {
	return strings.Join([]string{r.Cluster, r.Location, r.Namespace, string(r.Kind), r.Name, r.Container}, "/")
}

func (r WorkloadRef) String() string {
	return fmt.Sprintf("%s/%s (%s)", r.Namespace, r.Name, r.Container)
}

// Validate checks that all addressing fields are present.
func (r WorkloadRef) Validate() error {
	if r.Namespace == "" {
		return fmt.Errorf("%w: namespace is required", ErrInvalidSpec)
	}
	if r.Name == "" {
		return fmt.Errorf("%w: workload name is required", ErrInvalidSpec)
	}
	if r.Container == "" {
		return fmt.Errorf("%w: container name is required", ErrInvalidSpec)
	}
	if r.Kind != KindDeployment && r.Kind != KindStatefulSet {
		return fmt.Errorf("%w: unsupported workload kind %q", ErrInvalidSpec, r.Kind)
	}
	return nil
}
