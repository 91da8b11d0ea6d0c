package runtime

import (
	"strings"

	"github.com/containerd/containerd/oci"
)

// Security holds the hardening applied to workspace containers
type Security struct {
	NoNewPrivileges  bool
	DropCapabilities []string // e.g. NET_RAW, SYS_ADMIN; "CAP_" prefix optional
}

// DefaultSecurity drops the capabilities an editor container never needs
func DefaultSecurity() *Security {
	return &Security{
		NoNewPrivileges:  true,
		DropCapabilities: []string{"NET_RAW", "SYS_ADMIN", "SYS_MODULE", "SYS_PTRACE", "MKNOD"},
	}
}

// dockerSecurityOpts renders s for a docker HostConfig
func (s *Security) dockerSecurityOpts() (opts []string, capDrop []string) {
	if s == nil {
		return nil, nil
	}
	if s.NoNewPrivileges {
		opts = append(opts, "no-new-privileges:true")
	}
	for _, c := range s.DropCapabilities {
		capDrop = append(capDrop, strings.TrimPrefix(strings.ToUpper(c), "CAP_"))
	}
	return opts, capDrop
}

// ociSpecOpts renders s as containerd spec options
func (s *Security) ociSpecOpts() []oci.SpecOpts {
	if s == nil {
		return nil
	}
	var opts []oci.SpecOpts
	if s.NoNewPrivileges {
		opts = append(opts, oci.WithNoNewPrivileges)
	}
	if len(s.DropCapabilities) > 0 {
		caps := make([]string, 0, len(s.DropCapabilities))
		for _, c := range s.DropCapabilities {
			c = strings.ToUpper(c)
			if !strings.HasPrefix(c, "CAP_") {
				c = "CAP_" + c
			}
			caps = append(caps, c)
		}
		opts = append(opts, oci.WithDroppedCapabilities(caps))
	}
	return opts
}
