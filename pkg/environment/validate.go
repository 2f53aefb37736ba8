package environment

import (
	"errors"
	"fmt"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/burrowhq/burrow/pkg/errdefs"
	"github.com/burrowhq/burrow/pkg/types"
)

// Defaults applied when a create request leaves resources unset.
const (
	DefaultCPU      = 2.0
	DefaultMemoryMB = 512

	maxPortsPerVersion = 10
)

var (
	nameRe      = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)
	imageRe     = regexp.MustCompile(`(?i)^[a-z0-9][a-z0-9._\-/]*(:[\w][\w.\-]*)?$`)
	secretKeyRe = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)
)

// CreateRequest describes a new environment and its first version.
type CreateRequest struct {
	Name       string              `json:"name"`
	Image      string              `json:"image,omitempty"`
	Dockerfile string              `json:"dockerfile,omitempty"`
	BuildFiles map[string]string   `json:"buildFiles,omitempty"`
	Command    string              `json:"command,omitempty"`
	CPU        float64             `json:"cpu,omitempty"`
	MemoryMB   int                 `json:"memoryMb,omitempty"`
	Ports      []types.PortMapping `json:"ports,omitempty"`
	Env        map[string]string   `json:"env,omitempty"`
	Secrets    map[string]string   `json:"secrets,omitempty"`
	Mounts     []types.Mount       `json:"mounts,omitempty"`
}

// UpdateRequest is a patch against the current version. Nil fields carry
// over; supplying image clears dockerfile and vice versa.
type UpdateRequest struct {
	Image      *string             `json:"image,omitempty"`
	Dockerfile *string             `json:"dockerfile,omitempty"`
	BuildFiles map[string]string   `json:"buildFiles,omitempty"`
	Command    *string             `json:"command,omitempty"`
	CPU        *float64            `json:"cpu,omitempty"`
	MemoryMB   *int                `json:"memoryMb,omitempty"`
	Ports      []types.PortMapping `json:"ports,omitempty"`
	Env        map[string]string   `json:"env,omitempty"`
	Mounts     []types.Mount       `json:"mounts,omitempty"`
}

func (r *CreateRequest) applyDefaults() {
	if r.CPU == 0 {
		r.CPU = DefaultCPU
	}
	if r.MemoryMB == 0 {
		r.MemoryMB = DefaultMemoryMB
	}
}

func (r CreateRequest) validate() error {
	if (r.Image == "") == (r.Dockerfile == "") {
		return errdefs.New(errdefs.KindValidation, "exactly one of image or dockerfile must be set")
	}

	err := validation.ValidateStruct(&r,
		validation.Field(&r.Name,
			validation.Required,
			validation.Match(nameRe).Error("must be lowercase alphanumeric with hyphens, at most 63 characters")),
		validation.Field(&r.Image,
			validation.Length(1, 500),
			validation.Match(imageRe).Error("must be a valid image reference")),
		validation.Field(&r.CPU, validation.Min(0.25), validation.Max(4.0)),
		validation.Field(&r.MemoryMB, validation.Min(128), validation.Max(2048)),
		validation.Field(&r.Ports, validation.Length(0, maxPortsPerVersion), validation.By(portsRule)),
	)
	if err != nil {
		return validationError(err)
	}

	for key := range r.Secrets {
		if err := validateSecretKey(key); err != nil {
			return err
		}
	}
	return nil
}

// validateVersion checks a fully merged version, used after applying an
// update patch on top of the current version.
func validateVersion(v *types.EnvironmentVersion) error {
	hasImage := v.Image != nil && *v.Image != ""
	hasDockerfile := v.Dockerfile != nil && *v.Dockerfile != ""
	if hasImage == hasDockerfile {
		return errdefs.New(errdefs.KindValidation, "exactly one of image or dockerfile must be set")
	}
	if hasImage && (len(*v.Image) > 500 || !imageRe.MatchString(*v.Image)) {
		return errdefs.New(errdefs.KindValidation, "image: must be a valid image reference")
	}
	if v.CPU < 0.25 || v.CPU > 4.0 {
		return errdefs.New(errdefs.KindValidation, "cpu: must be between 0.25 and 4")
	}
	if v.MemoryMB < 128 || v.MemoryMB > 2048 {
		return errdefs.New(errdefs.KindValidation, "memoryMb: must be between 128 and 2048")
	}
	if len(v.Ports) > maxPortsPerVersion {
		return errdefs.Newf(errdefs.KindValidation, "ports: at most %d mappings", maxPortsPerVersion)
	}
	if err := portsRule([]types.PortMapping(v.Ports)); err != nil {
		return errdefs.Wrap(errdefs.KindValidation, "ports", err)
	}
	return nil
}

func validateSecretKey(key string) error {
	if len(key) < 1 || len(key) > 100 || !secretKeyRe.MatchString(key) {
		return errdefs.Newf(errdefs.KindValidation,
			"secret key %q must match ^[A-Z_][A-Z0-9_]*$ and be at most 100 characters", key)
	}
	return nil
}

func portsRule(value interface{}) error {
	ports, ok := value.([]types.PortMapping)
	if !ok {
		return fmt.Errorf("unexpected ports type %T", value)
	}
	for _, p := range ports {
		if p.Container < 1 || p.Container > 65535 {
			return fmt.Errorf("container port %d out of range 1..65535", p.Container)
		}
		if p.Host < 1024 || p.Host > 65535 {
			return fmt.Errorf("host port %d out of range 1024..65535", p.Host)
		}
	}
	return nil
}

// validationError folds ozzo's per-field error map into the error taxonomy.
func validationError(err error) error {
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		details := make(map[string]interface{}, len(verrs))
		for field, ferr := range verrs {
			details[field] = ferr.Error()
		}
		return errdefs.New(errdefs.KindValidation, "invalid request").WithDetails(details)
	}
	return errdefs.Wrap(errdefs.KindValidation, "invalid request", err)
}
