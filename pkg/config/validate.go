package config

import (
	"errors"
	"fmt"
	"regexp"

	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
)

var posixName = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("posixname", func(fl validator.FieldLevel) bool {
		return posixName.MatchString(fl.Field().String())
	})
	return v
}

var (
	defaultValidator = newValidator()
	defaultRegistry  = NewSchemaRegistry()
)

// Validate checks struct tags, the #Settings schema and cross-field rules.
// It returns a *SettingsError listing every problem.
func (s InstallSettings) Validate() error {
	var problems []ValidationError

	if err := defaultValidator.Struct(s); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				problems = append(problems, ValidationError{
					Path:    jsonName(fe.StructField()),
					Message: fmt.Sprintf("failed %q check (value %v)", fe.Tag(), fe.Value()),
				})
			}
		} else {
			problems = append(problems, ValidationError{Message: err.Error()})
		}
	}

	if err := defaultRegistry.ValidateAgainstSchema(SettingsSchema, s); err != nil {
		problems = append(problems, convertCUEErrors(err)...)
	}

	last := s.NixBuildUserIDBase + s.DaemonUserCount - 1
	if s.NixBuildGroupID >= s.NixBuildUserIDBase && s.NixBuildGroupID <= last {
		problems = append(problems, ValidationError{
			Path: "nix_build_group_id",
			Message: fmt.Sprintf("gid %d falls inside the build user uid range %d-%d",
				s.NixBuildGroupID, s.NixBuildUserIDBase, last),
		})
	}

	if len(problems) > 0 {
		return &SettingsError{Source: "settings", Errors: problems}
	}
	return nil
}

var jsonNames = map[string]string{
	"DaemonUserCount":    "daemon_user_count",
	"NixBuildGroupName":  "nix_build_group_name",
	"NixBuildGroupID":    "nix_build_group_id",
	"NixBuildUserPrefix": "nix_build_user_prefix",
	"NixBuildUserIDBase": "nix_build_user_id_base",
	"NixPackageURL":      "nix_package_url",
	"NixPackageSHA256":   "nix_package_sha256",
	"NixRoot":            "nix_root",
	"NixConfPath":        "nix_conf_path",
	"ExtraConf":          "extra_conf",
	"StartDaemon":        "start_daemon",
}

func jsonName(field string) string {
	if name, ok := jsonNames[field]; ok {
		return name
	}
	return field
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		var file string
		var line, column int
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}
		out = append(out, ValidationError{
			File:    file,
			Line:    line,
			Column:  column,
			Path:    pathString(e.Path()),
			Message: cueerrors.Details(e, nil),
		})
	}
	return out
}

func pathString(path []string) string {
	s := ""
	for i, p := range path {
		if i > 0 {
			s += "."
		}
		s += p
	}
	return s
}
