// Package configs holds the configuration template written by
// `ragcore config init`. It is embedded so every build can write it.
package configs

import _ "embed"

// ProjectConfigFileName is the file `ragcore config init` creates in the
// project directory.
const ProjectConfigFileName = ".ragcore.yaml"

// ProjectConfigTemplate is a commented project configuration listing the
// common settings at their default values.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
