// Package setup holds the repository layout, the optional whisperbuild.yaml
// configuration and the repository-wide clean.
//
// This package is essentially a collection of scripts and constants, and is therefore the only package that is
// allowed to call a global logger.
package setup
