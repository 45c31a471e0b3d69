/*
Package config loads the engine configuration from YAML.

Defaults live under ~/.burrow and are always valid; a missing config file
is not an error. Loaded values overlay the defaults and are validated
before use, so a bad log level or non-positive monitor interval fails at
startup rather than at the first sweep.
*/
package config
