/*
Package config loads the control-plane configuration.

Resolution order: built-in defaults, then an optional YAML file, then
BURROW_* environment variables. Production mode ("environment: production")
refuses to start without the secrets master key and the session signing
secret; development mode substitutes ephemeral values so a bare checkout
runs.
*/
package config
