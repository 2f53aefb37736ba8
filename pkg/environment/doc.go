/*
Package environment manages environments and their version chains.

An environment is a named template owned by one user. Its configuration lives
in versions: version 1 is written at create, every update appends version n+1
under the environment's row lock, carrying over whatever the patch leaves
unset. Prior versions are never modified, so a running sandbox keeps the exact
configuration it was provisioned from.

Secrets are the one exception. The encrypted secrets map on the current
version is late-bound metadata mutated in place by SetSecret/DeleteSecret;
appending a version clones the map forward. API responses present secrets
only as {key, redacted:true}. Plaintext exists only in DecryptSecrets output,
consumed by the sandbox provisioner.
*/
package environment
