/*
Package runtime abstracts the container engine behind the Runtime interface.

The Docker implementation wraps the engine HTTP API: image pulls with
aggregated per-layer progress, Dockerfile builds from an in-memory tar
context, container creation with the platform security profile, lifecycle
operations with tolerant semantics (stopping a stopped container and removing
a missing one both succeed), one-shot stats sampling, multiplexed log
streaming and interactive PTY exec sessions.

# Security profile

Every container is created with:

  - no-new-privileges
  - all capabilities dropped except CHOWN, SETUID, SETGID
  - memory swap pinned to the memory limit (no swap)
  - CPU quota = cores * 100000us period
  - bridge networking, no host bind mounts
  - labels sandbox-platform=true, sandbox-id, user-id

ListOwned filters on the platform label; the shutdown coordinator uses it to
tear down every live container.

# Log framing

The engine multiplexes stdout/stderr into 8-byte-header frames (stream type
in byte 0, big-endian payload length in bytes 4..8). stdcopy demultiplexes;
lineWriter reassembles partial writes into lines and splits the engine's
RFC3339Nano timestamp prefix from each.

Errors are categorized into the pkg/errdefs taxonomy (NotFound, Conflict,
RuntimeUnavailable) so the sandbox service can translate failures into
lifecycle transitions.
*/
package runtime
