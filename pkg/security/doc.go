/*
Package security implements the secrets vault and log redaction.

# Vault

Secret values are encrypted with AES-256-GCM under a process-wide 32-byte
master key loaded from configuration (base64). Each encryption uses a fresh
random nonce; the stored form is base64(nonce || ciphertext+tag), so
tampering or a wrong key fails authentication rather than yielding garbage.
In non-production mode a missing key is replaced by an ephemeral random key
with a prominent warning; in production startup fails.

Plaintext secret values exist only inside this package and in the env vector
handed to the runtime at container creation. They are never persisted,
logged, or serialized into API responses.

# Redaction

Redact scrubs secret-shaped substrings (API_KEY=..., PASSWORD=...,
SECRET_*=..., TOKEN=..., PRIVATE_KEY=..., and platform sk_ keys) from log
lines before they are stored or streamed to WebSocket clients.
*/
package security
