/*
Package security seals and resolves credentials.

Values prefixed "enc:" are AES-256-GCM ciphertexts sealed under a key
derived from a master password. Resolve passes plaintext values through
untouched, so configs can mix sealed and plain keys; IsSealed tells the
caller whether a master key is required at all. A fresh nonce per seal
means equal plaintexts produce different ciphertexts.
*/
package security
