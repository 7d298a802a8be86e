/*
Package artifact stores build outputs on the filesystem.

Each build owns a directory under the store root; artifacts are written
to a temp file and renamed into place so readers never observe a partial
write. Every put records a reference with the artifact's category
(derived from the extension), size and write time, which is what the
build record and the API carry around instead of file contents.

Paths are validated against traversal: an artifact name that escapes the
build directory is rejected with a Validation error.
*/
package artifact
