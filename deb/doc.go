// Package deb builds Debian binary packages from a declarative BuildSpec.
//
// # Design Philosophy
//
// A package is assembled in a single sequential pass: payload files are streamed
// into the data archive and hashed while they are copied, the control archive is
// generated from the resulting checksums and installed size, and both are placed
// into the outer ar container in the order dpkg requires. Control and data bodies
// are buffered in memory before the ar container is written, so a failed build
// never leaves a package file behind.
//
// Every timestamp written into the package comes from the Builder's clock, which
// makes builds reproducible when the clock is fixed.
//
// # Features
//
// Building:
//   - Stream files and directory trees into data.tar.gz with per-file MD5 sums.
//   - Synthesize parent directories once per build.
//   - Generate control, md5sums and maintainer scripts (including APT source
//     registration scripts) into control.tar.gz.
//   - Write the debian-binary, control.tar.gz and data.tar.gz ar members.
//
// Reading:
//   - Inspect an existing .deb (ar members, control text, md5sums, payload entries).
//   - Parse a control file back into a BuildSpec.
//
// Versioning:
//   - A structural version model (epoch, major, minor, patch, revision).
//   - dpkg-compatible comparison of raw version strings.
package deb
