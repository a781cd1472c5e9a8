// Package executors implements the five pipeline stages.
//
// Each executor reads its inputs from the artifact store, does its work in
// a private temporary workspace and writes its output under the
// deterministic key for the unit's version. Running a unit twice rewrites
// the same key with equivalent content, so executors are safe under
// at-least-once dispatch.
//
// External programs (soffice, pdftoppm, the Coqui tts CLI and ffmpeg) are
// invoked through a Runner so tests can substitute a fake.
package executors
