// Package app contains the driving layer: it loads a rule package, selects
// the target variables and their transitive dependencies, registers them on
// a fresh compilation session, and either prints the compilation plan or
// writes the generated artifact. It is decoupled from any specific
// entrypoint like a CLI.
package app
