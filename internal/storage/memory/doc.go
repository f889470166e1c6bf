// Package memory provides in-process implementations of the scanner's
// persistence ports for development and tests.
package memory
