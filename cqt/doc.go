// Package cqt provides canonical command trees: immutable, space-tagged descriptions of a
// single command that providers compile into executable commands.
//
// Only store-space trees can be compiled. A tree's Fingerprint identifies its structure
// (kind, data space, workspace, expression and parameter shape) and never its parameter
// values.
package cqt
