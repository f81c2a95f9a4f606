// Package querycache caches compiled command definitions by the structural shape of
// the command that produced them.
package querycache
