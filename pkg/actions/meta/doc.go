// Package meta holds composite actions: actions that own leaf actions from
// package base as children and drive them in a fixed order, fanning the
// independent ones out concurrently.
package meta
