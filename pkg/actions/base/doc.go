// Package base contains the leaf installer actions. Each leaf owns only its
// own parameters, performs its mutation through a transports.Target and
// records a receipt describing exactly what it changed, which is all Revert
// consults.
package base
