package main

// Version and Build are set at release time via -ldflags.
var (
	Version = "dev"
	Build   = "unknown"
)
