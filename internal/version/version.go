package version

// Version is stamped at build time with -ldflags.
var Version = "0.3.0-dev"
