package buildinfo

// Version is overridden at link time with -ldflags "-X .../buildinfo.Version=...".
var Version = "dev"
