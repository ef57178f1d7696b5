package build

// Version is stamped at build time with -ldflags "-X github.com/integrail/persona-lab/internal/build.Version=...".
var Version = "dev"
