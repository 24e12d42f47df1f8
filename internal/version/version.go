package version

// Version is overridden at build time with
// -ldflags "-X github.com/agrimrv/backend/internal/version.Version=<tag>".
var Version = "dev"
