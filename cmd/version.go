package cmd

// Version identifies the build. Release builds override it with
// -ldflags "-X github.com/pankajthekush/renderbridge/cmd.Version=v1.2.3".
var Version = "0.1.0"
