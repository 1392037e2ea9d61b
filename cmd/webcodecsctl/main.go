// Package main is the entry point for webcodecsctl.
//
// webcodecsctl hosts the WebCodecs processing core as a standalone
// process: it can run the admin surface as a long-lived daemon, transcode
// a single file through the core for manual testing, or print detected
// FFmpeg capabilities.
package main

import (
	"os"

	"github.com/codecbridge/webcodecs/cmd/webcodecsctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
