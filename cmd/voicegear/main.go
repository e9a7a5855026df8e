// voicegear runs the appliance's voice data plane on a development host:
// the audio pipeline, conversation loop, and session transport, with
// simulated capture hardware in place of the vendor DSP stack.
//
// Usage:
//
//	voicegear run                   # run against the built-in loopback server
//	voicegear run -f config.yaml    # run against a configured server
//	voicegear version               # print version
package main

import (
	"os"

	"github.com/hitony/voicegear/cmd/voicegear/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
