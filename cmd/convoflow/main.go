package main

import (
	"log/slog"

	"github.com/chatforge/convoflow/pkg/convoflow"
)

func main() {

	//you may do your own logger setup here or use this default one with slog
	convoflow.SetupLogger()

	// nil sender logs outbound messages; nil classifier means conditions and
	// intent routing run on keyword rules only
	if err := convoflow.Start(nil, nil, nil); err != nil {
		slog.Error("Engine exited with error", "error", err)
	}
}
