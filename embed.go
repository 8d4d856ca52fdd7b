package typerace

import (
	_ "embed"
)

// Embed the race text corpus
//
//go:embed texts.json
var RaceTextsJSON []byte
