package main

import (
	"bufio"
	"encoding/json"
	"io"
	"os"

	"github.com/Hubmakerlabs/localstr/pkg/config"
	"github.com/Hubmakerlabs/localstr/pkg/ingest"
	"github.com/nbd-wtf/go-nostr"
)

const maxLine = 1 << 20

// Import pushes line structured JSON events from the given files, or stdin
// when there are none, into the pipeline.
func Import(p *ingest.Pipeline, cmd *config.ImportCmd) (n int) {
	if len(cmd.FromFile) == 0 {
		return importFrom(p, os.Stdin, "stdin", !cmd.NoVerify)
	}
	for _, name := range cmd.FromFile {
		fh, err := os.Open(name)
		if chk.E(err) {
			continue
		}
		n += importFrom(p, fh, name, !cmd.NoVerify)
		chk.E(fh.Close())
	}
	return
}

func importFrom(p *ingest.Pipeline, r io.Reader, source string,
	verify bool) (n int) {

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for scanner.Scan() {
		b := scanner.Bytes()
		if len(b) == 0 {
			continue
		}
		ev := &nostr.Event{}
		if err := json.Unmarshal(b, ev); chk.D(err) {
			log.D.S(string(b))
			continue
		}
		if verify && !ingest.VerifyID(ev) {
			log.D.F("id mismatch on %s", ev.ID)
			continue
		}
		if !p.PushEvent("import", source, ev) {
			return
		}
		n++
	}
	chk.E(scanner.Err())
	return
}
