package main

import (
	"bytes"
	"flag"
	"log"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m-lab/go/rtx"

	"github.com/acarshub/acarshub/db"
	"github.com/acarshub/acarshub/message"
)

func TestExport(t *testing.T) {
	d, err := db.Open(filepath.Join(t.TempDir(), "export.db"))
	rtx.Must(err, "Could not open test database")
	defer d.Close()
	rtx.Must(d.Migrate(), "Could not migrate test database")

	_, _, err = d.SaveMessage(message.Message{
		UID: "a1", Timestamp: 100, MessageType: message.TypeACARS,
		Flight: "UAL123", Tail: "N12345", Text: "OUT REPORT",
	})
	rtx.Must(err, "Could not save message")
	_, _, err = d.SaveMessage(message.Message{
		UID: "a2", Timestamp: 200, MessageType: message.TypeVDLM2,
		Flight: "DAL456",
	})
	rtx.Must(err, "Could not save message")

	buf := &bytes.Buffer{}
	rtx.Must(export(d, buf), "Could not export messages")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2 rows:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "uid,time,message_type") {
		t.Errorf("header = %q", lines[0])
	}
	// Default sort is newest first.
	if !strings.Contains(lines[1], "DAL456") || !strings.Contains(lines[2], "UAL123") {
		t.Errorf("rows out of order:\n%s", buf.String())
	}

	// A flight filter narrows the output.
	rtx.Must(flag.Set("flight", "UAL"), "Could not set flag")
	defer flag.Set("flight", "")
	buf.Reset()
	rtx.Must(export(d, buf), "Could not export filtered messages")
	if strings.Contains(buf.String(), "DAL456") || !strings.Contains(buf.String(), "OUT REPORT") {
		t.Errorf("filtered export = %q", buf.String())
	}
}

func TestMainRequiresDB(t *testing.T) {
	logFatal = func(v ...interface{}) { panic("fatal") }
	defer func() {
		logFatal = log.Fatal
		if r := recover(); r == nil {
			t.Error("main did not reject a missing database path")
		}
	}()

	// No -acarshub.db: main refuses before touching the filesystem.
	*dbPath = ""
	main()
}
