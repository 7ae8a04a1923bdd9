package session

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
)

// RepairFile scans a session log line by line, drops records that do not
// parse and records whose tool_use/tool_result pairing dangles, and rewrites
// the file atomically only when something was dropped. Kept lines are
// preserved byte-for-byte so repairing a clean file is a no-op.
func RepairFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	type record struct {
		raw string
		msg Message
	}
	var records []record
	dropped := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 32*1024*1024)
	for scanner.Scan() {
		raw := scanner.Text()
		if strings.TrimSpace(raw) == "" {
			dropped++
			continue
		}
		var m Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil || m.Role == "" {
			dropped++
			continue
		}
		records = append(records, record{raw: raw, msg: m})
	}
	scanErr := scanner.Err()
	f.Close()
	if scanErr != nil {
		return scanErr
	}

	// Drop records with dangling tool pairing: an assistant tool_use whose
	// results are missing in the next record, or a tool record whose results
	// reference no preceding tool_use.
	kept := make([]record, 0, len(records))
	for i := 0; i < len(records); i++ {
		rec := records[i]
		m := rec.msg

		if useIDs := m.ToolUseIDs(); len(useIDs) > 0 {
			if i+1 >= len(records) || !coversAll(records[i+1].msg.ToolResultIDs(), useIDs) {
				dropped++
				continue
			}
		}
		if resIDs := m.ToolResultIDs(); len(resIDs) > 0 {
			if len(kept) == 0 || !coversAll(kept[len(kept)-1].msg.ToolUseIDs(), resIDs) {
				dropped++
				continue
			}
		}
		kept = append(kept, rec)
	}

	if dropped == 0 {
		return nil
	}

	slog.Warn("session log repaired", "path", path, "dropped", dropped, "kept", len(kept))

	tmp := path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(out)
	for _, rec := range kept {
		w.WriteString(rec.raw)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// coversAll reports whether have contains every id in want.
func coversAll(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, id := range have {
		set[id] = struct{}{}
	}
	for _, id := range want {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}
